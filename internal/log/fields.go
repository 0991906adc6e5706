package log

// Canonical field name constants for structured logging.
const (
	FieldComponent     = "component"
	FieldCorrelationID = "correlation_id"
	FieldContentSlug   = "content_slug"
	FieldEvent         = "event"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Reconnection fields
	FieldAttempt = "attempt"
	FieldDelay   = "delay"

	FieldEndpoint = "endpoint"
)
