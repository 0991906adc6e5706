package domain

// Message types carried over the channel.
const (
	TypeConnected           = "connected"
	TypeTokenRequest        = "token.request"
	TypeTokenResponse       = "token.response"
	TypeTokenError          = "token.error"
	TypeSessionRevoked      = "session.revoked"
	TypeStreamLimitExceeded = "stream.limitExceeded"
	TypeWatchStart          = "watch.start"
	TypeWatchUpdate         = "watch.update"
	TypeWatchEnd            = "watch.end"
)

// Message is the generic channel envelope. Only the fields relevant to Type
// are populated.
type Message struct {
	Type                 string         `json:"type"`
	Authenticated        *bool          `json:"authenticated,omitempty"`
	CorrelationID        string         `json:"correlationId,omitempty"`
	ContentSlug          string         `json:"contentSlug,omitempty"`
	SourceID             string         `json:"sourceId,omitempty"`
	ExternalSessionID    string         `json:"externalSessionId,omitempty"`
	Token                string         `json:"token,omitempty"`
	Message              string         `json:"message,omitempty"`
	Code                 string         `json:"code,omitempty"`
	Metadata             *WatchMetadata `json:"metadata,omitempty"`
	DurationSeconds      *float64       `json:"durationSeconds,omitempty"`
	FinalDurationSeconds *float64       `json:"finalDurationSeconds,omitempty"`
}
