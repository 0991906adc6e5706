package domain

import "time"

// Token is a playback token issued for one content item.
type Token struct {
	Value    string
	Slug     string
	IssuedAt time.Time
}

// TokenRequest describes one playback-token request.
type TokenRequest struct {
	ContentSlug       string
	SourceID          string
	ExternalSessionID string
}
