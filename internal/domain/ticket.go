package domain

import "time"

// Ticket holds the channel endpoint and short-lived credential returned by the API.
type Ticket struct {
	ChannelURL          string `json:"channelUrl"`
	AccessToken         string `json:"accessToken"`
	PingIntervalSeconds int    `json:"pingIntervalSeconds"`
	ExpiresAt           int64  `json:"expiresAt"`
}

// PingInterval returns the keepalive interval advertised by the ticket, or
// zero if none was provided.
func (t *Ticket) PingInterval() time.Duration {
	if t == nil || t.PingIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(t.PingIntervalSeconds) * time.Second
}

// Expired reports whether the ticket's expiry has passed at now.
// A zero ExpiresAt never expires.
func (t *Ticket) Expired(now time.Time) bool {
	return t.ExpiresAt > 0 && now.Unix() >= t.ExpiresAt
}
