package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected       = errors.New("not connected")
	ErrNotAuthenticated   = errors.New("channel not authenticated")
	ErrDisconnected       = errors.New("disconnected")
	ErrConnectionLost     = errors.New("connection lost")
	ErrTokenTimeout       = errors.New("token request timed out")
	ErrHandshakeTimeout   = errors.New("authentication handshake timed out")
	ErrReconnectExhausted = errors.New("reconnection attempts exhausted")
	ErrClosed             = errors.New("channel closed")
)

// TokenError is a server-side refusal of a token request.
type TokenError struct {
	CorrelationID string
	Slug          string
	Code          string
	Message       string
}

func (e *TokenError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("token request for %q refused (%s): %s", e.Slug, e.Code, e.Message)
	}
	return fmt.Sprintf("token request for %q refused: %s", e.Slug, e.Message)
}
