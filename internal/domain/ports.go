package domain

import (
	"context"
	"time"
)

// TicketSource retrieves channel credentials from the API.
type TicketSource interface {
	FetchTicket(ctx context.Context) (*Ticket, error)
}

// Dialer opens the persistent channel to the streaming-authorization service.
// The access token is presented during the handshake. A zero pingInterval
// leaves the keepalive interval to the dialer.
type Dialer interface {
	Dial(ctx context.Context, endpoint, accessToken string, pingInterval time.Duration) (Conn, error)
}

// Conn is one open channel. Send may be called concurrently with Receive.
// Receive blocks until a message arrives or the channel fails.
type Conn interface {
	Send(msg Message) error
	Receive() (Message, error)
	Close() error
}
