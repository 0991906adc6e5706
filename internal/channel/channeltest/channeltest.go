// Package channeltest provides an in-memory channel transport for tests.
package channeltest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"streamsession/native/internal/domain"
)

// ErrDropped is returned by Receive after Drop is called without an error.
var ErrDropped = errors.New("channeltest: connection dropped")

// Conn is one side of an in-memory channel. The test plays the server by
// calling Push and Drop, and inspects what the client sent with Sent and
// WaitSent.
type Conn struct {
	Endpoint     string
	AccessToken  string
	PingInterval time.Duration

	inbound chan domain.Message
	sentCh  chan domain.Message

	mu      sync.Mutex
	sent    []domain.Message
	done    chan struct{}
	doneErr error
	closed  bool
}

func newConn(endpoint, accessToken string, pingInterval time.Duration) *Conn {
	return &Conn{
		Endpoint:     endpoint,
		AccessToken:  accessToken,
		PingInterval: pingInterval,
		inbound:      make(chan domain.Message, 64),
		sentCh:       make(chan domain.Message, 256),
		done:         make(chan struct{}),
	}
}

// Send records msg.
func (c *Conn) Send(msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doneErr != nil {
		return domain.ErrClosed
	}
	c.sent = append(c.sent, msg)
	select {
	case c.sentCh <- msg:
	default:
	}
	return nil
}

// Receive returns pushed messages in order, or an error once the connection
// is closed or dropped and every message pushed before that was delivered.
func (c *Conn) Receive() (domain.Message, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.done:
		select {
		case msg := <-c.inbound:
			return msg, nil
		default:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return domain.Message{}, c.doneErr
	}
}

// Close closes the connection from the client side.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.finish(domain.ErrClosed)
	return nil
}

// Push delivers msg to the client as if sent by the server.
func (c *Conn) Push(msg domain.Message) {
	c.inbound <- msg
}

// Ack pushes a connected-ack with the given authentication outcome.
func (c *Conn) Ack(authenticated bool) {
	c.Push(domain.Message{Type: domain.TypeConnected, Authenticated: &authenticated})
}

// Drop simulates a transport failure. A nil err uses ErrDropped.
func (c *Conn) Drop(err error) {
	if err == nil {
		err = ErrDropped
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finish(err)
}

func (c *Conn) finish(err error) {
	if c.doneErr != nil {
		return
	}
	c.doneErr = err
	close(c.done)
}

// Closed reports whether the client closed the connection.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns a copy of every message the client sent.
func (c *Conn) Sent() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Message(nil), c.sent...)
}

// SentOfType returns the sent messages with the given type.
func (c *Conn) SentOfType(typ string) []domain.Message {
	var out []domain.Message
	for _, m := range c.Sent() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// WaitSent waits for the next sent message of type typ, skipping others.
func (c *Conn) WaitSent(t testing.TB, typ string) domain.Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-c.sentCh:
			if msg.Type == typ {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
			return domain.Message{}
		}
	}
}

// Dialer hands out in-memory connections.
type Dialer struct {
	// AutoAck, when set, queues a connected-ack with this outcome on every
	// new connection.
	AutoAck *bool
	// Gate, when non-nil, blocks every Dial until it is closed or receives.
	Gate chan struct{}

	mu       sync.Mutex
	conns    []*Conn
	failures []error
	dialed   chan *Conn
}

// NewDialer returns a Dialer whose connections are acked as authenticated.
func NewDialer() *Dialer {
	ok := true
	return &Dialer{AutoAck: &ok, dialed: make(chan *Conn, 64)}
}

// NewManualDialer returns a Dialer that does not ack; the test calls Ack.
func NewManualDialer() *Dialer {
	return &Dialer{dialed: make(chan *Conn, 64)}
}

// FailNext makes the next len(errs) dials fail with the given errors.
func (d *Dialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

// Dial implements domain.Dialer.
func (d *Dialer) Dial(ctx context.Context, endpoint, accessToken string, pingInterval time.Duration) (domain.Conn, error) {
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		d.conns = append(d.conns, nil)
		d.mu.Unlock()
		return nil, err
	}
	c := newConn(endpoint, accessToken, pingInterval)
	if d.AutoAck != nil {
		c.Ack(*d.AutoAck)
	}
	d.conns = append(d.conns, c)
	d.mu.Unlock()

	select {
	case d.dialed <- c:
	default:
	}
	return c, nil
}

// Dials returns the number of Dial calls that got past the gate.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Last returns the most recent successful connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.conns) - 1; i >= 0; i-- {
		if d.conns[i] != nil {
			return d.conns[i]
		}
	}
	return nil
}

// WaitDial waits for the next successful connection.
func (d *Dialer) WaitDial(t testing.TB) *Conn {
	t.Helper()
	select {
	case c := <-d.dialed:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}
