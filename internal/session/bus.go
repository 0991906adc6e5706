package session

import (
	"sync"
	"time"

	"streamsession/native/internal/domain"
)

// EventKind identifies a client lifecycle or session event.
type EventKind int

const (
	EventStateChanged EventKind = iota + 1
	EventConnected
	EventDisconnected
	EventReconnecting
	EventReconnected
	EventReconnectionFailed
	EventTokenReceived
	EventTokenError
	EventSessionRevoked
	EventStreamLimitExceeded
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "stateChanged"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventReconnected:
		return "reconnected"
	case EventReconnectionFailed:
		return "reconnectionFailed"
	case EventTokenReceived:
		return "tokenReceived"
	case EventTokenError:
		return "tokenError"
	case EventSessionRevoked:
		return "sessionRevoked"
	case EventStreamLimitExceeded:
		return "streamLimitExceeded"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers. Fields beyond Kind and At are set
// according to Kind.
type Event struct {
	Kind EventKind
	At   time.Time

	OldState domain.ConnectionState // EventStateChanged
	NewState domain.ConnectionState // EventStateChanged

	Authenticated bool          // EventConnected
	Attempt       int           // EventReconnecting, EventReconnectionFailed
	Delay         time.Duration // EventReconnecting

	Token         domain.Token // EventTokenReceived
	CorrelationID string       // EventTokenReceived, EventTokenError
	Slug          string       // EventTokenReceived, EventTokenError

	Err error // EventDisconnected, EventReconnectionFailed, EventTokenError
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	kind EventKind // zero means every kind
	fn   Handler
}

// Bus fans events out to subscribers in subscription order.
//
// Handlers run synchronously on the goroutine that produced the event, which
// is often the channel read loop. A handler must not block on a channel
// round-trip (for example RequestToken); start a goroutine for that.
//
// Events from one goroutine arrive in the order they were raised, so
// everything produced by the read loop follows message arrival order.
// Events raised concurrently on different goroutines are not ordered against
// each other: a tokenReceived from the read loop may be delivered after the
// stateChanged of a concurrent Disconnect. Read Client.State for the
// authoritative state.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscription
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for events of kind and returns a func that removes
// the subscription. The returned func is safe to call more than once.
func (b *Bus) Subscribe(kind EventKind, fn Handler) (unsubscribe func()) {
	return b.add(&subscription{kind: kind, fn: fn})
}

// SubscribeAll registers fn for every event.
func (b *Bus) SubscribeAll(fn Handler) (unsubscribe func()) {
	return b.add(&subscription{fn: fn})
}

func (b *Bus) add(s *subscription) func() {
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(s) })
	}
}

func (b *Bus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.subs[:0]
	for _, cur := range b.subs {
		if cur != s {
			out = append(out, cur)
		}
	}
	for i := len(out); i < len(b.subs); i++ {
		b.subs[i] = nil
	}
	b.subs = out
}

// Publish delivers ev to every matching subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.kind == 0 || s.kind == ev.Kind {
			s.fn(ev)
		}
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
