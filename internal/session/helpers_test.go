package session

import (
	"sync"
	"testing"
	"time"

	"streamsession/native/internal/channel/channeltest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testConfig(d *channeltest.Dialer) Config {
	return Config{
		Dialer:         d,
		Endpoint:       "ws://channel.test/ws",
		AccessToken:    "chan-token",
		RequestTimeout: time.Second,
		AuthTimeout:    time.Second,
		Reconnect: ReconnectPolicy{
			InitialInterval: 5 * time.Millisecond,
			Multiplier:      2,
			MaxInterval:     20 * time.Millisecond,
			MaxAttempts:     3,
		},
		Logger: zerolog.Nop(),
	}
}

func newTestClient(t *testing.T, d *channeltest.Dialer, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := testConfig(d)
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

// recorder captures every published event.
type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func record(c *Client) *recorder {
	r := &recorder{ch: make(chan Event, 256)}
	c.SubscribeAll(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		r.ch <- ev
	})
	return r
}

// kinds returns recorded event kinds, without state changes.
func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventKind
	for _, ev := range r.events {
		if ev.Kind != EventStateChanged {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) all(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// wait returns the next event of kind, skipping others.
func (r *recorder) wait(t *testing.T, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
			return Event{}
		}
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
