package session

import (
	"testing"

	"streamsession/native/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRevoked_ClearsTokenKeepsChannel(t *testing.T) {
	c, conn := connected(t)
	_ = mustToken(t, c, conn, "film-42", "abc")
	rec := record(c)

	conn.Push(domain.Message{Type: domain.TypeSessionRevoked})
	ev := rec.wait(t, EventSessionRevoked)
	assert.Equal(t, "film-42", ev.Slug)

	_, ok := c.CurrentToken()
	assert.False(t, ok)
	assert.Equal(t, 1, rec.count(EventSessionRevoked))
	assert.Equal(t, domain.StateAuthenticated, c.State())
	assert.False(t, conn.Closed())

	// A fresh request after revocation is valid.
	tok := mustToken(t, c, conn, "film-42", "def")
	assert.Equal(t, "def", tok.Value)
}

func TestStreamLimitExceeded_ClearsTokenWithRequestInFlight(t *testing.T) {
	c, conn := connected(t)
	_ = mustToken(t, c, conn, "film-1", "first")
	rec := record(c)

	res := requestAsync(c, domain.TokenRequest{ContentSlug: "film-2"})
	req := conn.WaitSent(t, domain.TypeTokenRequest)

	conn.Push(domain.Message{Type: domain.TypeStreamLimitExceeded})
	rec.wait(t, EventStreamLimitExceeded)

	_, ok := c.CurrentToken()
	assert.False(t, ok)
	assert.Equal(t, 0, rec.count(EventSessionRevoked))
	assert.Equal(t, 1, c.PendingRequests(), "in-flight request is untouched")

	conn.Push(domain.Message{Type: domain.TypeTokenResponse, CorrelationID: req.CorrelationID, Token: "second"})
	out := <-res
	require.NoError(t, out.err)
	cur, ok := c.CurrentToken()
	require.True(t, ok)
	assert.Equal(t, "second", cur.Value)
}

func TestRevocationAfterTokenReceived_LeavesTokenCleared(t *testing.T) {
	c, conn := connected(t)
	rec := record(c)

	res := requestAsync(c, domain.TokenRequest{ContentSlug: "film-42"})
	req := conn.WaitSent(t, domain.TypeTokenRequest)

	// Both arrive back to back; they are applied in arrival order.
	conn.Push(domain.Message{Type: domain.TypeTokenResponse, CorrelationID: req.CorrelationID, Token: "abc"})
	conn.Push(domain.Message{Type: domain.TypeSessionRevoked})

	require.NoError(t, (<-res).err)
	rec.wait(t, EventSessionRevoked)

	_, ok := c.CurrentToken()
	assert.False(t, ok)
	assert.Equal(t, []EventKind{EventTokenReceived, EventSessionRevoked}, rec.kinds())
}

func TestUnknownMessageIgnored(t *testing.T) {
	c, conn := connected(t)
	conn.Push(domain.Message{Type: "server.hello"})
	tok := mustToken(t, c, conn, "film-1", "v")
	assert.Equal(t, "v", tok.Value)
	assert.Equal(t, domain.StateAuthenticated, c.State())
}

func TestEvents_FollowMessageArrivalOrder(t *testing.T) {
	c, conn := connected(t)
	rec := record(c)

	res := requestAsync(c, domain.TokenRequest{ContentSlug: "film-42"})
	req := conn.WaitSent(t, domain.TypeTokenRequest)

	conn.Push(domain.Message{Type: domain.TypeTokenResponse, CorrelationID: req.CorrelationID, Token: "abc"})
	conn.Push(domain.Message{Type: domain.TypeStreamLimitExceeded})
	conn.Push(domain.Message{Type: domain.TypeSessionRevoked})
	rec.wait(t, EventSessionRevoked)
	require.NoError(t, (<-res).err)

	assert.Equal(t, []EventKind{
		EventTokenReceived,
		EventStreamLimitExceeded,
		EventSessionRevoked,
	}, rec.kinds())
}

func TestDisconnect_StateIsAuthoritativeOverLateEvent(t *testing.T) {
	c, conn := connected(t)

	entered := make(chan struct{})
	gate := make(chan struct{})
	c.Subscribe(EventTokenReceived, func(Event) {
		close(entered)
		<-gate
	})
	rec := record(c)

	res := requestAsync(c, domain.TokenRequest{ContentSlug: "film-42"})
	req := conn.WaitSent(t, domain.TypeTokenRequest)
	conn.Push(domain.Message{Type: domain.TypeTokenResponse, CorrelationID: req.CorrelationID, Token: "abc"})
	<-entered

	// The read loop is still delivering tokenReceived while Disconnect runs.
	c.Disconnect()
	assert.Equal(t, domain.StateDisconnected, c.State())
	_, ok := c.CurrentToken()
	assert.False(t, ok)
	close(gate)

	require.NoError(t, (<-res).err)
	rec.wait(t, EventTokenReceived)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	disconnectedAt, tokenAt := -1, -1
	for i, ev := range rec.events {
		switch {
		case ev.Kind == EventStateChanged && ev.NewState == domain.StateDisconnected:
			disconnectedAt = i
		case ev.Kind == EventTokenReceived:
			tokenAt = i
		}
	}
	require.NotEqual(t, -1, disconnectedAt)
	require.NotEqual(t, -1, tokenAt)
	assert.Less(t, disconnectedAt, tokenAt, "late tokenReceived is delivered after the disconnect")
}
