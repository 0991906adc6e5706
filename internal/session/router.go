package session

import (
	"streamsession/native/internal/domain"
	xlog "streamsession/native/internal/log"
	"streamsession/native/internal/metrics"
)

// tokenSlot holds the current playback token. It is guarded by Client.mu and
// only changed by token responses, session pushes, connection loss and
// Disconnect.
type tokenSlot struct {
	tok   domain.Token
	valid bool
}

func (s *tokenSlot) set(t domain.Token) {
	s.tok = t
	s.valid = true
}

func (s *tokenSlot) clear() {
	s.tok = domain.Token{}
	s.valid = false
}

// CurrentToken returns the live playback token, if any.
func (c *Client) CurrentToken() (domain.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token.tok, c.token.valid
}

// dispatch routes one message from l. It runs on l's read loop, so messages
// are applied in arrival order.
func (c *Client) dispatch(l *link, msg domain.Message) {
	switch msg.Type {
	case domain.TypeConnected:
		c.handleConnected(l, msg)
	case domain.TypeTokenResponse:
		c.handleTokenResponse(l, msg)
	case domain.TypeTokenError:
		c.handleTokenError(l, msg)
	case domain.TypeSessionRevoked:
		c.handlePush(l, EventSessionRevoked, msg.Type)
	case domain.TypeStreamLimitExceeded:
		c.handlePush(l, EventStreamLimitExceeded, msg.Type)
	default:
		c.log.Debug().Str("type", msg.Type).Msg("unhandled message type")
	}
}

// handlePush applies a revocation or stream-limit push: the current token is
// dropped and the channel stays up.
func (c *Client) handlePush(l *link, kind EventKind, typ string) {
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	prev, had := c.token.tok, c.token.valid
	c.token.clear()
	c.mu.Unlock()

	metrics.IncPushEvent(typ)
	ev := c.log.Info().Str("push", typ)
	if had {
		ev = ev.Str(xlog.FieldContentSlug, prev.Slug)
	}
	ev.Msg("current token invalidated")

	c.publish(outbox{{Kind: kind, Slug: prev.Slug}})
}
