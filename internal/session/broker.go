package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streamsession/native/internal/domain"
	xlog "streamsession/native/internal/log"
	"streamsession/native/internal/metrics"

	"github.com/google/uuid"
)

// pendingRequest lives from RequestToken until its first settlement.
type pendingRequest struct {
	id       string
	req      domain.TokenRequest
	issuedAt time.Time
	timer    *time.Timer
	result   chan tokenResult // buffered; written exactly once
}

type tokenResult struct {
	token domain.Token
	err   error
}

// RequestToken asks the service for a playback token for req.ContentSlug and
// waits for the outcome. The client must be authenticated; otherwise
// ErrNotConnected is returned immediately.
//
// Every call settles exactly once: with the token, a *domain.TokenError,
// ErrTokenTimeout, ErrConnectionLost, ErrDisconnected, or ctx.Err(). Requests
// are never coalesced, even for the same slug.
func (c *Client) RequestToken(ctx context.Context, req domain.TokenRequest) (domain.Token, error) {
	if req.ContentSlug == "" {
		return domain.Token{}, errors.New("content slug is required")
	}

	c.mu.Lock()
	conn := c.sendConnLocked()
	if conn == nil {
		c.mu.Unlock()
		return domain.Token{}, domain.ErrNotConnected
	}
	p := &pendingRequest{
		id:       uuid.NewString(),
		req:      req,
		issuedAt: c.now(),
		result:   make(chan tokenResult, 1),
	}
	c.pending[p.id] = p
	p.timer = time.AfterFunc(c.cfg.RequestTimeout, func() {
		c.settle(p.id, tokenResult{err: domain.ErrTokenTimeout}, "timeout")
	})
	c.mu.Unlock()

	c.log.Debug().
		Str(xlog.FieldCorrelationID, p.id).
		Str(xlog.FieldContentSlug, req.ContentSlug).
		Msg("token requested")

	err := conn.Send(domain.Message{
		Type:              domain.TypeTokenRequest,
		CorrelationID:     p.id,
		ContentSlug:       req.ContentSlug,
		SourceID:          req.SourceID,
		ExternalSessionID: req.ExternalSessionID,
	})
	if err != nil {
		c.settle(p.id, tokenResult{err: fmt.Errorf("send token request: %w", err)}, "send_error")
	}

	select {
	case r := <-p.result:
		return r.token, r.err
	case <-ctx.Done():
		c.settle(p.id, tokenResult{err: ctx.Err()}, "cancelled")
		r := <-p.result
		return r.token, r.err
	}
}

// PendingRequests returns the number of unsettled token requests.
func (c *Client) PendingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) settle(id string, r tokenResult, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked(id, r, outcome)
}

// settleLocked resolves the pending request id. Later settlements for the
// same id find no entry and are ignored.
func (c *Client) settleLocked(id string, r tokenResult, outcome string) bool {
	p, ok := c.pending[id]
	if !ok {
		return false
	}
	delete(c.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	p.result <- r

	metrics.ObserveTokenRequest(outcome, c.now().Sub(p.issuedAt))
	if r.err != nil {
		c.log.Debug().
			Err(r.err).
			Str(xlog.FieldCorrelationID, id).
			Str(xlog.FieldContentSlug, p.req.ContentSlug).
			Msg("token request rejected")
	}
	return true
}

func (c *Client) rejectPendingLocked(err error, outcome string) {
	for id := range c.pending {
		c.settleLocked(id, tokenResult{err: err}, outcome)
	}
}

// handleTokenResponse resolves the matching request and makes its token current.
func (c *Client) handleTokenResponse(l *link, msg domain.Message) {
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	p, ok := c.pending[msg.CorrelationID]
	if !ok {
		c.mu.Unlock()
		c.log.Debug().Str(xlog.FieldCorrelationID, msg.CorrelationID).Msg("ignoring token response for unknown request")
		return
	}

	tok := domain.Token{Value: msg.Token, Slug: p.req.ContentSlug, IssuedAt: c.now()}
	c.token.set(tok)
	c.settleLocked(p.id, tokenResult{token: tok}, "ok")
	c.mu.Unlock()

	c.publish(outbox{{
		Kind:          EventTokenReceived,
		Token:         tok,
		CorrelationID: msg.CorrelationID,
		Slug:          tok.Slug,
	}})
}

// handleTokenError rejects the matching request only.
func (c *Client) handleTokenError(l *link, msg domain.Message) {
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	p, ok := c.pending[msg.CorrelationID]
	if !ok {
		c.mu.Unlock()
		c.log.Debug().Str(xlog.FieldCorrelationID, msg.CorrelationID).Msg("ignoring token error for unknown request")
		return
	}

	tokenErr := &domain.TokenError{
		CorrelationID: msg.CorrelationID,
		Slug:          p.req.ContentSlug,
		Code:          msg.Code,
		Message:       msg.Message,
	}
	c.settleLocked(p.id, tokenResult{err: tokenErr}, "error")
	c.mu.Unlock()

	c.publish(outbox{{
		Kind:          EventTokenError,
		CorrelationID: msg.CorrelationID,
		Slug:          tokenErr.Slug,
		Err:           tokenErr,
	}})
}
