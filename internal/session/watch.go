package session

import (
	"errors"
	"sort"

	"streamsession/native/internal/domain"
	xlog "streamsession/native/internal/log"
	"streamsession/native/internal/metrics"
)

var errEmptySlug = errors.New("content slug is required")

// StartWatchSession starts tracking slug and sends watch.start. Starting an
// already active slug re-arms it with a new start time.
//
// Local tracking happens regardless of the connection; if the client is not
// authenticated the message is not sent and ErrNotConnected is returned.
func (c *Client) StartWatchSession(slug string, meta *domain.WatchMetadata) error {
	if slug == "" {
		return errEmptySlug
	}

	ws := &domain.WatchSession{ContentSlug: slug, StartedAt: c.now()}
	if meta != nil {
		ws.Metadata = *meta
	}

	c.mu.Lock()
	_, rearmed := c.watches[slug]
	c.watches[slug] = ws
	n := len(c.watches)
	conn := c.sendConnLocked()
	c.mu.Unlock()

	metrics.SetWatchSessionsActive(n)
	c.log.Debug().Str(xlog.FieldContentSlug, slug).Bool("rearmed", rearmed).Msg("watch session started")

	msg := domain.Message{Type: domain.TypeWatchStart, ContentSlug: slug}
	if meta != nil {
		m := *meta
		msg.Metadata = &m
	}
	return c.sendWatch(conn, msg)
}

// UpdateWatchDuration records the watched duration for slug and sends
// watch.update. It does nothing if slug has no active session. Values are
// forwarded as reported; the tracker does not enforce monotonicity.
func (c *Client) UpdateWatchDuration(slug string, seconds float64) error {
	c.mu.Lock()
	ws, ok := c.watches[slug]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	ws.LastReportedDurationSeconds = seconds
	conn := c.sendConnLocked()
	c.mu.Unlock()

	return c.sendWatch(conn, domain.Message{
		Type:            domain.TypeWatchUpdate,
		ContentSlug:     slug,
		DurationSeconds: &seconds,
	})
}

// EndWatchSession sends watch.end with finalDuration, or the last reported
// duration when finalDuration is nil, and stops tracking slug. Ending a slug
// without an active session does nothing and sends nothing.
func (c *Client) EndWatchSession(slug string, finalDuration *float64) error {
	c.mu.Lock()
	ws, ok := c.watches[slug]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.watches, slug)
	n := len(c.watches)
	final := ws.LastReportedDurationSeconds
	if finalDuration != nil {
		final = *finalDuration
	}
	conn := c.sendConnLocked()
	c.mu.Unlock()

	metrics.SetWatchSessionsActive(n)
	c.log.Debug().Str(xlog.FieldContentSlug, slug).Float64("final_duration", final).Msg("watch session ended")

	return c.sendWatch(conn, domain.Message{
		Type:                 domain.TypeWatchEnd,
		ContentSlug:          slug,
		FinalDurationSeconds: &final,
	})
}

// WatchSession returns a copy of the active session for slug.
func (c *Client) WatchSession(slug string) (domain.WatchSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws, ok := c.watches[slug]
	if !ok {
		return domain.WatchSession{}, false
	}
	return *ws, true
}

// ActiveWatchSessions returns copies of all active sessions ordered by slug.
func (c *Client) ActiveWatchSessions() []domain.WatchSession {
	c.mu.Lock()
	out := make([]domain.WatchSession, 0, len(c.watches))
	for _, ws := range c.watches {
		out = append(out, *ws)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ContentSlug < out[j].ContentSlug })
	return out
}

func (c *Client) sendWatch(conn domain.Conn, msg domain.Message) error {
	if conn == nil {
		return domain.ErrNotConnected
	}
	return conn.Send(msg)
}
