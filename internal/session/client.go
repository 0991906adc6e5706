// Package session implements the streaming session client: one logical
// channel to the streaming-authorization service, the playback-token broker
// that runs over it, routing of server-pushed session events, and watch
// session tracking.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"streamsession/native/internal/domain"
	xlog "streamsession/native/internal/log"
	"streamsession/native/internal/metrics"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Config configures a Client.
type Config struct {
	// Dialer opens the channel. Required.
	Dialer domain.Dialer

	// Tickets, when set, is consulted before every connection attempt for
	// the endpoint and a fresh access token. Otherwise Endpoint and
	// AccessToken are used as-is.
	Tickets     domain.TicketSource
	Endpoint    string
	AccessToken string

	RequestTimeout time.Duration // token request timeout, default 10s
	AuthTimeout    time.Duration // dial + connected-ack timeout, default 10s
	Reconnect      ReconnectPolicy

	Logger zerolog.Logger
	Now    func() time.Time
}

// Client is one streaming session. All methods are safe for concurrent use.
// A Client owns its channel, pending token requests, current token and watch
// sessions; nothing is shared between clients.
type Client struct {
	cfg Config
	log zerolog.Logger
	bus *Bus
	now func() time.Time

	mu       sync.Mutex
	state    domain.ConnectionState
	epoch    uint64 // bumped by Disconnect; work from an older epoch is discarded
	link     *link
	inflight *connectAttempt
	cancel   context.CancelFunc // cancels the dial/handshake in progress

	backoff    *backoff.ExponentialBackOff
	attempts   int
	retryTimer *time.Timer
	lastErr    error

	pending map[string]*pendingRequest
	token   tokenSlot
	watches map[string]*domain.WatchSession
}

// link is one open channel and its read loop.
type link struct {
	conn      domain.Conn
	reconnect bool

	acked chan bool     // receives the connected-ack outcome once
	down  chan struct{} // closed when the read loop exits
	err   error         // read loop exit error, valid after down is closed

	// guarded by Client.mu
	ackSeen       bool
	authenticated bool
	established   bool // acked and usable: authenticated, or unauthenticated on a first connect
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

func (a *connectAttempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New creates a disconnected Client.
func New(cfg Config) (*Client, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("session: dialer is required")
	}
	if cfg.Tickets == nil && cfg.Endpoint == "" {
		return nil, errors.New("session: endpoint or ticket source is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	cfg.Reconnect = cfg.Reconnect.withDefaults()
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Client{
		cfg:     cfg,
		log:     cfg.Logger.With().Str(xlog.FieldComponent, "session").Logger(),
		bus:     NewBus(),
		now:     cfg.Now,
		state:   domain.StateDisconnected,
		backoff: cfg.Reconnect.newBackOff(),
		pending: make(map[string]*pendingRequest),
		watches: make(map[string]*domain.WatchSession),
	}, nil
}

// Subscribe registers fn for events of kind. See Bus for delivery order.
func (c *Client) Subscribe(kind EventKind, fn Handler) (unsubscribe func()) {
	return c.bus.Subscribe(kind, fn)
}

// SubscribeAll registers fn for every event.
func (c *Client) SubscribeAll(fn Handler) (unsubscribe func()) {
	return c.bus.SubscribeAll(fn)
}

// State returns the current connection state.
func (c *Client) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent connection-level error, or nil after a
// successful authentication or an explicit Disconnect.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect opens and authenticates the channel. If an attempt is already in
// flight the call joins it instead of dialing again. If the channel is
// already authenticated, or recovery is in progress, Connect returns nil.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case domain.StateConnecting:
		a := c.inflight
		c.mu.Unlock()
		return a.wait(ctx)
	case domain.StateAuthenticated, domain.StateReconnecting:
		c.mu.Unlock()
		return nil
	case domain.StateConnected:
		c.mu.Unlock()
		return domain.ErrNotAuthenticated
	}

	a := &connectAttempt{done: make(chan struct{})}
	c.inflight = a
	c.lastErr = nil
	epoch := c.epoch
	var out outbox
	c.setStateLocked(domain.StateConnecting, &out)
	c.mu.Unlock()
	c.publish(out)

	err := c.establish(ctx, epoch, false)
	metrics.IncConnectionAttempt(false, err == nil)
	if err != nil && !errors.Is(err, domain.ErrNotAuthenticated) {
		err = c.failConnect(epoch, err)
	}

	c.mu.Lock()
	if c.inflight == a {
		c.inflight = nil
	}
	c.mu.Unlock()

	a.err = err
	close(a.done)
	return err
}

// failConnect settles a failed first connection attempt into Failed, unless
// Disconnect already moved the client on.
func (c *Client) failConnect(epoch uint64, err error) error {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return domain.ErrDisconnected
	}
	c.lastErr = err
	var out outbox
	c.setStateLocked(domain.StateFailed, &out)
	c.mu.Unlock()
	c.publish(out)

	c.log.Warn().Err(err).Msg("connect failed")
	return err
}

// Disconnect tears the channel down unconditionally. Every pending token
// request is rejected with ErrDisconnected before Disconnect returns, the
// current token is cleared and any scheduled reconnection is cancelled.
// It is safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.epoch++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	l := c.link
	c.link = nil

	var out outbox
	c.rejectPendingLocked(domain.ErrDisconnected, "disconnected")
	c.token.clear()
	c.attempts = 0
	c.backoff.Reset()
	c.lastErr = nil
	c.setStateLocked(domain.StateDisconnected, &out)
	c.mu.Unlock()

	if l != nil {
		_ = l.conn.Close()
	}
	c.publish(out)
}

// establish runs one dial + handshake. On success the link is installed and
// the state is Connected or Authenticated (or, for a reconnect, Authenticated).
func (c *Client) establish(parent context.Context, epoch uint64, reconnect bool) error {
	ctx, cancel := context.WithTimeout(parent, c.cfg.AuthTimeout)
	defer cancel()

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return domain.ErrDisconnected
	}
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.epoch == epoch {
			c.cancel = nil
		}
		c.mu.Unlock()
	}()

	endpoint, accessToken, pingInterval, err := c.credentials(ctx)
	if err != nil {
		return c.handshakeErr(ctx, parent, fmt.Errorf("fetch ticket: %w", err))
	}

	conn, err := c.cfg.Dialer.Dial(ctx, endpoint, accessToken, pingInterval)
	if err != nil {
		return c.handshakeErr(ctx, parent, fmt.Errorf("dial: %w", err))
	}

	l := &link{
		conn:      conn,
		reconnect: reconnect,
		acked:     make(chan bool, 1),
		down:      make(chan struct{}),
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		_ = conn.Close()
		return domain.ErrDisconnected
	}
	c.link = l
	var out outbox
	if !reconnect {
		c.setStateLocked(domain.StateConnected, &out)
	}
	c.mu.Unlock()
	c.publish(out)

	go c.readLoop(l)

	select {
	case ok := <-l.acked:
		if !ok {
			c.abandon(l)
			return domain.ErrNotAuthenticated
		}
		return nil
	case <-l.down:
		if !c.abandon(l) {
			return c.ackResult(l)
		}
		return fmt.Errorf("handshake: %w", l.err)
	case <-ctx.Done():
		if !c.abandon(l) {
			return c.ackResult(l)
		}
		return c.handshakeErr(ctx, parent, ctx.Err())
	}
}

// abandon closes l unless its handshake already established it. It reports
// whether l was abandoned.
func (c *Client) abandon(l *link) bool {
	c.mu.Lock()
	if l.established {
		c.mu.Unlock()
		return false
	}
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()
	_ = l.conn.Close()
	return true
}

func (c *Client) ackResult(l *link) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l.authenticated {
		return nil
	}
	return domain.ErrNotAuthenticated
}

func (c *Client) handshakeErr(ctx, parent context.Context, err error) error {
	if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrHandshakeTimeout, err)
	}
	return err
}

// credentials returns where and how to dial. A ticket's advertised ping
// interval is passed through; zero leaves the dialer's default in place.
func (c *Client) credentials(ctx context.Context) (endpoint, accessToken string, pingInterval time.Duration, err error) {
	if c.cfg.Tickets == nil {
		return c.cfg.Endpoint, c.cfg.AccessToken, 0, nil
	}
	ticket, err := c.cfg.Tickets.FetchTicket(ctx)
	if err != nil {
		return "", "", 0, err
	}
	if ticket.Expired(c.now()) {
		return "", "", 0, errors.New("ticket already expired")
	}
	return ticket.ChannelURL, ticket.AccessToken, ticket.PingInterval(), nil
}

// readLoop delivers channel messages in arrival order until the link fails.
func (c *Client) readLoop(l *link) {
	defer close(l.down)

	for {
		msg, err := l.conn.Receive()
		if err != nil {
			l.err = err
			c.onLinkDown(l, err)
			return
		}
		c.dispatch(l, msg)
	}
}

// handleConnected applies the connected-ack for l.
func (c *Client) handleConnected(l *link, msg domain.Message) {
	authenticated := msg.Authenticated != nil && *msg.Authenticated

	c.mu.Lock()
	if c.link != l || l.ackSeen {
		c.mu.Unlock()
		c.log.Debug().Msg("ignoring duplicate or stale connected-ack")
		return
	}
	l.ackSeen = true
	l.authenticated = authenticated

	var out outbox
	switch {
	case authenticated:
		l.established = true
		c.attempts = 0
		c.backoff.Reset()
		c.lastErr = nil
		c.setStateLocked(domain.StateAuthenticated, &out)
		out.add(Event{Kind: EventConnected, Authenticated: true})
		if l.reconnect {
			out.add(Event{Kind: EventReconnected})
		}
	case !l.reconnect:
		l.established = true
		c.lastErr = domain.ErrNotAuthenticated
		out.add(Event{Kind: EventConnected, Authenticated: false})
	}
	c.mu.Unlock()

	c.publish(out)
	l.acked <- authenticated

	if authenticated && l.reconnect {
		c.log.Info().Msg("reconnected")
	} else if !authenticated {
		c.log.Warn().Bool("reconnect", l.reconnect).Msg("channel not authenticated")
	}
}

// onLinkDown handles the read loop exiting. Losing an established link
// starts recovery; a link that never completed its handshake is left to
// establish.
func (c *Client) onLinkDown(l *link, err error) {
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	if !l.established {
		c.mu.Unlock()
		return
	}

	c.log.Warn().Err(err).Msg("channel lost")

	var out outbox
	c.rejectPendingLocked(domain.ErrConnectionLost, "connection_lost")
	c.token.clear()
	c.lastErr = fmt.Errorf("%w: %v", domain.ErrConnectionLost, err)
	c.setStateLocked(domain.StateReconnecting, &out)
	out.add(Event{Kind: EventDisconnected, Err: c.lastErr})
	c.scheduleReconnectLocked(&out)
	c.mu.Unlock()

	_ = l.conn.Close()
	c.publish(out)
}

func (c *Client) scheduleReconnectLocked(out *outbox) {
	delay := c.backoff.NextBackOff()
	epoch := c.epoch
	next := c.attempts + 1

	c.retryTimer = time.AfterFunc(delay, func() { c.reconnect(epoch) })
	out.add(Event{Kind: EventReconnecting, Attempt: next, Delay: delay})

	c.log.Warn().
		Int(xlog.FieldAttempt, next).
		Dur(xlog.FieldDelay, delay).
		Msg("reconnect scheduled")
}

// reconnect runs one scheduled reconnection attempt.
func (c *Client) reconnect(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != domain.StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	err := c.establish(context.Background(), epoch, true)
	metrics.IncConnectionAttempt(true, err == nil)
	if err == nil {
		return
	}

	c.mu.Lock()
	if c.epoch != epoch || c.state != domain.StateReconnecting {
		c.mu.Unlock()
		return
	}

	var out outbox
	if attempt >= c.cfg.Reconnect.MaxAttempts {
		c.token.clear()
		c.lastErr = fmt.Errorf("%w after %d attempts: %v", domain.ErrReconnectExhausted, attempt, err)
		c.setStateLocked(domain.StateFailed, &out)
		out.add(Event{Kind: EventReconnectionFailed, Attempt: attempt, Err: c.lastErr})
		c.log.Error().Err(err).Int(xlog.FieldAttempt, attempt).Msg("reconnection failed")
	} else {
		c.lastErr = err
		c.log.Warn().Err(err).Int(xlog.FieldAttempt, attempt).Msg("reconnect attempt failed")
		c.scheduleReconnectLocked(&out)
	}
	c.mu.Unlock()
	c.publish(out)
}

// sendConnLocked returns the channel if the client is authenticated.
func (c *Client) sendConnLocked() domain.Conn {
	if c.state != domain.StateAuthenticated || c.link == nil {
		return nil
	}
	return c.link.conn
}

func (c *Client) setStateLocked(s domain.ConnectionState, out *outbox) {
	if c.state == s {
		return
	}
	old := c.state
	c.state = s
	out.add(Event{Kind: EventStateChanged, OldState: old, NewState: s})
	c.log.Debug().
		Str(xlog.FieldOldState, old.String()).
		Str(xlog.FieldNewState, s.String()).
		Msg("state transition")
}

// outbox collects events raised under c.mu so they can be published after
// the lock is released.
type outbox []Event

func (o *outbox) add(ev Event) {
	*o = append(*o, ev)
}

func (c *Client) publish(out outbox) {
	now := c.now()
	for _, ev := range out {
		if ev.At.IsZero() {
			ev.At = now
		}
		c.bus.Publish(ev)
	}
}
