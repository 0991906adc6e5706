package viewer

import (
	"context"
	"errors"
	"sync"
	"time"

	"streamsession/native/internal/domain"
	xlog "streamsession/native/internal/log"
	"streamsession/native/internal/session"

	"github.com/rs/zerolog"
)

// Session is the streaming session surface the viewer drives.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect()
	RequestToken(ctx context.Context, req domain.TokenRequest) (domain.Token, error)
	StartWatchSession(slug string, meta *domain.WatchMetadata) error
	UpdateWatchDuration(slug string, seconds float64) error
	EndWatchSession(slug string, finalDuration *float64) error
	State() domain.ConnectionState
	CurrentToken() (domain.Token, bool)
	LastError() error
	Subscribe(kind session.EventKind, fn session.Handler) (unsubscribe func())
	SubscribeAll(fn session.Handler) (unsubscribe func())
}

// Snapshot is the render state of one playback context.
type Snapshot struct {
	State           domain.ConnectionState
	IsConnected     bool
	IsAuthenticated bool
	IsReconnecting  bool
	CurrentToken    *domain.Token
	Err             error
	IsLoading       bool
}

// Options configures a Viewer.
type Options struct {
	// Metadata is attached to watch sessions started by StartStream.
	Metadata *domain.WatchMetadata
	// RefreshTimeout bounds the token re-request after a reconnect.
	RefreshTimeout time.Duration
	Logger         zerolog.Logger
}

// Viewer mirrors session state for the UI and exposes its actions.
// Construct one per playback context and Close it on teardown.
type Viewer struct {
	session Session
	opts    Options
	log     zerolog.Logger
	unsub   func()

	mu        sync.Mutex
	snap      Snapshot
	loading   int
	actionErr error
	stream    *domain.TokenRequest // active stream, re-requested after reconnect
	closed    bool

	refreshes sync.WaitGroup
}

// New creates a Viewer bound to s.
func New(s Session, opts Options) *Viewer {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 15 * time.Second
	}
	v := &Viewer{
		session: s,
		opts:    opts,
		log:     opts.Logger.With().Str(xlog.FieldComponent, "viewer").Logger(),
	}
	v.unsub = s.SubscribeAll(v.onEvent)
	v.sync()
	return v
}

// Snapshot returns the current render state.
func (v *Viewer) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap
}

func (v *Viewer) onEvent(ev session.Event) {
	if ev.Kind == session.EventReconnected {
		v.refreshToken()
	}
	v.sync()
}

// sync rebuilds the snapshot from the session.
func (v *Viewer) sync() {
	state := v.session.State()
	tok, hasTok := v.session.CurrentToken()
	lastErr := v.session.LastError()

	v.mu.Lock()
	defer v.mu.Unlock()

	v.snap.State = state
	v.snap.IsConnected = state.IsConnected()
	v.snap.IsAuthenticated = state == domain.StateAuthenticated
	v.snap.IsReconnecting = state == domain.StateReconnecting
	v.snap.CurrentToken = nil
	if hasTok {
		v.snap.CurrentToken = &tok
	}
	v.snap.Err = v.actionErr
	if lastErr != nil {
		v.snap.Err = lastErr
	}
	v.snap.IsLoading = v.loading > 0
}

// track marks an action as loading and returns a func that records its
// outcome and refreshes the snapshot.
func (v *Viewer) track() func(error) {
	v.mu.Lock()
	v.loading++
	v.mu.Unlock()
	v.sync()

	return func(err error) {
		v.mu.Lock()
		v.loading--
		v.actionErr = err
		v.mu.Unlock()
		v.sync()
	}
}

// Connect opens the session channel.
func (v *Viewer) Connect(ctx context.Context) error {
	done := v.track()
	err := v.session.Connect(ctx)
	done(err)
	return err
}

// Disconnect closes the session channel. The active stream is forgotten.
func (v *Viewer) Disconnect() {
	v.mu.Lock()
	v.stream = nil
	v.actionErr = nil
	v.mu.Unlock()

	v.session.Disconnect()
	v.sync()
}

// Close disconnects, drops the viewer's subscriptions and waits for any
// background token refresh to finish.
func (v *Viewer) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.unsub()
	v.Disconnect()
	v.refreshes.Wait()
}

// RequestToken requests a playback token for slug.
func (v *Viewer) RequestToken(ctx context.Context, slug, sourceID, externalSessionID string) (string, error) {
	done := v.track()
	tok, err := v.session.RequestToken(ctx, domain.TokenRequest{
		ContentSlug:       slug,
		SourceID:          sourceID,
		ExternalSessionID: externalSessionID,
	})
	done(err)
	return tok.Value, err
}

// StartStream requests a token for slug and starts its watch session. The
// stream stays active until StopStream, and its token is re-requested after
// the channel recovers.
func (v *Viewer) StartStream(ctx context.Context, slug, sourceID string) (string, error) {
	req := domain.TokenRequest{ContentSlug: slug, SourceID: sourceID}

	done := v.track()
	tok, err := v.session.RequestToken(ctx, req)
	if err != nil {
		done(err)
		return "", err
	}

	v.mu.Lock()
	v.stream = &req
	v.mu.Unlock()

	err = v.session.StartWatchSession(slug, v.opts.Metadata)
	done(err)
	return tok.Value, err
}

// StopStream ends the watch session for slug with the given final duration
// (nil uses the last reported one).
func (v *Viewer) StopStream(slug string, duration *float64) error {
	v.mu.Lock()
	if v.stream != nil && v.stream.ContentSlug == slug {
		v.stream = nil
	}
	v.mu.Unlock()

	err := v.session.EndWatchSession(slug, duration)
	if errors.Is(err, domain.ErrNotConnected) {
		// Teardown after the channel went away: the session entry is gone
		// and there is nothing left to report.
		err = nil
	}
	return err
}

// StartWatchSession starts a watch session for slug.
func (v *Viewer) StartWatchSession(slug string, meta *domain.WatchMetadata) error {
	return v.session.StartWatchSession(slug, meta)
}

// UpdateWatchDuration reports the watched duration for slug.
func (v *Viewer) UpdateWatchDuration(slug string, seconds float64) error {
	return v.session.UpdateWatchDuration(slug, seconds)
}

// EndWatchSession ends the watch session for slug.
func (v *Viewer) EndWatchSession(slug string, finalDuration *float64) error {
	return v.session.EndWatchSession(slug, finalDuration)
}

// OnSessionRevoked calls fn whenever the service revokes the session.
func (v *Viewer) OnSessionRevoked(fn func()) (unsubscribe func()) {
	return v.session.Subscribe(session.EventSessionRevoked, func(session.Event) { fn() })
}

// OnLimitExceeded calls fn whenever the account exceeds its concurrent
// stream limit.
func (v *Viewer) OnLimitExceeded(fn func()) (unsubscribe func()) {
	return v.session.Subscribe(session.EventStreamLimitExceeded, func(session.Event) { fn() })
}

// OnConnectionLost calls fn with the transport error whenever the channel drops.
func (v *Viewer) OnConnectionLost(fn func(error)) (unsubscribe func()) {
	return v.session.Subscribe(session.EventDisconnected, func(ev session.Event) { fn(ev.Err) })
}

// OnReconnected calls fn after the channel recovers.
func (v *Viewer) OnReconnected(fn func()) (unsubscribe func()) {
	return v.session.Subscribe(session.EventReconnected, func(session.Event) { fn() })
}

// OnReconnectionFailed calls fn once recovery gives up.
func (v *Viewer) OnReconnectionFailed(fn func(error)) (unsubscribe func()) {
	return v.session.Subscribe(session.EventReconnectionFailed, func(ev session.Event) { fn(ev.Err) })
}

// refreshToken re-requests the active stream's token in the background. It
// runs off the event goroutine because the response arrives on it.
func (v *Viewer) refreshToken() {
	v.mu.Lock()
	if v.stream == nil || v.closed {
		v.mu.Unlock()
		return
	}
	req := *v.stream
	v.refreshes.Add(1)
	v.mu.Unlock()

	go func() {
		defer v.refreshes.Done()

		ctx, cancel := context.WithTimeout(context.Background(), v.opts.RefreshTimeout)
		defer cancel()

		done := v.track()
		_, err := v.session.RequestToken(ctx, req)
		done(err)
		if err != nil {
			v.log.Warn().Err(err).Str(xlog.FieldContentSlug, req.ContentSlug).Msg("token refresh after reconnect failed")
			return
		}
		v.log.Info().Str(xlog.FieldContentSlug, req.ContentSlug).Msg("token refreshed after reconnect")
	}()
}
