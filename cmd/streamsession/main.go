package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"streamsession/native/internal/api"
	"streamsession/native/internal/channel"
	"streamsession/native/internal/config"
	"streamsession/native/internal/domain"
	xlog "streamsession/native/internal/log"
	"streamsession/native/internal/session"
	"streamsession/native/internal/viewer"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const helpText = `streamsession - Hold a streaming session and report watch time

Usage:
  streamsession [options]

Connects to the streaming-authorization channel, requests a playback token
for one content item and keeps a watch session open until interrupted. Each
issued token is printed to stdout on its own line; logs go to stderr.

Environment Variables (required):
  STREAM_API_TOKEN     User credential for the streaming API
  STREAM_API_URL       Streaming API base URL (or STREAM_CHANNEL_URL)
  STREAM_CONTENT_SLUG  Content item to play

Environment Variables (optional):
  STREAM_CHANNEL_URL             Channel URL; skips the ticket request
  STREAM_CONFIG_FILE             YAML file with base settings
  STREAM_REQUEST_TIMEOUT         Token request timeout (default 10s)
  STREAM_AUTH_TIMEOUT            Handshake timeout (default 10s)
  STREAM_PING_INTERVAL           Keepalive interval (default 25s)
  STREAM_RECONNECT_INITIAL       First reconnect delay (default 1s)
  STREAM_RECONNECT_MULTIPLIER    Reconnect delay multiplier (default 2)
  STREAM_RECONNECT_MAX_INTERVAL  Reconnect delay cap (default 30s)
  STREAM_RECONNECT_MAX_ATTEMPTS  Reconnect attempts before giving up (default 5)
  STREAM_METRICS_ADDR            Serve Prometheus metrics on this address
  LOG_LEVEL                      Log level (default info)

Options:
  -h, --help  Show this help message
`

const reportInterval = 30 * time.Second

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	xlog.Configure(xlog.Config{Level: cfg.LogLevel})
	logger := xlog.WithComponent("main")

	if cfg.ContentSlug == "" {
		logger.Fatal().Msg("STREAM_CONTENT_SLUG environment variable is required")
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("session ended")
	}
	logger.Info().Msg("done")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := xlog.WithComponent("main")

	var tickets domain.TicketSource
	if cfg.ChannelURL != "" {
		tickets = api.StaticTickets{Ticket: domain.Ticket{ChannelURL: cfg.ChannelURL, AccessToken: cfg.APIToken}}
	} else {
		tickets = api.NewClient(cfg.APIURL, cfg.APIToken, nil)
	}

	client, err := session.New(session.Config{
		Dialer:         channel.NewDialer(cfg.PingInterval),
		Tickets:        tickets,
		RequestTimeout: cfg.RequestTimeout,
		AuthTimeout:    cfg.AuthTimeout,
		Reconnect: session.ReconnectPolicy{
			InitialInterval: cfg.Reconnect.InitialInterval,
			Multiplier:      cfg.Reconnect.Multiplier,
			MaxInterval:     cfg.Reconnect.MaxInterval,
			MaxAttempts:     cfg.Reconnect.MaxAttempts,
		},
		Logger: xlog.Base(),
	})
	if err != nil {
		return err
	}

	v := viewer.New(client, viewer.Options{
		Metadata: &domain.WatchMetadata{DeviceType: "cli", Source: "streamsession"},
		Logger:   xlog.Base(),
	})
	defer v.Close()

	g, ctx := errgroup.WithContext(ctx)

	fatal := make(chan error, 1)
	client.Subscribe(session.EventTokenReceived, func(ev session.Event) {
		fmt.Fprintln(os.Stdout, ev.Token.Value)
	})
	v.OnSessionRevoked(func() {
		logger.Warn().Msg("session revoked by service")
	})
	v.OnLimitExceeded(func() {
		logger.Warn().Msg("concurrent stream limit exceeded")
	})
	v.OnConnectionLost(func(err error) {
		logger.Warn().Err(err).Msg("connection lost")
	})
	v.OnReconnectionFailed(func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return watch(ctx, v, cfg.ContentSlug, fatal)
	})

	return g.Wait()
}

// watch connects, starts the stream and reports watch time until ctx ends.
func watch(ctx context.Context, v *viewer.Viewer, slug string, fatal <-chan error) error {
	logger := xlog.WithComponent("main")

	if err := v.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if _, err := v.StartStream(ctx, slug, ""); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	logger.Info().Str(xlog.FieldContentSlug, slug).Msg("watching")

	started := time.Now()
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			watched := time.Since(started).Seconds()
			if err := v.StopStream(slug, &watched); err != nil {
				logger.Warn().Err(err).Msg("stop stream")
			}
			return ctx.Err()
		case err := <-fatal:
			return err
		case <-ticker.C:
			if err := v.UpdateWatchDuration(slug, time.Since(started).Seconds()); err != nil {
				logger.Debug().Err(err).Msg("watch update not sent")
			}
		}
	}
}
