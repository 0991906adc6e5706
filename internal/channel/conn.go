// Package channel implements the persistent channel to the
// streaming-authorization service over a WebSocket.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"streamsession/native/internal/domain"
	xlog "streamsession/native/internal/log"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultPingInterval = 25 * time.Second
	writeWait           = 5 * time.Second
)

// Dialer opens WebSocket channels. The access token is sent as a bearer
// credential on the upgrade request.
type Dialer struct {
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	Logger           zerolog.Logger
}

// NewDialer creates a Dialer with the given keepalive interval.
func NewDialer(pingInterval time.Duration) *Dialer {
	return &Dialer{
		PingInterval:     pingInterval,
		HandshakeTimeout: 10 * time.Second,
		Logger:           xlog.WithComponent("channel"),
	}
}

// Dial connects to endpoint and starts the keepalive loop. pingInterval, when
// positive, overrides the Dialer's configured interval.
func (d *Dialer) Dial(ctx context.Context, endpoint, accessToken string, pingInterval time.Duration) (domain.Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse channel url: %w", err)
	}

	header := http.Header{}
	if accessToken != "" {
		header.Set("Authorization", "Bearer "+accessToken)
	}

	ws := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	d.Logger.Debug().Str(xlog.FieldEndpoint, u.Redacted()).Msg("connecting")

	conn, resp, err := ws.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	interval := pingInterval
	if interval <= 0 {
		interval = d.PingInterval
	}
	if interval <= 0 {
		interval = defaultPingInterval
	}

	c := &Conn{
		conn:         conn,
		pingInterval: interval,
		log:          d.Logger,
		closed:       make(chan struct{}),
	}
	c.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	go c.pingLoop()

	return c, nil
}

// Conn is one open WebSocket channel.
type Conn struct {
	conn         *websocket.Conn
	pingInterval time.Duration
	log          zerolog.Logger

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

var _ domain.Conn = (*Conn)(nil)

// Send writes msg as a JSON text frame.
func (c *Conn) Send(msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return domain.ErrClosed
	default:
	}

	c.log.Trace().Str("type", msg.Type).RawJSON("payload", data).Msg(">>>")
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// Receive blocks until the next well-formed message arrives. Frames that are
// not valid JSON envelopes are logged and skipped.
func (c *Conn) Receive() (domain.Message, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return domain.Message{}, domain.ErrClosed
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return domain.Message{}, fmt.Errorf("server closed channel: %w", err)
			}
			return domain.Message{}, fmt.Errorf("read: %w", err)
		}

		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("unmarshal error")
			continue
		}
		if msg.Type == "" {
			c.log.Warn().Msg("message without type")
			continue
		}
		c.log.Trace().Str("type", msg.Type).RawJSON("payload", data).Msg("<<<")
		return msg, nil
	}
}

// Close shuts down the channel. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.closed)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.mu.Unlock()
		err = c.conn.Close()
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Conn) extendReadDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			select {
			case <-c.closed:
				c.mu.Unlock()
				return
			default:
			}
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(writeWait),
			)
			c.mu.Unlock()
			if err != nil {
				c.log.Warn().Err(err).Msg("ping error")
				// Fail the pending read now instead of at the read deadline.
				_ = c.conn.Close()
				return
			}
		}
	}
}
