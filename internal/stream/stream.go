package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

const (
	maxBackoff = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Config holds push stream configuration.
type Config struct {
	URL    string
	APIKey string
}

// Handler receives each decoded push message.
type Handler func(msg core.PushMessage)

// Consumer maintains the WebSocket subscription to the backend's push
// stream. On connection loss it reconnects with exponential backoff and
// keeps trying until closed; push is an optimization, the REST pollers
// cover whatever a gap missed.
type Consumer struct {
	mu     sync.Mutex
	conn   *ws.Conn
	done   chan struct{}
	closed bool

	cfg     Config
	handler Handler

	// onReconnect runs after each successful reconnect so pollers can
	// backfill the gap. Must be idempotent.
	onReconnect func()

	logger *slog.Logger
}

// NewConsumer creates a push stream consumer. onReconnect may be nil.
func NewConsumer(cfg Config, handler Handler, onReconnect func(), logger *slog.Logger) *Consumer {
	return &Consumer{
		done:        make(chan struct{}),
		cfg:         cfg,
		handler:     handler,
		onReconnect: onReconnect,
		logger:      logger,
	}
}

// Start connects and begins the read loop. The initial dial failing is an
// error; later losses are handled by the reconnect loop.
func (c *Consumer) Start() error {
	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop()
	return nil
}

// dialOnce performs a single WebSocket dial with the API key query param.
func (c *Consumer) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.cfg.APIKey != "" {
		q := u.Query()
		q.Set("apiKey", c.cfg.APIKey)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// readLoop decodes push messages until the connection drops or the
// consumer closes.
func (c *Consumer) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("push stream read error", "error", err)
			go c.reconnect()
			return
		}

		var msg core.PushMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Debug("undecodable push message", "raw", string(message))
			continue
		}
		if msg.Event == "" {
			c.logger.Debug("push message without event name", "raw", string(message))
			continue
		}

		c.handler(msg)
	}
}

// reconnect re-establishes the subscription with exponential backoff. It
// never gives up on its own; only Close stops it.
func (c *Consumer) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	backoff := time.Second
	for attempt := 1; ; attempt++ {
		select {
		case <-c.done:
			return
		default:
		}

		c.logger.Info("reconnecting push stream", "attempt", attempt, "backoff", backoff)
		time.Sleep(backoff)

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("push stream reconnect failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("push stream reconnected", "attempt", attempt)
		if c.onReconnect != nil {
			c.onReconnect()
		}
		go c.readLoop()
		return
	}
}

// Close sends a close frame and stops the read and reconnect loops.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
