// Package websocket maintains long-lived feed connections with automatic
// reconnection. The client is venue-agnostic: it dials, replays the
// configured subscribe payloads after every connect, and hands raw frames
// to the consumer channel without interpreting them.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config holds feed client configuration.
type Config struct {
	// Name labels the connection in logs and metrics: "binance",
	// "coinbase", "kraken", "polymarket".
	Name                  string
	URL                   string
	DialTimeout           time.Duration
	PongTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	FrameBufferSize       int
	// SubscribePayloads are written in order after every successful
	// connect, reconnects included. Feeds that subscribe through the URL
	// leave this empty.
	SubscribePayloads [][]byte
	Logger            *zap.Logger
}

// Client owns one WebSocket connection. Frames are delivered on a
// buffered channel; a slow consumer drops frames rather than stalling
// the read loop.
type Client struct {
	config  Config
	logger  *zap.Logger
	frames  chan []byte
	backoff *Backoff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	conn        *websocket.Conn
	connected   atomic.Bool
	connectedAt atomic.Int64
}

// New validates cfg and creates a client. Start establishes the
// connection.
func New(cfg Config) (*Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.DialTimeout <= 0 {
		return nil, fmt.Errorf("dial timeout must be positive, got %s", cfg.DialTimeout)
	}
	if cfg.PingInterval <= 0 {
		return nil, fmt.Errorf("ping interval must be positive, got %s", cfg.PingInterval)
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		return nil, fmt.Errorf("pong timeout %s must exceed ping interval %s", cfg.PongTimeout, cfg.PingInterval)
	}
	if cfg.ReconnectInitialDelay <= 0 || cfg.ReconnectMaxDelay < cfg.ReconnectInitialDelay {
		return nil, fmt.Errorf("reconnect delays are invalid: initial %s, max %s", cfg.ReconnectInitialDelay, cfg.ReconnectMaxDelay)
	}
	if cfg.ReconnectBackoffMult < 1 {
		return nil, fmt.Errorf("reconnect backoff multiplier must be at least 1, got %f", cfg.ReconnectBackoffMult)
	}
	if cfg.FrameBufferSize <= 0 {
		return nil, fmt.Errorf("frame buffer size must be positive, got %d", cfg.FrameBufferSize)
	}

	logger := cfg.Logger.With(zap.String("feed", cfg.Name))
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config: cfg,
		logger: logger,
		frames: make(chan []byte, cfg.FrameBufferSize),
		backoff: NewBackoff(BackoffConfig{
			InitialDelay:   cfg.ReconnectInitialDelay,
			MaxDelay:       cfg.ReconnectMaxDelay,
			Multiplier:     cfg.ReconnectBackoffMult,
			JitterFraction: 0.2,
		}, logger),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start dials the feed and launches the read, ping and reconnect loops.
func (c *Client) Start() error {
	c.logger.Info("websocket-client-starting", zap.String("url", c.config.URL))

	if err := c.connect(c.ctx); err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	c.wg.Add(3)
	go c.readLoop()
	go c.pingLoop()
	go c.reconnectLoop()

	return nil
}

// connect dials, arms the read deadline and replays the subscribe
// payloads.
func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.DialTimeout}

	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	})

	for _, payload := range c.config.SubscribePayloads {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			return fmt.Errorf("write subscribe payload: %w", err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.connected.Store(true)
	c.connectedAt.Store(time.Now().Unix())
	ActiveConnections.WithLabelValues(c.config.Name).Set(1)

	c.logger.Info("websocket-connected")

	return nil
}

// readLoop reads frames until the connection fails, then exits so the
// reconnect loop can replace it.
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("read-error", zap.Error(err))

			if start := c.connectedAt.Load(); start > 0 {
				ConnectionDuration.WithLabelValues(c.config.Name).Observe(time.Since(time.Unix(start, 0)).Seconds())
			}

			c.connected.Store(false)
			ActiveConnections.WithLabelValues(c.config.Name).Set(0)
			return
		}

		// Data frames also prove the peer is alive, not just pongs.
		_ = conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))

		FramesReceivedTotal.WithLabelValues(c.config.Name).Inc()

		select {
		case c.frames <- frame:
		default:
			FramesDroppedTotal.WithLabelValues(c.config.Name).Inc()
			c.logger.Warn("frame-channel-full")
		}
	}
}

// pingLoop sends periodic pings so the read deadline keeps advancing on
// quiet feeds.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.connected.Load() {
				continue
			}

			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				continue
			}

			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				c.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

// reconnectLoop watches for a dropped connection and dials again with
// backoff, then restarts the read loop.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if c.connected.Load() {
			time.Sleep(time.Second)
			continue
		}

		c.logger.Warn("connection-lost-initiating-reconnect")

		err := c.backoff.Retry(c.ctx, func(ctx context.Context) error {
			ReconnectAttemptsTotal.WithLabelValues(c.config.Name).Inc()
			if err := c.connect(ctx); err != nil {
				ReconnectFailuresTotal.WithLabelValues(c.config.Name).Inc()
				return err
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("reconnection-failed", zap.Error(err))
			continue
		}

		c.logger.Info("reconnection-complete-restarting-read-loop")

		c.wg.Add(1)
		go c.readLoop()
	}
}

// Frames returns the channel of raw frames. It is closed by Close after
// the loops stop.
func (c *Client) Frames() <-chan []byte {
	return c.frames
}

// Connected reports whether the underlying connection is live.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Close tears the connection down and waits for the loops to exit.
func (c *Client) Close() error {
	c.logger.Info("closing-websocket-client")

	c.cancel()

	c.mu.RLock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.RUnlock()

	c.wg.Wait()
	close(c.frames)

	c.connected.Store(false)
	ActiveConnections.WithLabelValues(c.config.Name).Set(0)

	c.logger.Info("websocket-client-closed")

	return nil
}
