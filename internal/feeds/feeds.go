// Package feeds turns exchange trade streams into normalized price ticks.
// Each source owns one WebSocket connection and a decoder for that
// exchange's wire format; the supervisor fans every source into a single
// sink and tracks per-source health.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quorumtrade/oraclelag/pkg/types"
	"github.com/quorumtrade/oraclelag/pkg/websocket"
)

// Sink consumes normalized ticks. The consensus engine implements it.
type Sink interface {
	Observe(tick types.PriceTick)
}

// Config holds feed supervisor configuration.
type Config struct {
	// Sources names the exchanges to run: "binance", "coinbase", "kraken".
	Sources []string
	// Assets are normalized symbols: "BTC", "ETH", "SOL".
	Assets []string

	BinanceURL  string
	CoinbaseURL string
	KrakenURL   string

	DialTimeout           time.Duration
	PingInterval          time.Duration
	PongTimeout           time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	BufferSize            int
	// StaleAfter is the longest a source may go without a decoded trade
	// before Health reports it down.
	StaleAfter time.Duration

	Sink   Sink
	Logger *zap.Logger
}

// decodeFunc turns one raw frame into zero or more ticks. A nil slice
// with a nil error is a control frame: acks, heartbeats, status messages.
type decodeFunc func(frame []byte) ([]types.PriceTick, error)

// Source is one exchange trade stream normalized to PriceTicks.
type Source struct {
	name     string
	client   *websocket.Client
	decode   decodeFunc
	logger   *zap.Logger
	lastTick atomic.Int64 // unix nanos of the last decoded trade
}

func (s *Source) run(ctx context.Context, out chan<- types.PriceTick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, open := <-s.client.Frames():
			if !open {
				return fmt.Errorf("%s frame channel closed", s.name)
			}

			ticks, err := s.decode(frame)
			if err != nil {
				DecodeErrorsTotal.WithLabelValues(s.name).Inc()
				s.logger.Debug("frame-decode-failed", zap.Error(err))
				continue
			}

			for _, tick := range ticks {
				s.lastTick.Store(time.Now().UnixNano())
				TicksTotal.WithLabelValues(s.name, tick.Asset).Inc()
				TickLagSeconds.WithLabelValues(s.name).Observe(time.Since(tick.Timestamp).Seconds())

				select {
				case out <- tick:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (s *Source) healthy(now time.Time, staleAfter time.Duration) bool {
	if !s.client.Connected() {
		return false
	}
	last := s.lastTick.Load()
	if last == 0 {
		return false
	}
	return now.Sub(time.Unix(0, last)) <= staleAfter
}

// Supervisor runs every configured source and fans their ticks into the
// sink through one channel.
type Supervisor struct {
	config  Config
	logger  *zap.Logger
	sources []*Source
	ticks   chan types.PriceTick

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New validates cfg and builds the sources. Start dials them.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("tick sink is required")
	}
	if len(cfg.Assets) == 0 {
		return nil, fmt.Errorf("at least one asset must be configured")
	}
	if len(cfg.Sources) < 2 {
		return nil, fmt.Errorf("at least two feed sources are required for consensus, got %d", len(cfg.Sources))
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", cfg.BufferSize)
	}
	if cfg.StaleAfter <= 0 {
		return nil, fmt.Errorf("stale-after bound must be positive, got %s", cfg.StaleAfter)
	}

	sources := make([]*Source, 0, len(cfg.Sources))
	for _, name := range cfg.Sources {
		var (
			src *Source
			err error
		)
		switch name {
		case "binance":
			src, err = newBinanceSource(cfg)
		case "coinbase":
			src, err = newCoinbaseSource(cfg)
		case "kraken":
			src, err = newKrakenSource(cfg)
		default:
			return nil, fmt.Errorf("unknown feed source %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("build %s source: %w", name, err)
		}
		sources = append(sources, src)
	}

	return &Supervisor{
		config:  cfg,
		logger:  cfg.Logger,
		sources: sources,
		ticks:   make(chan types.PriceTick, cfg.BufferSize),
	}, nil
}

// Start dials every source and launches the pump goroutines. A source
// that cannot complete its first dial fails the whole start.
func (s *Supervisor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	started := make([]*Source, 0, len(s.sources))
	for _, src := range s.sources {
		if err := src.client.Start(); err != nil {
			for _, prev := range started {
				prev.client.Close()
			}
			cancel()
			return fmt.Errorf("start %s feed: %w", src.name, err)
		}
		started = append(started, src)
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	s.group = group

	for _, src := range s.sources {
		group.Go(func() error { return src.run(groupCtx, s.ticks) })
	}
	group.Go(func() error { return s.dispatch(groupCtx) })

	s.logger.Info("feed-supervisor-started",
		zap.Strings("sources", s.config.Sources),
		zap.Strings("assets", s.config.Assets))

	return nil
}

func (s *Supervisor) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-s.ticks:
			s.config.Sink.Observe(tick)
		}
	}
}

// Health reports per-source liveness: connected and a trade decoded
// within the staleness bound.
func (s *Supervisor) Health(now time.Time) map[string]bool {
	health := make(map[string]bool, len(s.sources))
	for _, src := range s.sources {
		health[src.name] = src.healthy(now, s.config.StaleAfter)
	}
	return health
}

// Healthy reports whether at least two sources are live, the minimum the
// consensus engine needs.
func (s *Supervisor) Healthy(now time.Time) bool {
	live := 0
	for _, ok := range s.Health(now) {
		if ok {
			live++
		}
	}
	return live >= 2
}

// Close stops the clients and waits for the pump goroutines to drain.
func (s *Supervisor) Close() error {
	s.logger.Info("closing-feed-supervisor")

	if s.cancel != nil {
		s.cancel()
	}
	for _, src := range s.sources {
		if err := src.client.Close(); err != nil {
			s.logger.Warn("feed-client-close-failed",
				zap.String("feed", src.name),
				zap.Error(err))
		}
	}
	if s.group != nil {
		if err := s.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("feed-supervisor-drained-with-error", zap.Error(err))
		}
	}

	s.logger.Info("feed-supervisor-closed")
	return nil
}

func clientConfig(cfg Config, name, url string, payloads [][]byte) websocket.Config {
	return websocket.Config{
		Name:                  name,
		URL:                   url,
		DialTimeout:           cfg.DialTimeout,
		PongTimeout:           cfg.PongTimeout,
		PingInterval:          cfg.PingInterval,
		ReconnectInitialDelay: cfg.ReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.ReconnectMaxDelay,
		ReconnectBackoffMult:  cfg.ReconnectBackoffMult,
		FrameBufferSize:       cfg.BufferSize,
		SubscribePayloads:     payloads,
		Logger:                cfg.Logger,
	}
}
