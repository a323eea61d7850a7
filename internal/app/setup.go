package app

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/internal/circuitbreaker"
	"github.com/quorumtrade/oraclelag/internal/confidence"
	"github.com/quorumtrade/oraclelag/internal/consensus"
	"github.com/quorumtrade/oraclelag/internal/execution"
	"github.com/quorumtrade/oraclelag/internal/feeds"
	"github.com/quorumtrade/oraclelag/internal/marketdata"
	"github.com/quorumtrade/oraclelag/internal/markets"
	"github.com/quorumtrade/oraclelag/internal/oracle"
	"github.com/quorumtrade/oraclelag/internal/position"
	"github.com/quorumtrade/oraclelag/internal/signal"
	"github.com/quorumtrade/oraclelag/internal/storage"
	"github.com/quorumtrade/oraclelag/pkg/cache"
	"github.com/quorumtrade/oraclelag/pkg/config"
	"github.com/quorumtrade/oraclelag/pkg/healthprobe"
	"github.com/quorumtrade/oraclelag/pkg/httpserver"
	"github.com/quorumtrade/oraclelag/pkg/types"
	"github.com/quorumtrade/oraclelag/pkg/wallet"
	"github.com/quorumtrade/oraclelag/pkg/websocket"
)

const (
	writerQueueSize = 256
	eventBufferSize = 64
)

// New creates a new application instance. Construction validates every
// component's configuration; a misconfigured process never reaches Run.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	assets := cfg.Assets
	if opts.SingleAsset != "" {
		assets = []string{opts.SingleAsset}
	}

	params, err := config.LoadAssetParams(cfg.AssetParamsPath, assets)
	if err != nil {
		return nil, fmt.Errorf("load asset params: %w", err)
	}

	registry, err := markets.NewRegistry(params, logger)
	if err != nil {
		return nil, fmt.Errorf("create market registry: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	healthChecker := healthprobe.New()

	store, err := storage.Open(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	writer, err := storage.NewWriter(store, writerQueueSize, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create storage writer: %w", err)
	}

	engine, err := consensus.New(consensus.Config{
		FreshnessBound: cfg.ConsensusFreshnessBound,
		ToleranceBand:  cfg.ConsensusToleranceBand,
		Logger:         logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create consensus engine: %w", err)
	}

	feedSup, err := setupFeeds(cfg, assets, engine, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create feed supervisor: %w", err)
	}

	venueStream, err := setupVenueStream(cfg, registry, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create venue stream: %w", err)
	}

	books, err := marketdata.New(marketdata.Config{
		Logger:   logger,
		Registry: registry,
		Messages: venueStream.Frames(),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create market data manager: %w", err)
	}

	oracleTracker, err := setupOracle(cfg, assets, params, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create oracle tracker: %w", err)
	}

	breakerEvents := make(chan types.BreakerEvent, eventBufferSize)
	breaker, err := circuitbreaker.New(circuitbreaker.Config{
		DailyLossLimit: cfg.BreakerDailyLossLimit,
		MaxFailedFills: cfg.BreakerMaxFailedFills,
		DailyCostLimit: cfg.BreakerDailyCostLimit,
		Cooldown:       cfg.BreakerCooldown,
		Events:         breakerEvents,
		Logger:         logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create circuit breaker: %w", err)
	}

	lateFills := make(chan execution.LateFill, eventBufferSize)
	controller, err := setupExecution(cfg, books, breaker, lateFills, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create execution controller: %w", err)
	}

	detector, err := signal.New(signal.Config{
		Cooldown:               cfg.SignalCooldown,
		BookAgeCeiling:         cfg.BookAgeCeiling,
		OverrideDivergence:     cfg.OverrideDivergence,
		EscapeMinMove:          cfg.EscapeMinMove,
		EscapeOracleAge:        cfg.EscapeOracleAge,
		EscapeImbalance:        cfg.EscapeImbalance,
		EscapeLiquidity:        cfg.EscapeLiquidity,
		EscapeVolumeSurge:      cfg.EscapeVolumeSurge,
		VolumeFilterEnabled:    cfg.VolumeFilterEnabled,
		VolumeSurgeMin:         cfg.VolumeSurgeMin,
		SpikeFilterEnabled:     cfg.SpikeFilterEnabled,
		SpikeMin:               cfg.SpikeMin,
		AgreementFilterEnabled: cfg.AgreementFilterEnabled,
		AgreementFloor:         cfg.AgreementFloor,
		CollapseRelative:       cfg.CollapseRelative,
		CollapseFloor:          cfg.CollapseFloor,
		Assets:                 params,
		Logger:                 logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create signal detector: %w", err)
	}

	scorer, err := confidence.New(confidence.Config{
		Weights: confidence.Weights{
			Divergence:  cfg.WeightDivergence,
			Staleness:   cfg.WeightStaleness,
			Agreement:   cfg.WeightAgreement,
			Liquidity:   cfg.WeightLiquidity,
			VolumeSurge: cfg.WeightVolumeSurge,
			Spike:       cfg.WeightSpike,
		},
		Assets: params,
		Logger: logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create confidence scorer: %w", err)
	}

	metadata := setupMetadata(cfg, logger)

	positionEvents := make(chan types.PositionEvent, eventBufferSize)
	positions, err := position.New(position.Config{
		Executor:  controller,
		Markets:   books,
		Oracle:    oracleTracker,
		Breaker:   breaker,
		Registry:  registry,
		Consensus: engine,
		Store:     writer,
		Metadata:  metadata,

		Assets:        params,
		PositionSize:  cfg.PositionSize,
		MinConfidence: cfg.MinConfidence,

		MonitorInterval: cfg.MonitorInterval,
		SettleDelay:     cfg.SettleDelay,

		SpreadExitThreshold: cfg.SpreadExitThreshold,
		EmergencyTimeLimit:  cfg.EmergencyTimeLimit,
		OracleImminentAge:   cfg.OracleImminentAge,
		TPOracleAgeFactor:   cfg.TPOracleAgeFactor,
		TPOracleAgeTrigger:  cfg.TPOracleAgeTrigger,
		TPDivergenceFactor:  cfg.TPDivergenceFactor,
		TPDivergenceTrigger: cfg.TPDivergenceTrigger,
		CollapseRelative:    cfg.CollapseRelative,
		CollapseFloor:       cfg.CollapseFloor,

		TickSize:           cfg.TickSize,
		MinSpreadToImprove: cfg.MinSpreadToImprove,
		CloseRetries:       cfg.CloseRetries,

		Events:    positionEvents,
		LateFills: lateFills,
		Logger:    logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create position manager: %w", err)
	}

	walletTracker, err := setupWalletTracker(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create wallet tracker: %w", err)
	}

	httpServer := httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Positions:     positions,
		Breaker:       breaker,
		Consensus:     engine,
		Feeds:         feedSup,
		Assets:        assets,
		TradingMode:   cfg.TradingMode,
	})

	app := &App{
		cfg:    cfg,
		logger: logger,
		assets: assets,

		healthChecker: healthChecker,
		httpServer:    httpServer,

		registry: registry,
		writer:   writer,

		engine:        engine,
		feedSup:       feedSup,
		venueStream:   venueStream,
		books:         books,
		oracleTracker: oracleTracker,

		detector:  detector,
		positions: positions,
		breaker:   breaker,

		walletTracker: walletTracker,

		positionEvents: positionEvents,
		breakerEvents:  breakerEvents,
		lateFills:      lateFills,

		ctx:    ctx,
		cancel: cancel,
	}

	app.pipeline = &pipeline{
		assets:        assets,
		interval:      cfg.PipelineInterval,
		minConfidence: cfg.MinConfidence,
		consensus:     engine,
		oracle:        oracleTracker,
		books:         books,
		detector:      detector,
		scorer:        scorer,
		positions:     positions,
		registry:      registry,
		store:         writer,
		logger:        logger,
	}

	return app, nil
}

func setupFeeds(cfg *config.Config, assets []string, sink feeds.Sink, logger *zap.Logger) (*feeds.Supervisor, error) {
	return feeds.New(feeds.Config{
		Sources: cfg.FeedSources,
		Assets:  assets,

		BinanceURL:  cfg.BinanceWSURL,
		CoinbaseURL: cfg.CoinbaseWSURL,
		KrakenURL:   cfg.KrakenWSURL,

		DialTimeout:           cfg.FeedDialTimeout,
		PingInterval:          cfg.FeedPingInterval,
		PongTimeout:           cfg.FeedPongTimeout,
		ReconnectInitialDelay: cfg.FeedReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.FeedReconnectMaxDelay,
		ReconnectBackoffMult:  cfg.FeedReconnectBackoffMult,
		BufferSize:            cfg.FeedBufferSize,
		StaleAfter:            cfg.FeedStaleAfter,

		Sink:   sink,
		Logger: logger,
	})
}

// venueSubscription is the market-channel subscribe frame replayed
// after every (re)connect.
type venueSubscription struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

func setupVenueStream(cfg *config.Config, registry *markets.Registry, logger *zap.Logger) (*websocket.Client, error) {
	payload, err := json.Marshal(venueSubscription{
		Type:      "market",
		AssetsIDs: registry.TokenIDs(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal subscription: %w", err)
	}

	return websocket.New(websocket.Config{
		Name:                  "venue",
		URL:                   cfg.VenueWSURL,
		DialTimeout:           cfg.FeedDialTimeout,
		PongTimeout:           cfg.FeedPongTimeout,
		PingInterval:          cfg.FeedPingInterval,
		ReconnectInitialDelay: cfg.FeedReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.FeedReconnectMaxDelay,
		ReconnectBackoffMult:  cfg.FeedReconnectBackoffMult,
		FrameBufferSize:       cfg.FeedBufferSize,
		SubscribePayloads:     [][]byte{payload},
		Logger:                logger,
	})
}

func setupOracle(cfg *config.Config, assets []string, params map[string]config.AssetParams, logger *zap.Logger) (*oracle.Tracker, error) {
	feedAddrs := make(map[string]string)
	for _, asset := range assets {
		if addr := params[asset].OracleFeed; addr != "" {
			feedAddrs[asset] = addr
		}
	}

	// Without feed addresses the tracker runs disabled: it never reports
	// state, the detector sees a nil oracle, and the oracle-driven exit
	// and escape paths stay quiet rather than acting on fabricated data.
	var reader oracle.Reader
	if len(feedAddrs) > 0 && cfg.OracleRPCURL != "" {
		chainReader, err := oracle.NewChainlinkReader(cfg.OracleRPCURL, logger)
		if err != nil {
			return nil, fmt.Errorf("create chainlink reader: %w", err)
		}
		reader = chainReader
	} else {
		logger.Warn("oracle-polling-disabled",
			zap.Int("feeds-configured", len(feedAddrs)),
			zap.Bool("rpc-configured", cfg.OracleRPCURL != ""))
	}

	return oracle.New(oracle.Config{
		PollInterval:       cfg.OraclePollInterval,
		ImminenceWindow:    cfg.OracleImminenceWindow,
		MinConfidence:      cfg.OracleImminenceConfidence,
		DefaultHeartbeat:   cfg.OracleDefaultHeartbeat,
		DeviationThreshold: cfg.OracleDeviationTrigger,
		Feeds:              feedAddrs,
		Logger:             logger,
	}, reader)
}

func setupExecution(cfg *config.Config, books *marketdata.Manager, breaker *circuitbreaker.Breaker, lateFills chan<- execution.LateFill, logger *zap.Logger) (*execution.Controller, error) {
	var client execution.OrderClient
	var err error

	if cfg.TradingMode == "live" {
		client, err = execution.NewClobClient(execution.ClobConfig{
			BaseURL:       cfg.VenueAPIURL,
			APIKey:        cfg.VenueAPIKey,
			Secret:        cfg.VenueSecret,
			Passphrase:    cfg.VenuePassphrase,
			PrivateKey:    cfg.VenuePrivateKey,
			FunderAddress: cfg.VenueFunderAddress,
			SignatureType: cfg.VenueSignatureType,
			RateLimit:     cfg.VenueRateLimit,
			Logger:        logger,
		})
	} else {
		client, err = execution.NewPaperClient(books, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s order client: %w", cfg.TradingMode, err)
	}

	return execution.New(execution.Config{
		Client:           client,
		Breaker:          breaker,
		Deadline:         cfg.MakerDeadline,
		PollInterval:     cfg.FillPollInterval,
		CollapseFraction: cfg.EdgeCollapseFraction,
		PerOrderCost:     cfg.PerOrderCost,
		LateFills:        lateFills,
		Logger:           logger,
	})
}

func setupMetadata(cfg *config.Config, logger *zap.Logger) *markets.CachedMetadata {
	metadataCache, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		// Metadata degrades to uncached fetches with configured
		// fallbacks; not worth failing startup over.
		logger.Warn("metadata-cache-unavailable", zap.Error(err))
		metadataCache = nil
	}

	return markets.NewCachedMetadata(markets.NewMetadataClient(cfg.VenueAPIURL), metadataCache)
}

// setupWalletTracker builds the collateral tracker in live mode. Paper
// runs hold no on-chain funds, so there is nothing to watch.
func setupWalletTracker(cfg *config.Config, logger *zap.Logger) (*wallet.Tracker, error) {
	if cfg.TradingMode != "live" {
		return nil, nil
	}

	signer, err := wallet.NewSigner(cfg.VenuePrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	return wallet.New(&wallet.Config{
		RPCURL:        cfg.WalletRPCURL,
		Address:       signer.Address(),
		PollInterval:  cfg.WalletTrackInterval,
		LowCollateral: cfg.WalletLowCollateral,
		Logger:        logger,
	})
}

// registerHealthChecks wires the readiness probes that depend on live
// component state. Called once the components are started.
func (a *App) registerHealthChecks() {
	a.healthChecker.AddCheck("price-feeds", func() bool {
		return a.feedSup.Healthy(time.Now())
	})
	a.healthChecker.AddCheck("venue-stream", a.venueStream.Connected)
	a.healthChecker.SetReady("pipeline", true)
}
