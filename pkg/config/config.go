package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel    string
	HTTPPort    string
	TradingMode string // "paper" or "live"
	Assets      []string

	// Exchange feeds
	FeedSources               []string
	BinanceWSURL              string
	CoinbaseWSURL             string
	KrakenWSURL               string
	FeedDialTimeout           time.Duration
	FeedPingInterval          time.Duration
	FeedPongTimeout           time.Duration
	FeedReconnectInitialDelay time.Duration
	FeedReconnectMaxDelay     time.Duration
	FeedReconnectBackoffMult  float64
	FeedBufferSize            int
	FeedStaleAfter            time.Duration

	// Prediction-market venue
	VenueWSURL          string
	VenueAPIURL         string
	VenueAPIKey         string
	VenueSecret         string
	VenuePassphrase     string
	VenuePrivateKey     string // hex, live mode only
	VenueFunderAddress  string // proxy wallet, empty when the signer funds directly
	VenueSignatureType  int
	VenueRateLimit      float64
	VenueRateBurst      int

	// Oracle
	OracleRPCURL              string
	OraclePollInterval        time.Duration
	OracleDeviationTrigger    float64
	OracleImminenceWindow     time.Duration
	OracleImminenceConfidence float64
	OracleDefaultHeartbeat    time.Duration

	// Consensus
	ConsensusFreshnessBound time.Duration
	ConsensusToleranceBand  float64

	// Signal detection
	PipelineInterval       time.Duration
	SignalCooldown         time.Duration
	BookAgeCeiling         time.Duration
	OverrideDivergence     float64
	EscapeMinMove          float64
	EscapeOracleAge        time.Duration
	EscapeImbalance        float64
	EscapeLiquidity        float64
	EscapeVolumeSurge      float64
	VolumeFilterEnabled    bool
	VolumeSurgeMin         float64
	SpikeFilterEnabled     bool
	SpikeMin               float64
	AgreementFilterEnabled bool
	AgreementFloor         float64
	CollapseRelative       float64
	CollapseFloor          float64

	// Confidence scoring
	WeightDivergence  float64
	WeightStaleness   float64
	WeightAgreement   float64
	WeightLiquidity   float64
	WeightVolumeSurge float64
	WeightSpike       float64
	MinConfidence     float64

	// Position management
	PositionSize        float64
	MonitorInterval     time.Duration
	SettleDelay         time.Duration
	SpreadExitThreshold float64
	EmergencyTimeLimit  time.Duration
	OracleImminentAge   time.Duration
	TPOracleAgeFactor   float64
	TPOracleAgeTrigger  time.Duration
	TPDivergenceFactor  float64
	TPDivergenceTrigger float64

	// Execution
	MakerDeadline        time.Duration
	FillPollInterval     time.Duration
	TickSize             float64
	MinSpreadToImprove   float64
	EdgeCollapseFraction float64
	CloseRetries         int
	PerOrderCost         float64

	// Circuit breaker
	BreakerDailyLossLimit float64
	BreakerMaxFailedFills int
	BreakerDailyCostLimit float64
	BreakerCooldown       time.Duration

	// Storage
	StorageBackend string // "sqlite", "postgres" or "console"
	SQLitePath     string
	PostgresHost   string
	PostgresPort   string
	PostgresUser   string
	PostgresPass   string
	PostgresDB     string
	PostgresSSL    string

	// Wallet
	WalletRPCURL        string
	WalletTrackInterval time.Duration
	WalletLowCollateral float64

	// Per-asset parameter file (optional, defaults baked in)
	AssetParamsPath string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		// Application defaults
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort:    getEnvOrDefault("HTTP_PORT", "8080"),
		TradingMode: getEnvOrDefault("TRADING_MODE", "paper"),
		Assets:      getSliceOrDefault("ASSETS", []string{"BTC", "ETH", "SOL"}),

		// Feed defaults
		FeedSources:               getSliceOrDefault("FEED_SOURCES", []string{"binance", "coinbase", "kraken"}),
		BinanceWSURL:              getEnvOrDefault("BINANCE_WS_URL", "wss://stream.binance.com:9443/ws"),
		CoinbaseWSURL:             getEnvOrDefault("COINBASE_WS_URL", "wss://ws-feed.exchange.coinbase.com"),
		KrakenWSURL:               getEnvOrDefault("KRAKEN_WS_URL", "wss://ws.kraken.com"),
		FeedDialTimeout:           getDurationOrDefault("FEED_DIAL_TIMEOUT", 10*time.Second),
		FeedPingInterval:          getDurationOrDefault("FEED_PING_INTERVAL", 15*time.Second),
		FeedPongTimeout:           getDurationOrDefault("FEED_PONG_TIMEOUT", 60*time.Second),
		FeedReconnectInitialDelay: getDurationOrDefault("FEED_RECONNECT_INITIAL_DELAY", 1*time.Second),
		FeedReconnectMaxDelay:     getDurationOrDefault("FEED_RECONNECT_MAX_DELAY", 30*time.Second),
		FeedReconnectBackoffMult:  getFloat64OrDefault("FEED_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		FeedBufferSize:            getIntOrDefault("FEED_BUFFER_SIZE", 1000),
		FeedStaleAfter:            getDurationOrDefault("FEED_STALE_AFTER", 30*time.Second),

		// Venue defaults
		VenueWSURL:         getEnvOrDefault("VENUE_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		VenueAPIURL:        getEnvOrDefault("VENUE_API_URL", "https://clob.polymarket.com"),
		VenueAPIKey:        os.Getenv("VENUE_API_KEY"),
		VenueSecret:        os.Getenv("VENUE_SECRET"),
		VenuePassphrase:    os.Getenv("VENUE_PASSPHRASE"),
		VenuePrivateKey:    os.Getenv("VENUE_PRIVATE_KEY"),
		VenueFunderAddress: os.Getenv("VENUE_FUNDER_ADDRESS"),
		VenueSignatureType: getIntOrDefault("VENUE_SIGNATURE_TYPE", 0),
		VenueRateLimit:     getFloat64OrDefault("VENUE_RATE_LIMIT", 10.0),
		VenueRateBurst:     getIntOrDefault("VENUE_RATE_BURST", 20),

		// Oracle defaults
		OracleRPCURL:              getEnvOrDefault("ORACLE_RPC_URL", "https://polygon-rpc.com"),
		OraclePollInterval:        getDurationOrDefault("ORACLE_POLL_INTERVAL", 5*time.Second),
		OracleDeviationTrigger:    getFloat64OrDefault("ORACLE_DEVIATION_TRIGGER", 0.005),
		OracleImminenceWindow:     getDurationOrDefault("ORACLE_IMMINENCE_WINDOW", 15*time.Second),
		OracleImminenceConfidence: getFloat64OrDefault("ORACLE_IMMINENCE_CONFIDENCE", 0.6),
		OracleDefaultHeartbeat:    getDurationOrDefault("ORACLE_DEFAULT_HEARTBEAT", 60*time.Second),

		// Consensus defaults
		ConsensusFreshnessBound: getDurationOrDefault("CONSENSUS_FRESHNESS_BOUND", 10*time.Second),
		ConsensusToleranceBand:  getFloat64OrDefault("CONSENSUS_TOLERANCE_BAND", 0.0015),

		// Detector defaults
		PipelineInterval:       getDurationOrDefault("PIPELINE_INTERVAL", 500*time.Millisecond),
		SignalCooldown:         getDurationOrDefault("SIGNAL_COOLDOWN", 10*time.Second),
		BookAgeCeiling:         getDurationOrDefault("BOOK_AGE_CEILING", 300*time.Second),
		OverrideDivergence:     getFloat64OrDefault("OVERRIDE_DIVERGENCE", 0.30),
		EscapeMinMove:          getFloat64OrDefault("ESCAPE_MIN_MOVE", 0.001),
		EscapeOracleAge:        getDurationOrDefault("ESCAPE_ORACLE_AGE", 15*time.Second),
		EscapeImbalance:        getFloat64OrDefault("ESCAPE_IMBALANCE", 0.20),
		EscapeLiquidity:        getFloat64OrDefault("ESCAPE_LIQUIDITY", 75.0),
		EscapeVolumeSurge:      getFloat64OrDefault("ESCAPE_VOLUME_SURGE", 2.5),
		VolumeFilterEnabled:    getBoolOrDefault("VOLUME_FILTER_ENABLED", false),
		VolumeSurgeMin:         getFloat64OrDefault("VOLUME_SURGE_MIN", 1.5),
		SpikeFilterEnabled:     getBoolOrDefault("SPIKE_FILTER_ENABLED", false),
		SpikeMin:               getFloat64OrDefault("SPIKE_MIN", 0.6),
		AgreementFilterEnabled: getBoolOrDefault("AGREEMENT_FILTER_ENABLED", true),
		AgreementFloor:         getFloat64OrDefault("AGREEMENT_FLOOR", 0.5),
		CollapseRelative:       getFloat64OrDefault("COLLAPSE_RELATIVE", 0.5),
		CollapseFloor:          getFloat64OrDefault("COLLAPSE_FLOOR", 50.0),

		// Confidence defaults
		WeightDivergence:  getFloat64OrDefault("WEIGHT_DIVERGENCE", 0.50),
		WeightStaleness:   getFloat64OrDefault("WEIGHT_STALENESS", 0.20),
		WeightAgreement:   getFloat64OrDefault("WEIGHT_AGREEMENT", 0.15),
		WeightLiquidity:   getFloat64OrDefault("WEIGHT_LIQUIDITY", 0.10),
		WeightVolumeSurge: getFloat64OrDefault("WEIGHT_VOLUME_SURGE", 0.05),
		WeightSpike:       getFloat64OrDefault("WEIGHT_SPIKE", 0.00),
		MinConfidence:     getFloat64OrDefault("MIN_CONFIDENCE", 0.65),

		// Position defaults
		PositionSize:        getFloat64OrDefault("POSITION_SIZE", 20.0),
		MonitorInterval:     getDurationOrDefault("MONITOR_INTERVAL", 100*time.Millisecond),
		SettleDelay:         getDurationOrDefault("SETTLE_DELAY", 2*time.Second),
		SpreadExitThreshold: getFloat64OrDefault("SPREAD_EXIT_THRESHOLD", 0.015),
		EmergencyTimeLimit:  getDurationOrDefault("EMERGENCY_TIME_LIMIT", 120*time.Second),
		OracleImminentAge:   getDurationOrDefault("ORACLE_IMMINENT_AGE", 65*time.Second),
		TPOracleAgeFactor:   getFloat64OrDefault("TP_ORACLE_AGE_FACTOR", 0.7),
		TPOracleAgeTrigger:  getDurationOrDefault("TP_ORACLE_AGE_TRIGGER", 50*time.Second),
		TPDivergenceFactor:  getFloat64OrDefault("TP_DIVERGENCE_FACTOR", 1.3),
		TPDivergenceTrigger: getFloat64OrDefault("TP_DIVERGENCE_TRIGGER", 0.05),

		// Execution defaults
		MakerDeadline:        getDurationOrDefault("MAKER_DEADLINE", 3500*time.Millisecond),
		FillPollInterval:     getDurationOrDefault("FILL_POLL_INTERVAL", 200*time.Millisecond),
		TickSize:             getFloat64OrDefault("TICK_SIZE", 0.01),
		MinSpreadToImprove:   getFloat64OrDefault("MIN_SPREAD_TO_IMPROVE", 0.02),
		EdgeCollapseFraction: getFloat64OrDefault("EDGE_COLLAPSE_FRACTION", 0.5),
		CloseRetries:         getIntOrDefault("CLOSE_RETRIES", 3),
		PerOrderCost:         getFloat64OrDefault("PER_ORDER_COST", 0.02),

		// Circuit breaker defaults
		BreakerDailyLossLimit: getFloat64OrDefault("BREAKER_DAILY_LOSS_LIMIT", 40.0),
		BreakerMaxFailedFills: getIntOrDefault("BREAKER_MAX_FAILED_FILLS", 3),
		BreakerDailyCostLimit: getFloat64OrDefault("BREAKER_DAILY_COST_LIMIT", 10.0),
		BreakerCooldown:       getDurationOrDefault("BREAKER_COOLDOWN", time.Hour),

		// Storage defaults
		StorageBackend: getEnvOrDefault("STORAGE_BACKEND", "sqlite"),
		SQLitePath:     getEnvOrDefault("SQLITE_PATH", "oraclelag.db"),
		PostgresHost:   getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort:   getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser:   getEnvOrDefault("POSTGRES_USER", "oraclelag"),
		PostgresPass:   getEnvOrDefault("POSTGRES_PASSWORD", "oraclelag123"),
		PostgresDB:     getEnvOrDefault("POSTGRES_DB", "oraclelag"),
		PostgresSSL:    getEnvOrDefault("POSTGRES_SSLMODE", "disable"),

		// Wallet defaults
		WalletRPCURL:        getEnvOrDefault("WALLET_RPC_URL", "https://polygon-rpc.com"),
		WalletTrackInterval: getDurationOrDefault("WALLET_TRACK_INTERVAL", 5*time.Minute),
		WalletLowCollateral: getFloat64OrDefault("WALLET_LOW_COLLATERAL", 100.0),

		AssetParamsPath: os.Getenv("ASSET_PARAMS_PATH"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.TradingMode != "paper" && c.TradingMode != "live" {
		return fmt.Errorf("TRADING_MODE must be 'paper' or 'live', got %q", c.TradingMode)
	}

	if c.TradingMode == "live" {
		if c.VenuePrivateKey == "" {
			return fmt.Errorf("VENUE_PRIVATE_KEY required in live mode")
		}
		if c.VenueAPIKey == "" || c.VenueSecret == "" || c.VenuePassphrase == "" {
			return fmt.Errorf("VENUE_API_KEY, VENUE_SECRET and VENUE_PASSPHRASE required in live mode")
		}
	}

	if len(c.Assets) == 0 {
		return fmt.Errorf("ASSETS cannot be empty")
	}

	if len(c.FeedSources) < 2 {
		return fmt.Errorf("FEED_SOURCES needs at least 2 sources for consensus, got %d", len(c.FeedSources))
	}

	if c.ConsensusToleranceBand <= 0 {
		return fmt.Errorf("CONSENSUS_TOLERANCE_BAND must be positive, got %f", c.ConsensusToleranceBand)
	}

	if c.PipelineInterval <= 0 {
		return fmt.Errorf("PIPELINE_INTERVAL must be positive")
	}

	if c.MinConfidence < 0 || c.MinConfidence > 1.0 {
		return fmt.Errorf("MIN_CONFIDENCE must be between 0 and 1.0, got %f", c.MinConfidence)
	}

	if c.PositionSize <= 0 {
		return fmt.Errorf("POSITION_SIZE must be positive, got %f", c.PositionSize)
	}

	if c.TickSize <= 0 {
		return fmt.Errorf("TICK_SIZE must be positive, got %f", c.TickSize)
	}

	if c.MakerDeadline <= 0 {
		return fmt.Errorf("MAKER_DEADLINE must be positive")
	}

	if c.EdgeCollapseFraction <= 0 || c.EdgeCollapseFraction >= 1.0 {
		return fmt.Errorf("EDGE_COLLAPSE_FRACTION must be between 0 and 1.0, got %f", c.EdgeCollapseFraction)
	}

	switch c.StorageBackend {
	case "sqlite", "postgres", "console":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be 'sqlite', 'postgres' or 'console', got %q", c.StorageBackend)
	}

	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}

	if len(out) == 0 {
		return defaultValue
	}

	return out
}
