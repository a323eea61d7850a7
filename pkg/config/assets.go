package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AssetParams holds the per-asset tuning the detector, scorer and position
// manager consume. Durations are expressed in seconds in the YAML file.
type AssetParams struct {
	// Scale steepens the move-to-probability sigmoid; higher values make
	// small moves imply larger probability shifts.
	Scale float64 `yaml:"scale"`

	MinDivergence float64 `yaml:"min_divergence"`
	MinMove       float64 `yaml:"min_move"`
	MinLiquidity  float64 `yaml:"min_liquidity"`

	// Book-age window the candidate must fall into before regime scaling.
	StalenessMinSeconds float64 `yaml:"staleness_min_seconds"`
	StalenessMaxSeconds float64 `yaml:"staleness_max_seconds"`

	TakeProfit       float64 `yaml:"take_profit"`
	StopLoss         float64 `yaml:"stop_loss"` // positive fraction
	TimeLimitSeconds float64 `yaml:"time_limit_seconds"`

	EntryPriceMin float64 `yaml:"entry_price_min"`
	EntryPriceMax float64 `yaml:"entry_price_max"`

	// OracleFeed is the on-chain aggregator address for this asset.
	OracleFeed string `yaml:"oracle_feed"`

	Market MarketHandleParams `yaml:"market"`
}

// MarketHandleParams identifies the prediction-market window traded for an
// asset. Empty handles are allowed at load time; the registry rejects them
// at startup when the asset is actually traded.
type MarketHandleParams struct {
	MarketID   string    `yaml:"market_id"`
	YesTokenID string    `yaml:"yes_token"`
	NoTokenID  string    `yaml:"no_token"`
	WindowEnd  time.Time `yaml:"window_end"`
}

// StalenessMin returns the lower book-age bound as a duration.
func (p AssetParams) StalenessMin() time.Duration {
	return time.Duration(p.StalenessMinSeconds * float64(time.Second))
}

// StalenessMax returns the upper book-age bound as a duration, before regime
// scaling.
func (p AssetParams) StalenessMax() time.Duration {
	return time.Duration(p.StalenessMaxSeconds * float64(time.Second))
}

// TimeLimit returns the position time limit as a duration.
func (p AssetParams) TimeLimit() time.Duration {
	return time.Duration(p.TimeLimitSeconds * float64(time.Second))
}

// DefaultAssetParams returns the baked-in parameters for the supported
// assets. A YAML file overrides per field via LoadAssetParams.
func DefaultAssetParams() map[string]AssetParams {
	return map[string]AssetParams{
		"BTC": {
			Scale:               100,
			MinDivergence:       0.03,
			MinMove:             0.0015,
			MinLiquidity:        50,
			StalenessMinSeconds: 4,
			StalenessMaxSeconds: 10,
			TakeProfit:          0.08,
			StopLoss:            0.03,
			TimeLimitSeconds:    90,
			EntryPriceMin:       0.10,
			EntryPriceMax:       0.90,
		},
		"ETH": {
			Scale:               130,
			MinDivergence:       0.035,
			MinMove:             0.002,
			MinLiquidity:        50,
			StalenessMinSeconds: 8,
			StalenessMaxSeconds: 15,
			TakeProfit:          0.08,
			StopLoss:            0.03,
			TimeLimitSeconds:    90,
			EntryPriceMin:       0.10,
			EntryPriceMax:       0.90,
		},
		"SOL": {
			Scale:               100,
			MinDivergence:       0.04,
			MinMove:             0.0025,
			MinLiquidity:        40,
			StalenessMinSeconds: 8,
			StalenessMaxSeconds: 12,
			TakeProfit:          0.08,
			StopLoss:            0.03,
			TimeLimitSeconds:    90,
			EntryPriceMin:       0.10,
			EntryPriceMax:       0.90,
		},
	}
}

type assetParamsFile struct {
	Assets map[string]AssetParams `yaml:"assets"`
}

// LoadAssetParams returns per-asset parameters for the requested assets.
// Defaults are used for any asset the file does not mention; path == ""
// means defaults only. Unknown assets with no file entry are an error.
func LoadAssetParams(path string, assets []string) (map[string]AssetParams, error) {
	params := DefaultAssetParams()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read asset params: %w", err)
		}

		var file assetParamsFile
		err = yaml.Unmarshal(data, &file)
		if err != nil {
			return nil, fmt.Errorf("parse asset params: %w", err)
		}

		for asset, p := range file.Assets {
			params[asset] = p
		}
	}

	out := make(map[string]AssetParams, len(assets))
	for _, asset := range assets {
		p, ok := params[asset]
		if !ok {
			return nil, fmt.Errorf("no parameters for asset %q (add it to %s)", asset, path)
		}

		err := validateAssetParams(asset, p)
		if err != nil {
			return nil, err
		}

		out[asset] = p
	}

	return out, nil
}

func validateAssetParams(asset string, p AssetParams) error {
	if p.Scale <= 0 {
		return fmt.Errorf("asset %s: scale must be positive, got %f", asset, p.Scale)
	}

	if p.MinDivergence <= 0 || p.MinDivergence >= 1.0 {
		return fmt.Errorf("asset %s: min_divergence must be in (0, 1), got %f", asset, p.MinDivergence)
	}

	if p.StalenessMinSeconds < 0 || p.StalenessMaxSeconds <= p.StalenessMinSeconds {
		return fmt.Errorf("asset %s: staleness window [%f, %f] invalid", asset, p.StalenessMinSeconds, p.StalenessMaxSeconds)
	}

	if p.TakeProfit <= 0 {
		return fmt.Errorf("asset %s: take_profit must be positive, got %f", asset, p.TakeProfit)
	}

	if p.StopLoss <= 0 {
		return fmt.Errorf("asset %s: stop_loss must be positive (loss fraction), got %f", asset, p.StopLoss)
	}

	if p.TimeLimitSeconds <= 0 {
		return fmt.Errorf("asset %s: time_limit_seconds must be positive, got %f", asset, p.TimeLimitSeconds)
	}

	if p.EntryPriceMin < 0 || p.EntryPriceMax <= p.EntryPriceMin || p.EntryPriceMax > 1.0 {
		return fmt.Errorf("asset %s: entry price range [%f, %f] invalid", asset, p.EntryPriceMin, p.EntryPriceMax)
	}

	return nil
}
