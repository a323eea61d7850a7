package markets

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/config"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

// Handle identifies the prediction market traded for one asset window:
// the market (condition) id plus the two outcome token ids.
type Handle struct {
	Asset      string
	MarketID   string
	YesTokenID string
	NoTokenID  string
	WindowEnd  time.Time
}

// TokenRef resolves an outcome token id back to its asset and side.
type TokenRef struct {
	Asset     string
	MarketID  string
	Direction types.Direction
}

// Registry holds the resolved market handle per traded asset. Handles
// are validated once at startup; a missing handle for a configured
// asset is a fatal configuration error, not a runtime retry.
type Registry struct {
	logger  *zap.Logger
	handles map[string]Handle
	tokens  map[string]TokenRef
}

// NewRegistry validates and indexes the configured market handles.
func NewRegistry(params map[string]config.AssetParams, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("no assets configured")
	}

	registry := &Registry{
		logger:  logger,
		handles: make(map[string]Handle, len(params)),
		tokens:  make(map[string]TokenRef, len(params)*2),
	}

	for asset, p := range params {
		market := p.Market
		if market.MarketID == "" {
			return nil, fmt.Errorf("asset %s: market id is required", asset)
		}
		if market.YesTokenID == "" || market.NoTokenID == "" {
			return nil, fmt.Errorf("asset %s: both outcome token ids are required", asset)
		}
		if market.YesTokenID == market.NoTokenID {
			return nil, fmt.Errorf("asset %s: outcome token ids must differ", asset)
		}
		for _, tokenID := range []string{market.YesTokenID, market.NoTokenID} {
			if ref, exists := registry.tokens[tokenID]; exists {
				return nil, fmt.Errorf(
					"token %s configured for both %s and %s", tokenID, ref.Asset, asset)
			}
		}

		handle := Handle{
			Asset:      asset,
			MarketID:   market.MarketID,
			YesTokenID: market.YesTokenID,
			NoTokenID:  market.NoTokenID,
			WindowEnd:  market.WindowEnd,
		}
		registry.handles[asset] = handle
		registry.tokens[market.YesTokenID] = TokenRef{
			Asset:     asset,
			MarketID:  market.MarketID,
			Direction: types.DirectionUp,
		}
		registry.tokens[market.NoTokenID] = TokenRef{
			Asset:     asset,
			MarketID:  market.MarketID,
			Direction: types.DirectionDown,
		}

		logger.Info("market-handle-registered",
			zap.String("asset", asset),
			zap.String("market-id", market.MarketID))
	}

	return registry, nil
}

// HandleFor returns the market handle for an asset.
func (r *Registry) HandleFor(asset string) (Handle, bool) {
	handle, ok := r.handles[asset]
	return handle, ok
}

// Token resolves an outcome token id.
func (r *Registry) Token(tokenID string) (TokenRef, bool) {
	ref, ok := r.tokens[tokenID]
	return ref, ok
}

// Assets returns the configured assets in stable order.
func (r *Registry) Assets() []string {
	assets := make([]string, 0, len(r.handles))
	for asset := range r.handles {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// TokenIDs returns every outcome token id, for stream subscriptions.
func (r *Registry) TokenIDs() []string {
	ids := make([]string, 0, len(r.tokens))
	for id := range r.tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WindowExpired reports whether the asset's trading window has ended.
// Handles without a configured window never expire.
func (r *Registry) WindowExpired(asset string, now time.Time) bool {
	handle, ok := r.handles[asset]
	if !ok || handle.WindowEnd.IsZero() {
		return false
	}
	return now.After(handle.WindowEnd)
}
