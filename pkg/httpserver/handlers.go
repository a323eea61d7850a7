package httpserver

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

// statusHandler serves the pipeline's JSON status endpoints.
type statusHandler struct {
	positions PositionSource
	breaker   BreakerSource
	consensus ConsensusSource
	feeds     FeedSource

	assets      []string
	tradingMode string
	logger      *zap.Logger
}

func newStatusHandler(cfg *Config) *statusHandler {
	return &statusHandler{
		positions:   cfg.Positions,
		breaker:     cfg.Breaker,
		consensus:   cfg.Consensus,
		feeds:       cfg.Feeds,
		assets:      cfg.Assets,
		tradingMode: cfg.TradingMode,
		logger:      cfg.Logger,
	}
}

// AssetStatus is one asset's consensus view. A nil price means no
// consensus was available when the request arrived.
type AssetStatus struct {
	Asset          string   `json:"asset"`
	Price          *float64 `json:"price,omitempty"`
	AgreementScore *float64 `json:"agreement_score,omitempty"`
	SourceCount    int      `json:"source_count"`
	Regime         string   `json:"regime,omitempty"`
}

// BreakerStatus is the circuit breaker's externally visible state.
type BreakerStatus struct {
	Tripped       bool    `json:"tripped"`
	Reason        string  `json:"reason,omitempty"`
	RestoresAt    string  `json:"restores_at,omitempty"`
	DailyPnL      float64 `json:"daily_pnl"`
	FailedFills   int     `json:"failed_fills"`
	ExecutionCost float64 `json:"execution_cost"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	TradingMode   string          `json:"trading_mode"`
	Assets        []AssetStatus   `json:"assets"`
	Feeds         map[string]bool `json:"feeds"`
	Breaker       BreakerStatus   `json:"breaker"`
	OpenPositions int             `json:"open_positions"`
}

// PositionView is one live position in GET /api/positions.
type PositionView struct {
	ID             string  `json:"id"`
	Asset          string  `json:"asset"`
	Direction      string  `json:"direction"`
	Status         string  `json:"status"`
	EntryPrice     float64 `json:"entry_price"`
	Size           float64 `json:"size"`
	EntryTime      string  `json:"entry_time"`
	Confidence     float64 `json:"confidence"`
	MaxProfitPct   float64 `json:"max_profit_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Reconciled     bool    `json:"reconciled,omitempty"`
}

// PositionsResponse is the body of GET /api/positions.
type PositionsResponse struct {
	Positions []PositionView `json:"positions"`
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleStatus handles GET /api/status.
func (h *statusHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		TradingMode: h.tradingMode,
		Assets:      make([]AssetStatus, 0, len(h.assets)),
	}

	for _, asset := range h.assets {
		status := AssetStatus{Asset: asset}
		snapshot, err := h.consensus.Snapshot(asset)
		if err == nil {
			price := snapshot.Price
			agreement := snapshot.AgreementScore
			status.Price = &price
			status.AgreementScore = &agreement
			status.SourceCount = snapshot.SourceCount
			status.Regime = string(snapshot.Regime)
		}
		resp.Assets = append(resp.Assets, status)
	}

	resp.Feeds = h.feeds.Health(time.Now())

	state := h.breaker.State()
	resp.Breaker = BreakerStatus{
		Tripped:       state.Tripped,
		Reason:        state.Reason,
		DailyPnL:      state.DailyPnL,
		FailedFills:   state.FailedFills,
		ExecutionCost: state.ExecutionCost,
	}
	if state.Tripped {
		resp.Breaker.RestoresAt = state.RestoresAt.Format(time.RFC3339)
	}

	resp.OpenPositions = countOpen(h.positions.Positions())

	h.writeJSON(w, http.StatusOK, resp)
}

// handlePositions handles GET /api/positions.
func (h *statusHandler) handlePositions(w http.ResponseWriter, r *http.Request) {
	live := h.positions.Positions()

	resp := PositionsResponse{Positions: make([]PositionView, 0, len(live))}
	for _, p := range live {
		resp.Positions = append(resp.Positions, PositionView{
			ID:             p.ID,
			Asset:          p.Asset,
			Direction:      string(p.Direction),
			Status:         string(p.Status),
			EntryPrice:     p.EntryPrice,
			Size:           p.Size,
			EntryTime:      p.EntryTime.Format(time.RFC3339),
			Confidence:     p.Confidence,
			MaxProfitPct:   p.MaxProfitPct,
			MaxDrawdownPct: p.MaxDrawdownPct,
			Reconciled:     p.Reconciled,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func countOpen(positions []types.Position) int {
	count := 0
	for _, p := range positions {
		if p.Status == types.PositionOpen || p.Status == types.PositionClosing {
			count++
		}
	}
	return count
}

func (h *statusHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		h.logger.Error("response-encode-failed", zap.Error(err))
	}
}
