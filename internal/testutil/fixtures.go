package testutil

import (
	"fmt"
	"time"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

// FixtureTime anchors every fixture so tests can assert exact instants.
var FixtureTime = time.Date(2025, 6, 12, 14, 30, 0, 0, time.UTC)

// CreateTestConsensus creates a healthy consensus snapshot: three fresh
// sources in agreement, normal regime, a mild upward move.
func CreateTestConsensus(asset string, price float64) types.ConsensusSnapshot {
	return types.ConsensusSnapshot{
		Asset:              asset,
		Price:              price,
		AgreementScore:     0.95,
		SourceCount:        3,
		Regime:             types.RegimeNormal,
		Move10s:            0.004,
		Move30s:            0.006,
		VolumeSurge:        2.5,
		SpikeConcentration: 0.8,
		Timestamp:          FixtureTime,
	}
}

// CreateTestMarketSnapshot creates a two-sided book around the given YES
// quote. NO quotes mirror the YES side; liquidity is deep enough to pass
// the default gates.
func CreateTestMarketSnapshot(asset string, yesBid, yesAsk float64) types.MarketSnapshot {
	return types.MarketSnapshot{
		MarketID:        asset + "-window",
		Asset:           asset,
		YesBid:          yesBid,
		YesAsk:          yesAsk,
		NoBid:           1 - yesAsk,
		NoAsk:           1 - yesBid,
		YesLiquidity:    600,
		NoLiquidity:     550,
		Imbalance:       0.1,
		YesLiquidity30s: 580,
		NoLiquidity30s:  540,
		BookAge:         6 * time.Second,
		Timestamp:       FixtureTime,
	}
}

// CreateTestCandidate creates an accepted UP candidate with embedded
// consensus, market and oracle context.
func CreateTestCandidate(id, asset string) *types.SignalCandidate {
	return &types.SignalCandidate{
		ID:          id,
		Asset:       asset,
		Direction:   types.DirectionUp,
		Divergence:  0.09,
		ImpliedProb: 0.61,
		Type:        types.SignalStandard,
		Consensus:   CreateTestConsensus(asset, 65000),
		Market:      CreateTestMarketSnapshot(asset, 0.50, 0.52),
		Oracle: &types.OracleState{
			Asset:      asset,
			Value:      64800,
			RoundID:    7,
			AgeSeconds: 30,
			UpdatedAt:  FixtureTime.Add(-30 * time.Second),
		},
		CreatedAt: FixtureTime,
	}
}

// CreateTestScore creates a confidence score with a filled breakdown.
func CreateTestScore(value float64, tier types.ConfidenceTier) types.ConfidenceScore {
	return types.ConfidenceScore{
		Value: value,
		Tier:  tier,
		Factors: types.ScoreBreakdown{
			Divergence:  types.FactorScore{Raw: 0.9, Weighted: 0.225},
			Staleness:   types.FactorScore{Raw: 0.8, Weighted: 0.16},
			Agreement:   types.FactorScore{Raw: 0.95, Weighted: 0.1425},
			Liquidity:   types.FactorScore{Raw: 0.7, Weighted: 0.105},
			VolumeSurge: types.FactorScore{Raw: 0.75, Weighted: 0.075},
			Spike:       types.FactorScore{Raw: 0.8, Weighted: 0.08},
		},
	}
}

// CreateTestPosition creates a position in the given lifecycle state.
// Closed positions carry exit context one minute after entry; rejected
// ones never got an entry fill.
func CreateTestPosition(id, asset string, status types.PositionStatus) *types.Position {
	pos := &types.Position{
		ID:                id,
		SignalID:          "sig-" + id,
		Asset:             asset,
		MarketID:          asset + "-window",
		TokenID:           asset + "-yes",
		EntryOrderID:      "entry-" + id,
		Direction:         types.DirectionUp,
		EntryPrice:        0.51,
		Size:              40,
		EntryTime:         FixtureTime,
		Status:            status,
		Confidence:        0.82,
		InitialDivergence: 0.09,
		InitialOracleAge:  30,
	}

	switch status {
	case types.PositionClosed:
		pos.MaxProfitPct = 0.098
		pos.MaxDrawdownPct = -0.0196
		pos.ExitPrice = 0.56
		pos.ExitTime = FixtureTime.Add(time.Minute)
		pos.ExitReason = types.ExitTakeProfit
		pos.RealizedPnL = 2.0
	case types.PositionRejected:
		pos.EntryPrice = 0
		pos.Size = 0
		pos.EntryTime = time.Time{}
	}
	return pos
}

// CreateTestBookFrame creates a raw venue book frame for one outcome
// token, shaped like the market data stream's "book" events.
func CreateTestBookFrame(marketID, tokenID string, bids, asks []types.PriceLevel) []byte {
	frame := fmt.Sprintf(`{"event_type":"book","market":%q,"asset_id":%q,"timestamp":"%d","bids":%s,"asks":%s}`,
		marketID, tokenID, FixtureTime.UnixMilli(), levelsJSON(bids), levelsJSON(asks))
	return []byte(frame)
}

func levelsJSON(levels []types.PriceLevel) string {
	out := "["
	for i, l := range levels {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"price":%q,"size":%q}`, l.Price, l.Size)
	}
	return out + "]"
}
