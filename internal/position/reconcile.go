package position

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/internal/execution"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

func (m *Manager) reconcileLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case late, ok := <-m.config.LateFills:
			if !ok {
				return
			}
			m.reconcile(late, time.Now())
		}
	}
}

// reconcile turns an entry-side late fill into a live position. Exit
// side late fills settle synchronously through the exit result, and
// entry fills the Open path already adopted are recognized by order id
// or by the still-pending slot.
func (m *Manager) reconcile(late execution.LateFill, now time.Time) {
	if late.Side != types.OrderBuy {
		return
	}
	ref, ok := m.config.Registry.Token(late.TokenID)
	if !ok {
		m.logger.Error("late-fill-unknown-token",
			zap.String("token-id", late.TokenID),
			zap.String("order-id", late.OrderID),
			zap.Float64("contracts", late.FilledSize))
		return
	}

	m.mu.Lock()
	if existing, found := m.table[ref.Asset]; found {
		adopted := existing.EntryOrderID == late.OrderID
		inFlight := existing.Status == types.PositionPending
		m.mu.Unlock()
		if adopted || inFlight {
			m.logger.Debug("late-fill-already-adopted",
				zap.String("asset", ref.Asset),
				zap.String("order-id", late.OrderID))
			return
		}
		// Tokens were bought for an asset that already carries a
		// position. They sit in the wallet unmanaged; this needs a
		// human.
		m.logger.Error("late-fill-conflicts-with-live-position",
			zap.String("asset", ref.Asset),
			zap.String("order-id", late.OrderID),
			zap.String("live-position-id", existing.ID),
			zap.Float64("contracts", late.FilledSize),
			zap.Float64("fill-price", late.FillPrice))
		return
	}

	position := &types.Position{
		ID:           uuid.NewString(),
		Asset:        ref.Asset,
		MarketID:     late.MarketID,
		TokenID:      late.TokenID,
		EntryOrderID: late.OrderID,
		Direction:    ref.Direction,
		EntryPrice:   late.FillPrice,
		Size:         late.FilledSize,
		EntryTime:    now,
		Status:       types.PositionOpen,
		Reconciled:   true,
	}
	m.table[ref.Asset] = position
	m.mu.Unlock()

	OpenPositions.Inc()
	PositionsOpenedTotal.Inc()
	ReconciledPositionsTotal.Inc()
	m.logger.Warn("late-fill-reconciled",
		zap.String("asset", ref.Asset),
		zap.String("order-id", late.OrderID),
		zap.Float64("entry-price", late.FillPrice),
		zap.Float64("contracts", late.FilledSize))
	m.emit(types.PositionEventOpened, *position)

	m.wg.Add(1)
	go m.monitor(position)
}
