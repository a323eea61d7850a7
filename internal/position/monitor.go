package position

import (
	"time"

	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/internal/execution"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

// monitor drives one position from open to closed. It is the only
// goroutine that mutates the position after activation; the short
// settle delay lets the book digest the fill before exits are judged.
func (m *Manager) monitor(position *types.Position) {
	defer m.wg.Done()

	if m.config.SettleDelay > 0 {
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(m.config.SettleDelay):
		}
	}

	ticker := time.NewTicker(m.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if m.step(position, time.Now()) {
				return
			}
		}
	}
}

// step runs one monitor pass and reports whether the position reached a
// terminal state.
func (m *Manager) step(position *types.Position, now time.Time) bool {
	// A position stuck in closing keeps re-attempting its exit with the
	// reason that originally triggered it.
	if position.Status == types.PositionClosing {
		return m.close(position, position.ExitReason)
	}

	snapshot, err := m.config.Markets.Snapshot(position.Asset)
	if err != nil {
		// Without market data only the clock-driven exits can fire.
		if reason, ok := m.timedExit(position, now); ok {
			return m.close(position, reason)
		}
		return false
	}

	m.updateExtremes(position, &snapshot)

	reason, ok := m.evaluateExits(position, &snapshot, now)
	if !ok {
		return false
	}
	return m.close(position, reason)
}

// evaluateExits walks the exit ladder in fixed priority order; the
// first match wins.
func (m *Manager) evaluateExits(position *types.Position, snapshot *types.MarketSnapshot, now time.Time) (types.ExitReason, bool) {
	// 1. Oracle update imminent: the lag this trade harvests is about
	// to close, taking the edge with it.
	if m.oracleImminent(position.Asset, now) {
		return types.ExitOracleImminent, true
	}

	// 2. Spread converged: the market has caught up.
	if spread := snapshot.Spread(); spread > 0 && spread < m.config.SpreadExitThreshold {
		return types.ExitSpreadConverged, true
	}

	pnl := position.UnrealizedPnLPct(snapshot.SideBid(position.Direction))

	// 3. Take-profit at the adaptive target.
	if target := m.takeProfitTarget(position); pnl >= target {
		return types.ExitTakeProfit, true
	}

	// 4. Stop-loss.
	if params, ok := m.config.Assets[position.Asset]; ok && params.StopLoss > 0 && pnl <= -params.StopLoss {
		return types.ExitStopLoss, true
	}

	// 5 and 6. Clock limits.
	if reason, ok := m.timedExit(position, now); ok {
		return reason, true
	}

	// 7. Liquidity collapse: leave before the side empties entirely.
	if m.liquidityCollapsed(position, snapshot) {
		return types.ExitLiquidityCollapse, true
	}

	return "", false
}

func (m *Manager) timedExit(position *types.Position, now time.Time) (types.ExitReason, bool) {
	held := now.Sub(position.EntryTime)
	if params, ok := m.config.Assets[position.Asset]; ok && params.TimeLimitSeconds > 0 {
		if held.Seconds() >= params.TimeLimitSeconds {
			return types.ExitTimeLimit, true
		}
	}
	if m.config.EmergencyTimeLimit > 0 && held >= m.config.EmergencyTimeLimit {
		return types.ExitEmergency, true
	}
	return "", false
}

func (m *Manager) oracleImminent(asset string, now time.Time) bool {
	state, ok := m.config.Oracle.State(asset)
	if ok && state.AgeSeconds > m.config.OracleImminentAge.Seconds() {
		return true
	}
	return m.config.Oracle.Imminent(asset, m.consensusPrice(asset), now)
}

func (m *Manager) consensusPrice(asset string) float64 {
	if m.config.Consensus == nil {
		return 0
	}
	snapshot, err := m.config.Consensus.Snapshot(asset)
	if err != nil {
		return 0
	}
	return snapshot.Price
}

// takeProfitTarget adapts the per-asset base target: an old oracle
// round is likely to update soon, so gains are taken earlier; a wide
// entry divergence has further to converge, so the position runs
// longer.
func (m *Manager) takeProfitTarget(position *types.Position) float64 {
	params, ok := m.config.Assets[position.Asset]
	if !ok || params.TakeProfit <= 0 {
		return 1
	}
	target := params.TakeProfit
	if state, ok := m.config.Oracle.State(position.Asset); ok && state.AgeSeconds > m.config.TPOracleAgeTrigger.Seconds() {
		target *= m.config.TPOracleAgeFactor
	}
	if position.InitialDivergence > m.config.TPDivergenceTrigger {
		target *= m.config.TPDivergenceFactor
	}
	return target
}

// liquidityCollapsed applies the same both-conditions rule the signal
// detector uses: the held side must sit below the absolute floor and
// below the relative fraction of its 30s-ago depth.
func (m *Manager) liquidityCollapsed(position *types.Position, snapshot *types.MarketSnapshot) bool {
	liquidity := snapshot.SideLiquidity(position.Direction)
	reference := snapshot.SideLiquidity30s(position.Direction)
	if reference <= 0 {
		return false
	}
	return liquidity < m.config.CollapseRelative*reference && liquidity < m.config.CollapseFloor
}

func (m *Manager) updateExtremes(position *types.Position, snapshot *types.MarketSnapshot) {
	bid := snapshot.SideBid(position.Direction)
	if bid <= 0 {
		return
	}
	pnl := position.UnrealizedPnLPct(bid)
	m.mu.Lock()
	if pnl > position.MaxProfitPct {
		position.MaxProfitPct = pnl
	}
	if pnl < position.MaxDrawdownPct {
		position.MaxDrawdownPct = pnl
	}
	m.mu.Unlock()
}

// close drives the exit. Up to CloseRetries maker attempts run back to
// back, each repricing from a fresh snapshot and stepping one tick
// further down. Exhausted retries leave the position in closing so the
// next monitor pass tries again; a held position is never silently
// dropped.
func (m *Manager) close(position *types.Position, reason types.ExitReason) bool {
	m.mu.Lock()
	if position.Status != types.PositionClosing {
		position.Status = types.PositionClosing
		position.ExitReason = reason
		m.logger.Info("position-closing",
			zap.String("id", position.ID),
			zap.String("asset", position.Asset),
			zap.String("reason", string(reason)))
	}
	m.mu.Unlock()

	for attempt := 0; attempt < m.config.CloseRetries; attempt++ {
		if m.ctx.Err() != nil {
			return false
		}

		price, ok := m.exitPrice(position, attempt)
		if !ok {
			break
		}

		result, err := m.config.Executor.ExecuteExit(m.ctx, execution.Request{
			MarketID: position.MarketID,
			TokenID:  position.TokenID,
			Side:     types.OrderSell,
			Price:    price,
			Size:     position.Size,
		})
		if err != nil {
			m.logger.Warn("exit-attempt-failed",
				zap.String("id", position.ID),
				zap.Int("attempt", attempt+1),
				zap.Float64("price", price),
				zap.Error(err))
			CloseRetriesTotal.Inc()
			continue
		}

		if result.Outcome == execution.OutcomeFilled || result.LateFill {
			if m.applyExitFill(position, result) {
				m.finalizeClosed(position, reason, result.LateFill)
				return true
			}
			// Partially sold; the loop reprices the remainder.
		}
		CloseRetriesTotal.Inc()
	}

	CloseExhaustedTotal.Inc()
	m.logger.Error("close-attempts-exhausted",
		zap.String("id", position.ID),
		zap.String("asset", position.Asset),
		zap.String("reason", string(reason)),
		zap.Int("attempts", m.config.CloseRetries),
		zap.Float64("contracts", position.Size))
	return false
}

// exitPrice reprices each attempt from the live book: improve the ask
// by one tick when the spread leaves room, step one further tick down
// per retry, and never fall to the bid where post-only would cross.
func (m *Manager) exitPrice(position *types.Position, attempt int) (float64, bool) {
	snapshot, err := m.config.Markets.Snapshot(position.Asset)
	if err != nil {
		return 0, false
	}
	bid := snapshot.SideBid(position.Direction)
	ask := snapshot.SideAsk(position.Direction)
	if bid <= 0 || ask <= 0 || ask <= bid {
		return 0, false
	}

	tick := m.tickSize(m.ctx, position.TokenID)
	price := ask
	if ask-bid >= m.config.MinSpreadToImprove {
		price = ask - tick
	}
	price -= float64(attempt) * tick
	if floor := bid + tick; price < floor {
		price = floor
	}
	if price >= ask {
		price = ask
	}
	return price, true
}

// applyExitFill books the filled portion of an exit order against the
// position. A partial fill realizes PnL for the sold contracts and
// shrinks the position to the unsold remainder, which stays in closing
// under its monitor; only a fill covering the whole remainder reports
// the position settled.
func (m *Manager) applyExitFill(position *types.Position, result *execution.Result) bool {
	m.mu.Lock()
	sold := result.FilledSize
	if sold > position.Size {
		sold = position.Size
	}
	position.RealizedPnL += (result.FillPrice - position.EntryPrice) * sold
	position.ExitPrice = result.FillPrice
	remainder := position.Size - sold
	settled := remainder <= 1e-9
	if !settled {
		position.Size = remainder
	}
	m.mu.Unlock()

	if !settled {
		PartialExitFillsTotal.Inc()
		m.logger.Warn("exit-partially-filled",
			zap.String("id", position.ID),
			zap.String("asset", position.Asset),
			zap.Float64("sold", sold),
			zap.Float64("remaining", remainder),
			zap.Float64("fill-price", result.FillPrice))
	}
	return settled
}

func (m *Manager) finalizeClosed(position *types.Position, reason types.ExitReason, late bool) {
	now := time.Now()

	m.mu.Lock()
	position.Status = types.PositionClosed
	position.ExitTime = now
	position.ExitReason = reason
	snapshot := *position
	delete(m.table, position.Asset)
	m.mu.Unlock()

	m.config.Breaker.RecordPnL(snapshot.RealizedPnL)

	OpenPositions.Dec()
	PositionsClosedTotal.WithLabelValues(string(reason)).Inc()
	RealizedPnLDollars.Observe(snapshot.RealizedPnL)
	HoldSeconds.Observe(snapshot.ExitTime.Sub(snapshot.EntryTime).Seconds())

	m.logger.Info("position-closed",
		zap.String("id", snapshot.ID),
		zap.String("asset", snapshot.Asset),
		zap.String("reason", string(reason)),
		zap.Float64("entry-price", snapshot.EntryPrice),
		zap.Float64("exit-price", snapshot.ExitPrice),
		zap.Float64("pnl", snapshot.RealizedPnL),
		zap.Duration("held", snapshot.ExitTime.Sub(snapshot.EntryTime)),
		zap.Bool("late-fill", late))

	m.archive(&snapshot)
	m.emit(types.PositionEventClosed, snapshot)
}
