package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

func closedPosition(asset string, pnl float64, reason types.ExitReason) types.Position {
	entry := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return types.Position{
		Asset:       asset,
		Direction:   types.DirectionUp,
		EntryPrice:  0.52,
		ExitPrice:   0.58,
		Size:        192.3,
		EntryTime:   entry,
		ExitTime:    entry.Add(95 * time.Second),
		ExitReason:  reason,
		RealizedPnL: pnl,
	}
}

func TestSummarize(t *testing.T) {
	positions := []types.Position{
		closedPosition("BTC", 11.54, types.ExitOracleImminent),
		closedPosition("BTC", -3.20, types.ExitStopLoss),
		closedPosition("ETH", 0.0, types.ExitTimeLimit),
		closedPosition("SOL", 7.80, types.ExitOracleImminent),
	}

	summary := summarize(positions)

	assert.Equal(t, 4, summary.Trades)
	assert.Equal(t, 2, summary.Wins)
	assert.Equal(t, 1, summary.Losses)
	assert.InDelta(t, 16.14, summary.NetPnL, 1e-9)
	assert.Equal(t, 2, summary.ExitReasons[types.ExitOracleImminent])
	assert.Equal(t, 1, summary.ExitReasons[types.ExitStopLoss])
	assert.Equal(t, 1, summary.ExitReasons[types.ExitTimeLimit])
}

func TestWinRate(t *testing.T) {
	tests := []struct {
		name     string
		wins     int
		losses   int
		expected float64
	}{
		{name: "no-decided-trades", wins: 0, losses: 0, expected: 0},
		{name: "all-wins", wins: 3, losses: 0, expected: 1.0},
		{name: "mixed", wins: 3, losses: 1, expected: 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := sessionSummary{Wins: tt.wins, Losses: tt.losses}
			assert.InDelta(t, tt.expected, summary.WinRate(), 1e-9)
		})
	}
}

func TestWinRateIgnoresBreakevenTrades(t *testing.T) {
	positions := []types.Position{
		closedPosition("BTC", 5.0, types.ExitTakeProfit),
		closedPosition("BTC", 0.0, types.ExitTimeLimit),
	}

	summary := summarize(positions)
	assert.InDelta(t, 1.0, summary.WinRate(), 1e-9)
}

func TestReportRows(t *testing.T) {
	positions := []types.Position{
		closedPosition("BTC", 11.54, types.ExitOracleImminent),
	}

	rows := reportRows(positions)
	require.Len(t, rows, 1)

	row := rows[0]
	require.Len(t, row, 9)
	assert.Equal(t, "03-14 09:31:35", row[0])
	assert.Equal(t, "BTC", row[1])
	assert.Equal(t, "UP", row[2])
	assert.Equal(t, "0.520", row[3])
	assert.Equal(t, "0.580", row[4])
	assert.Equal(t, "192.3", row[5])
	assert.Equal(t, "1m35s", row[6])
	assert.Equal(t, "oracle_update_imminent", row[7])
	assert.Equal(t, "+11.54", row[8])
}

func TestReportCommandStructure(t *testing.T) {
	require.NotNil(t, reportCmd)
	assert.Equal(t, "report", reportCmd.Use)
	require.NotNil(t, reportCmd.RunE)

	sinceFlag := reportCmd.Flags().Lookup("since")
	require.NotNil(t, sinceFlag)
	assert.Equal(t, "24h0m0s", sinceFlag.DefValue)
}
