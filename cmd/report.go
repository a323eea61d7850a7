package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/internal/storage"
	"github.com/quorumtrade/oraclelag/pkg/config"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

//nolint:gochecknoglobals // Cobra boilerplate
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show closed positions and session statistics",
	Long: `Reads closed positions from the configured storage backend and
prints a per-trade table plus session totals: win rate, realized P&L,
and the exit reason distribution.

Examples:
  # Last 24 hours (default)
  oraclelag report

  # Last week
  oraclelag report --since 168h`,
	RunE: runReport,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Duration("since", 24*time.Hour, "How far back to report")
}

func runReport(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The report is read-only tooling; keep the log channel quiet so the
	// table is the output.
	logger := zap.NewNop()

	store, err := storage.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	since, _ := cmd.Flags().GetDuration("since")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	positions, err := store.ClosedPositions(ctx, time.Now().Add(-since))
	if err != nil {
		return fmt.Errorf("load closed positions: %w", err)
	}

	if len(positions) == 0 {
		fmt.Printf("No closed positions in the last %s (%s backend).\n", since, cfg.StorageBackend)
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Closed", "Asset", "Dir", "Entry", "Exit", "Size", "Held", "Exit Reason", "P&L")
	for _, row := range reportRows(positions) {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	err = table.Render()
	if err != nil {
		return fmt.Errorf("render table: %w", err)
	}

	printSummary(summarize(positions), since)
	return nil
}

// reportRows formats closed positions for the table, newest last.
func reportRows(positions []types.Position) [][]string {
	rows := make([][]string, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, []string{
			p.ExitTime.Format("01-02 15:04:05"),
			p.Asset,
			string(p.Direction),
			fmt.Sprintf("%.3f", p.EntryPrice),
			fmt.Sprintf("%.3f", p.ExitPrice),
			fmt.Sprintf("%.1f", p.Size),
			p.ExitTime.Sub(p.EntryTime).Round(time.Second).String(),
			string(p.ExitReason),
			fmt.Sprintf("%+.2f", p.RealizedPnL),
		})
	}
	return rows
}

// sessionSummary aggregates one report window.
type sessionSummary struct {
	Trades      int
	Wins        int
	Losses      int
	NetPnL      float64
	ExitReasons map[types.ExitReason]int
}

func (s sessionSummary) WinRate() float64 {
	decided := s.Wins + s.Losses
	if decided == 0 {
		return 0
	}
	return float64(s.Wins) / float64(decided)
}

func summarize(positions []types.Position) sessionSummary {
	summary := sessionSummary{ExitReasons: make(map[types.ExitReason]int)}
	for _, p := range positions {
		summary.Trades++
		summary.NetPnL += p.RealizedPnL
		switch {
		case p.RealizedPnL > 0:
			summary.Wins++
		case p.RealizedPnL < 0:
			summary.Losses++
		}
		summary.ExitReasons[p.ExitReason]++
	}
	return summary
}

func printSummary(summary sessionSummary, since time.Duration) {
	fmt.Printf("\n%d trades in the last %s: %d won / %d lost (%.0f%% win rate), net %+.2f\n",
		summary.Trades, since, summary.Wins, summary.Losses,
		summary.WinRate()*100, summary.NetPnL)

	fmt.Println("Exit reasons:")
	for _, reason := range []types.ExitReason{
		types.ExitOracleImminent,
		types.ExitSpreadConverged,
		types.ExitTakeProfit,
		types.ExitStopLoss,
		types.ExitTimeLimit,
		types.ExitEmergency,
		types.ExitLiquidityCollapse,
	} {
		if count := summary.ExitReasons[reason]; count > 0 {
			fmt.Printf("  %-24s %d\n", reason, count)
		}
	}
}
