package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/internal/markets"
	"github.com/quorumtrade/oraclelag/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "Show the configured market handles per asset",
	Long: `Loads the per-asset parameter file and prints the resolved market
handle for every configured asset: market id, outcome token ids and the
trading window end. Expired windows are flagged so a stale configuration
is visible before the trader starts.`,
	RunE: runMarkets,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(marketsCmd)
}

func runMarkets(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	params, err := config.LoadAssetParams(cfg.AssetParamsPath, cfg.Assets)
	if err != nil {
		return fmt.Errorf("load asset params: %w", err)
	}

	registry, err := markets.NewRegistry(params, zap.NewNop())
	if err != nil {
		return fmt.Errorf("build market registry: %w", err)
	}

	now := time.Now().UTC()
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Asset", "Market ID", "YES Token", "NO Token", "Window End", "Status")

	for _, asset := range registry.Assets() {
		handle, _ := registry.HandleFor(asset)
		if err := table.Append(marketRow(handle, now)); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	return nil
}

func marketRow(handle markets.Handle, now time.Time) []string {
	status := "active"
	if !handle.WindowEnd.IsZero() && now.After(handle.WindowEnd) {
		status = "EXPIRED"
	}

	windowEnd := "-"
	if !handle.WindowEnd.IsZero() {
		windowEnd = handle.WindowEnd.UTC().Format(time.RFC3339)
	}

	return []string{
		handle.Asset,
		truncateID(handle.MarketID),
		truncateID(handle.YesTokenID),
		truncateID(handle.NoTokenID),
		windowEnd,
		status,
	}
}

// truncateID shortens long token ids so the table stays readable.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + ".." + id[len(id)-6:]
}
