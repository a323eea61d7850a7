package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quorumtrade/oraclelag/internal/app"
	"github.com/quorumtrade/oraclelag/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the divergence trader",
	Long: `Starts the oracle-lag divergence trader, which will:
1. Stream spot trades from the configured exchanges
2. Fuse them into a per-asset consensus price
3. Detect divergence against the prediction-market orderbook
4. Score candidates and open maker-only positions (paper or live)

Use --single-asset to run the pipeline for one asset only.`,
	RunE: runTrader,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("single-asset", "s", "", "Run only a single asset by symbol (for debugging)")
}

func runTrader(cmd *cobra.Command, args []string) error {
	// .env is a local development convenience; absent in deployments.
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	singleAsset, _ := cmd.Flags().GetString("single-asset")

	opts := &app.Options{
		SingleAsset: singleAsset,
	}

	application, err := app.New(cfg, logger, opts)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
