package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "oraclelag",
	Short: "Oracle-lag divergence trader",
	Long: `Oracle-lag divergence trader that fuses spot prices from multiple
exchanges into a consensus estimate, detects short-lived mispricings
against a prediction-market orderbook, and trades them with post-only
maker orders under a daily risk circuit breaker.

The pipeline runs per asset: raw exchange ticks are fused into a
consensus price, divergence against the market's YES price is gated and
scored, and sufficiently confident candidates drive a monitored
position lifecycle in paper or live mode.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	// Flags can be added here if needed
}
