package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/config"
	"github.com/quorumtrade/oraclelag/pkg/wallet"
)

//nolint:gochecknoglobals // Cobra boilerplate
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show gas, collateral and exchange allowance for the trading wallet",
	Long: `Reads the on-chain balances the trader runs on: the gas balance,
the collateral token balance, and how much of it the venue exchange is
approved to spend.

The wallet address is derived from VENUE_PRIVATE_KEY; pass --address to
inspect any other wallet without a key.`,
	RunE: runBalance,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().String("address", "", "Wallet address to inspect (overrides VENUE_PRIVATE_KEY)")
}

func runBalance(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	owner, err := resolveOwner(cmd, cfg)
	if err != nil {
		return err
	}

	client, err := wallet.NewClient(wallet.ClientConfig{
		RPCURL: cfg.WalletRPCURL,
		Logger: zap.NewNop(),
	})
	if err != nil {
		return fmt.Errorf("create wallet client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	balances, err := client.GetBalances(ctx, owner)
	if err != nil {
		return fmt.Errorf("read balances: %w", err)
	}

	fmt.Printf("Wallet %s\n", owner.Hex())
	fmt.Printf("  Gas:        %.6f\n", balances.GasFloat())
	fmt.Printf("  Collateral: %.2f\n", balances.CollateralFloat())
	fmt.Printf("  Allowance:  %.2f\n", balances.AllowanceFloat())

	if cfg.WalletLowCollateral > 0 && balances.CollateralFloat() < cfg.WalletLowCollateral {
		fmt.Printf("\nWARNING: collateral below the configured floor of %.2f\n", cfg.WalletLowCollateral)
	}

	return nil
}

func resolveOwner(cmd *cobra.Command, cfg *config.Config) (common.Address, error) {
	addressFlag, _ := cmd.Flags().GetString("address")
	if addressFlag != "" {
		if !common.IsHexAddress(addressFlag) {
			return common.Address{}, fmt.Errorf("invalid address %q", addressFlag)
		}
		return common.HexToAddress(addressFlag), nil
	}

	if cfg.VenuePrivateKey == "" {
		return common.Address{}, fmt.Errorf("no wallet: set VENUE_PRIVATE_KEY or pass --address")
	}

	signer, err := wallet.NewSigner(cfg.VenuePrivateKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("parse signing key: %w", err)
	}
	return signer.Address(), nil
}
