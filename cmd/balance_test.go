package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumtrade/oraclelag/pkg/config"
)

// Well-known anvil test key #0; never holds real funds.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newAddressCommand(t *testing.T, address string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.Flags().String("address", "", "")
	if address != "" {
		require.NoError(t, cmd.Flags().Set("address", address))
	}
	return cmd
}

func TestResolveOwnerFromFlag(t *testing.T) {
	cmd := newAddressCommand(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	owner, err := resolveOwner(cmd, &config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", owner.Hex())
}

func TestResolveOwnerRejectsInvalidFlag(t *testing.T) {
	cmd := newAddressCommand(t, "not-an-address")

	_, err := resolveOwner(cmd, &config.Config{})
	assert.Error(t, err)
}

func TestResolveOwnerFromPrivateKey(t *testing.T) {
	cmd := newAddressCommand(t, "")

	owner, err := resolveOwner(cmd, &config.Config{VenuePrivateKey: testPrivateKey})
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", owner.Hex())
}

func TestResolveOwnerWithoutKeyOrFlag(t *testing.T) {
	cmd := newAddressCommand(t, "")

	_, err := resolveOwner(cmd, &config.Config{})
	assert.ErrorContains(t, err, "VENUE_PRIVATE_KEY")
}

func TestBalanceCommandStructure(t *testing.T) {
	require.NotNil(t, balanceCmd)
	assert.Equal(t, "balance", balanceCmd.Use)
	require.NotNil(t, balanceCmd.RunE)
	require.NotNil(t, balanceCmd.Flags().Lookup("address"))
}
