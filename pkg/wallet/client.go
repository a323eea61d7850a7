package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Polygon mainnet defaults: the USDC collateral token and the venue
// exchange contract it must be approved to.
const (
	polygonUSDC     = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	polygonExchange = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// ClientConfig configures the on-chain balance reader.
type ClientConfig struct {
	RPCURL string
	// CollateralToken and ExchangeSpender default to Polygon USDC and
	// the venue exchange contract.
	CollateralToken string
	ExchangeSpender string
	Logger          *zap.Logger
}

// Client reads gas and collateral balances over JSON-RPC.
type Client struct {
	rpcURL  string
	token   common.Address
	spender common.Address
	abi     abi.ABI
	logger  *zap.Logger
}

// Balances holds the on-chain funds the trader runs on.
type Balances struct {
	Gas        *big.Int // native token, wei
	Collateral *big.Int // collateral token, 6-decimal units
	Allowance  *big.Int // collateral approved to the exchange, 6-decimal units
}

// CollateralFloat returns the collateral balance in whole units.
func (b *Balances) CollateralFloat() float64 {
	return sixDecimals(b.Collateral)
}

// AllowanceFloat returns the exchange allowance in whole units.
func (b *Balances) AllowanceFloat() float64 {
	return sixDecimals(b.Allowance)
}

// GasFloat returns the native balance in whole units.
func (b *Balances) GasFloat() float64 {
	v, _ := new(big.Float).Quo(new(big.Float).SetInt(b.Gas), big.NewFloat(1e18)).Float64()
	return v
}

func sixDecimals(v *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(1e6)).Float64()
	return f
}

// NewClient creates a balance reader.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("rpc url cannot be empty")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	token := cfg.CollateralToken
	if token == "" {
		token = polygonUSDC
	}
	spender := cfg.ExchangeSpender
	if spender == "" {
		spender = polygonExchange
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	return &Client{
		rpcURL:  cfg.RPCURL,
		token:   common.HexToAddress(token),
		spender: common.HexToAddress(spender),
		abi:     parsed,
		logger:  cfg.Logger,
	}, nil
}

// GetBalances fetches the gas balance, the collateral balance and the
// exchange allowance for an address.
func (c *Client) GetBalances(ctx context.Context, owner common.Address) (*Balances, error) {
	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	defer client.Close()

	gas, err := client.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("get gas balance: %w", err)
	}

	collateral, err := c.erc20Call(ctx, client, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("get collateral balance: %w", err)
	}

	allowance, err := c.erc20Call(ctx, client, "allowance", owner, c.spender)
	if err != nil {
		return nil, fmt.Errorf("get exchange allowance: %w", err)
	}

	return &Balances{
		Gas:        gas,
		Collateral: collateral,
		Allowance:  allowance,
	}, nil
}

// erc20Call performs a read-only call against the collateral token and
// decodes the single uint256 result.
func (c *Client) erc20Call(ctx context.Context, client *ethclient.Client, method string, args ...interface{}) (*big.Int, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	result, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.token,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	return new(big.Int).SetBytes(result), nil
}
