package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// aggregatorABI covers the single read used from Chainlink aggregators.
const aggregatorABI = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

// aggregatorDecimals applies to Chainlink USD feeds on Polygon.
const aggregatorDecimals = 1e8

// ChainlinkReader reads latest round data from Chainlink aggregator
// contracts over a JSON-RPC connection.
type ChainlinkReader struct {
	client *ethclient.Client
	abi    abi.ABI
	logger *zap.Logger
}

// NewChainlinkReader connects to an RPC endpoint and prepares the
// aggregator ABI.
func NewChainlinkReader(rpcURL string, logger *zap.Logger) (*ChainlinkReader, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse aggregator ABI: %w", err)
	}

	logger.Info("chainlink-reader-connected", zap.String("rpc-url", rpcURL))

	return &ChainlinkReader{
		client: client,
		abi:    parsed,
		logger: logger,
	}, nil
}

// LatestRound reads latestRoundData from the given aggregator address.
func (r *ChainlinkReader) LatestRound(ctx context.Context, feed string) (RoundData, error) {
	if !common.IsHexAddress(feed) {
		return RoundData{}, fmt.Errorf("invalid aggregator address: %s", feed)
	}
	addr := common.HexToAddress(feed)

	data, err := r.abi.Pack("latestRoundData")
	if err != nil {
		return RoundData{}, fmt.Errorf("failed to pack call: %w", err)
	}

	msg := ethereum.CallMsg{
		To:   &addr,
		Data: data,
	}

	result, err := r.client.CallContract(ctx, msg, nil)
	if err != nil {
		return RoundData{}, fmt.Errorf("failed to call aggregator: %w", err)
	}

	values, err := r.abi.Unpack("latestRoundData", result)
	if err != nil {
		return RoundData{}, fmt.Errorf("failed to unpack round data: %w", err)
	}
	if len(values) < 4 {
		return RoundData{}, fmt.Errorf("unexpected round data shape: %d values", len(values))
	}

	roundID, ok := values[0].(*big.Int)
	if !ok {
		return RoundData{}, fmt.Errorf("unexpected round id type")
	}
	answer, ok := values[1].(*big.Int)
	if !ok {
		return RoundData{}, fmt.Errorf("unexpected answer type")
	}
	updatedAt, ok := values[3].(*big.Int)
	if !ok {
		return RoundData{}, fmt.Errorf("unexpected updated-at type")
	}

	value, _ := new(big.Float).Quo(
		new(big.Float).SetInt(answer),
		big.NewFloat(aggregatorDecimals),
	).Float64()

	return RoundData{
		RoundID:   roundID.Uint64(),
		Answer:    value,
		UpdatedAt: time.Unix(updatedAt.Int64(), 0),
	}, nil
}

// Close closes the underlying RPC connection.
func (r *ChainlinkReader) Close() {
	r.client.Close()
}
