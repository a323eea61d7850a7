package execution

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	json "github.com/goccy/go-json"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

const defaultClobURL = "https://clob.polymarket.com"

// ClobConfig holds live venue credentials and limits.
type ClobConfig struct {
	BaseURL    string
	APIKey     string
	Secret     string
	Passphrase string
	// PrivateKey signs orders (hex, with or without 0x prefix).
	PrivateKey string
	// FunderAddress is the proxy wallet holding collateral. Empty means
	// the signing address funds directly.
	FunderAddress string
	SignatureType int
	// RateLimit caps venue requests per second.
	RateLimit float64
	Logger    *zap.Logger
}

// ClobClient places signed orders at the venue CLOB over HTTPS.
type ClobClient struct {
	baseURL       string
	apiKey        string
	secret        string
	passphrase    string
	privateKey    *ecdsa.PrivateKey
	address       string // EOA signer address
	funderAddress string
	signatureType model.SignatureType
	orderBuilder  builder.ExchangeOrderBuilder
	limiter       *rate.Limiter
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewClobClient creates a live order client.
func NewClobClient(cfg ClobConfig) (*ClobClient, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.APIKey == "" || cfg.Secret == "" || cfg.Passphrase == "" {
		return nil, fmt.Errorf("api credentials are required")
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("derive public key")
	}
	address := crypto.PubkeyToAddress(*publicKey).Hex()

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultClobURL
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 10
	}

	// Polygon mainnet exchange contracts.
	orderBuilder := builder.NewExchangeOrderBuilderImpl(big.NewInt(137), nil)

	return &ClobClient{
		baseURL:       baseURL,
		apiKey:        cfg.APIKey,
		secret:        cfg.Secret,
		passphrase:    cfg.Passphrase,
		privateKey:    privateKey,
		address:       address,
		funderAddress: cfg.FunderAddress,
		signatureType: model.SignatureType(cfg.SignatureType),
		orderBuilder:  orderBuilder,
		limiter:       rate.NewLimiter(rate.Limit(limit), int(limit)),
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		logger:        cfg.Logger.Named("clob"),
	}, nil
}

type signedOrderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

type placeResponse struct {
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
	Success bool   `json:"success"`
	Error   string `json:"errorMsg"`
}

type orderStatusResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// PlaceOrder signs and submits one post-only order.
func (c *ClobClient) PlaceOrder(ctx context.Context, req OrderRequest) (*types.Order, error) {
	maker := c.address
	if c.funderAddress != "" {
		maker = c.funderAddress
	}

	side := model.BUY
	// BUY spends collateral for tokens; SELL is the mirror image.
	makerAmount := usdToRawAmount(req.Price * req.Size)
	takerAmount := usdToRawAmount(req.Size)
	if req.Side == types.OrderSell {
		side = model.SELL
		makerAmount = usdToRawAmount(req.Size)
		takerAmount = usdToRawAmount(req.Price * req.Size)
	}

	orderData := &model.OrderData{
		Maker:         maker,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenId:       req.TokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Side:          side,
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        c.address,
		Expiration:    "0",
		SignatureType: c.signatureType,
	}

	signed, err := c.orderBuilder.BuildSignedOrder(c.privateKey, orderData, model.CTFExchange)
	if err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}

	sideStr := "BUY"
	if signed.Side.Uint64() == uint64(model.SELL) {
		sideStr = "SELL"
	}
	payload := map[string]interface{}{
		"order": signedOrderJSON{
			Salt:          signed.Salt.Int64(),
			Maker:         signed.Maker.Hex(),
			Signer:        signed.Signer.Hex(),
			Taker:         signed.Taker.Hex(),
			TokenID:       signed.TokenId.String(),
			MakerAmount:   signed.MakerAmount.String(),
			TakerAmount:   signed.TakerAmount.String(),
			Side:          sideStr,
			Expiration:    signed.Expiration.String(),
			Nonce:         signed.Nonce.String(),
			FeeRateBps:    signed.FeeRateBps.String(),
			SignatureType: int(signed.SignatureType.Int64()),
			Signature:     "0x" + common.Bytes2Hex(signed.Signature),
		},
		"owner":     c.apiKey,
		"orderType": "GTC",
	}

	body, err := c.request(ctx, http.MethodPost, "/order", payload)
	if err != nil {
		return nil, err
	}

	var resp placeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return nil, &types.OrderError{Code: resp.Status, Message: resp.Error, OrderID: resp.OrderID}
	}

	return &types.Order{
		ID:       resp.OrderID,
		MarketID: req.MarketID,
		TokenID:  req.TokenID,
		Side:     req.Side,
		Price:    req.Price,
		Size:     req.Size,
		PostOnly: req.PostOnly,
		Status:   types.OrderPending,
		PlacedAt: time.Now(),
	}, nil
}

// GetOrder reads back the venue state of an order.
func (c *ClobClient) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	body, err := c.request(ctx, http.MethodGet, "/data/order/"+orderID, nil)
	if err != nil {
		return nil, err
	}

	var resp orderStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	price := parseFloatString(resp.Price)
	return &types.Order{
		ID:         orderID,
		Price:      price,
		Size:       parseFloatString(resp.OriginalSize),
		Status:     mapOrderStatus(resp.Status),
		FilledSize: parseFloatString(resp.SizeMatched),
		FillPrice:  price,
	}, nil
}

// CancelOrder takes an order down, then reads back its final state so
// fills that raced the cancel are reported rather than lost.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) (*CancelResult, error) {
	_, cancelErr := c.request(ctx, http.MethodDelete, "/order", map[string]string{"orderID": orderID})

	order, err := c.GetOrder(ctx, orderID)
	if err != nil {
		if cancelErr != nil {
			return nil, fmt.Errorf("cancel order: %w", cancelErr)
		}
		return nil, fmt.Errorf("read back after cancel: %w", err)
	}

	result := &CancelResult{
		FilledSize: order.FilledSize,
		FillPrice:  order.FillPrice,
	}
	if order.Status == types.OrderFilled || (order.FilledSize > 0 && order.Remaining() <= fillTolerance) {
		result.AlreadyFilled = true
	}
	return result, nil
}

// request signs and sends one venue call, enforcing the rate limit.
func (c *ClobClient) request(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var reqBody []byte
	if payload != nil {
		var err error
		reqBody, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature, err := c.sign(timestamp, method, path, reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_SIGNATURE", signature)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)
	req.Header.Set("POLY_ADDRESS", c.address)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// sign builds the HMAC header over timestamp+method+path+body with the
// URL-safe base64 secret the venue issues.
func (c *ClobClient) sign(timestamp, method, path string, body []byte) (string, error) {
	secret, err := base64.URLEncoding.DecodeString(c.secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	h := hmac.New(sha256.New, secret)
	h.Write([]byte(timestamp + method + path))
	h.Write(body)
	return base64.URLEncoding.EncodeToString(h.Sum(nil)), nil
}

func mapOrderStatus(status string) types.OrderStatus {
	switch strings.ToUpper(status) {
	case "MATCHED", "FILLED":
		return types.OrderFilled
	case "CANCELED", "CANCELLED":
		return types.OrderCancelled
	case "EXPIRED":
		return types.OrderExpired
	default:
		return types.OrderPending
	}
}

func parseFloatString(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// usdToRawAmount converts to the 6-decimal integer representation both
// USDC and outcome tokens use on-chain.
func usdToRawAmount(v float64) string {
	return strconv.FormatInt(int64(v*1e6), 10)
}
