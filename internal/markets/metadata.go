package markets

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// MetadataClient fetches market metadata from the venue REST API.
type MetadataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMetadataClient creates a metadata client against the given venue
// API base URL.
func NewMetadataClient(baseURL string) *MetadataClient {
	return &MetadataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// MarketInfo is the venue's description of one market.
type MarketInfo struct {
	ConditionID     string `json:"condition_id"`
	Question        string `json:"question"`
	EndDateISO      string `json:"end_date_iso"`
	Closed          bool   `json:"closed"`
	AcceptingOrders bool   `json:"accepting_orders"`
}

// FetchMarket fetches the market description for a condition id.
func (c *MetadataClient) FetchMarket(ctx context.Context, marketID string) (MarketInfo, error) {
	var info MarketInfo

	url := fmt.Sprintf("%s/markets/%s", c.baseURL, marketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return info, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, err
	}
	return info, nil
}

// FetchTickSize fetches the minimum tick size for an outcome token.
func (c *MetadataClient) FetchTickSize(ctx context.Context, tokenID string) (float64, error) {
	url := fmt.Sprintf("%s/tick-size?token_id=%s", c.baseURL, tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	var data struct {
		MinimumTickSize float64 `json:"minimum_tick_size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, err
	}
	return data.MinimumTickSize, nil
}

// FetchMinOrderSize fetches the minimum order size for an outcome
// token, defaulting to 5.0 when the venue does not report one.
func (c *MetadataClient) FetchMinOrderSize(ctx context.Context, tokenID string) (float64, error) {
	url := fmt.Sprintf("%s/book?token_id=%s", c.baseURL, tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 5.0, nil
	}

	var data struct {
		MinSize float64 `json:"min_size"`
		Market  struct {
			MinSize float64 `json:"minimum_order_size"`
		} `json:"market"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 5.0, nil
	}

	if data.MinSize > 0 {
		return data.MinSize, nil
	}
	if data.Market.MinSize > 0 {
		return data.Market.MinSize, nil
	}
	return 5.0, nil
}
