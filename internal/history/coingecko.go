package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Point is one historical price observation.
type Point struct {
	Time  time.Time
	Price float64
}

// Options parameterise the CoinGecko history client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client fetches historical price series from the CoinGecko public API.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a history client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "history_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// ResolveCoinID maps a ticker to a CoinGecko coin id via the search
// endpoint, preferring the best market-cap rank among exact symbol
// matches.
func (c *Client) ResolveCoinID(ctx context.Context, symbol string) (string, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return "", fmt.Errorf("history: symbol required")
	}

	params := url.Values{}
	params.Set("query", symbol)

	var payload struct {
		Coins []struct {
			ID            string `json:"id"`
			Symbol        string `json:"symbol"`
			MarketCapRank *int   `json:"market_cap_rank"`
		} `json:"coins"`
	}
	if err := c.getJSON(ctx, "/search", params, &payload); err != nil {
		return "", err
	}

	bestID := ""
	bestRank := int(^uint(0) >> 1)
	for _, coin := range payload.Coins {
		if !strings.EqualFold(coin.Symbol, symbol) {
			continue
		}
		rank := bestRank
		if coin.MarketCapRank != nil {
			rank = *coin.MarketCapRank
		}
		if bestID == "" || rank < bestRank {
			bestID = coin.ID
			bestRank = rank
		}
	}
	if bestID == "" {
		return "", fmt.Errorf("history: no coin found for symbol %q", symbol)
	}
	return bestID, nil
}

// Series fetches the daily price series for a symbol over the given number
// of days in the requested currency.
func (c *Client) Series(ctx context.Context, symbol string, days int, vsCurrency string) ([]Point, error) {
	coinID, err := c.ResolveCoinID(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 30
	}
	if vsCurrency == "" {
		vsCurrency = "usd"
	}

	params := url.Values{}
	params.Set("vs_currency", strings.ToLower(vsCurrency))
	params.Set("days", fmt.Sprintf("%d", days))

	var payload struct {
		Prices [][2]float64 `json:"prices"`
	}
	path := fmt.Sprintf("/coins/%s/market_chart", url.PathEscape(coinID))
	if err := c.getJSON(ctx, path, params, &payload); err != nil {
		return nil, err
	}

	points := make([]Point, 0, len(payload.Prices))
	for _, pair := range payload.Prices {
		points = append(points, Point{
			Time:  time.UnixMilli(int64(pair[0])),
			Price: pair[1],
		})
	}
	return points, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coingecko http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
