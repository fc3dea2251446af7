package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	listingsPath = "/cryptocurrency/listings/latest"
	quotesPath   = "/cryptocurrency/quotes/latest"
	keyInfoPath  = "/key/info"

	apiKeyHeader = "X-CMC_PRO_API_KEY"

	// Floor applied when a 429 response carries no usable Retry-After.
	minRetryDelay = 5 * time.Second
)

// ClientOptions parameterise the CoinMarketCap client.
type ClientOptions struct {
	BaseURL      string
	APIKey       string
	Convert      string
	ListingLimit int
	Sort         string
	SortDir      string
	Timeout      time.Duration
	UserAgent    string
}

// Client talks to the CoinMarketCap Pro API.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	// sleep is swappable in tests so 429 retries do not wall-block.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient constructs a CoinMarketCap client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://pro-api.coinmarketcap.com/v1"
	}
	if opts.Convert == "" {
		opts.Convert = "USD"
	}
	if opts.ListingLimit <= 0 {
		opts.ListingLimit = 200
	}
	if opts.Sort == "" {
		opts.Sort = "market_cap"
	}
	if opts.SortDir == "" {
		opts.SortDir = "desc"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "cmc_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		sleep:   sleepCtx,
	}
}

// FetchListings retrieves the top listings in the configured unit of
// account. Entries missing a quote in that unit are skipped, not treated as
// a batch failure.
func (c *Client) FetchListings(ctx context.Context) ([]Listing, error) {
	return c.fetchListings(ctx, c.opts.ListingLimit)
}

// SearchListings retrieves a wider listing for name lookups.
func (c *Client) SearchListings(ctx context.Context, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = 300
	}
	return c.fetchListings(ctx, limit)
}

func (c *Client) fetchListings(ctx context.Context, limit int) ([]Listing, error) {
	if c.opts.APIKey == "" {
		return nil, errors.New("coinmarketcap api key not configured")
	}

	params := url.Values{}
	params.Set("start", "1")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("convert", c.opts.Convert)
	params.Set("sort", c.opts.Sort)
	params.Set("sort_dir", c.opts.SortDir)

	var payload struct {
		Status apiStatus         `json:"status"`
		Data   []json.RawMessage `json:"data"`
	}
	if err := c.getJSON(ctx, listingsPath, params, &payload); err != nil {
		return nil, err
	}
	if err := payload.Status.err(); err != nil {
		return nil, err
	}

	convert := strings.ToUpper(c.opts.Convert)
	listings := make([]Listing, 0, len(payload.Data))
	for _, raw := range payload.Data {
		listing, ok := decodeAsset(raw, convert)
		if !ok {
			continue
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

// FetchQuotes retrieves quotes for an explicit symbol set. Unknown symbols
// are skipped upstream via skip_invalid and absent from the result.
func (c *Client) FetchQuotes(ctx context.Context, symbols []string, convert string) (map[string]Listing, error) {
	if c.opts.APIKey == "" {
		return nil, errors.New("coinmarketcap api key not configured")
	}

	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			normalized = append(normalized, s)
		}
	}
	if len(normalized) == 0 {
		return map[string]Listing{}, nil
	}
	if convert == "" {
		convert = c.opts.Convert
	}
	convert = strings.ToUpper(convert)

	params := url.Values{}
	params.Set("symbol", strings.Join(normalized, ","))
	params.Set("convert", convert)
	params.Set("skip_invalid", "true")

	var payload struct {
		Status apiStatus                  `json:"status"`
		Data   map[string]json.RawMessage `json:"data"`
	}
	if err := c.getJSON(ctx, quotesPath, params, &payload); err != nil {
		return nil, err
	}
	if err := payload.Status.err(); err != nil {
		return nil, err
	}

	quotes := make(map[string]Listing, len(payload.Data))
	for sym, raw := range payload.Data {
		listing, ok := decodeAsset(raw, convert)
		if !ok {
			continue
		}
		listing.Symbol = strings.ToUpper(sym)
		quotes[listing.Symbol] = listing
	}
	return quotes, nil
}

// FetchKeyInfo probes the API key's monthly quota standing.
func (c *Client) FetchKeyInfo(ctx context.Context) (KeyInfo, error) {
	if c.opts.APIKey == "" {
		return KeyInfo{}, errors.New("coinmarketcap api key not configured")
	}

	var payload struct {
		Status apiStatus `json:"status"`
		Data   struct {
			Plan struct {
				CreditLimitMonthly int64 `json:"credit_limit_monthly"`
			} `json:"plan"`
			Usage struct {
				CurrentMinute struct {
					RequestsMade int64 `json:"requests_made"`
				} `json:"current_minute"`
				CurrentMonth struct {
					CreditsUsed int64 `json:"credits_used"`
				} `json:"current_month"`
			} `json:"usage"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, keyInfoPath, nil, &payload); err != nil {
		return KeyInfo{}, err
	}
	if err := payload.Status.err(); err != nil {
		return KeyInfo{}, err
	}

	info := KeyInfo{
		CreditLimitMonthly: payload.Data.Plan.CreditLimitMonthly,
		CreditsUsedMonth:   payload.Data.Usage.CurrentMonth.CreditsUsed,
		CreditsUsedMinute:  payload.Data.Usage.CurrentMinute.RequestsMade,
	}
	info.CreditsLeftMonth = info.CreditLimitMonthly - info.CreditsUsedMonth
	return info, nil
}

// getJSON performs a GET with the API-key header, retrying exactly once on
// a 429 after honouring Retry-After (or the fixed floor).
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	resp, body, err := c.doGet(ctx, path, params)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		delay := retryDelay(resp.Header.Get("Retry-After"))
		c.logger.Warn().Dur("delay", delay).Str("path", path).Msg("rate limited, backing off before single retry")
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		resp, body, err = c.doGet(ctx, path, params)
		if err != nil {
			return err
		}
	}

	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values) (*http.Response, []byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, c.opts.APIKey)
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

type apiStatus struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (s apiStatus) err() error {
	if s.ErrorCode != 0 {
		return fmt.Errorf("coinmarketcap api error %d: %s", s.ErrorCode, s.ErrorMessage)
	}
	return nil
}

type assetPayload struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	LastUpdated string `json:"last_updated"`
	Quote       map[string]struct {
		Price *decimal.Decimal `json:"price"`
	} `json:"quote"`
}

// decodeAsset narrows one raw asset to the requested unit of account.
// Entries without a price in that unit report ok=false.
func decodeAsset(raw json.RawMessage, convert string) (Listing, bool) {
	var asset assetPayload
	if err := json.Unmarshal(raw, &asset); err != nil {
		return Listing{}, false
	}
	quote, found := asset.Quote[convert]
	if !found || quote.Price == nil {
		return Listing{}, false
	}

	listing := Listing{
		ID:       asset.ID,
		Name:     asset.Name,
		Symbol:   strings.ToUpper(asset.Symbol),
		Price:    *quote.Price,
		Currency: convert,
	}
	if asset.LastUpdated != "" {
		if ts, err := time.Parse(time.RFC3339, asset.LastUpdated); err == nil {
			listing.LastUpdated = ts
		}
	}
	return listing, true
}

func retryDelay(retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs > 0 {
		d := time.Duration(secs) * time.Second
		if d > minRetryDelay {
			return d
		}
	}
	return minRetryDelay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr struct {
		Status apiStatus `json:"status"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Status.ErrorMessage != "" {
		return fmt.Errorf("coinmarketcap http %d: %s", status, apiErr.Status.ErrorMessage)
	}
	if len(payload) > 0 {
		return fmt.Errorf("coinmarketcap http %d: %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("coinmarketcap http %d", status)
}

var (
	_ ListingsFetcher = (*Client)(nil)
	_ QuotesFetcher   = (*Client)(nil)
	_ SearchFetcher   = (*Client)(nil)
)
