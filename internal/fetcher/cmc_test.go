package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestClient(baseURL string) *Client {
	c := NewClient(ClientOptions{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Convert: "USD",
		Timeout: time.Second,
	}, noopLogger())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

const listingsBody = `{
	"status": {"error_code": 0},
	"data": [
		{"id": 1, "name": "Bitcoin", "symbol": "BTC", "last_updated": "2024-05-01T12:00:00Z",
		 "quote": {"USD": {"price": 65000.5}}},
		{"id": 1027, "name": "Ethereum", "symbol": "eth",
		 "quote": {"USD": {"price": 3100.25}}},
		{"id": 825, "name": "Tether", "symbol": "USDT",
		 "quote": {"EUR": {"price": 0.93}}}
	]
}`

func TestFetchListingsParsesAndSkipsMissingQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(apiKeyHeader) != "test-key" {
			t.Errorf("missing api key header")
		}
		if got := r.URL.Query().Get("convert"); got != "USD" {
			t.Errorf("expected convert=USD, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(listingsBody))
	}))
	defer srv.Close()

	listings, err := newTestClient(srv.URL).FetchListings(context.Background())
	if err != nil {
		t.Fatalf("fetch listings failed: %v", err)
	}

	// USDT has no USD quote and must be skipped, not fail the batch.
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}
	if listings[0].Symbol != "BTC" || listings[1].Symbol != "ETH" {
		t.Fatalf("unexpected symbols: %+v", listings)
	}
	if !listings[0].Price.Equal(decimal.NewFromFloat(65000.5)) {
		t.Fatalf("unexpected BTC price %s", listings[0].Price)
	}
	if listings[0].LastUpdated.IsZero() {
		t.Fatal("BTC last_updated should parse")
	}
}

func TestFetchListingsRetriesOnceOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(listingsBody))
	}))
	defer srv.Close()

	var slept time.Duration
	c := newTestClient(srv.URL)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	listings, err := c.FetchListings(context.Background())
	if err != nil {
		t.Fatalf("fetch should succeed after retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", calls.Load())
	}
	if slept != 7*time.Second {
		t.Fatalf("expected Retry-After of 7s to be honoured, slept %v", slept)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}
}

func TestFetchListingsFailsAfterSecond429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).FetchListings(context.Background()); err == nil {
		t.Fatal("persistent 429 must surface an error")
	}
}

func TestRetryDelayFloor(t *testing.T) {
	if d := retryDelay(""); d != minRetryDelay {
		t.Fatalf("missing header should use floor, got %v", d)
	}
	if d := retryDelay("2"); d != minRetryDelay {
		t.Fatalf("sub-floor Retry-After should be raised to floor, got %v", d)
	}
	if d := retryDelay("30"); d != 30*time.Second {
		t.Fatalf("expected 30s, got %v", d)
	}
}

func TestFetchQuotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTC,TON" {
			t.Errorf("unexpected symbol param %q", got)
		}
		if got := r.URL.Query().Get("skip_invalid"); got != "true" {
			t.Errorf("skip_invalid must be set")
		}
		_, _ = w.Write([]byte(`{
			"status": {"error_code": 0},
			"data": {
				"BTC": {"id": 1, "name": "Bitcoin", "symbol": "BTC", "quote": {"EUR": {"price": 60000}}},
				"TON": {"id": 11419, "name": "Toncoin", "symbol": "TON", "quote": {"EUR": {"price": 5.4}}}
			}
		}`))
	}))
	defer srv.Close()

	quotes, err := newTestClient(srv.URL).FetchQuotes(context.Background(), []string{"btc", " ton "}, "EUR")
	if err != nil {
		t.Fatalf("fetch quotes failed: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
	if quotes["TON"].Currency != "EUR" {
		t.Fatalf("expected EUR currency, got %q", quotes["TON"].Currency)
	}
}

func TestFetchQuotesEmptySymbolSet(t *testing.T) {
	c := newTestClient("http://example.invalid")
	quotes, err := c.FetchQuotes(context.Background(), []string{"", "  "}, "USD")
	if err != nil {
		t.Fatalf("empty symbol set must not hit the network: %v", err)
	}
	if len(quotes) != 0 {
		t.Fatalf("expected empty result, got %v", quotes)
	}
}

func TestAPIStatusErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": {"error_code": 1002, "error_message": "API key missing"}, "data": []}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).FetchListings(context.Background()); err == nil {
		t.Fatal("status envelope error must surface")
	}
}

func TestFetchKeyInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"status": {"error_code": 0},
			"data": {
				"plan": {"credit_limit_monthly": 10000},
				"usage": {
					"current_minute": {"requests_made": 3},
					"current_month": {"credits_used": 4200}
				}
			}
		}`))
	}))
	defer srv.Close()

	info, err := newTestClient(srv.URL).FetchKeyInfo(context.Background())
	if err != nil {
		t.Fatalf("fetch key info failed: %v", err)
	}
	if info.CreditsLeftMonth != 5800 {
		t.Fatalf("expected 5800 credits left, got %d", info.CreditsLeftMonth)
	}
}

func TestMissingAPIKey(t *testing.T) {
	c := NewClient(ClientOptions{BaseURL: "http://example.invalid"}, noopLogger())
	if _, err := c.FetchListings(context.Background()); err == nil {
		t.Fatal("missing api key must be rejected")
	}
}
