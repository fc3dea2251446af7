package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestResolveCoinIDPrefersBestRank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"coins": [
			{"id": "batcoin", "symbol": "BTC", "market_cap_rank": 420},
			{"id": "bitcoin", "symbol": "btc", "market_cap_rank": 1},
			{"id": "bitcorn", "symbol": "CORN", "market_cap_rank": 2}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	id, err := c.ResolveCoinID(context.Background(), "btc")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if id != "bitcoin" {
		t.Fatalf("expected bitcoin, got %q", id)
	}
}

func TestResolveCoinIDMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"coins": []}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.ResolveCoinID(context.Background(), "nope"); err == nil {
		t.Fatal("miss must surface an error")
	}
}

func TestSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			_, _ = w.Write([]byte(`{"coins": [{"id": "bitcoin", "symbol": "btc", "market_cap_rank": 1}]}`))
		case "/coins/bitcoin/market_chart":
			if got := r.URL.Query().Get("vs_currency"); got != "usd" {
				t.Errorf("expected vs_currency=usd, got %q", got)
			}
			_, _ = w.Write([]byte(`{"prices": [[1714561200000, 60000.5], [1714647600000, 61250.0]]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	points, err := c.Series(context.Background(), "BTC", 30, "USD")
	if err != nil {
		t.Fatalf("series failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].Price != 60000.5 {
		t.Fatalf("unexpected first price %v", points[0].Price)
	}
	if points[0].Time.After(points[1].Time) {
		t.Fatal("points must preserve chronological order")
	}
}
