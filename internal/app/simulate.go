package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/fetcher"
	"crypto-price-alerts/internal/pricecache"
	"crypto-price-alerts/internal/scheduler"
	"crypto-price-alerts/internal/service"
)

// SimulateOptions describe one synthetic price move.
type SimulateOptions struct {
	Symbol    string
	Previous  decimal.Decimal
	Current   decimal.Decimal
	Threshold decimal.Decimal
	Direction string
}

// SimulateAlert runs one full polling cycle against synthetic prices and
// dispatches through the configured notifier.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	direction := opts.Direction
	if direction != alerting.DirectionAbove && direction != alerting.DirectionBelow {
		return errors.New("--direction must be \">\" or \"<\"")
	}

	symbol := strings.ToUpper(opts.Symbol)
	src := &staticListings{entries: []fetcher.Listing{{
		Name:        symbol,
		Symbol:      symbol,
		Price:       opts.Previous,
		Currency:    a.Config.Market.Convert,
		LastUpdated: time.Now().UTC(),
	}}}

	cache := pricecache.New(src, a.Logger)
	if err := cache.Refresh(ctx); err != nil {
		return err
	}
	src.entries[0].Price = opts.Current

	rules := &staticRuleStore{rules: []alerting.Rule{{
		ID:        1,
		Symbol:    symbol,
		Threshold: opts.Threshold,
		Direction: direction,
		Note:      "simulated",
	}}}

	svc := service.New(service.Options{
		Cache:    cache,
		Rules:    rules,
		Notifier: notifier,
		Convert:  a.Config.Market.Convert,
	}, a.Logger)

	now := time.Now().UTC()
	return svc.HandleSignal(ctx, scheduler.Signal{ScheduledTime: now, FiredTime: now})
}

type staticListings struct {
	entries []fetcher.Listing
}

func (s *staticListings) FetchListings(ctx context.Context) ([]fetcher.Listing, error) {
	return s.entries, nil
}

type staticRuleStore struct {
	rules []alerting.Rule
}

func (s *staticRuleStore) ListActiveRules(ctx context.Context) ([]alerting.Rule, error) {
	return s.rules, nil
}

func (s *staticRuleStore) DeactivateRule(ctx context.Context, id int64) error {
	return nil
}

var _ fetcher.ListingsFetcher = (*staticListings)(nil)
