package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/fetcher"
	"crypto-price-alerts/internal/pricecache"
	"crypto-price-alerts/internal/scheduler"
	"crypto-price-alerts/internal/storage"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fakeListings struct {
	entries []fetcher.Listing
	err     error
}

func (f *fakeListings) FetchListings(ctx context.Context) ([]fetcher.Listing, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

type fakeQuotes struct {
	quotes map[string]fetcher.Listing
	calls  int
}

func (f *fakeQuotes) FetchQuotes(ctx context.Context, symbols []string, convert string) (map[string]fetcher.Listing, error) {
	f.calls++
	result := make(map[string]fetcher.Listing)
	for _, s := range symbols {
		if l, ok := f.quotes[strings.ToUpper(s)]; ok {
			result[strings.ToUpper(s)] = l
		}
	}
	return result, nil
}

type fakeRuleStore struct {
	rules       []alerting.Rule
	deactivated []int64
}

func (f *fakeRuleStore) ListActiveRules(ctx context.Context) ([]alerting.Rule, error) {
	return f.rules, nil
}

func (f *fakeRuleStore) DeactivateRule(ctx context.Context, id int64) error {
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeFavorites struct {
	symbols []string
}

func (f *fakeFavorites) ListFavoriteSymbols(ctx context.Context) ([]string, error) {
	return f.symbols, nil
}

type fakeAudit struct {
	inserted []storage.FiredAlert
}

func (f *fakeAudit) InsertFiredAlert(ctx context.Context, rec storage.FiredAlert) (storage.FiredAlert, error) {
	rec.ID = int64(len(f.inserted)) + 1
	f.inserted = append(f.inserted, rec)
	return rec, nil
}

func (f *fakeAudit) ListRecentFired(ctx context.Context, limit int) ([]storage.FiredAlert, error) {
	return f.inserted, nil
}

func (f *fakeAudit) DeleteFiredBefore(ctx context.Context, olderThan time.Time) error {
	return nil
}

type fakeNotifier struct {
	notes []alerting.Notification
	err   error
}

func (f *fakeNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.notes = append(f.notes, note)
	return nil
}

func listing(symbol string, price float64) fetcher.Listing {
	return fetcher.Listing{Symbol: symbol, Name: symbol, Price: decimal.NewFromFloat(price), Currency: "USD"}
}

func signal() scheduler.Signal {
	now := time.Now()
	return scheduler.Signal{ScheduledTime: now, FiredTime: now}
}

// twoCycleCache runs one refresh so the second, in-cycle refresh produces
// records with a baseline.
func seededService(t *testing.T, src *fakeListings, opts Options) (*Service, *pricecache.Cache) {
	t.Helper()
	cache := pricecache.New(src, noopLogger())
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh failed: %v", err)
	}
	opts.Cache = cache
	opts.Convert = "USD"
	return New(opts, noopLogger()), cache
}

func TestHandleSignalDispatchesAndRetiresFiredRules(t *testing.T) {
	src := &fakeListings{entries: []fetcher.Listing{listing("BTC", 51000)}}
	rules := &fakeRuleStore{rules: []alerting.Rule{
		{ID: 7, UserID: 42, Symbol: "BTC", Threshold: decimal.NewFromInt(50000), Direction: alerting.DirectionAbove},
	}}
	audit := &fakeAudit{}
	notifier := &fakeNotifier{}

	svc, _ := seededService(t, src, Options{Rules: rules, Audit: audit, Notifier: notifier})

	if err := svc.HandleSignal(context.Background(), signal()); err != nil {
		t.Fatalf("handle signal failed: %v", err)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.notes))
	}
	if notifier.notes[0].ChatID != "42" {
		t.Fatalf("notification must target the rule owner, got %q", notifier.notes[0].ChatID)
	}
	if len(audit.inserted) != 1 || audit.inserted[0].RuleID != 7 {
		t.Fatalf("expected audit record for rule 7, got %+v", audit.inserted)
	}
	if len(rules.deactivated) != 1 || rules.deactivated[0] != 7 {
		t.Fatalf("fired rule must be deactivated, got %v", rules.deactivated)
	}
}

func TestHandleSignalSkipsRulesWithoutBaseline(t *testing.T) {
	// Empty seed: the in-cycle refresh is the first observation of BTC.
	src := &fakeListings{entries: []fetcher.Listing{}}
	rules := &fakeRuleStore{rules: []alerting.Rule{
		{ID: 1, Symbol: "BTC", Threshold: decimal.NewFromInt(1), Direction: alerting.DirectionAbove},
	}}
	notifier := &fakeNotifier{}

	svc, _ := seededService(t, src, Options{Rules: rules, Notifier: notifier})
	src.entries = []fetcher.Listing{listing("BTC", 51000)}

	if err := svc.HandleSignal(context.Background(), signal()); err != nil {
		t.Fatalf("handle signal failed: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("first observation must not fire alerts, got %d", len(notifier.notes))
	}
	if len(rules.deactivated) != 0 {
		t.Fatalf("no rule should be deactivated, got %v", rules.deactivated)
	}
}

func TestHandleSignalFailedDispatchKeepsRuleActive(t *testing.T) {
	src := &fakeListings{entries: []fetcher.Listing{listing("BTC", 51000)}}
	rules := &fakeRuleStore{rules: []alerting.Rule{
		{ID: 7, Symbol: "BTC", Threshold: decimal.NewFromInt(50000), Direction: alerting.DirectionAbove},
	}}
	audit := &fakeAudit{}
	notifier := &fakeNotifier{err: errors.New("telegram down")}

	svc, _ := seededService(t, src, Options{Rules: rules, Audit: audit, Notifier: notifier})

	if err := svc.HandleSignal(context.Background(), signal()); err != nil {
		t.Fatalf("handle signal failed: %v", err)
	}
	if len(rules.deactivated) != 0 {
		t.Fatal("failed delivery must leave the rule active for the next cycle")
	}
	if len(audit.inserted) != 0 {
		t.Fatal("failed delivery must not be audited as fired")
	}
}

func TestHandleSignalPrewarmsMissingFavorites(t *testing.T) {
	src := &fakeListings{entries: []fetcher.Listing{listing("BTC", 51000)}}
	favorites := &fakeFavorites{symbols: []string{"BTC", "TON"}}
	quotes := &fakeQuotes{quotes: map[string]fetcher.Listing{"TON": listing("TON", 5.4)}}

	svc, cache := seededService(t, src, Options{Favorites: favorites, Quotes: quotes})

	if err := svc.HandleSignal(context.Background(), signal()); err != nil {
		t.Fatalf("handle signal failed: %v", err)
	}

	rec, ok, err := cache.Get(context.Background(), "TON")
	if err != nil || !ok {
		t.Fatalf("favorite must be pre-warmed, ok=%v err=%v", ok, err)
	}
	if rec.Change != pricecache.ChangeUninitialized {
		t.Fatalf("pre-warmed favorite must be uninitialized, got %q", rec.Change)
	}
	if quotes.calls != 1 {
		t.Fatalf("only missing favorites should be quoted, got %d calls", quotes.calls)
	}
}

func TestHandleSignalRefreshFailureSurfaces(t *testing.T) {
	src := &fakeListings{entries: []fetcher.Listing{listing("BTC", 51000)}}
	svc, cache := seededService(t, src, Options{})

	src.err = errors.New("rate limited twice")
	if err := svc.HandleSignal(context.Background(), signal()); err == nil {
		t.Fatal("refresh failure must surface to the poller for logging")
	}
	if cache.Len() != 1 {
		t.Fatalf("failed refresh must keep the stale snapshot, got %d records", cache.Len())
	}
}
