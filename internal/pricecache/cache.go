package pricecache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/fetcher"
)

// ChangeMarker classifies the price move between two consecutive
// observations of a symbol.
type ChangeMarker string

const (
	ChangeUp            ChangeMarker = "up"
	ChangeDown          ChangeMarker = "down"
	ChangeUnchanged     ChangeMarker = "unchanged"
	ChangeUninitialized ChangeMarker = "uninitialized"
)

// Record is one cached price observation. Callers always receive copies;
// a published record is never mutated.
type Record struct {
	ID          int64
	Name        string
	Symbol      string
	Price       decimal.Decimal
	Currency    string
	LastUpdated time.Time

	// PreviousPrice is nil until a second observation of the symbol
	// exists. Records without a previous price carry ChangeUninitialized
	// and are excluded from alert evaluation.
	PreviousPrice *decimal.Decimal
	Change        ChangeMarker
}

// snapshot pairs the record list with its symbol index. The two are always
// swapped together; a reader never sees an index that disagrees with the
// records.
type snapshot struct {
	records     []Record
	index       map[string]int
	refreshedAt time.Time
}

var emptySnapshot = &snapshot{index: map[string]int{}}

// Cache holds the latest price snapshot per symbol. Mutation builds a new
// snapshot and atomically replaces the pointer; the writer mutex serializes
// commits only, never the network fetch that produces the data, so readers
// never wait on the upstream.
type Cache struct {
	listings fetcher.ListingsFetcher
	logger   zerolog.Logger

	current atomic.Pointer[snapshot]
	writeMu sync.Mutex
	bootMu  sync.Mutex
	loaded  atomic.Bool
}

// New constructs an empty cache backed by the given listings fetcher.
func New(listings fetcher.ListingsFetcher, logger zerolog.Logger) *Cache {
	c := &Cache{
		listings: listings,
		logger:   logger.With().Str("component", "price_cache").Logger(),
	}
	c.current.Store(emptySnapshot)
	return c
}

// Refresh fetches the bulk listing and replaces the whole snapshot. Change
// markers are computed against the snapshot being replaced, at write time.
// On fetch failure the cache is left unchanged: stale data beats no data.
func (c *Cache) Refresh(ctx context.Context) error {
	entries, err := c.listings.FetchListings(ctx)
	if err != nil {
		return fmt.Errorf("refresh listings: %w", err)
	}
	c.replaceAll(entries)
	return nil
}

func (c *Cache) replaceAll(entries []fetcher.Listing) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	prev := c.current.Load()
	records := make([]Record, 0, len(entries))
	index := make(map[string]int, len(entries))

	for _, entry := range entries {
		sym := strings.ToUpper(entry.Symbol)
		if sym == "" {
			continue
		}
		if _, dup := index[sym]; dup {
			continue
		}
		index[sym] = len(records)
		records = append(records, buildRecord(entry, prev.lookup(sym)))
	}

	c.current.Store(&snapshot{records: records, index: index, refreshedAt: time.Now().UTC()})
	c.loaded.Store(true)
	c.logger.Debug().Int("assets", len(records)).Msg("cache snapshot replaced")
}

// Upsert merges entries into the current snapshot. Existing symbols are
// replaced only when replaceExisting is set; new symbols are appended. The
// commit follows the same atomic-swap discipline as Refresh and never
// shrinks the snapshot.
func (c *Cache) Upsert(entries []fetcher.Listing, replaceExisting bool) {
	if len(entries) == 0 {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	prev := c.current.Load()
	records := make([]Record, len(prev.records))
	copy(records, prev.records)
	index := make(map[string]int, len(prev.index)+len(entries))
	for sym, i := range prev.index {
		index[sym] = i
	}

	for _, entry := range entries {
		sym := strings.ToUpper(entry.Symbol)
		if sym == "" {
			continue
		}
		pos, exists := index[sym]
		if exists && !replaceExisting {
			continue
		}
		rec := buildRecord(entry, prev.lookup(sym))
		if exists {
			records[pos] = rec
		} else {
			index[sym] = len(records)
			records = append(records, rec)
		}
	}

	c.current.Store(&snapshot{records: records, index: index, refreshedAt: prev.refreshedAt})
	c.loaded.Store(true)
}

// Get returns the cached record for a symbol. A read before the first
// refresh triggers exactly one blocking fetch, so callers never observe an
// empty cache as a normal state.
func (c *Cache) Get(ctx context.Context, symbol string) (Record, bool, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return Record{}, false, err
	}
	snap := c.current.Load()
	i, ok := snap.index[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Record{}, false, nil
	}
	return snap.records[i], true, nil
}

// GetMany looks up each symbol independently, preserving input order and
// silently omitting symbols not found.
func (c *Cache) GetMany(ctx context.Context, symbols []string) ([]Record, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	snap := c.current.Load()
	records := make([]Record, 0, len(symbols))
	for _, s := range symbols {
		if i, ok := snap.index[strings.ToUpper(strings.TrimSpace(s))]; ok {
			records = append(records, snap.records[i])
		}
	}
	return records, nil
}

// Top returns the first n records of the snapshot in listing order.
func (c *Cache) Top(ctx context.Context, n int) ([]Record, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	snap := c.current.Load()
	if n <= 0 || n > len(snap.records) {
		n = len(snap.records)
	}
	out := make([]Record, n)
	copy(out, snap.records[:n])
	return out, nil
}

// FindByName scans the snapshot for an exact case-insensitive name match.
func (c *Cache) FindByName(ctx context.Context, name string) (Record, bool, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return Record{}, false, err
	}
	lookup := strings.ToLower(strings.TrimSpace(name))
	snap := c.current.Load()
	for _, rec := range snap.records {
		if strings.ToLower(rec.Name) == lookup {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

// Len reports the current snapshot size without triggering a load.
func (c *Cache) Len() int {
	return len(c.current.Load().records)
}

// RefreshedAt reports when the snapshot was last fully replaced.
func (c *Cache) RefreshedAt() time.Time {
	return c.current.Load().refreshedAt
}

// ensureLoaded performs the one-time blocking bootstrap fetch. Concurrent
// first readers serialize on bootMu; only one of them hits the network.
func (c *Cache) ensureLoaded(ctx context.Context) error {
	if c.loaded.Load() {
		return nil
	}

	c.bootMu.Lock()
	defer c.bootMu.Unlock()
	if c.loaded.Load() {
		return nil
	}

	c.logger.Info().Msg("cache empty, performing blocking bootstrap fetch")
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("bootstrap fetch: %w", err)
	}
	return nil
}

func (s *snapshot) lookup(symbol string) *decimal.Decimal {
	if i, ok := s.index[symbol]; ok {
		price := s.records[i].Price
		return &price
	}
	return nil
}

// buildRecord classifies the move against the previous observation at
// write time. The comparison is exact, no epsilon: upstream prices already
// carry fixed precision.
func buildRecord(entry fetcher.Listing, prev *decimal.Decimal) Record {
	rec := Record{
		ID:            entry.ID,
		Name:          entry.Name,
		Symbol:        strings.ToUpper(entry.Symbol),
		Price:         entry.Price,
		Currency:      entry.Currency,
		LastUpdated:   entry.LastUpdated,
		PreviousPrice: prev,
	}
	switch {
	case prev == nil:
		rec.Change = ChangeUninitialized
	case entry.Price.GreaterThan(*prev):
		rec.Change = ChangeUp
	case entry.Price.LessThan(*prev):
		rec.Change = ChangeDown
	default:
		rec.Change = ChangeUnchanged
	}
	return rec
}
