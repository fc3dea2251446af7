package resolver

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"crypto-price-alerts/internal/fetcher"
	"crypto-price-alerts/internal/pricecache"
)

// Lookup bundles the network fallbacks the resolver may reach for when the
// cache misses.
type Lookup interface {
	fetcher.QuotesFetcher
	fetcher.SearchFetcher
}

// Options parameterise the resolver.
type Options struct {
	// Convert is the cache's unit of account; opportunistic upserts are
	// always fetched in this unit.
	Convert string
	// SearchLimit bounds the extended listing used for name lookups.
	SearchLimit int
}

// Resolver maps a user-supplied token (ticker, name, or slug) to a cached
// price record, consulting the cache first and the network last.
type Resolver struct {
	cache  *pricecache.Cache
	lookup Lookup
	opts   Options
	logger zerolog.Logger
}

// New constructs a resolver over the given cache and network fallbacks.
func New(cache *pricecache.Cache, lookup Lookup, opts Options, logger zerolog.Logger) *Resolver {
	if opts.Convert == "" {
		opts.Convert = "USD"
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 300
	}
	return &Resolver{
		cache:  cache,
		lookup: lookup,
		opts:   opts,
		logger: logger.With().Str("component", "symbol_resolver").Logger(),
	}
}

// Resolve walks the fallback chain: cached symbol, cached name, network by
// symbol, network by name. A successful network hit is upserted into the
// cache with no previous-price baseline, so it participates in change
// detection from the next refresh on but never fires alerts on first sight.
//
// Transport failures along the chain are logged and reported as a miss: to
// the caller an exhausted fallback chain and a genuine miss carry the same
// consequence.
func (r *Resolver) Resolve(ctx context.Context, token string) (pricecache.Record, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return pricecache.Record{}, false
	}

	if rec, ok := r.fromCache(ctx, token); ok {
		return rec, true
	}

	if rec, ok := r.fromQuotes(ctx, token); ok {
		return rec, true
	}

	return r.fromSearch(ctx, token)
}

func (r *Resolver) fromCache(ctx context.Context, token string) (pricecache.Record, bool) {
	rec, ok, err := r.cache.Get(ctx, token)
	if err != nil {
		r.logger.Warn().Err(err).Str("token", token).Msg("cache lookup failed")
		return pricecache.Record{}, false
	}
	if ok {
		return rec, true
	}

	rec, ok, err = r.cache.FindByName(ctx, token)
	if err != nil {
		r.logger.Warn().Err(err).Str("token", token).Msg("cache name scan failed")
		return pricecache.Record{}, false
	}
	return rec, ok
}

func (r *Resolver) fromQuotes(ctx context.Context, token string) (pricecache.Record, bool) {
	sym := strings.ToUpper(token)
	quotes, err := r.lookup.FetchQuotes(ctx, []string{sym}, r.opts.Convert)
	if err != nil {
		r.logger.Warn().Err(err).Str("symbol", sym).Msg("quote lookup failed, treating as miss")
		return pricecache.Record{}, false
	}
	listing, ok := quotes[sym]
	if !ok {
		return pricecache.Record{}, false
	}
	return r.adopt(ctx, listing)
}

func (r *Resolver) fromSearch(ctx context.Context, token string) (pricecache.Record, bool) {
	listings, err := r.lookup.SearchListings(ctx, r.opts.SearchLimit)
	if err != nil {
		r.logger.Warn().Err(err).Str("token", token).Msg("listing search failed, treating as miss")
		return pricecache.Record{}, false
	}

	lookup := strings.ToLower(token)
	for _, listing := range listings {
		if strings.ToLower(listing.Symbol) == lookup || strings.ToLower(listing.Name) == lookup {
			return r.adopt(ctx, listing)
		}
	}
	return pricecache.Record{}, false
}

// adopt caches a network hit in the cache's own unit of account. A hit
// already quoted in that unit is reused; anything else costs one extra
// quote call.
func (r *Resolver) adopt(ctx context.Context, listing fetcher.Listing) (pricecache.Record, bool) {
	if !strings.EqualFold(listing.Currency, r.opts.Convert) {
		quotes, err := r.lookup.FetchQuotes(ctx, []string{listing.Symbol}, r.opts.Convert)
		if err != nil {
			r.logger.Warn().Err(err).Str("symbol", listing.Symbol).Msg("convert quote failed, treating as miss")
			return pricecache.Record{}, false
		}
		converted, ok := quotes[strings.ToUpper(listing.Symbol)]
		if !ok {
			return pricecache.Record{}, false
		}
		listing = converted
	}

	r.cache.Upsert([]fetcher.Listing{listing}, false)

	rec, ok, err := r.cache.Get(ctx, listing.Symbol)
	if err != nil || !ok {
		r.logger.Warn().Err(err).Str("symbol", listing.Symbol).Msg("record missing after upsert")
		return pricecache.Record{}, false
	}
	return rec, true
}
