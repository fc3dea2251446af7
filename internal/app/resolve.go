package app

import (
	"context"
	"fmt"

	"crypto-price-alerts/internal/pricecache"
	"crypto-price-alerts/internal/resolver"
)

// Resolve maps a user-supplied token to an asset and prints its record.
func (a *App) Resolve(ctx context.Context, token string) error {
	market := a.newMarketClient()
	cache := pricecache.New(market, a.Logger)

	res := resolver.New(cache, market, resolver.Options{
		Convert:     a.Config.Market.Convert,
		SearchLimit: a.Config.Market.SearchLimit,
	}, a.Logger)

	rec, ok := res.Resolve(ctx, token)
	if !ok {
		return fmt.Errorf("no asset found for %q", token)
	}

	printRecords([]pricecache.Record{rec})
	return nil
}
