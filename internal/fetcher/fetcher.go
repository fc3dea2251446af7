package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Listing is one asset row from the upstream market-data API, already
// narrowed to the requested unit of account.
type Listing struct {
	ID          int64
	Name        string
	Symbol      string
	Price       decimal.Decimal
	Currency    string
	LastUpdated time.Time
}

// ListingsFetcher retrieves the bulk asset listing sorted by the configured
// key, sized to the cache limit.
type ListingsFetcher interface {
	FetchListings(ctx context.Context) ([]Listing, error)
}

// QuotesFetcher retrieves quotes for an explicit symbol set in the given
// unit of account. Symbols the upstream does not know are simply absent
// from the result.
type QuotesFetcher interface {
	FetchQuotes(ctx context.Context, symbols []string, convert string) (map[string]Listing, error)
}

// SearchFetcher retrieves an extended listing for name/slug lookups that
// miss the cached set.
type SearchFetcher interface {
	SearchListings(ctx context.Context, limit int) ([]Listing, error)
}

// KeyInfo summarises the API key's quota standing.
type KeyInfo struct {
	CreditLimitMonthly int64
	CreditsUsedMonth   int64
	CreditsLeftMonth   int64
	CreditsUsedMinute  int64
}
