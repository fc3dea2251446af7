package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"crypto-price-alerts/internal/pricecache"
)

// Top fetches the current listing and prints the highest-ranked assets.
func (a *App) Top(ctx context.Context, opts TopOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	cache := pricecache.New(a.newMarketClient(), a.Logger)
	records, err := cache.Top(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no assets returned")
		return nil
	}

	printRecords(records)
	return nil
}

func printRecords(records []pricecache.Record) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tName\tPrice\tCurrency\tChange\tUpdated (UTC)")

	for _, rec := range records {
		updated := ""
		if !rec.LastUpdated.IsZero() {
			updated = rec.LastUpdated.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Symbol,
			rec.Name,
			rec.Price.StringFixed(4),
			rec.Currency,
			rec.Change,
			updated,
		)
	}

	writer.Flush()
}
