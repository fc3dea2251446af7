package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Alerts prints the most recently fired alerts from the audit log.
func (a *App) Alerts(ctx context.Context, opts AlertsOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot list fired alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	fired, err := store.ListRecentFired(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(fired) == 0 {
		fmt.Fprintln(os.Stdout, "no fired alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tSymbol\tDirection\tThreshold\tPrice\tRule\tUser")

	for _, f := range fired {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			f.FiredAt.UTC().Format(time.RFC3339),
			f.Symbol,
			f.Direction,
			f.Threshold.StringFixed(4),
			f.Price.StringFixed(4),
			f.RuleID,
			f.UserID,
		)
	}

	writer.Flush()
	return nil
}
