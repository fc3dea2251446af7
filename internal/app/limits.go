package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
)

// Limits queries the market API key usage and prints the remaining budget.
func (a *App) Limits(ctx context.Context) error {
	info, err := a.newMarketClient().FetchKeyInfo(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Monthly limit\tUsed (month)\tLeft (month)\tUsed (minute)")
	fmt.Fprintf(writer, "%d\t%d\t%d\t%d\n",
		info.CreditLimitMonthly,
		info.CreditsUsedMonth,
		info.CreditsLeftMonth,
		info.CreditsUsedMinute,
	)
	writer.Flush()

	if cfgBudget := a.Config.Quota.MonthlyBudget; cfgBudget > 0 && int64(cfgBudget) > info.CreditsLeftMonth {
		a.Logger.Warn().
			Int("configured_budget", cfgBudget).
			Int64("credits_left", info.CreditsLeftMonth).
			Msg("configured monthly budget exceeds remaining credits")
	}
	return nil
}
