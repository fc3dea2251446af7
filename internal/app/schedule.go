package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Schedule prints the daily call plan derived from the monthly budget.
func (a *App) Schedule(_ context.Context) error {
	sched, err := a.buildSchedule()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "daily requests: %d (monthly %d used, %d residual)\n",
		sched.DailyRequests, sched.MonthlyUsed, sched.Residual)

	if len(sched.Slots) == 0 {
		fmt.Fprintln(os.Stdout, "no slots scheduled")
		return nil
	}

	midnight := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tTime of day\tWindow")
	for i, slot := range sched.Slots {
		fmt.Fprintf(writer, "%d\t%s\t%d\n",
			i+1,
			midnight.Add(slot.Offset).Format("15:04:05"),
			slot.WindowIndex,
		)
	}
	writer.Flush()
	return nil
}
