package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"price-oracle-feed/internal/quote"
)

// Alerts prints the most recently created alerts and their status.
func (a *App) Alerts(ctx context.Context, opts AlertsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSymbol\tCondition\tThreshold\tStatus\tTriggered (UTC)\tNotified (UTC)")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.ID,
			alert.Symbol,
			alert.Condition,
			quote.Format(alert.Threshold, quote.DefaultDecimals),
			alert.Status,
			formatOptionalTime(alert.TriggeredAt),
			formatOptionalTime(alert.NotifiedAt),
		)
	}

	writer.Flush()
	return nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
