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

// Show prints recent published prices.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show prices")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentPrices(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no prices found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Published (UTC)\tSymbol\tPrice\tSource\tTx")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			rec.PublishedAt.UTC().Format(time.RFC3339),
			rec.Symbol,
			quote.Format(rec.Price, uint8(rec.Decimals)),
			rec.Source,
			shortHash(rec.TxHash),
		)
	}

	writer.Flush()
	return nil
}

func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12] + ".."
}
