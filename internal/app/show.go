package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"spread-sync/internal/storage"
)

// Show prints recent integration runs.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show runs")
	}
	if closeStore != nil {
		defer closeStore()
	}

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return printRuns(os.Stdout, runs)
}

func printRuns(w io.Writer, runs []storage.RunRecord) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tRun\tInstrument\tFrom\tTo\tStatus\tTrades\tQuotes\tDropped\tMissing")

	for _, run := range runs {
		missing := ""
		if prov, err := run.DecodeProvenance(); err == nil {
			names := make([]string, 0, 2)
			for _, src := range prov.Missing() {
				names = append(names, string(src))
			}
			missing = strings.Join(names, ",")
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			run.CreatedAt.UTC().Format(time.RFC3339),
			run.ID,
			run.Instrument,
			run.PeriodStart.Format("2006-01-02"),
			run.PeriodEnd.Format("2006-01-02"),
			run.Status,
			run.Trades,
			run.Quotes,
			run.Dropped,
			sanitizeInline(missing),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
