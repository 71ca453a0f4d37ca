package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"spread-sync/internal/calendar"
	"spread-sync/internal/record"
	"spread-sync/internal/service"
	"spread-sync/internal/storage"
)

// Integrate runs one integration for the configured request with the CLI
// overrides applied and prints its summary.
func (a *App) Integrate(ctx context.Context, opts IntegrateOptions) error {
	var store *storage.Store
	if !opts.NoStore {
		var closeStore func()
		var err error
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}
	}

	exporter, err := a.newExporter(ctx, opts.OutDir, opts.Formats, opts.MaxPoints)
	if err != nil {
		return err
	}

	realFetcher, synthetic := a.newFetchers(store)
	deps := service.Dependencies{
		Real:      realFetcher,
		Synthetic: synthetic,
		Exporter:  exporter,
		Notifier:  a.newNotifier(),
	}
	if store != nil {
		deps.Store = store
	}
	svc, err := a.newService(deps)
	if err != nil {
		return err
	}

	res, err := svc.Integrate(ctx, a.request(opts.RequestOptions))
	if err != nil {
		return err
	}
	return printResult(os.Stdout, res)
}

// Periods prints the relative periods and aligned windows of a request
// without fetching anything.
func (a *App) Periods(opts RequestOptions) error {
	cal, err := a.Config.BusinessCalendar()
	if err != nil {
		return err
	}
	plan, err := service.BuildPlan(a.request(opts), cal)
	if err != nil {
		return err
	}
	return printPlan(os.Stdout, plan, cal)
}

func printPlan(w io.Writer, plan service.Plan, cal calendar.Calendar) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "From\tTo\tLegs\tBusiness days")
	for _, win := range plan.Windows {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\n",
			win.Start.Format("2006-01-02"),
			win.End.Format("2006-01-02"),
			strings.Join(win.Codes(), ","),
			calendar.BusinessDaysBetween(cal, win.Start, win.End),
		)
	}
	return writer.Flush()
}

func printResult(w io.Writer, res *service.Result) error {
	run := res.Run
	fmt.Fprintf(w, "run %s  %s  %s..%s  status=%s\n",
		run.ID, run.Instrument,
		run.PeriodStart.Format("2006-01-02"), run.PeriodEnd.Format("2006-01-02"),
		run.Status)
	fmt.Fprintf(w, "records=%d trades=%d quotes=%d dropped=%d duplicates=%d persisted=%t\n",
		res.Dataset.Len(), run.Trades, run.Quotes, run.Dropped, run.Duplicates, res.Persisted)

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tStatus\tTrades in\tQuotes in\tTrades\tQuotes\tError")
	sources := make([]string, 0, len(res.Dataset.Provenance.Sources))
	for src := range res.Dataset.Provenance.Sources {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)
	for _, name := range sources {
		rep := res.Dataset.Provenance.Sources[record.Source(name)]
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			name, rep.Status, rep.TradesIn, rep.QuotesIn, rep.Trades, rep.Quotes, sanitizeInline(rep.Err))
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	for _, issue := range res.Assessment.Issues {
		fmt.Fprintf(w, "issue: %s\n", issue)
	}
	for _, file := range res.Files {
		fmt.Fprintf(w, "wrote %s\n", file)
	}
	return nil
}
