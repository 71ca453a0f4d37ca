package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spread-sync/internal/app"
)

// requestFlags are the integration request overrides shared by several
// commands.
type requestFlags struct {
	contracts    []string
	coefficients []float64
	from         string
	to           string
	ns           int
	noReal       bool
	noSynthetic  bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.contracts, "contracts", nil, "Absolute contract identifiers, e.g. debm07_25,frbm07_25")
	cmd.Flags().Float64SliceVar(&f.coefficients, "coefficients", nil, "Leg coefficients (default 1,-1)")
	cmd.Flags().StringVar(&f.from, "from", "", "Start date (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&f.to, "to", "", "End date (YYYY-MM-DD, exclusive)")
	cmd.Flags().IntVar(&f.ns, "n-s", 0, "Business days before month end that roll to the next period")
	cmd.Flags().BoolVar(&f.noReal, "no-real", false, "Skip the exchange feed")
	cmd.Flags().BoolVar(&f.noSynthetic, "no-synthetic", false, "Skip the synthetic spread service")
}

func (f *requestFlags) options(cmd *cobra.Command) (app.RequestOptions, error) {
	opts := app.RequestOptions{
		Contracts:    f.contracts,
		Coefficients: f.coefficients,
		NoReal:       f.noReal,
		NoSynthetic:  f.noSynthetic,
	}
	if f.from != "" {
		from, err := parseDate(f.from)
		if err != nil {
			return opts, fmt.Errorf("invalid --from value: %w", err)
		}
		opts.From = &from
	}
	if f.to != "" {
		to, err := parseDate(f.to)
		if err != nil {
			return opts, fmt.Errorf("invalid --to value: %w", err)
		}
		opts.To = &to
	}
	if cmd.Flags().Changed("n-s") {
		ns := f.ns
		opts.NS = &ns
	}
	return opts, nil
}

// parseDate accepts a calendar day or a full RFC3339 timestamp.
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
