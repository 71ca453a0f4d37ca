package alerting

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"spread-sync/internal/merge"
	"spread-sync/internal/record"
)

// Assessment is the quality verdict for one merged dataset.
type Assessment struct {
	Issues  []string
	DropPct decimal.Decimal
}

// Alert reports whether anything needs attention.
func (a Assessment) Alert() bool {
	return len(a.Issues) > 0
}

// Assess flags unavailable or empty sources and a drop rate above
// maxDropPct. The drop rate is dropped / (dropped + output records);
// disabled sources are not issues.
func Assess(ds merge.MergedDataset, maxDropPct float64) Assessment {
	var a Assessment

	sources := make([]string, 0, len(ds.Provenance.Sources))
	for src := range ds.Provenance.Sources {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)
	for _, name := range sources {
		rep := ds.Provenance.Sources[record.Source(name)]
		switch rep.Status {
		case merge.StatusUnavailable:
			a.Issues = append(a.Issues, fmt.Sprintf("%s source unavailable: %s", name, rep.Err))
		case merge.StatusEmpty:
			a.Issues = append(a.Issues, fmt.Sprintf("%s source returned no data", name))
		case merge.StatusOK:
			if rep.Contributed() == 0 {
				a.Issues = append(a.Issues, fmt.Sprintf("%s source contributed no records", name))
			}
		}
	}

	dropped := ds.Provenance.TotalDropped()
	if total := dropped + ds.Len(); total > 0 {
		a.DropPct = decimal.NewFromInt(int64(dropped)).
			Div(decimal.NewFromInt(int64(total))).
			Mul(decimal.NewFromInt(100))
	}
	threshold := decimal.NewFromFloat(maxDropPct)
	if maxDropPct > 0 && a.DropPct.GreaterThan(threshold) {
		a.Issues = append(a.Issues, fmt.Sprintf("drop rate %s%% above %s%%", a.DropPct.StringFixed(2), threshold.StringFixed(2)))
	}
	return a
}
