package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"spread-sync/internal/calendar"
	"spread-sync/internal/config"
	"spread-sync/internal/contract"
	"spread-sync/internal/fetcher"
	"spread-sync/internal/period"
)

// Request is one integration call.
type Request struct {
	Contracts        []string
	Coefficients     []float64
	Start            time.Time
	End              time.Time
	IncludeReal      bool
	IncludeSynthetic bool
	NS               int
}

// RequestFromConfig maps the integration section onto a Request.
func RequestFromConfig(c config.IntegrationConfig) Request {
	return Request{
		Contracts:        c.Contracts,
		Coefficients:     c.Coefficients,
		Start:            c.Period.Start,
		End:              c.Period.End,
		IncludeReal:      c.Options.IncludeReal,
		IncludeSynthetic: c.Options.IncludeSynthetic,
		NS:               c.NS,
	}
}

// Config maps the request back onto the configuration shape.
func (r Request) Config() config.IntegrationConfig {
	return config.IntegrationConfig{
		Contracts:    r.Contracts,
		Coefficients: r.Coefficients,
		Period:       config.PeriodConfig{Start: r.Start, End: r.End},
		Options:      config.SourceSwitches{IncludeReal: r.IncludeReal, IncludeSynthetic: r.IncludeSynthetic},
		NS:           r.NS,
	}
}

// WithRange returns a copy covering [start, end).
func (r Request) WithRange(start, end time.Time) Request {
	r.Start, r.End = start, end
	return r
}

func (r Request) coefficients() []float64 {
	if len(r.Coefficients) == len(r.Contracts) {
		return r.Coefficients
	}
	out := make([]float64, len(r.Contracts))
	for i := range out {
		out[i] = 1
		if i > 0 {
			out[i] = -1
		}
	}
	return out
}

// Plan is the resolved shape of a request: the parsed legs, each leg's
// relative periods and the windows over which every leg keeps its label.
type Plan struct {
	Specs        []contract.ContractSpec
	Coefficients []float64
	Periods      [][]period.RelativePeriod
	Windows      []period.Window
}

// Instrument names the spread by its absolute contracts, e.g.
// "debm07_25-frbm07_25".
func (p Plan) Instrument() string {
	var b strings.Builder
	for i, spec := range p.Specs {
		if i > 0 {
			if p.Coefficients[i] < 0 {
				b.WriteByte('-')
			} else {
				b.WriteByte('+')
			}
		}
		b.WriteString(spec.Canonical())
	}
	return b.String()
}

// Requests builds one fetch request per window.
func (p Plan) Requests() []fetcher.Request {
	out := make([]fetcher.Request, len(p.Windows))
	for i, w := range p.Windows {
		legs := make([]fetcher.Leg, len(w.Legs))
		for j, rp := range w.Legs {
			legs[j] = fetcher.Leg{Contract: p.Specs[j], Period: rp, Coefficient: p.Coefficients[j]}
		}
		out[i] = fetcher.Request{Legs: legs, From: w.Start, To: w.End}
	}
	return out
}

// BuildPlan resolves every contract, maps the range and validates the rest
// of the request. Any malformed contract or degenerate range fails the
// whole plan with its typed error.
func BuildPlan(req Request, cal calendar.Calendar) (Plan, error) {
	specs, errs := contract.ParseAll(req.Contracts)
	if err := errors.Join(errs...); err != nil {
		return Plan{}, err
	}

	plan := Plan{Specs: specs, Coefficients: req.coefficients()}
	for _, spec := range specs {
		periods, err := period.Map(spec, req.Start, req.End, req.NS, cal)
		if err != nil {
			return Plan{}, fmt.Errorf("map %s: %w", spec.Canonical(), err)
		}
		plan.Periods = append(plan.Periods, periods)
	}

	if err := config.ValidateRequest(req.Config()); err != nil {
		return Plan{}, err
	}
	plan.Windows = period.Align(plan.Periods...)
	return plan, nil
}
