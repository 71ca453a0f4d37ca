package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"spread-sync/internal/contract"
	"spread-sync/internal/merge"
	"spread-sync/internal/period"
)

// ErrSourceUnavailable marks a source that failed to answer. Callers treat
// it as a missing source, never as a failed integration.
var ErrSourceUnavailable = errors.New("source unavailable")

// UnavailableError wraps the collaborator failure behind ErrSourceUnavailable.
type UnavailableError struct {
	Source string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s source unavailable: %v", e.Source, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is matches ErrSourceUnavailable.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

func unavailable(source string, err error) error {
	return &UnavailableError{Source: source, Err: err}
}

// Leg is one contract of the instrument as addressed during a window.
type Leg struct {
	Contract    contract.ContractSpec
	Period      period.RelativePeriod
	Coefficient float64
}

// Name is the relative name the sources index by, e.g. "debm2".
func (l Leg) Name() string {
	return l.Contract.Market + string(l.Contract.Product) + l.Period.Code()
}

// Request asks a source for one aligned window [From, To).
type Request struct {
	Legs []Leg
	From time.Time
	To   time.Time
}

// Instrument joins leg names with the coefficient sign, e.g. "debm1-frbm1".
func (r Request) Instrument() string {
	var b strings.Builder
	for i, leg := range r.Legs {
		if i > 0 {
			if leg.Coefficient < 0 {
				b.WriteByte('-')
			} else {
				b.WriteByte('+')
			}
		}
		b.WriteString(leg.Name())
	}
	return b.String()
}

// Coefficients renders the leg coefficients as "1,-1".
func (r Request) Coefficients() string {
	parts := make([]string, len(r.Legs))
	for i, leg := range r.Legs {
		parts[i] = strconv.FormatFloat(leg.Coefficient, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// RealFetcher retrieves the directly observed exchange spread.
type RealFetcher interface {
	FetchReal(ctx context.Context, req Request) (*merge.RealPayload, error)
}

// SyntheticFetcher retrieves the spread built from the individual legs.
type SyntheticFetcher interface {
	FetchSynthetic(ctx context.Context, req Request) (*merge.SyntheticPayload, error)
}
