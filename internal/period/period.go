package period

import (
	"errors"
	"fmt"
	"time"

	"spread-sync/internal/calendar"
	"spread-sync/internal/contract"
)

// ErrDegenerateRange is matched by every range that cannot be tiled.
var ErrDegenerateRange = errors.New("degenerate temporal range")

// DegenerateRangeError carries the offending range back to the caller.
type DegenerateRangeError struct {
	Start  time.Time
	End    time.Time
	N      int
	Reason string
}

func (e *DegenerateRangeError) Error() string {
	return fmt.Sprintf("degenerate temporal range [%s, %s) with n=%d: %s",
		e.Start.Format(time.DateOnly), e.End.Format(time.DateOnly), e.N, e.Reason)
}

// Is lets errors.Is match ErrDegenerateRange.
func (e *DegenerateRangeError) Is(target error) bool {
	return target == ErrDegenerateRange
}

// RelativePeriod names a contract by its distance from the as-of date over
// the half-open day interval [Start, End).
type RelativePeriod struct {
	// Position is the distance in whole delivery periods, 1 being the front.
	Position   int
	Tenor      contract.Tenor
	Start      time.Time
	End        time.Time
	Transition bool
}

// Label renders the trading-desk name of the position.
func (p RelativePeriod) Label() string {
	switch {
	case p.Position < 0:
		return "expired"
	case p.Position == 0:
		return "current " + p.Tenor.String()
	case p.Position == 1:
		return "front " + p.Tenor.String()
	default:
		return fmt.Sprintf("front+%d", p.Position-1)
	}
}

// Code is the compact reference used by the upstream sources, e.g. "m2".
func (p RelativePeriod) Code() string {
	return fmt.Sprintf("%c%d", byte(p.Tenor), p.Position)
}

// Contains reports whether t falls inside [Start, End).
func (p RelativePeriod) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Days is the length of the interval in calendar days.
func (p RelativePeriod) Days() int {
	return int(p.End.Sub(p.Start).Hours() / 24)
}

func (p RelativePeriod) sameLabel(o RelativePeriod) bool {
	return p.Position == o.Position && p.Transition == o.Transition && p.Tenor == o.Tenor
}

// TransitionStart returns the first day of the near-expiry window of the
// month: the n-th last business day. ok is false when n is zero or the month
// has no business day. The window runs from that day to the end of the month.
func TransitionStart(cal calendar.Calendar, year int, month time.Month, n int) (time.Time, bool) {
	days := calendar.LastBusinessDays(cal, year, month, n)
	if len(days) == 0 {
		return time.Time{}, false
	}
	return days[len(days)-1], true
}

// closesPeriod reports whether the month ends a delivery period of the
// tenor, i.e. whether a label roll can happen at its end.
func closesPeriod(tenor contract.Tenor, month time.Month) bool {
	switch tenor {
	case contract.TenorMonth:
		return true
	case contract.TenorQuarter:
		return month%3 == 0
	case contract.TenorYear:
		return month == time.December
	default:
		return false
	}
}

// windowStart is the transition window start for the as-of date's month,
// when the tenor rolls at the end of that month.
func windowStart(spec contract.ContractSpec, cal calendar.Calendar, day time.Time, n int) (time.Time, bool) {
	if n <= 0 || !closesPeriod(spec.Tenor, day.Month()) {
		return time.Time{}, false
	}
	return TransitionStart(cal, day.Year(), day.Month(), n)
}

// LabelAt resolves the single-day period active on day.
func LabelAt(spec contract.ContractSpec, day time.Time, n int, cal calendar.Calendar) RelativePeriod {
	if cal == nil {
		cal = calendar.New()
	}
	day = calendar.Day(day)

	position := spec.DeliveryIndex() - spec.PeriodIndex(day)
	transition := false
	if ws, ok := windowStart(spec, cal, day, n); ok && !day.Before(ws) {
		position++
		transition = true
	}

	return RelativePeriod{
		Position:   position,
		Tenor:      spec.Tenor,
		Start:      day,
		End:        day.AddDate(0, 0, 1),
		Transition: transition,
	}
}

// Map tiles the day range [start, end) with relative periods of spec.
//
// The range is walked month by month. Each month splits into an ordinary
// segment and, when the tenor rolls at the month end, a transition segment
// starting at the n-th last business day. Adjacent segments with the same
// label are collapsed, so every period has a positive length and the output
// covers the range without gaps or overlaps.
func Map(spec contract.ContractSpec, start, end time.Time, n int, cal calendar.Calendar) ([]RelativePeriod, error) {
	start, end = calendar.Day(start), calendar.Day(end)
	if n < 0 {
		return nil, &DegenerateRangeError{Start: start, End: end, N: n, Reason: "n must not be negative"}
	}
	if !start.Before(end) {
		return nil, &DegenerateRangeError{Start: start, End: end, N: n, Reason: "start must be before end"}
	}
	if cal == nil {
		cal = calendar.New()
	}

	var out []RelativePeriod
	for ms := calendar.MonthStart(start); ms.Before(end); ms = ms.AddDate(0, 1, 0) {
		next := ms.AddDate(0, 1, 0)
		bounds := []time.Time{ms}
		if ws, ok := windowStart(spec, cal, ms, n); ok && ws.After(ms) {
			bounds = append(bounds, ws)
		}
		bounds = append(bounds, next)

		for i := 0; i+1 < len(bounds); i++ {
			segStart, segEnd := maxTime(bounds[i], start), minTime(bounds[i+1], end)
			if !segStart.Before(segEnd) {
				continue
			}
			out = appendSegment(out, spec, segStart, segEnd, n, cal)
		}
	}

	if len(out) == 0 {
		return nil, &DegenerateRangeError{Start: start, End: end, N: n, Reason: "range produced no periods"}
	}
	return out, nil
}

// appendSegment adds [from, to) whose label is constant for month and longer
// tenors. Day and week tenors change label inside a month and are walked
// day by day.
func appendSegment(out []RelativePeriod, spec contract.ContractSpec, from, to time.Time, n int, cal calendar.Calendar) []RelativePeriod {
	if spec.Tenor != contract.TenorDay && spec.Tenor != contract.TenorWeek {
		p := LabelAt(spec, from, n, cal)
		p.End = to
		return appendCollapsed(out, p)
	}
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		out = appendCollapsed(out, LabelAt(spec, d, n, cal))
	}
	return out
}

func appendCollapsed(out []RelativePeriod, p RelativePeriod) []RelativePeriod {
	if k := len(out) - 1; k >= 0 && out[k].sameLabel(p) && out[k].End.Equal(p.Start) {
		out[k].End = p.End
		return out
	}
	return append(out, p)
}

// Find returns the period containing t.
func Find(periods []RelativePeriod, t time.Time) (RelativePeriod, bool) {
	for _, p := range periods {
		if p.Contains(t) {
			return p, true
		}
	}
	return RelativePeriod{}, false
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
