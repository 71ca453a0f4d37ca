package period

import (
	"sort"
	"time"
)

// Window is a stretch of days over which every leg of a spread keeps one
// relative period. Legs[i] is the period of the i-th leg.
type Window struct {
	Start time.Time
	End   time.Time
	Legs  []RelativePeriod
}

// Codes lists the per-leg relative codes, e.g. ["m1", "m2"].
func (w Window) Codes() []string {
	codes := make([]string, len(w.Legs))
	for i, leg := range w.Legs {
		codes[i] = leg.Code()
	}
	return codes
}

// Positions lists the per-leg positions.
func (w Window) Positions() []int {
	out := make([]int, len(w.Legs))
	for i, leg := range w.Legs {
		out[i] = leg.Position
	}
	return out
}

// Align intersects the mapped periods of each leg. Days not covered by
// every leg are skipped.
func Align(legs ...[]RelativePeriod) []Window {
	if len(legs) == 0 {
		return nil
	}

	seen := make(map[int64]struct{})
	var bounds []time.Time
	for _, periods := range legs {
		for _, p := range periods {
			for _, b := range []time.Time{p.Start, p.End} {
				if _, ok := seen[b.Unix()]; ok {
					continue
				}
				seen[b.Unix()] = struct{}{}
				bounds = append(bounds, b)
			}
		}
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i].Before(bounds[j]) })

	var out []Window
	for i := 0; i+1 < len(bounds); i++ {
		start, end := bounds[i], bounds[i+1]
		current := make([]RelativePeriod, 0, len(legs))
		for _, periods := range legs {
			p, ok := Find(periods, start)
			if !ok {
				break
			}
			current = append(current, p)
		}
		if len(current) != len(legs) {
			continue
		}

		if k := len(out) - 1; k >= 0 && out[k].End.Equal(start) && sameLegs(out[k].Legs, current) {
			out[k].End = end
			continue
		}
		out = append(out, Window{Start: start, End: end, Legs: current})
	}
	return out
}

func sameLegs(a, b []RelativePeriod) bool {
	for i := range a {
		if !a[i].sameLabel(b[i]) {
			return false
		}
	}
	return true
}
