package validate

import (
	"fmt"
	"strings"

	"spread-sync/internal/record"
)

// DefaultEpsilon absorbs float representation noise around zero spread.
const DefaultEpsilon = 1e-9

// Mode selects what happens to crossed quotes.
type Mode string

const (
	// ModeStrict drops crossed quotes.
	ModeStrict Mode = "strict"
	// ModeLenient keeps crossed quotes with Invalid set.
	ModeLenient Mode = "lenient"
)

// ParseMode accepts "strict" or "lenient", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStrict:
		return ModeStrict, nil
	case ModeLenient:
		return ModeLenient, nil
	default:
		return "", fmt.Errorf("unknown bid/ask validation mode %q", s)
	}
}

// BidAsk rejects economically impossible quotes (ask below bid).
type BidAsk struct {
	mode    Mode
	epsilon float64
}

// BidAskResult is the validated stream and its counts.
type BidAskResult struct {
	Quotes []record.Quote
	// Violations counts crossed quotes, dropped or flagged.
	Violations int
	// Empty counts quotes carrying neither side; they are always dropped.
	Empty int
}

// NewBidAsk builds a validator. A non-positive epsilon selects DefaultEpsilon.
func NewBidAsk(mode Mode, epsilon float64) (*BidAsk, error) {
	if mode != ModeStrict && mode != ModeLenient {
		return nil, fmt.Errorf("unknown bid/ask validation mode %q", mode)
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &BidAsk{mode: mode, epsilon: epsilon}, nil
}

// Mode returns the configured mode.
func (v *BidAsk) Mode() Mode {
	return v.mode
}

// Crossed reports ask < bid beyond epsilon. One-sided quotes never cross.
func (v *BidAsk) Crossed(q record.Quote) bool {
	if !q.HasBid || !q.HasAsk {
		return false
	}
	return q.Ask < q.Bid-v.epsilon
}

// Validate returns a new slice; the input is not modified.
func (v *BidAsk) Validate(quotes []record.Quote) BidAskResult {
	res := BidAskResult{Quotes: make([]record.Quote, 0, len(quotes))}
	for _, q := range quotes {
		if q.Empty() {
			res.Empty++
			continue
		}
		if v.Crossed(q) {
			res.Violations++
			if v.mode == ModeStrict {
				continue
			}
			q.Invalid = true
		}
		res.Quotes = append(res.Quotes, q)
	}
	return res
}
