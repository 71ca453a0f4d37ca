package validate

import (
	"errors"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"spread-sync/internal/record"
)

// OutlierOptions parameterise the rolling z-score filter.
type OutlierOptions struct {
	// Threshold is the z-score above which a trade is an outlier.
	Threshold float64
	// Window is the number of preceding accepted trades in the statistic.
	Window int
	// Lookback bounds the age of trades in the window; after a quiet period
	// older trades fall out and the statistic is rebuilt from recent ones.
	// Zero keeps trades regardless of age.
	Lookback time.Duration
	// MaxPctChange rejects moves larger than this percentage from the last
	// accepted trade. Zero disables the guard.
	MaxPctChange float64
}

// OutlierResult is the filtered stream and per-rule counts.
type OutlierResult struct {
	Trades    []record.Trade
	ZScore    int
	PctChange int
}

// Removed is the total number of trades filtered out.
func (r OutlierResult) Removed() int {
	return r.ZScore + r.PctChange
}

// OutlierDetector removes statistically extreme trade prices.
type OutlierDetector struct {
	opts OutlierOptions
}

// NewOutlierDetector validates options.
func NewOutlierDetector(opts OutlierOptions) (*OutlierDetector, error) {
	if opts.Threshold <= 0 {
		return nil, errors.New("outlier threshold must be positive")
	}
	if opts.Window < 2 {
		return nil, errors.New("outlier window must hold at least two trades")
	}
	if opts.Lookback < 0 {
		return nil, errors.New("outlier lookback cannot be negative")
	}
	if opts.MaxPctChange < 0 {
		return nil, errors.New("outlier max pct change cannot be negative")
	}
	return &OutlierDetector{opts: opts}, nil
}

type pricePoint struct {
	at    time.Time
	price float64
}

// Filter expects trades ordered by timestamp. A trade is scored only once
// the window holds Window accepted trades, so the first Window trades and
// every trade right after a quiet period longer than Lookback pass. Against a
// window of identical prices any trade off that price counts as a z-score
// outlier.
func (d *OutlierDetector) Filter(trades []record.Trade) OutlierResult {
	res := OutlierResult{Trades: make([]record.Trade, 0, len(trades))}
	history := make([]pricePoint, 0, d.opts.Window+1)
	prices := make([]float64, d.opts.Window)

	for _, tr := range trades {
		if d.opts.Lookback > 0 {
			cut := 0
			for cut < len(history) && tr.Time.Sub(history[cut].at) > d.opts.Lookback {
				cut++
			}
			history = history[cut:]
		}

		if len(history) >= d.opts.Window {
			for i, p := range history {
				prices[i] = p.price
			}
			mean := last(talib.Sma(prices, d.opts.Window))
			stddev := last(talib.StdDev(prices, d.opts.Window, 1))

			limit := d.opts.Threshold * stddev
			if stddev <= DefaultEpsilon {
				// a flat window has no spread to scale by; any move off it is a jump
				limit = DefaultEpsilon
			}
			if math.Abs(tr.Price-mean) > limit {
				res.ZScore++
				continue
			}

			prev := history[len(history)-1].price
			if d.opts.MaxPctChange > 0 && prev != 0 &&
				math.Abs(tr.Price-prev)/math.Abs(prev)*100 > d.opts.MaxPctChange {
				res.PctChange++
				continue
			}
		}

		res.Trades = append(res.Trades, tr)
		history = append(history, pricePoint{at: tr.Time, price: tr.Price})
		if len(history) > d.opts.Window {
			history = history[1:]
		}
	}
	return res
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}
