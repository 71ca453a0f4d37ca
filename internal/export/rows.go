package export

import (
	"math"
	"time"

	"spread-sync/internal/merge"
	"spread-sync/internal/record"
)

// Row is the flat, format-neutral view of a merged record.
type Row struct {
	Time       time.Time
	Kind       record.Kind
	Source     record.Source
	Side       record.Side
	Price      float64
	Volume     float64
	Bid        *float64
	Ask        *float64
	Mid        *float64
	Invalid    bool
	TradeID    string
	BrokerID   int
	Duplicates int
}

// Rows flattens a dataset in output order.
func Rows(ds merge.MergedDataset) []Row {
	rows := make([]Row, 0, ds.Len())
	for _, rec := range ds.Records {
		row := Row{Time: rec.Time().UTC(), Kind: rec.Kind, Source: rec.Source()}
		switch rec.Kind {
		case record.KindTrade:
			t := rec.Trade
			row.Side = t.Side
			row.Price = t.Price
			row.Volume = t.Volume
			row.TradeID = t.TradeID
			row.BrokerID = t.BrokerID
			row.Duplicates = t.Duplicates
		case record.KindQuote:
			q := rec.Quote
			if q.HasBid {
				row.Bid = ptr(q.Bid)
			}
			if q.HasAsk {
				row.Ask = ptr(q.Ask)
			}
			if mid, ok := q.Mid(); ok {
				row.Mid = ptr(mid)
			}
			row.Invalid = q.Invalid
		}
		rows = append(rows, row)
	}
	return rows
}

// downsample keeps at most max evenly spaced points, first and last included.
func downsample[T any](in []T, max int) []T {
	if max <= 0 || len(in) <= max {
		return in
	}
	if max == 1 {
		return in[len(in)-1:]
	}

	out := make([]T, 0, max)
	step := float64(len(in)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(in) {
			idx = len(in) - 1
		}
		out = append(out, in[idx])
	}
	return out
}

func ptr(v float64) *float64 {
	return &v
}
