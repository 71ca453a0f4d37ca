package record

import (
	"fmt"
	"time"
)

// Source tags where a record came from.
type Source string

const (
	// SourceReal is the directly observed exchange spread feed.
	SourceReal Source = "real"
	// SourceSynthetic is the spread built from the individual legs.
	SourceSynthetic Source = "synthetic"
	// SourceMerged marks a quote whose sides came from different sources.
	SourceMerged Source = "merged"
)

// Side is the signed trade direction.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// SideFromSign maps a signed action (+1 / -1) to a Side.
func SideFromSign(v float64) (Side, error) {
	switch {
	case v > 0:
		return Buy, nil
	case v < 0:
		return Sell, nil
	default:
		return 0, fmt.Errorf("trade action must be signed, got %v", v)
	}
}

// Kind discriminates the two canonical record shapes. The numeric order is
// the tie-break order at equal timestamps: quotes before trades.
type Kind uint8

const (
	KindQuote Kind = iota
	KindTrade
)

func (k Kind) String() string {
	if k == KindQuote {
		return "quote"
	}
	return "trade"
}

// Trade is a normalized execution.
type Trade struct {
	Time     time.Time
	Source   Source
	Price    float64
	Volume   float64
	Side     Side
	TradeID  string
	BrokerID int
	// Duplicates counts the copies of this economic event that were collapsed
	// into it during the merge.
	Duplicates int
}

// Quote is a normalized best bid/offer. Either side may be missing but not
// both.
type Quote struct {
	Time   time.Time
	Source Source
	Bid    float64
	Ask    float64
	HasBid bool
	HasAsk bool
	// Invalid is set by the lenient bid/ask validator on crossed quotes.
	Invalid bool
	// BidSource and AskSource name the source that supplied each side.
	BidSource Source
	AskSource Source
}

// NewQuote builds a quote from optional sides.
func NewQuote(ts time.Time, src Source, bid, ask *float64) Quote {
	q := Quote{Time: ts, Source: src}
	if bid != nil {
		q.Bid, q.HasBid, q.BidSource = *bid, true, src
	}
	if ask != nil {
		q.Ask, q.HasAsk, q.AskSource = *ask, true, src
	}
	return q
}

// Empty reports a quote with neither side.
func (q Quote) Empty() bool {
	return !q.HasBid && !q.HasAsk
}

// Mid is the midpoint when both sides are present.
func (q Quote) Mid() (float64, bool) {
	if !q.HasBid || !q.HasAsk {
		return 0, false
	}
	return (q.Bid + q.Ask) / 2, true
}

// Spread is ask minus bid when both sides are present.
func (q Quote) Spread() (float64, bool) {
	if !q.HasBid || !q.HasAsk {
		return 0, false
	}
	return q.Ask - q.Bid, true
}

// Record is one entry of the merged series: exactly one of Trade or Quote is
// meaningful, selected by Kind.
type Record struct {
	Kind  Kind
	Trade Trade
	Quote Quote
}

// FromTrade wraps a trade.
func FromTrade(t Trade) Record {
	return Record{Kind: KindTrade, Trade: t}
}

// FromQuote wraps a quote.
func FromQuote(q Quote) Record {
	return Record{Kind: KindQuote, Quote: q}
}

// Time is the record timestamp.
func (r Record) Time() time.Time {
	if r.Kind == KindTrade {
		return r.Trade.Time
	}
	return r.Quote.Time
}

// Source is the record source tag.
func (r Record) Source() Source {
	if r.Kind == KindTrade {
		return r.Trade.Source
	}
	return r.Quote.Source
}

// Reason names why a record was dropped or flagged.
type Reason string

const (
	ReasonBidAskViolation   Reason = "bid_ask_violation"
	ReasonEmptyQuote        Reason = "empty_quote"
	ReasonOutlierZScore     Reason = "outlier_zscore"
	ReasonOutlierPctChange  Reason = "outlier_pct_change"
	ReasonOutsideSession    Reason = "outside_session"
	ReasonBrokerFiltered    Reason = "broker_filtered"
	ReasonSyntheticCrossing Reason = "synthetic_crossing"
	ReasonInvalidTrade      Reason = "invalid_trade"
	// ReasonCrossedMerge marks a best-of quote whose sides, taken from
	// different sources, cross each other.
	ReasonCrossedMerge Reason = "crossed_merge"
	// ReasonSupersededQuote counts a quote replaced by a later quote of the
	// same source in its bucket before it could take part in a merge.
	ReasonSupersededQuote Reason = "superseded_quote"
)
