package merge

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"spread-sync/internal/record"
	"spread-sync/internal/validate"
)

// Input is one source handed to the engine. A source with Err set, a nil
// payload or an empty payload is absent, never a failure.
type Input struct {
	Source   record.Source
	Payload  Payload
	Err      error
	Disabled bool
}

// Engine runs the four merge stages. It holds no state between calls and is
// safe for concurrent use.
type Engine struct {
	opts    Options
	bidask  *validate.BidAsk
	outlier *validate.OutlierDetector
	brokers map[int]bool
}

// NewEngine validates options once.
func NewEngine(opts Options) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid merge options: %w", err)
	}
	bidask, err := validate.NewBidAsk(opts.BidAskMode, opts.BidAskEpsilon)
	if err != nil {
		return nil, err
	}
	e := &Engine{opts: opts, bidask: bidask}
	if opts.Outlier != nil {
		if e.outlier, err = validate.NewOutlierDetector(*opts.Outlier); err != nil {
			return nil, err
		}
	}
	if len(opts.AllowedBrokers) > 0 {
		e.brokers = make(map[int]bool, len(opts.AllowedBrokers))
		for _, id := range opts.AllowedBrokers {
			e.brokers[id] = true
		}
	}
	return e, nil
}

// Options returns the engine configuration.
func (e *Engine) Options() Options {
	return e.opts
}

type sourceData struct {
	src    record.Source
	rank   int
	trades []record.Trade
	quotes []record.Quote
}

// Merge normalizes every present source, merges trades, merges quotes and
// interleaves the two streams. The dataset is built completely before it is
// returned. Errors are limited to malformed inputs (missing or repeated
// source tags).
func (e *Engine) Merge(inputs ...Input) (MergedDataset, error) {
	prov := newProvenance()
	ranks := make(map[record.Source]int, len(inputs))
	for i, in := range inputs {
		if in.Source == "" {
			return MergedDataset{}, errors.New("merge input without source tag")
		}
		if _, dup := ranks[in.Source]; dup {
			return MergedDataset{}, fmt.Errorf("source %q supplied twice", in.Source)
		}
		ranks[in.Source] = e.rank(in.Source, i)
	}

	// stage 1
	sources := make([]sourceData, 0, len(inputs))
	for _, in := range inputs {
		switch {
		case in.Disabled:
			prov.Sources[in.Source] = SourceReport{Status: StatusDisabled}
		case in.Err != nil:
			prov.Sources[in.Source] = SourceReport{Status: StatusUnavailable, Err: in.Err.Error()}
		case in.Payload == nil || in.Payload.Len() == 0:
			prov.Sources[in.Source] = SourceReport{Status: StatusEmpty}
		default:
			sd, report := e.normalize(in, ranks[in.Source], prov)
			prov.Sources[in.Source] = report
			sources = append(sources, sd)
		}
	}
	slices.SortStableFunc(sources, func(a, b sourceData) int { return cmp.Compare(a.rank, b.rank) })

	// stages 2 and 3
	trades := e.mergeTrades(sources, &prov)
	quotes := e.mergeQuotes(sources, prov)

	// stage 4
	records := interleave(trades, quotes, ranks)
	for _, r := range records {
		if r.Kind == record.KindTrade {
			prov.count(r.Trade.Source, func(rep *SourceReport) { rep.Trades++ })
			continue
		}
		prov.count(r.Quote.BidSource, func(rep *SourceReport) { rep.Quotes++ })
		if r.Quote.AskSource != r.Quote.BidSource {
			prov.count(r.Quote.AskSource, func(rep *SourceReport) { rep.Quotes++ })
		}
	}
	return MergedDataset{Records: records, Provenance: prov}, nil
}

func (p Provenance) count(src record.Source, fn func(*SourceReport)) {
	if src == "" {
		return
	}
	rep, ok := p.Sources[src]
	if !ok {
		return
	}
	fn(&rep)
	p.Sources[src] = rep
}

func (e *Engine) rank(src record.Source, inputIndex int) int {
	if i := slices.Index(e.opts.SourcePriority, src); i >= 0 {
		return i
	}
	return len(e.opts.SourcePriority) + inputIndex
}

func (e *Engine) normalize(in Input, rank int, prov Provenance) (sourceData, SourceReport) {
	trades, quotes, dropped := in.Payload.Normalize(in.Source)
	for reason, n := range dropped {
		prov.drop(reason, n)
	}
	report := SourceReport{Status: StatusOK, TradesIn: len(trades), QuotesIn: len(quotes)}

	byTime := func(a, b time.Time) int { return a.Compare(b) }
	slices.SortStableFunc(trades, func(a, b record.Trade) int { return byTime(a.Time, b.Time) })
	slices.SortStableFunc(quotes, func(a, b record.Quote) int { return byTime(a.Time, b.Time) })

	if e.opts.Session != nil {
		var n int
		trades, n = keep(trades, func(t record.Trade) bool { return e.opts.Session.Contains(t.Time) })
		prov.drop(record.ReasonOutsideSession, n)
		quotes, n = keep(quotes, func(q record.Quote) bool { return e.opts.Session.Contains(q.Time) })
		prov.drop(record.ReasonOutsideSession, n)
	}
	if e.brokers != nil {
		var n int
		trades, n = keep(trades, func(t record.Trade) bool {
			return t.BrokerID == SyntheticBrokerID || e.brokers[t.BrokerID]
		})
		prov.drop(record.ReasonBrokerFiltered, n)
	}

	checked := e.bidask.Validate(quotes)
	prov.drop(record.ReasonEmptyQuote, checked.Empty)
	if e.bidask.Mode() == validate.ModeStrict {
		prov.drop(record.ReasonBidAskViolation, checked.Violations)
	} else {
		prov.flag(record.ReasonBidAskViolation, checked.Violations)
	}
	quotes = checked.Quotes

	if e.opts.SyntheticBuffer > 0 {
		var n int
		trades, n = e.adjustSynthetic(trades, quotes)
		prov.drop(record.ReasonSyntheticCrossing, n)
	}

	return sourceData{src: in.Source, rank: rank, trades: trades, quotes: quotes}, report
}

// adjustSynthetic drops synthetic buys at or above the prevailing ask less
// the buffer and synthetic sells at or below the prevailing bid plus the
// buffer. Both inputs are time ordered.
func (e *Engine) adjustSynthetic(trades []record.Trade, quotes []record.Quote) ([]record.Trade, int) {
	out := make([]record.Trade, 0, len(trades))
	removed := 0
	var prevailing *record.Quote
	qi := 0
	for _, tr := range trades {
		for qi < len(quotes) && !quotes[qi].Time.After(tr.Time) {
			if !quotes[qi].Invalid {
				prevailing = &quotes[qi]
			}
			qi++
		}
		if tr.BrokerID == SyntheticBrokerID && prevailing != nil {
			buf := e.opts.SyntheticBuffer
			if tr.Side == record.Buy && prevailing.HasAsk && tr.Price >= prevailing.Ask-buf {
				removed++
				continue
			}
			if tr.Side == record.Sell && prevailing.HasBid && tr.Price <= prevailing.Bid+buf {
				removed++
				continue
			}
		}
		out = append(out, tr)
	}
	return out, removed
}

type rankedTrade struct {
	trade    record.Trade
	rank     int
	seq      int
	absorbed []record.Source
}

func (e *Engine) mergeTrades(sources []sourceData, prov *Provenance) []record.Trade {
	var all []rankedTrade
	for _, sd := range sources {
		for _, tr := range sd.trades {
			all = append(all, rankedTrade{trade: tr, rank: sd.rank, seq: len(all)})
		}
	}
	slices.SortStableFunc(all, func(a, b rankedTrade) int {
		if c := a.trade.Time.Compare(b.trade.Time); c != 0 {
			return c
		}
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	kept := make([]rankedTrade, 0, len(all))
	for _, c := range all {
		if j := e.findDuplicate(kept, c.trade); j >= 0 {
			kept[j].trade.Duplicates++
			kept[j].absorbed = append(kept[j].absorbed, c.trade.Source)
			prov.Duplicates++
			continue
		}
		kept = append(kept, c)
	}

	trades := make([]record.Trade, len(kept))
	for i, k := range kept {
		trades[i] = k.trade
	}
	if e.outlier == nil {
		return trades
	}
	res := e.outlier.Filter(trades)
	prov.drop(record.ReasonOutlierZScore, res.ZScore)
	prov.drop(record.ReasonOutlierPctChange, res.PctChange)
	return res.Trades
}

// findDuplicate returns the earliest kept trade within the tolerance that
// describes the same execution. Trades of one source are distinct executions
// unless they repeat a trade id; a kept trade absorbs at most one copy from
// each other source. Rows that arrive without a trade id get a positional id
// (<source>_<row>) during normalization, so two identical id-less rows of one
// feed are kept as two executions.
func (e *Engine) findDuplicate(kept []rankedTrade, tr record.Trade) int {
	match := -1
	for j := len(kept) - 1; j >= 0; j-- {
		k := kept[j]
		if tr.Time.Sub(k.trade.Time) > e.opts.DuplicateTolerance {
			break
		}
		if k.trade.Side != tr.Side ||
			math.Abs(k.trade.Price-tr.Price) > e.opts.DuplicateEpsilon ||
			math.Abs(k.trade.Volume-tr.Volume) > e.opts.DuplicateEpsilon {
			continue
		}
		if k.trade.Source == tr.Source {
			if tr.TradeID != "" && tr.TradeID == k.trade.TradeID {
				match = j
			}
			continue
		}
		if !slices.Contains(k.absorbed, tr.Source) {
			match = j
		}
	}
	return match
}

type quoteCursor struct {
	quotes []record.Quote
	pos    int
	cur    *record.Quote
	bucket time.Time
	used   bool
}

func (e *Engine) bucket(t time.Time) time.Time {
	if e.opts.QuoteBucket > 0 {
		return t.Truncate(e.opts.QuoteBucket)
	}
	return t
}

// mergeQuotes walks every bucket present in any source and builds the best
// bid and best ask from the quotes active in it. sources are rank ordered so
// the first source wins price ties.
func (e *Engine) mergeQuotes(sources []sourceData, prov Provenance) []record.Quote {
	var buckets []time.Time
	cursors := make([]*quoteCursor, 0, len(sources))
	for _, sd := range sources {
		for _, q := range sd.quotes {
			buckets = append(buckets, e.bucket(q.Time))
		}
		cursors = append(cursors, &quoteCursor{quotes: sd.quotes})
	}
	slices.SortFunc(buckets, func(a, b time.Time) int { return a.Compare(b) })
	buckets = slices.CompactFunc(buckets, func(a, b time.Time) bool { return a.Equal(b) })

	out := make([]record.Quote, 0, len(buckets))
	active := make([]record.Quote, 0, len(cursors))
	for _, b := range buckets {
		active = active[:0]
		for _, c := range cursors {
			for c.pos < len(c.quotes) && !e.bucket(c.quotes[c.pos].Time).After(b) {
				if c.cur != nil && !c.used {
					prov.drop(record.ReasonSupersededQuote, 1)
				}
				c.cur = &c.quotes[c.pos]
				c.bucket = e.bucket(c.cur.Time)
				c.used = false
				c.pos++
			}
			if c.cur == nil {
				continue
			}
			if c.bucket.Equal(b) || (e.opts.QuoteTTL > 0 && b.Sub(c.bucket) <= e.opts.QuoteTTL) {
				active = append(active, *c.cur)
				c.used = true
			}
		}
		if len(active) == 0 {
			continue
		}
		q, ok := e.best(b, active, prov)
		if ok {
			out = append(out, q)
		}
	}
	return out
}

func (e *Engine) best(at time.Time, active []record.Quote, prov Provenance) (record.Quote, bool) {
	candidates := active
	valid := make([]record.Quote, 0, len(active))
	for _, q := range active {
		if !q.Invalid {
			valid = append(valid, q)
		}
	}
	if len(valid) > 0 {
		candidates = valid
	}

	out := record.Quote{Time: at, Invalid: len(valid) == 0}
	for _, q := range candidates {
		if q.HasBid && (!out.HasBid || q.Bid > out.Bid) {
			out.Bid, out.HasBid, out.BidSource = q.Bid, true, q.BidSource
		}
		if q.HasAsk && (!out.HasAsk || q.Ask < out.Ask) {
			out.Ask, out.HasAsk, out.AskSource = q.Ask, true, q.AskSource
		}
	}

	switch {
	case !out.HasAsk:
		out.Source = out.BidSource
	case !out.HasBid || out.BidSource == out.AskSource:
		out.Source = out.AskSource
	default:
		out.Source = record.SourceMerged
	}

	if !out.Invalid && e.bidask.Crossed(out) {
		if e.bidask.Mode() == validate.ModeStrict {
			prov.drop(record.ReasonCrossedMerge, 1)
			return record.Quote{}, false
		}
		out.Invalid = true
		prov.flag(record.ReasonCrossedMerge, 1)
	}
	return out, true
}

type entry struct {
	rec  record.Record
	rank int
	seq  int
}

// interleave orders by timestamp, then quotes before trades, then source
// priority, then arrival.
func interleave(trades []record.Trade, quotes []record.Quote, ranks map[record.Source]int) []record.Record {
	entries := make([]entry, 0, len(trades)+len(quotes))
	for _, q := range quotes {
		rank := math.MaxInt
		for _, src := range []record.Source{q.BidSource, q.AskSource} {
			if r, ok := ranks[src]; ok && r < rank {
				rank = r
			}
		}
		entries = append(entries, entry{rec: record.FromQuote(q), rank: rank, seq: len(entries)})
	}
	for _, t := range trades {
		entries = append(entries, entry{rec: record.FromTrade(t), rank: ranks[t.Source], seq: len(entries)})
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		if c := a.rec.Time().Compare(b.rec.Time()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.rec.Kind, b.rec.Kind); c != 0 {
			return c
		}
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]record.Record, len(entries))
	for i, en := range entries {
		out[i] = en.rec
	}
	return out
}

func keep[T any](in []T, ok func(T) bool) ([]T, int) {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if ok(v) {
			out = append(out, v)
		}
	}
	return out, len(in) - len(out)
}
