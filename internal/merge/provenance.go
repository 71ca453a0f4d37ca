package merge

import (
	"sort"

	"spread-sync/internal/record"
)

// Status describes how a source took part in a merge.
type Status string

const (
	StatusOK          Status = "ok"
	StatusEmpty       Status = "empty"
	StatusUnavailable Status = "unavailable"
	StatusDisabled    Status = "disabled"
)

// SourceReport is the per-source part of the provenance.
type SourceReport struct {
	Status Status `json:"status"`
	// Err is the collaborator error for unavailable sources.
	Err string `json:"error,omitempty"`
	// TradesIn and QuotesIn count canonical records after normalization.
	TradesIn int `json:"trades_in"`
	QuotesIn int `json:"quotes_in"`
	// Trades counts output trades from this source. Quotes counts output
	// quotes where this source supplied at least one side.
	Trades int `json:"trades"`
	Quotes int `json:"quotes"`
}

// Contributed is the number of output records this source took part in.
func (r SourceReport) Contributed() int {
	return r.Trades + r.Quotes
}

// Provenance explains how a MergedDataset was produced.
type Provenance struct {
	Sources map[record.Source]SourceReport `json:"sources"`
	// Dropped counts removed records per reason.
	Dropped map[record.Reason]int `json:"dropped"`
	// Flagged counts records kept with a quality flag per reason.
	Flagged    map[record.Reason]int `json:"flagged"`
	Duplicates int                   `json:"duplicates"`
}

func newProvenance() Provenance {
	return Provenance{
		Sources: make(map[record.Source]SourceReport),
		Dropped: make(map[record.Reason]int),
		Flagged: make(map[record.Reason]int),
	}
}

// TotalDropped sums Dropped.
func (p Provenance) TotalDropped() int {
	total := 0
	for _, n := range p.Dropped {
		total += n
	}
	return total
}

// TotalIn sums the normalized input of every source.
func (p Provenance) TotalIn() int {
	total := 0
	for _, r := range p.Sources {
		total += r.TradesIn + r.QuotesIn
	}
	return total
}

// Missing lists the sources that contributed no records, sorted.
func (p Provenance) Missing() []record.Source {
	var out []record.Source
	for src, r := range p.Sources {
		if r.Contributed() == 0 {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p Provenance) drop(reason record.Reason, n int) {
	if n > 0 {
		p.Dropped[reason] += n
	}
}

func (p Provenance) flag(reason record.Reason, n int) {
	if n > 0 {
		p.Flagged[reason] += n
	}
}

// MergedDataset is the ordered merge output.
type MergedDataset struct {
	Records    []record.Record
	Provenance Provenance
}

// Len is the number of records.
func (d MergedDataset) Len() int {
	return len(d.Records)
}

// Empty reports a dataset without records.
func (d MergedDataset) Empty() bool {
	return len(d.Records) == 0
}

// Trades returns the trade records in output order.
func (d MergedDataset) Trades() []record.Trade {
	var out []record.Trade
	for _, r := range d.Records {
		if r.Kind == record.KindTrade {
			out = append(out, r.Trade)
		}
	}
	return out
}

// Quotes returns the quote records in output order.
func (d MergedDataset) Quotes() []record.Quote {
	var out []record.Quote
	for _, r := range d.Records {
		if r.Kind == record.KindQuote {
			out = append(out, r.Quote)
		}
	}
	return out
}
