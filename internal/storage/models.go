package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spread-sync/internal/merge"
	"spread-sync/internal/record"
)

// Run statuses.
const (
	RunStatusOK      = "ok"
	RunStatusPartial = "partial"
	RunStatusEmpty   = "empty"
)

// RunRecord is one persisted integration call and its provenance.
type RunRecord struct {
	ID           uuid.UUID
	Instrument   string
	Contracts    []string
	Coefficients []float64
	PeriodStart  time.Time
	PeriodEnd    time.Time
	NS           int
	Status       string
	Trades       int
	Quotes       int
	Dropped      int
	Duplicates   int
	Provenance   json.RawMessage
	CreatedAt    time.Time
}

// DecodeProvenance unmarshals the stored provenance summary.
func (r RunRecord) DecodeProvenance() (merge.Provenance, error) {
	var p merge.Provenance
	if len(r.Provenance) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(r.Provenance, &p); err != nil {
		return p, fmt.Errorf("decode provenance of run %s: %w", r.ID, err)
	}
	return p, nil
}

// RunStatus classifies a merged dataset: empty when nothing survived,
// partial when an enabled source contributed nothing.
func RunStatus(ds merge.MergedDataset) string {
	if ds.Empty() {
		return RunStatusEmpty
	}
	for _, src := range ds.Provenance.Missing() {
		if ds.Provenance.Sources[src].Status != merge.StatusDisabled {
			return RunStatusPartial
		}
	}
	return RunStatusOK
}

// RecordRow is one merged record as stored in run_records.
type RecordRow struct {
	Seq        int
	Time       time.Time
	Kind       string
	Source     string
	Side       int
	Price      decimal.NullDecimal
	Volume     decimal.NullDecimal
	Bid        decimal.NullDecimal
	Ask        decimal.NullDecimal
	BidSource  string
	AskSource  string
	Invalid    bool
	TradeID    string
	BrokerID   int
	Duplicates int
}

// RowsFromDataset flattens the merged records in output order.
func RowsFromDataset(ds merge.MergedDataset) []RecordRow {
	rows := make([]RecordRow, 0, ds.Len())
	for i, rec := range ds.Records {
		row := RecordRow{Seq: i, Time: rec.Time().UTC(), Kind: rec.Kind.String(), Source: string(rec.Source())}
		switch rec.Kind {
		case record.KindTrade:
			t := rec.Trade
			row.Side = int(t.Side)
			row.Price = nullDecimal(t.Price, true)
			row.Volume = nullDecimal(t.Volume, true)
			row.TradeID = t.TradeID
			row.BrokerID = t.BrokerID
			row.Duplicates = t.Duplicates
		case record.KindQuote:
			q := rec.Quote
			row.Bid = nullDecimal(q.Bid, q.HasBid)
			row.Ask = nullDecimal(q.Ask, q.HasAsk)
			row.BidSource = string(q.BidSource)
			row.AskSource = string(q.AskSource)
			row.Invalid = q.Invalid
		}
		rows = append(rows, row)
	}
	return rows
}

// Record rebuilds the canonical record.
func (r RecordRow) Record() (record.Record, error) {
	switch r.Kind {
	case record.KindTrade.String():
		return record.FromTrade(record.Trade{
			Time:       r.Time,
			Source:     record.Source(r.Source),
			Price:      r.Price.Decimal.InexactFloat64(),
			Volume:     r.Volume.Decimal.InexactFloat64(),
			Side:       record.Side(r.Side),
			TradeID:    r.TradeID,
			BrokerID:   r.BrokerID,
			Duplicates: r.Duplicates,
		}), nil
	case record.KindQuote.String():
		q := record.Quote{
			Time:      r.Time,
			Source:    record.Source(r.Source),
			HasBid:    r.Bid.Valid,
			HasAsk:    r.Ask.Valid,
			Invalid:   r.Invalid,
			BidSource: record.Source(r.BidSource),
			AskSource: record.Source(r.AskSource),
		}
		if r.Bid.Valid {
			q.Bid = r.Bid.Decimal.InexactFloat64()
		}
		if r.Ask.Valid {
			q.Ask = r.Ask.Decimal.InexactFloat64()
		}
		return record.FromQuote(q), nil
	default:
		return record.Record{}, fmt.Errorf("unknown record kind %q at seq %d", r.Kind, r.Seq)
	}
}

// DatasetFromRows rebuilds a dataset from stored rows and provenance.
func DatasetFromRows(rows []RecordRow, prov merge.Provenance) (merge.MergedDataset, error) {
	ds := merge.MergedDataset{Records: make([]record.Record, 0, len(rows)), Provenance: prov}
	for _, row := range rows {
		rec, err := row.Record()
		if err != nil {
			return merge.MergedDataset{}, err
		}
		ds.Records = append(ds.Records, rec)
	}
	return ds, nil
}

func nullDecimal(v float64, ok bool) decimal.NullDecimal {
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(v), Valid: true}
}
