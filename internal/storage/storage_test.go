package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-sync/internal/merge"
	"spread-sync/internal/record"
)

var t0 = time.Date(2025, 6, 26, 9, 0, 0, 0, time.UTC)

func sampleDataset() merge.MergedDataset {
	return merge.MergedDataset{
		Records: []record.Record{
			record.FromQuote(record.Quote{
				Time: t0, Source: record.SourceMerged,
				Bid: 10.2, Ask: 10.4, HasBid: true, HasAsk: true,
				BidSource: record.SourceSynthetic, AskSource: record.SourceReal,
			}),
			record.FromTrade(record.Trade{
				Time: t0.Add(time.Second), Source: record.SourceReal,
				Price: 10.3, Volume: 5, Side: record.Sell, TradeID: "x1", BrokerID: 1441, Duplicates: 1,
			}),
			record.FromQuote(record.Quote{
				Time: t0.Add(2 * time.Second), Source: record.SourceReal,
				Bid: 10.25, HasBid: true, BidSource: record.SourceReal,
			}),
		},
		Provenance: merge.Provenance{
			Sources: map[record.Source]merge.SourceReport{
				record.SourceReal:      {Status: merge.StatusOK, TradesIn: 1, QuotesIn: 2, Trades: 1, Quotes: 2},
				record.SourceSynthetic: {Status: merge.StatusOK, QuotesIn: 1, Quotes: 1},
			},
			Dropped:    map[record.Reason]int{record.ReasonOutlierZScore: 2},
			Flagged:    map[record.Reason]int{},
			Duplicates: 1,
		},
	}
}

func TestRowsRoundTripDataset(t *testing.T) {
	ds := sampleDataset()
	rows := RowsFromDataset(ds)
	require.Len(t, rows, 3)

	assert.Equal(t, "quote", rows[0].Kind)
	assert.Equal(t, "merged", rows[0].Source)
	assert.Equal(t, "10.2", rows[0].Bid.Decimal.String())
	assert.False(t, rows[0].Price.Valid)

	assert.Equal(t, "trade", rows[1].Kind)
	assert.Equal(t, -1, rows[1].Side)
	assert.Equal(t, 1, rows[1].Seq)
	assert.False(t, rows[2].Ask.Valid)

	back, err := DatasetFromRows(rows, ds.Provenance)
	require.NoError(t, err)
	assert.Equal(t, ds.Records, back.Records)
}

func TestRecordRowUnknownKind(t *testing.T) {
	_, err := RecordRow{Kind: "bogus"}.Record()
	require.Error(t, err)
}

func TestRunStatus(t *testing.T) {
	assert.Equal(t, RunStatusEmpty, RunStatus(merge.MergedDataset{}))

	ds := sampleDataset()
	assert.Equal(t, RunStatusOK, RunStatus(ds))

	ds.Provenance.Sources[record.SourceSynthetic] = merge.SourceReport{Status: merge.StatusUnavailable, Err: "timeout"}
	assert.Equal(t, RunStatusPartial, RunStatus(ds))
}

func TestDecodeProvenance(t *testing.T) {
	prov := sampleDataset().Provenance
	raw, err := json.Marshal(prov)
	require.NoError(t, err)

	got, err := RunRecord{ID: uuid.New(), Provenance: raw}.DecodeProvenance()
	require.NoError(t, err)
	assert.Equal(t, prov, got)

	_, err = RunRecord{Provenance: json.RawMessage("{")}.DecodeProvenance()
	require.Error(t, err)
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	_, err := s.ListRecentRuns(context.Background(), 5)
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewStore(nil).SaveRun(context.Background(), RunRecord{}, nil)
	require.ErrorIs(t, err, ErrNotConfigured)

	_, _, err = NewStore(nil).TryAdvisoryLock(context.Background(), 1)
	require.ErrorIs(t, err, ErrNotConfigured)
}

type fakeRow []any

func (f fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *int:
			*p = f[i].(int)
		case *bool:
			*p = f[i].(bool)
		case *string:
			*p = f[i].(string)
		case *time.Time:
			*p = f[i].(time.Time)
		case *sql.NullString:
			*p = f[i].(sql.NullString)
		}
	}
	return nil
}

func TestScanRecordRow(t *testing.T) {
	row, err := scanRecordRow(fakeRow{
		4, t0, "quote", "real", 0,
		sql.NullString{}, sql.NullString{},
		sql.NullString{String: "33.44", Valid: true}, sql.NullString{String: "33.45", Valid: true},
		"real", "real", true, "", 0, 0,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, row.Seq)
	assert.Equal(t, "33.44", row.Bid.Decimal.String())
	assert.True(t, row.Invalid)
	assert.False(t, row.Price.Valid)

	_, err = scanRecordRow(fakeRow{
		0, t0, "trade", "real", 1,
		sql.NullString{String: "n/a", Valid: true}, sql.NullString{},
		sql.NullString{}, sql.NullString{},
		"", "", false, "", 0, 0,
	})
	require.Error(t, err)
}
