package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-sync/internal/calendar"
	"spread-sync/internal/config"
	"spread-sync/internal/export"
	"spread-sync/internal/merge"
	"spread-sync/internal/record"
	"spread-sync/internal/service"
	"spread-sync/internal/storage"
)

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

const baseConfig = `
integration:
  contracts: [debm08_25, frbm08_25]
  period:
    start_date: "2025-07-01"
    end_date: "2025-07-08"
  n_s: 0
`

func TestRequestOverrides(t *testing.T) {
	a := NewApp(loadConfig(t, baseConfig), zerolog.Nop())

	req := a.request(RequestOptions{})
	assert.Equal(t, []string{"debm08_25", "frbm08_25"}, req.Contracts)
	assert.True(t, req.IncludeReal)

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ns := 2
	req = a.request(RequestOptions{Contracts: []string{"debq3_25"}, From: &from, NS: &ns, NoSynthetic: true})
	assert.Equal(t, []string{"debq3_25"}, req.Contracts)
	assert.Nil(t, req.Coefficients)
	assert.Equal(t, from, req.Start)
	assert.Equal(t, 2, req.NS)
	assert.False(t, req.IncludeSynthetic)
}

func TestPrintPlan(t *testing.T) {
	cal := calendar.New()
	plan, err := service.BuildPlan(service.Request{
		Contracts: []string{"debm08_25"},
		Start:     time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC),
		NS:        3,
	}, cal)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printPlan(&buf, plan, cal))
	out := buf.String()
	assert.Contains(t, out, "2025-06-20")
	assert.Contains(t, out, "m2")
	assert.Contains(t, out, "m1")
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printRuns(&buf, nil))
	assert.Equal(t, "no runs found\n", buf.String())

	prov, err := json.Marshal(merge.Provenance{Sources: map[record.Source]merge.SourceReport{
		record.SourceReal:      {Status: merge.StatusOK, Trades: 3},
		record.SourceSynthetic: {Status: merge.StatusUnavailable, Err: "timeout"},
	}})
	require.NoError(t, err)

	buf.Reset()
	require.NoError(t, printRuns(&buf, []storage.RunRecord{{
		ID:          uuid.New(),
		Instrument:  "debm08_25-frbm08_25",
		PeriodStart: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 7, 8, 0, 0, 0, 0, time.UTC),
		Status:      storage.RunStatusPartial,
		Trades:      3,
		Provenance:  prov,
		CreatedAt:   time.Now(),
	}}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "partial")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[1]), "synthetic"))
}

func writeFixture(t *testing.T, dir, name string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), data, 0o600))
}

func TestReplayExportsFixtures(t *testing.T) {
	a := NewApp(loadConfig(t, baseConfig), zerolog.Nop())

	dir := t.TempDir()
	at := time.Date(2025, 7, 2, 10, 0, 0, 0, time.UTC)
	bid, ask := 4.9, 5.1
	writeFixture(t, dir, "real", merge.RealPayload{
		Trades: []merge.RealTrade{{Time: at, Price: 5, Volume: 1, Action: -1, BrokerID: 1441, TradeID: "x1"}},
		Orders: []merge.RealOrder{{Time: at.Add(time.Second), Bid: &bid, Ask: &ask}},
	})

	out := t.TempDir()
	err := a.Replay(context.Background(), ReplayOptions{Dir: dir, OutDir: out, Formats: []string{"csv"}})
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(out, "*.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestReplayMissingDir(t *testing.T) {
	a := NewApp(loadConfig(t, baseConfig), zerolog.Nop())
	err := a.Replay(context.Background(), ReplayOptions{Dir: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
}

type memStore struct {
	run  storage.RunRecord
	rows []storage.RecordRow
}

func (m *memStore) SaveRun(_ context.Context, run storage.RunRecord, rows []storage.RecordRow) (storage.RunRecord, error) {
	m.run, m.rows = run, rows
	return run, nil
}

func (m *memStore) ListRecentRuns(context.Context, int) ([]storage.RunRecord, error) {
	return []storage.RunRecord{m.run}, nil
}

func (m *memStore) GetRun(_ context.Context, id uuid.UUID) (storage.RunRecord, error) {
	if id != m.run.ID {
		return storage.RunRecord{}, storage.ErrRunNotFound
	}
	return m.run, nil
}

func (m *memStore) ListRunRecords(context.Context, uuid.UUID) ([]storage.RecordRow, error) {
	return m.rows, nil
}

func TestExportRunFromStore(t *testing.T) {
	a := NewApp(loadConfig(t, baseConfig), zerolog.Nop())

	at := time.Date(2025, 7, 2, 10, 0, 0, 0, time.UTC)
	bid, ask := 4.9, 5.1
	ds := merge.MergedDataset{Records: []record.Record{
		record.FromQuote(record.NewQuote(at, record.SourceReal, &bid, &ask)),
	}}
	prov, err := json.Marshal(ds.Provenance)
	require.NoError(t, err)

	store := &memStore{}
	run := storage.RunRecord{
		ID:          uuid.New(),
		Instrument:  "debm08_25-frbm08_25",
		PeriodStart: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 7, 8, 0, 0, 0, 0, time.UTC),
		Provenance:  prov,
	}
	_, err = store.SaveRun(context.Background(), run, storage.RowsFromDataset(ds))
	require.NoError(t, err)

	out := t.TempDir()
	exporter := export.New(export.Options{Dir: out, Formats: []export.Format{export.FormatCSV}}, nil, zerolog.Nop())
	require.NoError(t, a.exportRun(context.Background(), store, exporter, run.ID))

	matches, err := filepath.Glob(filepath.Join(out, "*"+run.ID.String()+".csv"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	err = a.exportRun(context.Background(), store, exporter, uuid.New())
	require.ErrorIs(t, err, storage.ErrRunNotFound)
}
