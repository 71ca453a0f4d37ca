package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-sync/internal/merge"
	"spread-sync/internal/record"
)

func provenance() merge.Provenance {
	return merge.Provenance{
		Sources: map[record.Source]merge.SourceReport{
			record.SourceReal:      {Status: merge.StatusOK, Trades: 10, Quotes: 40},
			record.SourceSynthetic: {Status: merge.StatusUnavailable, Err: "timeout"},
		},
		Dropped:    map[record.Reason]int{record.ReasonBidAskViolation: 3, record.ReasonOutlierZScore: 1},
		Flagged:    map[record.Reason]int{},
		Duplicates: 2,
	}
}

func TestObserveRun(t *testing.T) {
	r := New()
	r.ObserveRun("partial", provenance(), 250*time.Millisecond)
	r.ObserveRun("partial", provenance(), time.Second)
	r.ObserveFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("failed")))
	assert.Equal(t, 100.0, testutil.ToFloat64(r.records.WithLabelValues("real")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.unavailable.WithLabelValues("synthetic")))
	assert.Equal(t, 6.0, testutil.ToFloat64(r.dropped.WithLabelValues("bid_ask_violation")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.duplicates))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveRun("ok", provenance(), time.Second)
	r.ObserveFailure()
}

func TestHandlerExposesCounters(t *testing.T) {
	r := New()
	r.ObserveRun("ok", provenance(), time.Second)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `spreadsync_runs_total{status="ok"} 1`)
	assert.Contains(t, string(body), "spreadsync_run_duration_seconds_bucket")
}
