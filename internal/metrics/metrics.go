// Package metrics exposes integration run counters:
//
//	spreadsync_runs_total{status}
//	spreadsync_records_total{source}
//	spreadsync_dropped_total{reason}
//	spreadsync_flagged_total{reason}
//	spreadsync_duplicates_total
//	spreadsync_source_unavailable_total{source}
//	spreadsync_run_duration_seconds
//
// plus go_* and process_* collectors, served on /metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"spread-sync/internal/merge"
)

const namespace = "spreadsync"

// Recorder owns the collectors of one process.
type Recorder struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	records     *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	flagged     *prometheus.CounterVec
	unavailable *prometheus.CounterVec
	duplicates  prometheus.Counter
	duration    prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Integration runs by outcome",
		}, []string{"status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Merged output records by contributing source",
		}, []string{"source"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Records removed by the quality filters",
		}, []string{"reason"}),
		flagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flagged_total",
			Help:      "Records kept with a quality flag",
		}, []string{"reason"}),
		unavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_unavailable_total",
			Help:      "Runs in which a source failed to answer",
		}, []string{"source"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Trades collapsed as duplicates",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one integration call",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}

	r.registry.MustRegister(
		r.runs, r.records, r.dropped, r.flagged, r.unavailable, r.duplicates, r.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRun records one finished integration. A nil Recorder is a no-op.
func (r *Recorder) ObserveRun(status string, prov merge.Provenance, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
	r.duration.Observe(elapsed.Seconds())
	r.duplicates.Add(float64(prov.Duplicates))

	for src, rep := range prov.Sources {
		if n := rep.Contributed(); n > 0 {
			r.records.WithLabelValues(string(src)).Add(float64(n))
		}
		if rep.Status == merge.StatusUnavailable {
			r.unavailable.WithLabelValues(string(src)).Inc()
		}
	}
	for reason, n := range prov.Dropped {
		r.dropped.WithLabelValues(string(reason)).Add(float64(n))
	}
	for reason, n := range prov.Flagged {
		r.flagged.WithLabelValues(string(reason)).Add(float64(n))
	}
}

// ObserveFailure counts a run that errored before producing a dataset.
func (r *Recorder) ObserveFailure() {
	if r == nil {
		return
	}
	r.runs.WithLabelValues("failed").Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
