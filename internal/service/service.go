package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"spread-sync/internal/alerting"
	"spread-sync/internal/calendar"
	"spread-sync/internal/config"
	"spread-sync/internal/export"
	"spread-sync/internal/fetcher"
	"spread-sync/internal/merge"
	"spread-sync/internal/metrics"
	"spread-sync/internal/record"
	"spread-sync/internal/scheduler"
	"spread-sync/internal/storage"
)

// Options tune the integration service.
type Options struct {
	Merge    merge.Options
	Calendar calendar.Calendar
	// Concurrency bounds the in-flight source fetches of one call.
	Concurrency int
	AlertsOn    bool
	MaxDropPct  float64
	Channels    []string
	LockKey     int64
	// LookbackDays is the number of business days a scheduled run covers,
	// ending with the run day.
	LookbackDays int
}

// OptionsFromConfig derives service options from the runtime config.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	mergeOpts, err := cfg.MergeOptions()
	if err != nil {
		return Options{}, err
	}
	cal, err := cfg.BusinessCalendar()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Merge:        mergeOpts,
		Calendar:     cal,
		Concurrency:  4,
		AlertsOn:     cfg.Alerting.Enabled,
		MaxDropPct:   cfg.Alerting.MaxDropPct,
		Channels:     cfg.Alerting.Channels,
		LockKey:      cfg.Scheduler.AdvisoryLockKey,
		LookbackDays: cfg.Scheduler.LookbackDays,
	}, nil
}

// Dependencies are the collaborators of the service. Every field may be
// nil: a nil fetcher makes its source unavailable, the others are skipped.
type Dependencies struct {
	Real      fetcher.RealFetcher
	Synthetic fetcher.SyntheticFetcher
	Store     storage.RunStore
	Exporter  *export.Exporter
	Notifier  alerting.Notifier
	Metrics   *metrics.Recorder
	Scheduler *scheduler.Scheduler
}

// Result is the outcome of one integration call.
type Result struct {
	Run        storage.RunRecord
	Plan       Plan
	Dataset    merge.MergedDataset
	Files      []string
	Assessment alerting.Assessment
	Persisted  bool
}

// Service orchestrates resolution, fetching, merging and the downstream
// collaborators.
type Service struct {
	opts   Options
	deps   Dependencies
	engine *merge.Engine
	locker storage.AdvisoryLocker
	logger zerolog.Logger
}

// New constructs the integration service.
func New(opts Options, deps Dependencies, logger zerolog.Logger) (*Service, error) {
	engine, err := merge.NewEngine(opts.Merge)
	if err != nil {
		return nil, err
	}
	if opts.Calendar == nil {
		opts.Calendar = calendar.New()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		opts:   opts,
		deps:   deps,
		engine: engine,
		locker: locker,
		logger: logger.With().Str("component", "service").Logger(),
	}, nil
}

// Integrate runs one integration call. Only malformed contracts, a
// degenerate range or cancellation fail it; missing sources and quality
// problems end up in the provenance.
func (s *Service) Integrate(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	plan, err := BuildPlan(req, s.opts.Calendar)
	if err != nil {
		s.deps.Metrics.ObserveFailure()
		return nil, err
	}
	instrument := plan.Instrument()

	inputs, err := s.fetch(ctx, req, plan)
	if err != nil {
		s.deps.Metrics.ObserveFailure()
		return nil, err
	}

	ds, err := s.engine.Merge(inputs...)
	if err != nil {
		s.deps.Metrics.ObserveFailure()
		return nil, fmt.Errorf("merge %s: %w", instrument, err)
	}

	res := &Result{Plan: plan, Dataset: ds}
	res.Run, err = s.runRecord(req, plan, ds)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("instrument", instrument).
		Str("run_id", res.Run.ID.String()).
		Str("status", res.Run.Status).
		Int("windows", len(plan.Windows)).
		Int("records", ds.Len()).
		Int("dropped", ds.Provenance.TotalDropped()).
		Int("duplicates", ds.Provenance.Duplicates).
		Msg("integration merged")
	for src, rep := range ds.Provenance.Sources {
		s.logger.Debug().Str("source", string(src)).
			Str("status", string(rep.Status)).
			Int("trades_in", rep.TradesIn).
			Int("quotes_in", rep.QuotesIn).
			Int("contributed", rep.Contributed()).
			Msg("source summary")
	}

	if s.deps.Store != nil {
		saved, err := s.deps.Store.SaveRun(ctx, res.Run, storage.RowsFromDataset(ds))
		if err != nil {
			s.logger.Error().Err(err).Str("run_id", res.Run.ID.String()).Msg("failed to persist run")
		} else {
			res.Run = saved
			res.Persisted = true
		}
	}

	if s.deps.Exporter != nil {
		meta := export.Meta{RunID: res.Run.ID, Instrument: instrument, From: req.Start, To: req.End}
		res.Files, err = s.deps.Exporter.Export(ctx, meta, ds)
		if err != nil {
			s.logger.Error().Err(err).Str("run_id", res.Run.ID.String()).Msg("failed to export run")
		}
	}

	s.deps.Metrics.ObserveRun(res.Run.Status, ds.Provenance, time.Since(started))

	res.Assessment = alerting.Assess(ds, s.opts.MaxDropPct)
	if res.Assessment.Alert() {
		s.logger.Warn().Str("instrument", instrument).
			Strs("issues", res.Assessment.Issues).
			Msg("data quality issues")
		s.notify(ctx, req, res)
	}
	return res, nil
}

// windowResult holds one window's fetch outcome.
type windowResult[P any] struct {
	payload P
	err     error
}

func (s *Service) fetch(ctx context.Context, req Request, plan Plan) ([]merge.Input, error) {
	requests := plan.Requests()
	wantSynthetic := req.IncludeSynthetic && len(plan.Specs) > 1

	realResults := make([]windowResult[*merge.RealPayload], len(requests))
	synthResults := make([]windowResult[*merge.SyntheticPayload], len(requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, fr := range requests {
		if req.IncludeReal && s.deps.Real != nil {
			g.Go(func() error {
				p, err := s.deps.Real.FetchReal(gctx, fr)
				if err != nil && gctx.Err() != nil {
					return gctx.Err()
				}
				realResults[i] = windowResult[*merge.RealPayload]{payload: p, err: err}
				return nil
			})
		}
		if wantSynthetic && s.deps.Synthetic != nil {
			g.Go(func() error {
				p, err := s.deps.Synthetic.FetchSynthetic(gctx, fr)
				if err != nil && gctx.Err() != nil {
					return gctx.Err()
				}
				synthResults[i] = windowResult[*merge.SyntheticPayload]{payload: p, err: err}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	realIn := merge.Input{Source: record.SourceReal, Disabled: !req.IncludeReal}
	if req.IncludeReal {
		if s.deps.Real == nil {
			realIn.Err = errors.New("real fetcher not configured")
		} else {
			payload := &merge.RealPayload{}
			realIn.Err = gather(s.logger, record.SourceReal, requests, realResults, func(p *merge.RealPayload) {
				payload.Trades = append(payload.Trades, p.Trades...)
				payload.Orders = append(payload.Orders, p.Orders...)
			})
			realIn.Payload = payload
		}
	}

	synthIn := merge.Input{Source: record.SourceSynthetic, Disabled: !wantSynthetic}
	if wantSynthetic {
		if s.deps.Synthetic == nil {
			synthIn.Err = errors.New("synthetic fetcher not configured")
		} else {
			payload := &merge.SyntheticPayload{}
			synthIn.Err = gather(s.logger, record.SourceSynthetic, requests, synthResults, func(p *merge.SyntheticPayload) {
				payload.Trades = append(payload.Trades, p.Trades...)
				payload.Quotes = append(payload.Quotes, p.Quotes...)
			})
			synthIn.Payload = payload
		}
	}
	return []merge.Input{realIn, synthIn}, nil
}

// gather concatenates the successful windows. Failed windows are logged and
// skipped; the source is only unavailable when every window failed.
func gather[P any](logger zerolog.Logger, src record.Source, requests []fetcher.Request, results []windowResult[P], add func(P)) error {
	var errs []error
	for i, r := range results {
		if r.err != nil {
			logger.Warn().Err(r.err).
				Str("source", string(src)).
				Str("instrument", requests[i].Instrument()).
				Time("from", requests[i].From).
				Msg("window fetch failed")
			errs = append(errs, r.err)
			continue
		}
		add(r.payload)
	}
	if len(results) > 0 && len(errs) == len(results) {
		return errors.Join(errs...)
	}
	return nil
}

func (s *Service) runRecord(req Request, plan Plan, ds merge.MergedDataset) (storage.RunRecord, error) {
	prov, err := json.Marshal(ds.Provenance)
	if err != nil {
		return storage.RunRecord{}, fmt.Errorf("encode provenance: %w", err)
	}
	contracts := make([]string, len(plan.Specs))
	for i, spec := range plan.Specs {
		contracts[i] = spec.Canonical()
	}
	return storage.RunRecord{
		ID:           uuid.New(),
		Instrument:   plan.Instrument(),
		Contracts:    contracts,
		Coefficients: plan.Coefficients,
		PeriodStart:  calendar.Day(req.Start),
		PeriodEnd:    calendar.Day(req.End),
		NS:           req.NS,
		Status:       storage.RunStatus(ds),
		Trades:       len(ds.Trades()),
		Quotes:       len(ds.Quotes()),
		Dropped:      ds.Provenance.TotalDropped(),
		Duplicates:   ds.Provenance.Duplicates,
		Provenance:   prov,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (s *Service) notify(ctx context.Context, req Request, res *Result) {
	if !s.opts.AlertsOn || s.deps.Notifier == nil {
		return
	}
	dropped := make(map[string]int, len(res.Dataset.Provenance.Dropped))
	for reason, n := range res.Dataset.Provenance.Dropped {
		dropped[string(reason)] = n
	}
	note := alerting.Notification{
		RunID:        res.Run.ID,
		Instrument:   res.Run.Instrument,
		From:         req.Start,
		To:           req.End,
		Status:       res.Run.Status,
		Issues:       res.Assessment.Issues,
		DropPct:      res.Assessment.DropPct,
		ThresholdPct: decimal.NewFromFloat(s.opts.MaxDropPct),
		Dropped:      dropped,
		Channels:     s.opts.Channels,
	}
	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("run_id", res.Run.ID.String()).Msg("failed to dispatch alert")
	}
}
