package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"spread-sync/internal/alerting"
	"spread-sync/internal/config"
	"spread-sync/internal/export"
	"spread-sync/internal/fetcher"
	"spread-sync/internal/metrics"
	"spread-sync/internal/scheduler"
	"spread-sync/internal/service"
	"spread-sync/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newFetchers wires the live sources. The exchange feed lives in the same
// database as the run tables, so the real fetcher needs an open store.
func (a *App) newFetchers(store *storage.Store) (fetcher.RealFetcher, fetcher.SyntheticFetcher) {
	var realFetcher fetcher.RealFetcher
	if store != nil {
		realFetcher = fetcher.NewReal(store.Pool(), fetcher.RealOptions{
			TradesTable: a.Config.Sources.Real.TradesTable,
			OrdersTable: a.Config.Sources.Real.OrdersTable,
			Timeout:     a.Config.Sources.Real.RequestTimeout,
		}, a.Logger)
	}

	var synthetic fetcher.SyntheticFetcher
	if cfg := a.Config.Sources.Synthetic; cfg.BaseURL != "" {
		synthetic = fetcher.NewSynthetic(fetcher.SyntheticOptions{
			BaseURL:       cfg.BaseURL,
			Timeout:       cfg.RequestTimeout,
			RatePerSecond: cfg.RatePerSecond,
			Burst:         cfg.Burst,
			UserAgent:     cfg.UserAgent,
		}, a.Logger)
	}
	return realFetcher, synthetic
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newExporter(ctx context.Context, dir string, formats []string, maxPoints int) (*export.Exporter, error) {
	if len(formats) == 0 {
		return nil, nil
	}
	parsed, err := export.ParseFormats(formats)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = a.Config.Export.Dir
	}

	var uploader export.Uploader
	if s3cfg := a.Config.Export.S3; s3cfg.Enabled {
		up, err := export.NewS3Uploader(ctx, export.S3Options{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		uploader = up
	}

	return export.New(export.Options{
		Dir:       dir,
		Formats:   parsed,
		MaxPoints: a.Config.ResolveMaxPoints(maxPoints),
		Prefix:    a.Config.Export.S3.Prefix,
	}, uploader, a.Logger), nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(deps service.Dependencies) (*service.Service, error) {
	opts, err := service.OptionsFromConfig(a.Config)
	if err != nil {
		return nil, err
	}
	return service.New(opts, deps, a.Logger)
}

// request builds the configured integration request with the CLI overrides
// applied.
func (a *App) request(o RequestOptions) service.Request {
	req := service.RequestFromConfig(a.Config.Integration)
	if len(o.Contracts) > 0 {
		req.Contracts = o.Contracts
		req.Coefficients = nil
	}
	if len(o.Coefficients) > 0 {
		req.Coefficients = o.Coefficients
	}
	if o.From != nil {
		req.Start = *o.From
	}
	if o.To != nil {
		req.End = *o.To
	}
	if o.NS != nil {
		req.NS = *o.NS
	}
	if o.NoReal {
		req.IncludeReal = false
	}
	if o.NoSynthetic {
		req.IncludeSynthetic = false
	}
	return req
}

// Run executes the long-running daily integration service.
func (a *App) Run(ctx context.Context, opts RequestOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence and real feed disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	loc, err := config.Location(a.Config.Scheduler.Timezone)
	if err != nil {
		return err
	}
	cal, err := a.Config.BusinessCalendar()
	if err != nil {
		return err
	}
	sched, err := scheduler.New(scheduler.Options{
		RunAt:        a.Config.Scheduler.RunAt,
		Location:     loc,
		Calendar:     cal,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}

	exporter, err := a.newExporter(ctx, "", a.Config.Export.Formats, 0)
	if err != nil {
		return err
	}

	var recorder *metrics.Recorder
	if a.Config.Metrics.Enabled {
		recorder = metrics.New()
	}

	realFetcher, synthetic := a.newFetchers(store)
	deps := service.Dependencies{
		Real:      realFetcher,
		Synthetic: synthetic,
		Exporter:  exporter,
		Notifier:  a.newNotifier(),
		Metrics:   recorder,
		Scheduler: sched,
	}
	if store != nil {
		deps.Store = store
	}
	svc, err := a.newService(deps)
	if err != nil {
		return err
	}

	template := a.request(opts)
	g, gctx := errgroup.WithContext(ctx)
	if recorder != nil {
		g.Go(func() error {
			return recorder.Serve(gctx, a.Config.Metrics.Addr, a.Logger)
		})
	}
	g.Go(func() error {
		return svc.Run(gctx, template)
	})

	a.Logger.Info().Strs("contracts", template.Contracts).Msg("starting integration service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("integration service stopped")
	return nil
}

// RequestOptions override the configured integration request.
type RequestOptions struct {
	Contracts    []string
	Coefficients []float64
	From         *time.Time
	To           *time.Time
	NS           *int
	NoReal       bool
	NoSynthetic  bool
}

// IntegrateOptions configure a one-off integration.
type IntegrateOptions struct {
	RequestOptions
	OutDir    string
	Formats   []string
	MaxPoints int
	NoStore   bool
}

// ExportOptions hold parameters for re-exporting a stored run.
type ExportOptions struct {
	RunID     string
	OutDir    string
	Formats   []string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	RequestOptions
	DryRun  bool
	Workers int
}

// ReplayOptions configure a fixture replay.
type ReplayOptions struct {
	RequestOptions
	Dir     string
	OutDir  string
	Formats []string
}
