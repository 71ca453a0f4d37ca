package app

import (
	"context"
	"errors"

	"spread-sync/internal/service"
	"spread-sync/internal/storage"
)

// Backfill integrates a historical range month by month.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.From == nil || opts.To == nil {
		return errors.New("回填需要 --from 与 --to")
	}

	var store *storage.Store
	var closeStore func()
	var err error

	store, closeStore, err = a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法回填")
	}
	if closeStore != nil {
		defer closeStore()
	}

	realFetcher, synthetic := a.newFetchers(store)
	deps := service.Dependencies{Real: realFetcher, Synthetic: synthetic}
	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	} else {
		deps.Store = store
	}

	svc, err := a.newService(deps)
	if err != nil {
		return err
	}

	report, err := svc.Backfill(ctx, a.request(opts.RequestOptions), opts.Workers)
	if err != nil {
		return err
	}
	for _, res := range report.Results {
		a.Logger.Info().Str("run_id", res.Run.ID.String()).
			Time("from", res.Run.PeriodStart).
			Time("to", res.Run.PeriodEnd).
			Str("status", res.Run.Status).
			Int("records", res.Dataset.Len()).
			Msg("回填区间完成")
	}
	if report.Failed > 0 {
		return errors.New("部分区间回填失败，请检查日志")
	}
	return nil
}
