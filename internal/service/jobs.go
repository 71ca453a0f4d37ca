package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"spread-sync/internal/calendar"
)

// Run begins the daily integration loop for the template request. Each tick
// covers the configured lookback ending with the tick day.
func (s *Service) Run(ctx context.Context, template Request) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, func(ctx context.Context, day time.Time) error {
		_, err := s.RunDay(ctx, template, day)
		return err
	})
}

// RunDay 执行单个交易日的定时整合。
func (s *Service) RunDay(ctx context.Context, template Request, day time.Time) (*Result, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !proceed {
		s.logger.Debug().Time("day", day).Msg("skip run because advisory lock held elsewhere")
		return nil, nil
	}
	if unlock != nil {
		defer unlock()
	}

	start, end := s.DayRange(day)
	return s.Integrate(ctx, template.WithRange(start, end))
}

// DayRange is the scheduled range for a run day: LookbackDays business days
// ending with day, end exclusive.
func (s *Service) DayRange(day time.Time) (time.Time, time.Time) {
	day = calendar.Day(day)
	start := day
	if s.opts.LookbackDays > 1 {
		start = calendar.AddBusinessDays(s.opts.Calendar, day, -(s.opts.LookbackDays - 1))
	}
	return start, day.AddDate(0, 0, 1)
}

// BackfillReport summarises a backfill job.
type BackfillReport struct {
	Results []*Result
	Failed  int
}

// Backfill splits the request range into calendar months and integrates each
// chunk with up to workers chunks in flight. A failed chunk is logged and
// counted; only cancellation aborts the job.
func (s *Service) Backfill(ctx context.Context, req Request, workers int) (BackfillReport, error) {
	chunks := MonthlyChunks(req.Start, req.End)
	if len(chunks) == 0 {
		return BackfillReport{}, errors.New("回填范围为空，请检查 --from/--to")
	}
	if workers <= 0 {
		workers = 1
	}

	results := make([]*Result, len(chunks))
	var (
		mu     sync.Mutex
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			res, err := s.Integrate(gctx, req.WithRange(chunk[0], chunk[1]))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Error().Err(err).Time("from", chunk[0]).Time("to", chunk[1]).Msg("回填失败")
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BackfillReport{}, err
	}

	report := BackfillReport{Failed: failed}
	for _, res := range results {
		if res != nil {
			report.Results = append(report.Results, res)
		}
	}
	s.logger.Info().Int("processed", len(report.Results)).Int("failed", failed).Msg("回填完成")
	return report, nil
}

// MonthlyChunks cuts [start, end) at month boundaries.
func MonthlyChunks(start, end time.Time) [][2]time.Time {
	start, end = calendar.Day(start), calendar.Day(end)
	var out [][2]time.Time
	for cur := start; cur.Before(end); {
		next := calendar.MonthStart(cur).AddDate(0, 1, 0)
		if next.After(end) {
			next = end
		}
		out = append(out, [2]time.Time{cur, next})
		cur = next
	}
	return out
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
