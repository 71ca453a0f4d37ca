package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"spread-sync/internal/calendar"
)

// TickFunc is invoked once per business day with that day at midnight UTC.
type TickFunc func(ctx context.Context, day time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// RunAt is the local wall-clock time of the daily run, "HH:MM".
	RunAt        string
	Location     *time.Location
	Calendar     calendar.Calendar
	StartupDelay time.Duration
}

// Scheduler fires once a day after the close, skipping closed days.
type Scheduler struct {
	opts   Options
	at     time.Duration
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	at, err := parseClock(opts.RunAt)
	if err != nil {
		return nil, fmt.Errorf("scheduler run_at: %w", err)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Calendar == nil {
		opts.Calendar = calendar.New()
	}
	return &Scheduler{opts: opts, at: at, logger: logger.With().Str("component", "scheduler").Logger()}, nil
}

// Run blocks, invoking the tick function on every business day until ctx is
// cancelled. A failed tick is logged and the loop continues.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for {
		next := s.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		s.logger.Debug().Time("next_run", next).Msg("waiting for next run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		day := calendar.Day(next.In(s.opts.Location))
		s.logger.Info().Time("day", day).Msg("executing scheduled run")

		if err := tick(ctx, day); err != nil {
			s.logger.Error().Err(err).Time("day", day).Msg("scheduled run failed")
		}
	}
}

// Next returns the first run instant strictly after now that falls on a
// business day.
func (s *Scheduler) Next(now time.Time) time.Time {
	local := now.In(s.opts.Location)
	y, m, d := local.Date()
	candidate := time.Date(y, m, d, 0, 0, 0, 0, s.opts.Location).Add(s.at)
	for i := 0; i < 370; i++ {
		if candidate.After(now) && s.opts.Calendar.IsBusinessDay(calendar.Day(candidate)) {
			return candidate
		}
		y, m, d = candidate.Date()
		candidate = time.Date(y, m, d+1, 0, 0, 0, 0, s.opts.Location).Add(s.at)
	}
	return candidate
}

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q, want HH:MM", v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
