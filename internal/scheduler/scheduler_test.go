package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-sync/internal/calendar"
)

func TestNextSkipsWeekendAndHolidays(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	cal := calendar.New(time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)) // Whit Monday
	s, err := New(Options{RunAt: "18:30", Location: berlin, Calendar: cal}, zerolog.Nop())
	require.NoError(t, err)

	// Friday 19:00 Berlin: today's slot has passed, weekend and holiday follow.
	now := time.Date(2025, 6, 6, 19, 0, 0, 0, berlin)
	assert.Equal(t, time.Date(2025, 6, 10, 18, 30, 0, 0, berlin), s.Next(now))

	// Same Friday before the slot.
	now = time.Date(2025, 6, 6, 10, 0, 0, 0, berlin)
	assert.Equal(t, time.Date(2025, 6, 6, 18, 30, 0, 0, berlin), s.Next(now))
}

func TestNextDefaultsToUTC(t *testing.T) {
	s, err := New(Options{RunAt: "00:05"}, zerolog.Nop())
	require.NoError(t, err)
	now := time.Date(2025, 6, 2, 0, 5, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 3, 0, 5, 0, 0, time.UTC), s.Next(now))
}

func TestNewRejectsBadClock(t *testing.T) {
	_, err := New(Options{RunAt: "25:99"}, zerolog.Nop())
	require.Error(t, err)
	_, err = New(Options{}, zerolog.Nop())
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New(Options{RunAt: "18:30", StartupDelay: time.Hour}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("tick should not run")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
