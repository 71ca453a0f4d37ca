package calendar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestIsBusinessDay(t *testing.T) {
	cal := New(d(2025, 12, 25))

	assert.True(t, cal.IsBusinessDay(d(2025, 6, 30)))
	assert.False(t, cal.IsBusinessDay(d(2025, 6, 28)), "saturday")
	assert.False(t, cal.IsBusinessDay(d(2025, 6, 29)), "sunday")
	assert.False(t, cal.IsBusinessDay(d(2025, 12, 25)), "holiday")
	assert.False(t, cal.IsBusinessDay(time.Date(2025, 12, 25, 15, 30, 0, 0, time.UTC)), "time of day ignored")
}

func TestNilCalendarIsWeekendOnly(t *testing.T) {
	var cal *BusinessDays
	assert.True(t, cal.IsBusinessDay(d(2025, 12, 25)))
	assert.False(t, cal.IsBusinessDay(d(2025, 12, 27)))
}

func TestLastBusinessDays(t *testing.T) {
	cal := New()
	got := LastBusinessDays(cal, 2025, time.June, 3)
	require.Len(t, got, 3)
	assert.Equal(t, d(2025, 6, 30), got[0])
	assert.Equal(t, d(2025, 6, 27), got[1])
	assert.Equal(t, d(2025, 6, 26), got[2])

	assert.Empty(t, LastBusinessDays(cal, 2025, time.June, 0))
}

func TestLastBusinessDaysLeapFebruary(t *testing.T) {
	cal := New()
	got := LastBusinessDays(cal, 2024, time.February, 1)
	require.Len(t, got, 1)
	assert.Equal(t, d(2024, 2, 29), got[0])
}

func TestLastBusinessDaysSkipsHolidays(t *testing.T) {
	cal := New(d(2025, 12, 31))
	got := LastBusinessDays(cal, 2025, time.December, 2)
	require.Len(t, got, 2)
	assert.Equal(t, d(2025, 12, 30), got[0])
	assert.Equal(t, d(2025, 12, 29), got[1])
}

func TestAddBusinessDays(t *testing.T) {
	cal := New()
	assert.Equal(t, d(2025, 6, 30), AddBusinessDays(cal, d(2025, 6, 27), 1))
	assert.Equal(t, d(2025, 6, 26), AddBusinessDays(cal, d(2025, 6, 30), -2))
	assert.Equal(t, d(2025, 6, 27), AddBusinessDays(cal, d(2025, 6, 27), 0))
}

func TestBusinessDaysBetween(t *testing.T) {
	cal := New()
	assert.Equal(t, 5, BusinessDaysBetween(cal, d(2025, 6, 23), d(2025, 6, 30)))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "holidays.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: eex\nholidays:\n  - 2025-12-25\n  - 2025-12-26\n"), 0o600))

	cal, err := LoadFile(path, "2026-01-01")
	require.NoError(t, err)
	assert.Equal(t, 3, cal.Holidays())
	assert.False(t, cal.IsBusinessDay(d(2025, 12, 26)))
	assert.False(t, cal.IsBusinessDay(d(2026, 1, 1)))
}

func TestParseHolidaysRejectsGarbage(t *testing.T) {
	_, err := ParseHolidays([]string{"25/12/2025"})
	assert.Error(t, err)
}
