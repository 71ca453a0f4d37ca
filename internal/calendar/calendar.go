package calendar

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Calendar answers whether a civil date is a trading day.
type Calendar interface {
	IsBusinessDay(day time.Time) bool
}

// BusinessDays treats Saturdays, Sundays and the configured holidays as
// closed. It is read-only after construction and safe for concurrent use.
type BusinessDays struct {
	holidays map[civilDate]struct{}
}

type civilDate struct {
	year  int
	month time.Month
	day   int
}

func toCivil(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{y, m, d}
}

// New builds a weekend calendar with optional holidays.
func New(holidays ...time.Time) *BusinessDays {
	set := make(map[civilDate]struct{}, len(holidays))
	for _, h := range holidays {
		set[toCivil(h)] = struct{}{}
	}
	return &BusinessDays{holidays: set}
}

// ParseHolidays builds a calendar from YYYY-MM-DD strings.
func ParseHolidays(days []string) (*BusinessDays, error) {
	parsed := make([]time.Time, 0, len(days))
	for _, raw := range days {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, fmt.Errorf("parse holiday %q: %w", raw, err)
		}
		parsed = append(parsed, d)
	}
	return New(parsed...), nil
}

type holidayFile struct {
	Name     string   `yaml:"name"`
	Holidays []string `yaml:"holidays"`
}

// LoadFile reads a YAML document of the form:
//
//	name: eex
//	holidays:
//	  - 2025-12-25
//	  - 2025-12-26
func LoadFile(path string, extra ...string) (*BusinessDays, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holiday file: %w", err)
	}
	var doc holidayFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse holiday file: %w", err)
	}
	return ParseHolidays(append(doc.Holidays, extra...))
}

// IsBusinessDay implements Calendar.
func (b *BusinessDays) IsBusinessDay(day time.Time) bool {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if b == nil {
		return true
	}
	_, closed := b.holidays[toCivil(day)]
	return !closed
}

// Holidays reports how many holidays are configured.
func (b *BusinessDays) Holidays() int {
	if b == nil {
		return 0
	}
	return len(b.holidays)
}

// Day truncates t to midnight UTC of its civil date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthStart is the first day of the month containing t.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// LastBusinessDays returns up to n business days at the end of the month,
// latest first. Fewer are returned when the month has fewer open days.
func LastBusinessDays(cal Calendar, year int, month time.Month, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, 0, n)
	for d := first.AddDate(0, 1, -1); !d.Before(first) && len(out) < n; d = d.AddDate(0, 0, -1) {
		if cal.IsBusinessDay(d) {
			out = append(out, d)
		}
	}
	return out
}

// AddBusinessDays moves n business days from day; negative n moves back.
// The starting day itself is not counted.
func AddBusinessDays(cal Calendar, day time.Time, n int) time.Time {
	step := 1
	if n < 0 {
		step, n = -1, -n
	}
	d := Day(day)
	for n > 0 {
		d = d.AddDate(0, 0, step)
		if cal.IsBusinessDay(d) {
			n--
		}
	}
	return d
}

// BusinessDaysBetween counts open days in [from, to).
func BusinessDaysBetween(cal Calendar, from, to time.Time) int {
	count := 0
	for d := Day(from); d.Before(Day(to)); d = d.AddDate(0, 0, 1) {
		if cal.IsBusinessDay(d) {
			count++
		}
	}
	return count
}

var _ Calendar = (*BusinessDays)(nil)
