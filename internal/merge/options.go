package merge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"spread-sync/internal/record"
	"spread-sync/internal/validate"
)

// SyntheticBrokerID tags trades derived from the synthetic spread.
const SyntheticBrokerID = 9999

// DefaultSyntheticBuffer is the distance from the prevailing synthetic quote
// inside which synthetic trades are treated as quote crossings.
const DefaultSyntheticBuffer = 0.001

// Options configure one Engine. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	BidAskMode    validate.Mode
	BidAskEpsilon float64

	// Outlier is nil when the outlier stage is disabled.
	Outlier *validate.OutlierOptions

	// DuplicateTolerance is the maximum timestamp distance between two trades
	// describing the same execution.
	DuplicateTolerance time.Duration
	// DuplicateEpsilon is the price and volume tolerance for duplicates.
	DuplicateEpsilon float64

	// QuoteBucket truncates quote timestamps before best-of selection. Zero
	// uses exact timestamps.
	QuoteBucket time.Duration
	// QuoteTTL keeps a source's last quote active for later buckets. Zero
	// means a quote is active only in its own bucket.
	QuoteTTL time.Duration

	// SourcePriority orders sources at equal timestamps. Sources not listed
	// rank after listed ones, in input order.
	SourcePriority []record.Source

	// Session drops records outside the trading session. Nil disables.
	Session *Session

	// AllowedBrokers restricts non-synthetic trades to these broker ids.
	// Empty disables the filter.
	AllowedBrokers []int

	// SyntheticBuffer enables the synthetic crossing adjustment when positive.
	SyntheticBuffer float64
}

// DefaultOptions mirror the desk defaults.
func DefaultOptions() Options {
	return Options{
		BidAskMode:    validate.ModeStrict,
		BidAskEpsilon: validate.DefaultEpsilon,
		Outlier: &validate.OutlierOptions{
			Threshold:    3,
			Window:       20,
			Lookback:     2 * time.Hour,
			MaxPctChange: 8,
		},
		DuplicateTolerance: time.Second,
		DuplicateEpsilon:   1e-6,
		SourcePriority:     []record.Source{record.SourceReal, record.SourceSynthetic},
		SyntheticBuffer:    DefaultSyntheticBuffer,
	}
}

func (o Options) validate() error {
	var errs []error
	if _, err := validate.NewBidAsk(o.BidAskMode, o.BidAskEpsilon); err != nil {
		errs = append(errs, err)
	}
	if o.Outlier != nil {
		if _, err := validate.NewOutlierDetector(*o.Outlier); err != nil {
			errs = append(errs, err)
		}
	}
	if o.DuplicateTolerance < 0 {
		errs = append(errs, errors.New("duplicate tolerance cannot be negative"))
	}
	if o.DuplicateEpsilon < 0 {
		errs = append(errs, errors.New("duplicate epsilon cannot be negative"))
	}
	if o.QuoteBucket < 0 || o.QuoteTTL < 0 {
		errs = append(errs, errors.New("quote bucket and ttl cannot be negative"))
	}
	if o.SyntheticBuffer < 0 {
		errs = append(errs, errors.New("synthetic buffer cannot be negative"))
	}
	seen := make(map[record.Source]bool, len(o.SourcePriority))
	for _, src := range o.SourcePriority {
		if src == "" {
			errs = append(errs, errors.New("source priority contains an empty source"))
			continue
		}
		if seen[src] {
			errs = append(errs, fmt.Errorf("source %q listed twice in priority", src))
		}
		seen[src] = true
	}
	if o.Session != nil && o.Session.End <= o.Session.Start {
		errs = append(errs, fmt.Errorf("session end %s must follow start %s", o.Session.End, o.Session.Start))
	}
	return errors.Join(errs...)
}

// Session is a daily trading window [Start, End) as offsets from local
// midnight in Location.
type Session struct {
	Start    time.Duration
	End      time.Duration
	Location *time.Location
}

// ParseSession reads "HH:MM" bounds. A nil location means UTC.
func ParseSession(start, end string, loc *time.Location) (*Session, error) {
	s, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("session start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("session end: %w", err)
	}
	if e <= s {
		return nil, fmt.Errorf("session end %s must follow start %s", end, start)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Session{Start: s, End: e, Location: loc}, nil
}

// Contains reports whether t falls inside the session on its local day.
func (s *Session) Contains(t time.Time) bool {
	if s == nil {
		return true
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	offset := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
	return offset >= s.Start && offset < s.End
}

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", v, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
