package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-sync/internal/record"
)

var t0 = time.Date(2025, 6, 24, 9, 0, 0, 0, time.UTC)

func quote(bid, ask float64) record.Quote {
	return record.NewQuote(t0, record.SourceReal, &bid, &ask)
}

func TestBidAskStrictDropsCrossedQuote(t *testing.T) {
	v, err := NewBidAsk(ModeStrict, 0)
	require.NoError(t, err)

	res := v.Validate([]record.Quote{quote(33.45, 33.44)})
	assert.Empty(t, res.Quotes)
	assert.Equal(t, 1, res.Violations)
}

func TestBidAskLenientFlagsCrossedQuote(t *testing.T) {
	v, err := NewBidAsk(ModeLenient, 0)
	require.NoError(t, err)

	in := []record.Quote{quote(33.45, 33.44)}
	res := v.Validate(in)
	require.Len(t, res.Quotes, 1)
	assert.True(t, res.Quotes[0].Invalid)
	assert.Equal(t, 1, res.Violations)
	assert.False(t, in[0].Invalid, "input must not be modified")
}

func TestBidAskNeverFlagsNonNegativeSpread(t *testing.T) {
	for _, mode := range []Mode{ModeStrict, ModeLenient} {
		v, err := NewBidAsk(mode, 0)
		require.NoError(t, err)

		quotes := []record.Quote{
			quote(10, 10),
			quote(10, 10.5),
			quote(0.1+0.2, 0.3),
			quote(33.45, 33.45-DefaultEpsilon/2),
		}
		res := v.Validate(quotes)
		assert.Len(t, res.Quotes, len(quotes), string(mode))
		assert.Zero(t, res.Violations)
		for _, q := range res.Quotes {
			assert.False(t, q.Invalid)
		}
	}
}

func TestBidAskStrictAndLenientAreExclusive(t *testing.T) {
	crossed := []record.Quote{quote(10, 9.99), quote(5, 4), quote(1, 0.999)}

	strict, _ := NewBidAsk(ModeStrict, 0)
	lenient, _ := NewBidAsk(ModeLenient, 0)

	s := strict.Validate(crossed)
	l := lenient.Validate(crossed)

	assert.Empty(t, s.Quotes)
	assert.Equal(t, len(crossed), s.Violations)
	require.Len(t, l.Quotes, len(crossed))
	assert.Equal(t, len(crossed), l.Violations)
	for _, q := range l.Quotes {
		assert.True(t, q.Invalid)
	}
}

func TestBidAskOneSidedAndEmptyQuotes(t *testing.T) {
	v, _ := NewBidAsk(ModeStrict, 0)
	bid := 10.0
	quotes := []record.Quote{
		record.NewQuote(t0, record.SourceReal, &bid, nil),
		record.NewQuote(t0, record.SourceReal, nil, nil),
	}
	res := v.Validate(quotes)
	require.Len(t, res.Quotes, 1)
	assert.True(t, res.Quotes[0].HasBid)
	assert.Equal(t, 1, res.Empty)
	assert.Zero(t, res.Violations)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Lenient ")
	require.NoError(t, err)
	assert.Equal(t, ModeLenient, m)

	_, err = ParseMode("loose")
	assert.Error(t, err)

	_, err = NewBidAsk("loose", 0)
	assert.Error(t, err)
}

func trades(prices ...float64) []record.Trade {
	out := make([]record.Trade, len(prices))
	for i, p := range prices {
		out[i] = record.Trade{Time: t0.Add(time.Duration(i) * time.Minute), Price: p, Volume: 1, Side: record.Buy}
	}
	return out
}

func detector(t *testing.T, opts OutlierOptions) *OutlierDetector {
	t.Helper()
	d, err := NewOutlierDetector(opts)
	require.NoError(t, err)
	return d
}

func TestOutlierRemovesSpike(t *testing.T) {
	d := detector(t, OutlierOptions{Threshold: 3, Window: 5})
	res := d.Filter(trades(100, 101, 99, 100, 101, 150, 100.5))

	require.Len(t, res.Trades, 6)
	assert.Equal(t, 1, res.ZScore)
	for _, tr := range res.Trades {
		assert.NotEqual(t, 150.0, tr.Price)
	}
}

func TestOutlierNeverFlagsShortSequences(t *testing.T) {
	d := detector(t, OutlierOptions{Threshold: 0.1, Window: 10, MaxPctChange: 1})
	in := trades(1, 1000, 2, 5000, 3, 90000, 4, 1, 2)
	res := d.Filter(in)
	assert.Len(t, res.Trades, len(in))
	assert.Zero(t, res.Removed())
}

func TestOutlierFirstWindowTradesPass(t *testing.T) {
	d := detector(t, OutlierOptions{Threshold: 1, Window: 3})
	res := d.Filter(trades(10, 500, 10))
	assert.Len(t, res.Trades, 3)
	assert.Zero(t, res.Removed())
	assert.Equal(t, 500.0, res.Trades[1].Price)
}

func TestOutlierWindowRestartsAfterQuietPeriod(t *testing.T) {
	d := detector(t, OutlierOptions{Threshold: 3, Window: 5, Lookback: 30 * time.Minute})
	in := trades(100, 101, 99, 100, 101)
	late := record.Trade{Time: in[len(in)-1].Time.Add(2 * time.Hour), Price: 150, Volume: 1, Side: record.Sell}
	res := d.Filter(append(in, late))

	assert.Len(t, res.Trades, 6)
	assert.Zero(t, res.ZScore)
}

func TestOutlierWithoutLookbackComparesAcrossGap(t *testing.T) {
	d := detector(t, OutlierOptions{Threshold: 3, Window: 5})
	in := trades(100, 101, 99, 100, 101)
	late := record.Trade{Time: in[len(in)-1].Time.Add(2 * time.Hour), Price: 150, Volume: 1, Side: record.Sell}
	res := d.Filter(append(in, late))

	assert.Len(t, res.Trades, 5)
	assert.Equal(t, 1, res.ZScore)
}

func TestOutlierPctChangeGuard(t *testing.T) {
	d := detector(t, OutlierOptions{Threshold: 1000, Window: 3, MaxPctChange: 8})
	res := d.Filter(trades(100, 100.5, 99.5, 120, 101))
	assert.Len(t, res.Trades, 4)
	assert.Equal(t, 1, res.PctChange)
}

func TestOutlierFlatHistoryFlagsAnyMove(t *testing.T) {
	d := detector(t, OutlierOptions{Threshold: 3, Window: 5})
	res := d.Filter(trades(10, 10, 10, 10, 10, 50, 10))

	require.Len(t, res.Trades, 6)
	assert.Equal(t, 1, res.ZScore)
	for _, tr := range res.Trades {
		assert.Equal(t, 10.0, tr.Price)
	}
}

func TestNewOutlierDetectorRejectsBadOptions(t *testing.T) {
	for _, opts := range []OutlierOptions{
		{Threshold: 0, Window: 5},
		{Threshold: 3, Window: 1},
		{Threshold: 3, Window: 5, Lookback: -time.Second},
		{Threshold: 3, Window: 5, MaxPctChange: -1},
	} {
		_, err := NewOutlierDetector(opts)
		assert.Error(t, err)
	}
}
