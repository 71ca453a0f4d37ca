package contract

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParse(t *testing.T) {
	cases := []struct {
		in       string
		market   string
		product  Product
		tenor    Tenor
		delivery time.Time
	}{
		{"debm07_25", "de", ProductBase, TenorMonth, date(2025, 7, 1)},
		{"demb07_25", "de", ProductBase, TenorMonth, date(2025, 7, 1)},
		{"frbm07_25", "fr", ProductBase, TenorMonth, date(2025, 7, 1)},
		{"depm12_25", "de", ProductPeak, TenorMonth, date(2025, 12, 1)},
		{"ttfbq3_25", "ttf", ProductBase, TenorQuarter, date(2025, 7, 1)},
		{"DEBQ4_25", "de", ProductBase, TenorQuarter, date(2025, 10, 1)},
		{"debY26", "de", ProductBase, TenorYear, date(2026, 1, 1)},
		{"nlbw02_25", "nl", ProductBase, TenorWeek, date(2025, 1, 6)},
		{"debd2025-06-30", "de", ProductBase, TenorDay, date(2025, 6, 30)},
		{"debm01_99", "de", ProductBase, TenorMonth, date(1999, 1, 1)},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			spec, err := Parse(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.market, spec.Market)
			assert.Equal(t, tc.product, spec.Product)
			assert.Equal(t, tc.tenor, spec.Tenor)
			assert.True(t, tc.delivery.Equal(spec.Delivery), "delivery = %s, want %s", spec.Delivery, tc.delivery)
		})
	}
}

func TestParseCanonicalisesLetterOrder(t *testing.T) {
	spec := MustParse("demb07_25")
	assert.Equal(t, "debm07_25", spec.Canonical())
}

func TestParseMalformed(t *testing.T) {
	inputs := []string{
		"",
		"db07_25",
		"dexxbm07_25",
		"dexm07_25",
		"debm13_25",
		"debm07-25",
		"debq5_25",
		"debm07_2025",
		"debw54_25",
		"debd2025-02-30",
		"debm",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedIdentifier))

			var target *MalformedIdentifierError
			require.True(t, errors.As(err, &target))
			assert.Equal(t, in, target.Input)
			assert.NotEmpty(t, target.Reason)
		})
	}
}

func TestParseAllIsolatesFailures(t *testing.T) {
	specs, errs := ParseAll([]string{"debm07_25", "bogus", "frbm08_25"})
	require.Len(t, specs, 3)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], ErrMalformedIdentifier)
	assert.NoError(t, errs[2])
	assert.Equal(t, "fr", specs[2].Market)
}

func TestDeliveryEnd(t *testing.T) {
	assert.Equal(t, date(2025, 8, 1), MustParse("debm07_25").DeliveryEnd())
	assert.Equal(t, date(2026, 1, 1), MustParse("debq4_25").DeliveryEnd())
	assert.Equal(t, date(2027, 1, 1), MustParse("deby26").DeliveryEnd())
	assert.Equal(t, date(2025, 1, 13), MustParse("debw02_25").DeliveryEnd())
}

func TestPeriodIndexDistances(t *testing.T) {
	jul := MustParse("debm07_25")
	assert.Equal(t, 1, jul.DeliveryIndex()-jul.PeriodIndex(date(2025, 6, 24)))
	assert.Equal(t, 7, jul.DeliveryIndex()-jul.PeriodIndex(date(2024, 12, 31)))

	q4 := MustParse("debq4_25")
	assert.Equal(t, 2, q4.DeliveryIndex()-q4.PeriodIndex(date(2025, 6, 2)))

	week := MustParse("debw02_25")
	assert.Equal(t, 1, week.DeliveryIndex()-week.PeriodIndex(date(2025, 1, 5)))
	assert.Equal(t, 0, week.DeliveryIndex()-week.PeriodIndex(date(2025, 1, 12)))
}
