package contract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedIdentifier is matched by every identifier parsing failure.
var ErrMalformedIdentifier = errors.New("malformed contract identifier")

// MalformedIdentifierError reports why an identifier could not be resolved.
type MalformedIdentifierError struct {
	Input  string
	Reason string
}

func (e *MalformedIdentifierError) Error() string {
	return fmt.Sprintf("malformed contract identifier %q: %s", e.Input, e.Reason)
}

// Is lets errors.Is match ErrMalformedIdentifier.
func (e *MalformedIdentifierError) Is(target error) bool {
	return target == ErrMalformedIdentifier
}

// Product is the load profile of a power/gas contract.
type Product byte

const (
	ProductBase Product = 'b'
	ProductPeak Product = 'p'
)

func (p Product) String() string {
	switch p {
	case ProductBase:
		return "base"
	case ProductPeak:
		return "peak"
	default:
		return "unknown"
	}
}

// Tenor is the length class of the delivery period.
type Tenor byte

const (
	TenorDay     Tenor = 'd'
	TenorWeek    Tenor = 'w'
	TenorMonth   Tenor = 'm'
	TenorQuarter Tenor = 'q'
	TenorYear    Tenor = 'y'
)

func (t Tenor) String() string {
	switch t {
	case TenorDay:
		return "day"
	case TenorWeek:
		return "week"
	case TenorMonth:
		return "month"
	case TenorQuarter:
		return "quarter"
	case TenorYear:
		return "year"
	default:
		return "unknown"
	}
}

func isProduct(c byte) bool {
	return c == byte(ProductBase) || c == byte(ProductPeak)
}

func isTenor(c byte) bool {
	switch Tenor(c) {
	case TenorDay, TenorWeek, TenorMonth, TenorQuarter, TenorYear:
		return true
	}
	return false
}

// ContractSpec is an absolute, delivery-dated instrument. It is built once by
// Parse and never mutated.
type ContractSpec struct {
	Market   string
	Product  Product
	Tenor    Tenor
	Token    string
	Delivery time.Time
}

// Canonical renders the identifier in market+product+tenor+token order.
func (c ContractSpec) Canonical() string {
	return c.Market + string(c.Product) + string(c.Tenor) + c.Token
}

func (c ContractSpec) String() string {
	return c.Canonical()
}

// DeliveryEnd returns the exclusive end of the delivery period.
func (c ContractSpec) DeliveryEnd() time.Time {
	switch c.Tenor {
	case TenorDay:
		return c.Delivery.AddDate(0, 0, 1)
	case TenorWeek:
		return c.Delivery.AddDate(0, 0, 7)
	case TenorMonth:
		return c.Delivery.AddDate(0, 1, 0)
	case TenorQuarter:
		return c.Delivery.AddDate(0, 3, 0)
	default:
		return c.Delivery.AddDate(1, 0, 0)
	}
}

// PeriodIndex is the ordinal of the tenor period that contains t. The
// difference of two indices is a distance in whole delivery periods.
func (c ContractSpec) PeriodIndex(t time.Time) int {
	return PeriodIndex(c.Tenor, t)
}

// DeliveryIndex is the ordinal of the contract's own delivery period.
func (c ContractSpec) DeliveryIndex() int {
	return PeriodIndex(c.Tenor, c.Delivery)
}

// PeriodIndex is the ordinal of the tenor period containing t, using the
// civil date of t.
func PeriodIndex(tenor Tenor, t time.Time) int {
	y, m, d := t.Date()
	switch tenor {
	case TenorDay:
		return daysSinceEpoch(y, m, d)
	case TenorWeek:
		// 1970-01-05 was a Monday.
		return floorDiv(daysSinceEpoch(y, m, d)-4, 7)
	case TenorMonth:
		return y*12 + int(m) - 1
	case TenorQuarter:
		return y*4 + (int(m)-1)/3
	default:
		return y
	}
}

func daysSinceEpoch(y int, m time.Month, d int) int {
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Parse resolves an identifier such as "debm07_25" or "ttfbq3_25".
//
// The alphabetic prefix carries a 2 or 3 letter market code followed by the
// product and tenor letters. Product and tenor sets are disjoint, so either
// order is accepted. The remainder is the period token whose grammar depends
// on the tenor.
func Parse(id string) (ContractSpec, error) {
	raw := strings.ToLower(strings.TrimSpace(id))

	split := 0
	for split < len(raw) && raw[split] >= 'a' && raw[split] <= 'z' {
		split++
	}
	prefix, token := raw[:split], raw[split:]

	if len(prefix) != 4 && len(prefix) != 5 {
		return ContractSpec{}, malformed(id, "expected 2-3 letter market code followed by product and tenor letters")
	}
	if token == "" {
		return ContractSpec{}, malformed(id, "missing period token")
	}

	market := prefix[:len(prefix)-2]
	a, b := prefix[len(prefix)-2], prefix[len(prefix)-1]

	var product Product
	var tenor Tenor
	switch {
	case isProduct(a) && isTenor(b):
		product, tenor = Product(a), Tenor(b)
	case isTenor(a) && isProduct(b):
		product, tenor = Product(b), Tenor(a)
	default:
		return ContractSpec{}, malformed(id, fmt.Sprintf("unknown product/tenor letters %q", string([]byte{a, b})))
	}

	delivery, err := deliveryDate(tenor, token)
	if err != nil {
		return ContractSpec{}, malformed(id, err.Error())
	}

	return ContractSpec{
		Market:   market,
		Product:  product,
		Tenor:    tenor,
		Token:    token,
		Delivery: delivery,
	}, nil
}

// ParseAll resolves a batch. A malformed entry yields a zero spec and an
// error at the same index without affecting the others.
func ParseAll(ids []string) ([]ContractSpec, []error) {
	specs := make([]ContractSpec, len(ids))
	errs := make([]error, len(ids))
	for i, id := range ids {
		specs[i], errs[i] = Parse(id)
	}
	return specs, errs
}

// MustParse is Parse for fixed identifiers in tests and examples.
func MustParse(id string) ContractSpec {
	spec, err := Parse(id)
	if err != nil {
		panic(err)
	}
	return spec
}

func malformed(id, reason string) error {
	return &MalformedIdentifierError{Input: id, Reason: reason}
}

func deliveryDate(tenor Tenor, token string) (time.Time, error) {
	switch tenor {
	case TenorDay:
		d, err := time.Parse("2006-01-02", token)
		if err != nil {
			return time.Time{}, fmt.Errorf("day token must be YYYY-MM-DD")
		}
		return d, nil

	case TenorWeek:
		week, year, err := splitToken(token)
		if err != nil {
			return time.Time{}, err
		}
		return isoWeekStart(year, week)

	case TenorMonth:
		month, year, err := splitToken(token)
		if err != nil {
			return time.Time{}, err
		}
		if month < 1 || month > 12 {
			return time.Time{}, fmt.Errorf("month %d out of range", month)
		}
		return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), nil

	case TenorQuarter:
		quarter, year, err := splitToken(token)
		if err != nil {
			return time.Time{}, err
		}
		if quarter < 1 || quarter > 4 {
			return time.Time{}, fmt.Errorf("quarter %d out of range", quarter)
		}
		return time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC), nil

	default:
		year, err := twoDigitYear(token)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	}
}

// splitToken parses "<n>_<yy>".
func splitToken(token string) (int, int, error) {
	left, right, ok := strings.Cut(token, "_")
	if !ok {
		return 0, 0, fmt.Errorf("period token %q must be <number>_<yy>", token)
	}
	n, err := strconv.Atoi(left)
	if err != nil {
		return 0, 0, fmt.Errorf("period number %q is not numeric", left)
	}
	year, err := twoDigitYear(right)
	if err != nil {
		return 0, 0, err
	}
	return n, year, nil
}

func twoDigitYear(s string) (int, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("year %q must have two digits", s)
	}
	yy, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("year %q is not numeric", s)
	}
	if yy < 50 {
		return 2000 + yy, nil
	}
	return 1900 + yy, nil
}

func isoWeekStart(year, week int) (time.Time, error) {
	if week < 1 || week > 53 {
		return time.Time{}, fmt.Errorf("week %d out of range", week)
	}
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	start := jan4.AddDate(0, 0, -offset+(week-1)*7)
	if y, w := start.ISOWeek(); y != year || w != week {
		return time.Time{}, fmt.Errorf("week %d does not exist in %d", week, year)
	}
	return start, nil
}
