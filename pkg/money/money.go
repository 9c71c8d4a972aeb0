// Package money centralizes the rounding, percentage and parsing rules shared
// by the amortization calculator and the ledger reconcilers.
package money

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of fractional digits of the currency's minor
// unit (kobo for naira, cents for dollars).
const MinorUnitPlaces = 2

var (
	// MinorUnit is the smallest representable amount, 0.01.
	MinorUnit = decimal.New(1, -MinorUnitPlaces)

	hundred = decimal.NewFromInt(100)
)

// Round rounds d to the minor unit, half away from zero.
//
// All monetary values leaving the calculator or the reconcilers pass through
// here exactly once.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}

// IsMinorUnitPrecise reports whether d carries no digits below the minor unit.
func IsMinorUnitPrecise(d decimal.Decimal) bool {
	return Round(d).Equal(d)
}

// NonNegative clamps d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// WithinMinorUnit reports whether a and b differ by at most one minor unit.
func WithinMinorUnit(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(MinorUnit)
}

// ClampPercent bounds p to [0, 100].
func ClampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Percent returns round(100 * min(part, whole) / whole) as an integer in
// [0, 100]. A non-positive whole yields 0.
func Percent(part, whole decimal.Decimal) int {
	if !whole.IsPositive() {
		return 0
	}
	if part.GreaterThan(whole) {
		part = whole
	}
	p := part.Mul(hundred).DivRound(whole, 8).Round(0)
	return ClampPercent(int(p.IntPart()))
}

// Parse converts a loosely typed JSON value into a decimal. Decimal columns
// frequently arrive as numeric strings ("150000.00"), so strings are accepted
// alongside numbers.
func Parse(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero, fmt.Errorf("empty amount")
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid amount %q: %w", x, err)
		}
		return d, nil
	case json.Number:
		return Parse(x.String())
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	case nil:
		return decimal.Zero, fmt.Errorf("missing amount")
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}

// Format renders an amount at minor-unit precision with comma thousands
// separators, e.g. 8884.88 -> "8,884.88".
func Format(d decimal.Decimal) string {
	s := Round(d).StringFixed(MinorUnitPlaces)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
