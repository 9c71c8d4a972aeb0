package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRound_HalfUp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.005", "1.01"},
		{"1.004", "1"},
		{"2.675", "2.68"},
		{"8884.8788", "8884.88"},
		{"-1.005", "-1.01"},
		{"10", "10"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Round(decimal.RequireFromString(tt.in))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "Round(%s) = %s, want %s", tt.in, got, tt.want)
		})
	}
}

func TestIsMinorUnitPrecise(t *testing.T) {
	assert.True(t, IsMinorUnitPrecise(decimal.RequireFromString("100000")))
	assert.True(t, IsMinorUnitPrecise(decimal.RequireFromString("0.01")))
	assert.False(t, IsMinorUnitPrecise(decimal.RequireFromString("0.001")))
}

func TestWithinMinorUnit(t *testing.T) {
	a := decimal.RequireFromString("100.00")
	assert.True(t, WithinMinorUnit(a, decimal.RequireFromString("100.01")))
	assert.True(t, WithinMinorUnit(a, decimal.RequireFromString("99.99")))
	assert.False(t, WithinMinorUnit(a, decimal.RequireFromString("100.02")))
}

func TestNonNegative(t *testing.T) {
	assert.True(t, NonNegative(decimal.NewFromInt(-5)).IsZero())
	assert.True(t, NonNegative(decimal.NewFromInt(5)).Equal(decimal.NewFromInt(5)))
}

func TestPercent(t *testing.T) {
	tests := []struct {
		name        string
		part, whole int64
		want        int
	}{
		{"nothing repaid", 0, 500000, 0},
		{"half", 250000, 500000, 50},
		{"rounds half up", 1, 8, 13},
		{"rounds down", 1, 3, 33},
		{"overpaid caps", 120000, 100000, 100},
		{"zero whole", 100, 0, 0},
		{"negative whole", 100, -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percent(decimal.NewFromInt(tt.part), decimal.NewFromInt(tt.whole)))
		})
	}
}

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0, ClampPercent(-3))
	assert.Equal(t, 42, ClampPercent(42))
	assert.Equal(t, 100, ClampPercent(130))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"numeric string", "150000.00", "150000"},
		{"padded string", " 12.5 ", "12.5"},
		{"grouped string", "1,250.75", "1250.75"},
		{"json number", json.Number("42.10"), "42.1"},
		{"float", 99.95, "99.95"},
		{"int", 7, "7"},
		{"int64", int64(8), "8"},
		{"decimal", decimal.NewFromInt(3), "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []any{"", "abc", nil, true, []int{1}} {
		_, err := Parse(in)
		assert.Error(t, err, "Parse(%v)", in)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"8884.88", "8,884.88"},
		{"100000", "100,000.00"},
		{"999.999", "1,000.00"},
		{"12", "12.00"},
		{"0", "0.00"},
		{"-1234567.8", "-1,234,567.80"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(decimal.RequireFromString(tt.in)))
	}
}
