package amortization

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func terms(principal, rate string, months int) Terms {
	return Terms{Principal: dec(principal), AnnualRatePercent: dec(rate), TermMonths: months}
}

func sumPrincipal(periods []Period) decimal.Decimal {
	total := decimal.Zero
	for _, p := range periods {
		total = total.Add(p.PrincipalPortion)
	}
	return total
}

func TestCompute_TwelvePercentOneYear(t *testing.T) {
	s, err := Compute(terms("100000", "12", 12))
	require.NoError(t, err)
	require.Len(t, s.Periods, 12)

	assert.True(t, s.MonthlyInstallment.Equal(dec("8884.88")), "installment = %s", s.MonthlyInstallment)

	first := s.Periods[0]
	assert.Equal(t, 1, first.Number)
	assert.True(t, first.InterestPortion.Equal(dec("1000")), "first interest = %s", first.InterestPortion)
	assert.True(t, first.PrincipalPortion.Equal(dec("7884.88")), "first principal = %s", first.PrincipalPortion)
	assert.True(t, first.RemainingBalance.Equal(dec("92115.12")), "first balance = %s", first.RemainingBalance)

	last := s.Periods[11]
	assert.True(t, last.RemainingBalance.IsZero(), "final balance = %s", last.RemainingBalance)
	assert.True(t, last.PrincipalPortion.Equal(dec("8796.88")), "final principal = %s", last.PrincipalPortion)
	assert.True(t, s.FinalInstallment.Equal(dec("8884.85")), "final installment = %s", s.FinalInstallment)

	assert.True(t, s.TotalInterest.Sub(dec("6618.56")).Abs().LessThan(dec("0.05")),
		"total interest should be about 6,618.56, got %s", s.TotalInterest)
	assert.True(t, s.TotalRepayment.Equal(s.MonthlyInstallment.Mul(decimal.NewFromInt(11)).Add(s.FinalInstallment)))
	assert.True(t, s.TotalInterest.Equal(s.TotalRepayment.Sub(dec("100000"))))
	assert.True(t, s.Complete())
}

func TestCompute_EightPercentOneYear(t *testing.T) {
	s, err := Compute(terms("10000", "8", 12))
	require.NoError(t, err)

	assert.True(t, s.MonthlyInstallment.Equal(dec("869.88")))
	assert.True(t, s.Periods[0].InterestPortion.Equal(dec("66.67")))
	assert.True(t, s.Periods[0].PrincipalPortion.Equal(dec("803.21")))
	assert.True(t, s.FinalInstallment.Equal(dec("869.94")), "final installment = %s", s.FinalInstallment)
	assert.True(t, s.TotalInterest.Equal(dec("438.62")), "total interest = %s", s.TotalInterest)
}

func TestCompute_ZeroRate(t *testing.T) {
	s, err := Compute(terms("60000", "0", 6))
	require.NoError(t, err)
	require.Len(t, s.Periods, 6)

	assert.True(t, s.MonthlyInstallment.Equal(dec("10000")))
	for _, p := range s.Periods {
		assert.True(t, p.Installment.Equal(dec("10000")), "period %d installment = %s", p.Number, p.Installment)
		assert.True(t, p.PrincipalPortion.Equal(dec("10000")))
		assert.True(t, p.InterestPortion.IsZero())
	}
	assert.True(t, s.TotalInterest.IsZero())
	assert.True(t, s.TotalRepayment.Equal(dec("60000")))
}

func TestCompute_ZeroRateUnevenSplit(t *testing.T) {
	s, err := Compute(terms("100", "0", 3))
	require.NoError(t, err)

	assert.True(t, s.MonthlyInstallment.Equal(dec("33.33")))
	assert.True(t, s.Periods[0].PrincipalPortion.Equal(dec("33.33")))
	assert.True(t, s.Periods[1].PrincipalPortion.Equal(dec("33.33")))
	assert.True(t, s.Periods[2].PrincipalPortion.Equal(dec("33.34")))
	assert.True(t, s.TotalInterest.IsZero())
}

func TestCompute_SinglePeriod(t *testing.T) {
	s, err := Compute(terms("1000", "12", 1))
	require.NoError(t, err)
	require.Len(t, s.Periods, 1)

	p := s.Periods[0]
	assert.True(t, p.PrincipalPortion.Equal(dec("1000")))
	assert.True(t, p.InterestPortion.Equal(dec("10")))
	assert.True(t, p.RemainingBalance.IsZero())
	assert.True(t, s.MonthlyInstallment.Equal(dec("1010")))
}

func TestCompute_TinyLoanPaysOffEarly(t *testing.T) {
	s, err := Compute(terms("0.10", "0", 12))
	require.NoError(t, err)
	require.Len(t, s.Periods, 12)

	assert.True(t, s.MonthlyInstallment.Equal(dec("0.01")))
	assert.True(t, s.Periods[9].RemainingBalance.IsZero())
	for _, p := range s.Periods[10:] {
		assert.True(t, p.PrincipalPortion.IsZero(), "period %d principal = %s", p.Number, p.PrincipalPortion)
		assert.True(t, p.RemainingBalance.IsZero())
	}
	for _, p := range s.Periods {
		assert.False(t, p.RemainingBalance.IsNegative(), "period %d balance went negative", p.Number)
	}
	assert.True(t, sumPrincipal(s.Periods).Equal(dec("0.10")))
}

func TestCompute_Invariants(t *testing.T) {
	principals := []string{"0.01", "1", "999.99", "50000", "100000", "250000.55", "5000000"}
	rates := []string{"0", "0.5", "5", "8", "12", "18.75", "36"}
	termsList := []int{1, 2, 3, 6, 12, 24, 60, 360}

	for _, p := range principals {
		for _, r := range rates {
			for _, n := range termsList {
				name := fmt.Sprintf("%s@%s%%x%d", p, r, n)
				t.Run(name, func(t *testing.T) {
					s, err := Compute(terms(p, r, n))
					require.NoError(t, err)
					require.Len(t, s.Periods, n)

					assert.True(t, sumPrincipal(s.Periods).Equal(dec(p)),
						"principal portions sum to %s, want %s", sumPrincipal(s.Periods), p)
					assert.True(t, s.Periods[n-1].RemainingBalance.IsZero())

					balance := dec(p)
					for _, period := range s.Periods {
						balance = balance.Sub(period.PrincipalPortion)
						assert.True(t, period.RemainingBalance.Equal(balance), "period %d", period.Number)
						assert.True(t, period.Installment.Equal(period.PrincipalPortion.Add(period.InterestPortion)))
						assert.False(t, period.InterestPortion.IsNegative())
					}
					if r == "0" {
						assert.True(t, s.TotalInterest.IsZero())
					}
				})
			}
		}
	}
}

func TestInstallment_StrictlyIncreasingInPrincipal(t *testing.T) {
	for _, r := range []string{"0", "7.5", "24"} {
		prev := decimal.Zero
		for p := int64(1000); p <= 200000; p += 9973 {
			inst, err := Installment(Terms{Principal: decimal.NewFromInt(p), AnnualRatePercent: dec(r), TermMonths: 24})
			require.NoError(t, err)
			assert.True(t, inst.GreaterThan(prev), "rate %s: installment for %d (%s) not above %s", r, p, inst, prev)
			prev = inst
		}
	}
}

func TestPreview(t *testing.T) {
	full, err := Compute(terms("250000", "15", 36))
	require.NoError(t, err)

	preview, err := Preview(terms("250000", "15", 36), 6)
	require.NoError(t, err)
	require.Len(t, preview.Periods, 6)

	assert.False(t, preview.Complete())
	assert.True(t, preview.MonthlyInstallment.Equal(full.MonthlyInstallment))
	assert.Equal(t, full.Periods[:6], preview.Periods)
	assert.True(t, preview.TotalRepayment.IsZero())
}

func TestPreview_BoundLargerThanTerm(t *testing.T) {
	full, err := Compute(terms("60000", "0", 6))
	require.NoError(t, err)

	preview, err := Preview(terms("60000", "0", 6), 100)
	require.NoError(t, err)
	assert.True(t, preview.Complete())
	assert.Equal(t, full, preview)
}

func TestCompound_MatchesRepeatedMultiplication(t *testing.T) {
	rate := dec("0.01")
	want := one
	tolerance := dec("1e-20")
	for n := 1; n <= 360; n++ {
		want = want.Mul(one.Add(rate)).Round(ratePrecision)
		got := compound(rate, n)
		assert.True(t, got.Sub(want).Abs().LessThan(tolerance), "n=%d: got %s, want %s", n, got, want)
	}
	assert.True(t, compound(rate, 0).Equal(one))
}

func TestPreview_CostIndependentOfTerm(t *testing.T) {
	short := testing.AllocsPerRun(20, func() {
		_, _ = Preview(terms("100000", "12", 12), 1)
	})
	long := testing.AllocsPerRun(20, func() {
		_, _ = Preview(terms("100000", "12", MaxTermMonths), 1)
	})
	// A per-month loop over 1200 months would allocate ~100x the 12 month case.
	assert.Less(t, long, 4*short, "short term %v allocs, long term %v allocs", short, long)
}

func TestPreview_LongTermMatchesCompute(t *testing.T) {
	full, err := Compute(terms("500000", "9.5", MaxTermMonths))
	require.NoError(t, err)
	assert.True(t, full.Complete())
	assert.True(t, sumPrincipal(full.Periods).Equal(dec("500000")))

	preview, err := Preview(terms("500000", "9.5", MaxTermMonths), 3)
	require.NoError(t, err)
	assert.True(t, preview.MonthlyInstallment.Equal(full.MonthlyInstallment))
	assert.Equal(t, full.Periods[:3], preview.Periods)
}

func TestPreview_InvalidBound(t *testing.T) {
	_, err := Preview(terms("1000", "5", 12), 0)
	var termsErr *InvalidTermsError
	require.True(t, errors.As(err, &termsErr))
	assert.Equal(t, FieldMaxPeriods, termsErr.Field)
}

func TestCompute_InvalidTerms(t *testing.T) {
	tests := []struct {
		name  string
		terms Terms
		field string
	}{
		{"zero principal", terms("0", "5", 12), FieldPrincipal},
		{"negative principal", terms("-1000", "5", 12), FieldPrincipal},
		{"sub-minor principal", terms("1000.005", "5", 12), FieldPrincipal},
		{"negative rate", terms("1000", "-0.5", 12), FieldAnnualRate},
		{"zero term", terms("1000", "5", 0), FieldTermMonths},
		{"negative term", terms("1000", "5", -3), FieldTermMonths},
		{"term too long", terms("1000", "5", MaxTermMonths+1), FieldTermMonths},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Compute(tt.terms)
			assert.Nil(t, s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTerms))

			var termsErr *InvalidTermsError
			require.True(t, errors.As(err, &termsErr))
			assert.Equal(t, tt.field, termsErr.Field)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_Boundaries(t *testing.T) {
	assert.NoError(t, terms("1000.01", "5", MaxTermMonths).Validate())
	assert.NoError(t, terms("0.01", "0", 1).Validate())

	_, err := Installment(terms("1000.001", "5", 12))
	assert.ErrorIs(t, err, ErrInvalidTerms)
	_, err = Preview(terms("1000", "5", MaxTermMonths+1), 1)
	assert.ErrorIs(t, err, ErrInvalidTerms)
}

func TestCompute_DoesNotMutateTerms(t *testing.T) {
	in := terms("100000", "12", 12)
	s, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, in, s.Terms)
	assert.True(t, in.Principal.Equal(dec("100000")))
}

func TestCompute_Concurrent(t *testing.T) {
	want, err := Compute(terms("100000", "12", 12))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*Schedule, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := Compute(terms("100000", "12", 12))
			if err == nil {
				results[i] = s
			}
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		require.NotNil(t, got, "goroutine %d", i)
		assert.Equal(t, want, got)
	}
}
