// Package amortization computes fixed-installment, reducing-balance loan
// schedules.
//
// The monthly rate is annualRatePercent / 100 / 12 and the installment is
//
//	P * r * (1+r)^n / ((1+r)^n - 1)
//
// or P / n when the rate is zero. The installment is rounded to the minor
// unit once; each period's interest is rounded when the period is produced and
// the final period absorbs the residual balance, so the principal portions
// always sum to the principal exactly.
package amortization

import (
	"fmt"

	"github.com/mcclellann/coopledger/pkg/money"
	"github.com/shopspring/decimal"
)

// MaxTermMonths bounds the iteration cost of a single schedule.
const MaxTermMonths = 1200

// ratePrecision is the number of fractional digits kept for the monthly rate
// and the compounding factor. Monetary values are rounded separately.
const ratePrecision = 28

var (
	one          = decimal.NewFromInt(1)
	monthsInYear = decimal.NewFromInt(1200) // 12 months * 100 percent
)

// Terms are the fixed inputs of a loan. They are never modified by this
// package.
//
// Besides a positive principal, a non-negative rate and a term of at least one
// month, Validate requires the principal to be in whole minor units (no more
// than two decimal places; 100.005 is rejected, never rounded) and the term to
// be at most MaxTermMonths.
type Terms struct {
	Principal         decimal.Decimal `json:"principal"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent"`
	TermMonths        int             `json:"term_months"`
}

// Validate reports the first invalid field as an *InvalidTermsError. Invalid
// values are never clamped or rounded into range.
func (t Terms) Validate() error {
	if !t.Principal.IsPositive() {
		return invalid(FieldPrincipal, "must be greater than zero")
	}
	if !money.IsMinorUnitPrecise(t.Principal) {
		return invalid(FieldPrincipal, fmt.Sprintf("must be expressed in whole minor units (%d decimal places)", money.MinorUnitPlaces))
	}
	if t.AnnualRatePercent.IsNegative() {
		return invalid(FieldAnnualRate, "must not be negative")
	}
	if t.TermMonths < 1 {
		return invalid(FieldTermMonths, "must be at least 1")
	}
	if t.TermMonths > MaxTermMonths {
		return invalid(FieldTermMonths, fmt.Sprintf("must not exceed %d", MaxTermMonths))
	}
	return nil
}

// MonthlyRate returns annualRatePercent / 100 / 12.
func (t Terms) MonthlyRate() decimal.Decimal {
	return t.AnnualRatePercent.DivRound(monthsInYear, ratePrecision)
}

// Period is one row of a schedule. RemainingBalance is the balance after the
// period's payment.
type Period struct {
	Number           int             `json:"period"`
	Installment      decimal.Decimal `json:"installment"`
	PrincipalPortion decimal.Decimal `json:"principal_portion"`
	InterestPortion  decimal.Decimal `json:"interest_portion"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
}

// Schedule is the result of Compute or Preview. A preview that stops before
// the final period leaves FinalInstallment, TotalRepayment and TotalInterest
// zero.
type Schedule struct {
	Terms              Terms           `json:"terms"`
	MonthlyInstallment decimal.Decimal `json:"monthly_installment"`
	FinalInstallment   decimal.Decimal `json:"final_installment"`
	TotalRepayment     decimal.Decimal `json:"total_repayment"`
	TotalInterest      decimal.Decimal `json:"total_interest"`
	Periods            []Period        `json:"periods"`
}

// Complete reports whether the schedule covers every period of the term.
func (s *Schedule) Complete() bool {
	return len(s.Periods) == s.Terms.TermMonths
}

// Compute builds the full schedule for terms.
func Compute(terms Terms) (*Schedule, error) {
	if err := terms.Validate(); err != nil {
		return nil, err
	}
	return build(terms, terms.TermMonths), nil
}

// Preview builds at most maxPeriods leading periods of the schedule for terms,
// without iterating over the rest of the term.
func Preview(terms Terms, maxPeriods int) (*Schedule, error) {
	if err := terms.Validate(); err != nil {
		return nil, err
	}
	if maxPeriods < 1 {
		return nil, invalid(FieldMaxPeriods, "must be at least 1")
	}
	return build(terms, min(maxPeriods, terms.TermMonths)), nil
}

// Installment returns the rounded fixed monthly installment for terms.
func Installment(terms Terms) (decimal.Decimal, error) {
	if err := terms.Validate(); err != nil {
		return decimal.Zero, err
	}
	return installment(terms.Principal, terms.MonthlyRate(), terms.TermMonths), nil
}

func installment(principal, rate decimal.Decimal, n int) decimal.Decimal {
	if rate.IsZero() {
		return money.Round(principal.DivRound(decimal.NewFromInt(int64(n)), ratePrecision))
	}
	f := compound(rate, n)
	return money.Round(principal.Mul(rate).Mul(f).DivRound(f.Sub(one), ratePrecision))
}

// compound returns (1+rate)^n by square-and-multiply, rounding every product
// to ratePrecision. It takes O(log n) multiplications, so a preview costs the
// same whatever the term.
func compound(rate decimal.Decimal, n int) decimal.Decimal {
	base := one.Add(rate)
	f := one
	for n > 0 {
		if n&1 == 1 {
			f = f.Mul(base).Round(ratePrecision)
		}
		n >>= 1
		if n > 0 {
			base = base.Mul(base).Round(ratePrecision)
		}
	}
	return f
}

// build produces the first limit periods of the schedule. limit never exceeds
// terms.TermMonths.
func build(terms Terms, limit int) *Schedule {
	n := terms.TermMonths
	rate := terms.MonthlyRate()
	inst := installment(terms.Principal, rate, n)

	periods := make([]Period, 0, limit)
	balance := terms.Principal
	paid := decimal.Zero

	for i := 1; i <= limit; i++ {
		interest := money.Round(balance.Mul(rate))

		var principal decimal.Decimal
		if i == n {
			principal = balance
		} else {
			// Installment rounding can exhaust the balance early on tiny
			// loans; later periods then carry nothing.
			principal = money.NonNegative(inst.Sub(interest))
			if principal.GreaterThan(balance) {
				principal = balance
			}
		}

		balance = balance.Sub(principal)
		if i == n {
			balance = decimal.Zero
		}

		payment := principal.Add(interest)
		paid = paid.Add(payment)

		periods = append(periods, Period{
			Number:           i,
			Installment:      payment,
			PrincipalPortion: principal,
			InterestPortion:  interest,
			RemainingBalance: balance,
		})
	}

	s := &Schedule{
		Terms:              terms,
		MonthlyInstallment: inst,
		Periods:            periods,
	}
	if limit == n {
		s.FinalInstallment = periods[n-1].Installment
		s.TotalRepayment = paid
		s.TotalInterest = paid.Sub(terms.Principal)
	}
	return s
}
