package reconcile

import (
	"github.com/mcclellann/coopledger/pkg/amortization"
	"github.com/mcclellann/coopledger/pkg/money"
	"github.com/shopspring/decimal"
)

// ScheduleProgress compares cumulative repayments with the nominal schedule.
type ScheduleProgress struct {
	InstallmentsCovered   int             `json:"installments_covered"`
	InstallmentsRemaining int             `json:"installments_remaining"`
	NextPeriod            int             `json:"next_period,omitempty"`
	NextInstallment       decimal.Decimal `json:"next_installment"`
	AmountTowardNext      decimal.Decimal `json:"amount_toward_next"`
	AmountDueForNext      decimal.Decimal `json:"amount_due_for_next"`
	ScheduledBalance      decimal.Decimal `json:"scheduled_balance"`
	PaidOff               bool            `json:"paid_off"`
}

// Progress walks the schedule's periods in order and counts how many whole
// installments totalRepaid covers. The remainder is credited toward the next
// installment. ScheduledBalance is the schedule's remaining balance after the
// last covered period.
func Progress(schedule *amortization.Schedule, totalRepaid decimal.Decimal) ScheduleProgress {
	remaining := money.NonNegative(totalRepaid)
	p := ScheduleProgress{
		NextInstallment:  decimal.Zero,
		AmountTowardNext: decimal.Zero,
		AmountDueForNext: decimal.Zero,
		ScheduledBalance: schedule.Terms.Principal,
	}

	for _, period := range schedule.Periods {
		if remaining.LessThan(period.Installment) {
			p.NextPeriod = period.Number
			p.NextInstallment = period.Installment
			p.AmountTowardNext = money.Round(remaining)
			p.AmountDueForNext = money.Round(period.Installment.Sub(remaining))
			break
		}
		remaining = remaining.Sub(period.Installment)
		p.InstallmentsCovered++
		p.ScheduledBalance = period.RemainingBalance
	}

	p.InstallmentsRemaining = schedule.Terms.TermMonths - p.InstallmentsCovered
	p.PaidOff = schedule.Complete() && p.InstallmentsRemaining == 0
	return p
}
