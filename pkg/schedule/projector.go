// Package schedule projects how far along a loan should be for a given date
// and reports the shortfall. Nothing here mutates a loan.
package schedule

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/rentledger/pkg/clock"
	"github.com/mcclellann/rentledger/pkg/models"
	"github.com/shopspring/decimal"
)

// LoanStatus is the read-only health view of a loan on one civil day.
type LoanStatus struct {
	LoanID               uuid.UUID         `json:"loan_id"`
	ContractNumber       string            `json:"contract_number"`
	Status               models.LoanStatus `json:"status"`
	AsOf                 time.Time         `json:"as_of"`
	ExpectedInstallments int               `json:"expected_installments"`
	PaidInstallments     decimal.Decimal   `json:"paid_installments"`
	InstallmentsPending  decimal.Decimal   `json:"installments_pending"` // negative when ahead
	IsUpToDate           bool              `json:"is_up_to_date"`
	DaysLate             decimal.Decimal   `json:"days_late"`
	DebtRemaining        decimal.Decimal   `json:"debt_remaining"`
	LastPaymentDate      *time.Time        `json:"last_payment_date,omitempty"`
	DaysSinceLastPayment *int              `json:"days_since_last_payment,omitempty"`
	LoanVersion          int64             `json:"loan_version"`
}

// Projector computes expected installments with day boundaries in one zone.
type Projector struct {
	loc *time.Location
}

func NewProjector(loc *time.Location) *Projector {
	if loc == nil {
		loc = time.UTC
	}
	return &Projector{loc: loc}
}

// ExpectedInstallments returns how many installments should have been paid
// by asOf, clamped to [0, loan.Installments].
func (p *Projector) ExpectedInstallments(loan *models.Loan, asOf time.Time) int {
	start := clock.StartOfDay(loan.StartDate, p.loc)
	day := clock.StartOfDay(asOf, p.loc)
	if day.Before(start) {
		return 0
	}

	days := clock.DaysBetween(start, day, p.loc)
	var periods int
	switch loan.PaymentFrequency {
	case models.FrequencyWeekly:
		periods = days / 7
	case models.FrequencyBiweekly:
		periods = (days / 7) / 2
	case models.FrequencyMonthly:
		periods = clock.MonthsBetween(start, day, p.loc)
	default:
		periods = days
	}

	if periods < 0 {
		return 0
	}
	if periods > loan.Installments {
		return loan.Installments
	}
	return periods
}

// Status builds the health view from the loan and its installments.
func (p *Projector) Status(loan *models.Loan, installments []*models.Installment, asOf time.Time) *LoanStatus {
	expected := p.ExpectedInstallments(loan, asOf)
	pending := decimal.NewFromInt(int64(expected)).Sub(loan.PaidInstallments)

	st := &LoanStatus{
		LoanID:               loan.ID,
		ContractNumber:       loan.ContractNumber,
		Status:               loan.Status,
		AsOf:                 clock.StartOfDay(asOf, p.loc),
		ExpectedInstallments: expected,
		PaidInstallments:     loan.PaidInstallments,
		InstallmentsPending:  pending,
		IsUpToDate:           loan.PaidInstallments.GreaterThanOrEqual(decimal.NewFromInt(int64(expected))),
		DaysLate:             decimal.Max(decimal.Zero, pending),
		DebtRemaining:        loan.DebtRemaining,
		LoanVersion:          loan.Version,
	}

	var last *time.Time
	for _, inst := range installments {
		if last == nil || inst.PaymentDate.After(*last) {
			d := inst.PaymentDate
			last = &d
		}
	}
	if last != nil {
		days := clock.DaysBetween(*last, asOf, p.loc)
		st.LastPaymentDate = last
		st.DaysSinceLastPayment = &days
	}
	return st
}

// Batch maps Status over loans using installments already grouped by loan.
func (p *Projector) Batch(loans []*models.Loan, byLoan map[uuid.UUID][]*models.Installment, asOf time.Time) []*LoanStatus {
	out := make([]*LoanStatus, 0, len(loans))
	for _, loan := range loans {
		out = append(out, p.Status(loan, byLoan[loan.ID], asOf))
	}
	return out
}

// EndDate is the due date of the last installment when payments start on
// start and repeat at freq.
func EndDate(start time.Time, freq models.PaymentFrequency, installments int) time.Time {
	switch freq {
	case models.FrequencyWeekly:
		return start.AddDate(0, 0, 7*installments)
	case models.FrequencyBiweekly:
		return start.AddDate(0, 0, 14*installments)
	case models.FrequencyMonthly:
		return clock.AddMonths(start, installments)
	}
	return start.AddDate(0, 0, installments)
}
