package ledger

import (
	"fmt"

	"github.com/mcclellann/rentledger/pkg/models"
	"github.com/mcclellann/rentledger/pkg/money"
	"github.com/shopspring/decimal"
)

// CreditScale is the number of decimal places kept on fractional
// installment counts.
const CreditScale = 6

// Payment is what one installment did to a loan. It is frozen on the
// installment row so removal undoes exactly this.
type Payment struct {
	Amount decimal.Decimal
	Cost   decimal.Decimal
	Credit decimal.Decimal
}

func PaymentFromInstallment(inst *models.Installment) Payment {
	return Payment{Amount: inst.Amount, Cost: inst.InstallmentCost, Credit: inst.Credit}
}

// Delta is an outage reduction: whole installments off the count fields and
// money off the total and the debt.
type Delta struct {
	Installments int
	Amount       decimal.Decimal
}

func (d Delta) IsZero() bool {
	return d.Installments == 0 && d.Amount.IsZero()
}

// InstallmentCost is the price of one installment, falling back to an even
// split of the remaining debt when the loan never had a fixed cost.
func InstallmentCost(loan *models.Loan) (decimal.Decimal, error) {
	if loan.InstallmentPaymentAmount.IsPositive() {
		return loan.InstallmentPaymentAmount, nil
	}
	if loan.RemainingInstallments.IsPositive() && loan.DebtRemaining.IsPositive() {
		return money.Round(loan.DebtRemaining.Div(loan.RemainingInstallments)), nil
	}
	return decimal.Zero, fmt.Errorf("%w: loan %s has no installment cost", ErrInvalidLoan, loan.ID)
}

// ApplyPayment credits amount to the loan and returns the frozen payment.
func ApplyPayment(loan *models.Loan, amount decimal.Decimal) (Payment, error) {
	if !amount.IsPositive() {
		return Payment{}, fmt.Errorf("%w: payment must be positive, got %s", ErrInvalidAmount, amount)
	}
	if loan.Status.Closed() {
		return Payment{}, fmt.Errorf("%w: loan %s is %s", ErrLoanClosed, loan.ID, loan.Status)
	}
	if amount.GreaterThan(loan.DebtRemaining) {
		return Payment{}, fmt.Errorf("%w: %s > %s", ErrExceedsDebt, amount.StringFixed(money.Scale), loan.DebtRemaining.StringFixed(money.Scale))
	}
	cost, err := InstallmentCost(loan)
	if err != nil {
		return Payment{}, err
	}

	p := Payment{Amount: amount, Cost: cost, Credit: amount.DivRound(cost, CreditScale)}
	loan.PaidInstallments = loan.PaidInstallments.Add(p.Credit)
	loan.TotalPaid = loan.TotalPaid.Add(amount)
	loan.DebtRemaining = money.FloorZero(loan.DebtRemaining.Sub(amount))
	refresh(loan)
	return p, nil
}

// ReversePayment removes a previously applied payment.
func ReversePayment(loan *models.Loan, p Payment) {
	loan.PaidInstallments = money.FloorZero(loan.PaidInstallments.Sub(p.Credit))
	loan.TotalPaid = money.FloorZero(loan.TotalPaid.Sub(p.Amount))
	loan.DebtRemaining = loan.DebtRemaining.Add(p.Amount)
	refresh(loan)
}

// ApplyOutageDelta reduces the loan's obligation by d. The caller caps d with
// CapOutageDelta first.
func ApplyOutageDelta(loan *models.Loan, d Delta) error {
	if d.Installments < 0 || d.Amount.IsNegative() {
		return fmt.Errorf("%w: outage delta must not be negative", ErrInvalidAmount)
	}
	if d.IsZero() {
		return nil
	}
	if loan.Status.Closed() {
		return fmt.Errorf("%w: loan %s is %s", ErrLoanClosed, loan.ID, loan.Status)
	}
	if d.Amount.GreaterThan(loan.DebtRemaining) || d.Installments > loan.Installments {
		return fmt.Errorf("%w: outage of %d installments / %s on loan %s", ErrExceedsDebt, d.Installments, d.Amount.StringFixed(money.Scale), loan.ID)
	}
	shiftOutage(loan, -d.Installments, d.Amount.Neg())
	return nil
}

// ReverseOutageDelta gives back a previously applied outage. It is allowed
// whatever the loan status.
func ReverseOutageDelta(loan *models.Loan, d Delta) {
	shiftOutage(loan, d.Installments, d.Amount)
}

// ApplyNetOutageDelta replaces an applied delta from with to, touching the
// loan only by the difference. to is capped against the loan as it would be
// without from; the capped value is returned.
func ApplyNetOutageDelta(loan *models.Loan, from, to Delta) (Delta, error) {
	if from.Installments == to.Installments && from.Amount.Equal(to.Amount) {
		return from, nil
	}
	staged := *loan
	ReverseOutageDelta(&staged, from)
	applied := CapOutageDelta(&staged, to)
	if err := ApplyOutageDelta(&staged, applied); err != nil {
		return Delta{}, err
	}
	*loan = staged
	return applied, nil
}

// CapOutageDelta limits d to what the loan can still give up.
func CapOutageDelta(loan *models.Loan, d Delta) Delta {
	out := Delta{Installments: d.Installments, Amount: money.Min(d.Amount, money.FloorZero(loan.DebtRemaining))}
	if out.Installments > loan.Installments {
		out.Installments = loan.Installments
	}
	return out
}

func shiftOutage(loan *models.Loan, installments int, amount decimal.Decimal) {
	loan.Installments += installments
	loan.TotalAmount = loan.TotalAmount.Add(amount)
	loan.DebtRemaining = money.FloorZero(loan.DebtRemaining.Add(amount))
	refresh(loan)
}

// MarkDefaulted moves an open loan to DEFAULTED. Defaulting twice is a no-op.
func MarkDefaulted(loan *models.Loan) error {
	switch loan.Status {
	case models.LoanStatusDefaulted:
		return nil
	case models.LoanStatusCompleted:
		return fmt.Errorf("%w: loan %s is already completed", ErrInvalidState, loan.ID)
	}
	loan.Status = models.LoanStatusDefaulted
	return nil
}

func refresh(loan *models.Loan) {
	loan.RemainingInstallments = money.FloorZero(decimal.NewFromInt(int64(loan.Installments)).Sub(loan.PaidInstallments))
	loan.Status = DeriveStatus(loan)
}

// DeriveStatus computes the status from the running state. DEFAULTED is
// set from outside and never cleared here.
func DeriveStatus(loan *models.Loan) models.LoanStatus {
	switch {
	case loan.Status == models.LoanStatusDefaulted:
		return models.LoanStatusDefaulted
	case !loan.DebtRemaining.IsPositive() || !loan.RemainingInstallments.IsPositive():
		return models.LoanStatusCompleted
	case !loan.PaidInstallments.IsPositive():
		return models.LoanStatusPending
	}
	return models.LoanStatusActive
}
