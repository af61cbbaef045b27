package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/rentledger/pkg/models"
	"github.com/mcclellann/rentledger/pkg/money"
	"github.com/mcclellann/rentledger/pkg/store"
	"github.com/shopspring/decimal"
)

type PostInstallmentInput struct {
	LoanID uuid.UUID
	// StoreID, when set, must own the loan.
	StoreID            uuid.UUID
	Amount             decimal.Decimal
	GPS                decimal.Decimal
	PaymentMethod      models.PaymentMethod
	PaymentDate        time.Time
	IsLate             bool
	LatePaymentDate    *time.Time
	IsAdvance          bool
	AdvancePaymentDate *time.Time
	ClosingID          *uuid.UUID
	Notes              string
}

func (in *PostInstallmentInput) validate() error {
	switch {
	case !in.PaymentMethod.Valid():
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidInstallment, in.PaymentMethod)
	case in.GPS.IsNegative():
		return fmt.Errorf("%w: GPS fee must not be negative", ErrInvalidAmount)
	case in.IsLate && in.IsAdvance:
		return fmt.Errorf("%w: a payment cannot be both late and in advance", ErrInvalidInstallment)
	case in.IsLate != (in.LatePaymentDate != nil):
		return fmt.Errorf("%w: late flag and late payment date must be set together", ErrInvalidInstallment)
	case in.IsAdvance != (in.AdvancePaymentDate != nil):
		return fmt.Errorf("%w: advance flag and advance payment date must be set together", ErrInvalidInstallment)
	}
	return nil
}

// PostInstallment records a payment and credits it to the loan in one
// transaction.
func (l *Ledger) PostInstallment(ctx context.Context, in PostInstallmentInput) (*models.Loan, *models.Installment, error) {
	if in.PaymentMethod == "" {
		in.PaymentMethod = models.PaymentMethodCash
	}
	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	if in.PaymentDate.IsZero() {
		in.PaymentDate = l.clock.Now()
	}
	amount := money.Round(in.Amount)

	var inst *models.Installment
	loan, err := l.mutateLoan(ctx, "post installment", in.LoanID, func(tx store.Repository, loan *models.Loan) error {
		if in.StoreID != uuid.Nil && loan.StoreID != in.StoreID {
			return fmt.Errorf("%w: loan %s does not belong to store %s", ErrInvalidScope, loan.ID, in.StoreID)
		}
		p, err := ApplyPayment(loan, amount)
		if err != nil {
			return err
		}
		inst = &models.Installment{
			ID:                 uuid.New(),
			LoanID:             loan.ID,
			StoreID:            loan.StoreID,
			Amount:             p.Amount,
			GPS:                money.Round(in.GPS),
			PaymentMethod:      in.PaymentMethod,
			PaymentDate:        in.PaymentDate,
			IsLate:             in.IsLate,
			LatePaymentDate:    in.LatePaymentDate,
			IsAdvance:          in.IsAdvance,
			AdvancePaymentDate: in.AdvancePaymentDate,
			ClosingID:          in.ClosingID,
			Notes:              in.Notes,
			InstallmentCost:    p.Cost,
			Credit:             p.Credit,
			CreatedAt:          l.clock.Now(),
		}
		return tx.CreateInstallment(ctx, inst)
	})
	if err != nil {
		return nil, nil, err
	}
	log.Printf("[ledger] posted %s on loan %s (+%s installments, debt %s, %s)",
		inst.Amount.StringFixed(money.Scale), loan.ID, inst.Credit, loan.DebtRemaining.StringFixed(money.Scale), loan.Status)
	return loan, inst, nil
}

// RemoveInstallment deletes an installment and reverses exactly what it
// credited.
func (l *Ledger) RemoveInstallment(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	var loan *models.Loan
	err := l.RunInTx(ctx, "remove installment", func(tx store.Repository) error {
		inst, err := tx.GetInstallment(ctx, id)
		if err != nil {
			return err
		}
		loan, err = tx.GetLoan(ctx, inst.LoanID)
		if err != nil {
			return err
		}
		ReversePayment(loan, PaymentFromInstallment(inst))
		loan.UpdatedAt = l.clock.Now()
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		return tx.DeleteInstallment(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	l.InvalidateStatus(ctx, loan.ID)
	log.Printf("[ledger] removed installment %s from loan %s (debt %s, %s)", id, loan.ID, loan.DebtRemaining.StringFixed(money.Scale), loan.Status)
	return loan, nil
}

func (l *Ledger) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	inst, err := l.storage.GetInstallment(ctx, id)
	return inst, translate(err)
}

// ListInstallments returns a loan's installments by payment date.
func (l *Ledger) ListInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, translate(err)
	}
	list, err := l.storage.ListInstallmentsByLoan(ctx, loanID)
	return list, translate(err)
}
