package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/rentledger/pkg/clock"
	"github.com/mcclellann/rentledger/pkg/models"
	"github.com/mcclellann/rentledger/pkg/money"
	"github.com/mcclellann/rentledger/pkg/schedule"
	"github.com/mcclellann/rentledger/pkg/store"
	"github.com/shopspring/decimal"
)

// DefaultMaxRetries bounds how often a mutation is retried after losing a
// version race.
const DefaultMaxRetries = 3

// StatusCache memoises LoanStatus per loan and civil day. Implementations
// must treat a miss as (nil, nil).
type StatusCache interface {
	GetStatus(ctx context.Context, loanID uuid.UUID, day string) (*schedule.LoanStatus, error)
	SetStatus(ctx context.Context, loanID uuid.UUID, day string, st *schedule.LoanStatus) error
	Invalidate(ctx context.Context, loanID uuid.UUID) error
}

// Ledger handles the business logic for loans and installments.
type Ledger struct {
	storage    store.Storage
	clock      clock.Clock
	projector  *schedule.Projector
	cache      StatusCache
	maxRetries int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStatusCache serves GetLoanStatus through c.
func WithStatusCache(c StatusCache) Option {
	return func(l *Ledger) { l.cache = c }
}

// WithMaxRetries sets how often a version conflict is retried. Negative
// values are ignored.
func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, c clock.Clock, opts ...Option) *Ledger {
	l := &Ledger{
		storage:    s,
		clock:      c,
		projector:  schedule.NewProjector(c.Location()),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Clock() clock.Clock { return l.clock }

// RunInTx runs fn in one transaction and retries it when the loan version
// guard reports a lost race. Store errors come back as ledger kinds.
func (l *Ledger) RunInTx(ctx context.Context, op string, fn func(tx store.Repository) error) error {
	var err error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		err = l.storage.WithTx(ctx, fn)
		if !errors.Is(err, store.ErrConflict) {
			return translate(err)
		}
		log.Printf("[ledger] %s: version conflict (attempt %d/%d)", op, attempt+1, l.maxRetries+1)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrConcurrencyConflict, op, err)
}

// mutateLoan loads the loan, lets fn change it and writes it back under the
// version guard.
func (l *Ledger) mutateLoan(ctx context.Context, op string, id uuid.UUID, fn func(tx store.Repository, loan *models.Loan) error) (*models.Loan, error) {
	var out *models.Loan
	err := l.RunInTx(ctx, op, func(tx store.Repository) error {
		loan, err := tx.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, loan); err != nil {
			return err
		}
		loan.UpdatedAt = l.clock.Now()
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		out = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.InvalidateStatus(ctx, id)
	return out, nil
}

// InvalidateStatus drops cached status views for the given loans.
func (l *Ledger) InvalidateStatus(ctx context.Context, ids ...uuid.UUID) {
	if l.cache == nil {
		return
	}
	for _, id := range ids {
		if err := l.cache.Invalidate(ctx, id); err != nil {
			log.Printf("[ledger] failed to invalidate status cache for loan %s: %v", id, err)
		}
	}
}

type CreateLoanInput struct {
	StoreID                  uuid.UUID
	ClientID                 uuid.UUID
	VehicleID                uuid.UUID
	VehicleType              string
	TotalAmount              decimal.Decimal
	DownPayment              decimal.Decimal
	Installments             int
	InterestRate             decimal.Decimal
	InterestType             models.InterestType
	PaymentFrequency         models.PaymentFrequency
	InstallmentPaymentAmount decimal.Decimal
	GPSInstallmentPayment    decimal.Decimal
	StartDate                time.Time
	EndDate                  *time.Time
}

func (in *CreateLoanInput) validate() error {
	switch {
	case in.StoreID == uuid.Nil:
		return fmt.Errorf("%w: store id is required", ErrInvalidLoan)
	case in.ClientID == uuid.Nil || in.VehicleID == uuid.Nil:
		return fmt.Errorf("%w: client and vehicle are required", ErrInvalidLoan)
	case !in.TotalAmount.IsPositive():
		return fmt.Errorf("%w: total amount must be positive", ErrInvalidLoan)
	case in.DownPayment.IsNegative() || in.DownPayment.GreaterThan(in.TotalAmount):
		return fmt.Errorf("%w: down payment must be between 0 and the total amount", ErrInvalidLoan)
	case in.Installments <= 0:
		return fmt.Errorf("%w: installments must be positive", ErrInvalidLoan)
	case in.InterestRate.IsNegative():
		return fmt.Errorf("%w: interest rate must not be negative", ErrInvalidLoan)
	case !in.InterestType.Valid():
		return fmt.Errorf("%w: unknown interest type %q", ErrInvalidLoan, in.InterestType)
	case !in.PaymentFrequency.Valid():
		return fmt.Errorf("%w: unknown payment frequency %q", ErrInvalidLoan, in.PaymentFrequency)
	case in.InstallmentPaymentAmount.IsNegative() || in.GPSInstallmentPayment.IsNegative():
		return fmt.Errorf("%w: installment and GPS amounts must not be negative", ErrInvalidLoan)
	case in.StartDate.IsZero():
		return fmt.Errorf("%w: start date is required", ErrInvalidDates)
	case in.EndDate != nil && in.EndDate.Before(in.StartDate):
		return fmt.Errorf("%w: end date before start date", ErrInvalidDates)
	}
	return nil
}

// CreateLoan opens a loan with the down payment already counted as paid.
func (l *Ledger) CreateLoan(ctx context.Context, in CreateLoanInput) (*models.Loan, error) {
	if in.InterestType == "" {
		in.InterestType = models.InterestTypeFixed
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	total := money.Round(in.TotalAmount)
	down := money.Round(in.DownPayment)
	end := schedule.EndDate(in.StartDate, in.PaymentFrequency, in.Installments)
	if in.EndDate != nil {
		end = *in.EndDate
	}

	var loan *models.Loan
	err := l.RunInTx(ctx, "create loan", func(tx store.Repository) error {
		n, err := tx.LastContractNumber(ctx, in.StoreID)
		if err != nil {
			return err
		}
		now := l.clock.Now()
		loan = &models.Loan{
			ID:                       uuid.New(),
			StoreID:                  in.StoreID,
			ContractNumber:           fmt.Sprintf("%06d", n+1),
			ClientID:                 in.ClientID,
			VehicleID:                in.VehicleID,
			VehicleType:              in.VehicleType,
			TotalAmount:              total,
			DownPayment:              down,
			Installments:             in.Installments,
			InterestRate:             in.InterestRate,
			InterestType:             in.InterestType,
			PaymentFrequency:         in.PaymentFrequency,
			InstallmentPaymentAmount: money.Round(in.InstallmentPaymentAmount),
			GPSInstallmentPayment:    money.Round(in.GPSInstallmentPayment),
			StartDate:                in.StartDate,
			EndDate:                  end,
			PaidInstallments:         decimal.Zero,
			TotalPaid:                down,
			DebtRemaining:            total.Sub(down),
			Status:                   models.LoanStatusPending,
			CreatedAt:                now,
			UpdatedAt:                now,
		}
		refresh(loan)
		return tx.CreateLoan(ctx, loan)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create loan: %w", err)
	}
	log.Printf("[ledger] created loan %s contract %s in store %s (debt %s)", loan.ID, loan.ContractNumber, loan.StoreID, loan.DebtRemaining.StringFixed(money.Scale))
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	return loan, translate(err)
}

func (l *Ledger) ListLoans(ctx context.Context, filter store.LoanFilter) ([]*models.Loan, error) {
	loans, err := l.storage.ListLoans(ctx, filter)
	return loans, translate(err)
}

// UpdateTermsInput changes loan terms. Nil fields are left alone. Running
// state is never touched here.
type UpdateTermsInput struct {
	InstallmentPaymentAmount *decimal.Decimal
	GPSInstallmentPayment    *decimal.Decimal
	InterestRate             *decimal.Decimal
	InterestType             *models.InterestType
	EndDate                  *time.Time
	VehicleType              *string
	Archived                 *bool
}

func (l *Ledger) UpdateLoanTerms(ctx context.Context, id uuid.UUID, in UpdateTermsInput) (*models.Loan, error) {
	return l.mutateLoan(ctx, "update loan terms", id, func(_ store.Repository, loan *models.Loan) error {
		if in.InstallmentPaymentAmount != nil {
			if in.InstallmentPaymentAmount.IsNegative() {
				return fmt.Errorf("%w: installment amount must not be negative", ErrInvalidLoan)
			}
			loan.InstallmentPaymentAmount = money.Round(*in.InstallmentPaymentAmount)
		}
		if in.GPSInstallmentPayment != nil {
			if in.GPSInstallmentPayment.IsNegative() {
				return fmt.Errorf("%w: GPS amount must not be negative", ErrInvalidLoan)
			}
			loan.GPSInstallmentPayment = money.Round(*in.GPSInstallmentPayment)
		}
		if in.InterestRate != nil {
			if in.InterestRate.IsNegative() {
				return fmt.Errorf("%w: interest rate must not be negative", ErrInvalidLoan)
			}
			loan.InterestRate = *in.InterestRate
		}
		if in.InterestType != nil {
			if !in.InterestType.Valid() {
				return fmt.Errorf("%w: unknown interest type %q", ErrInvalidLoan, *in.InterestType)
			}
			loan.InterestType = *in.InterestType
		}
		if in.EndDate != nil {
			if in.EndDate.Before(loan.StartDate) {
				return fmt.Errorf("%w: end date before start date", ErrInvalidDates)
			}
			loan.EndDate = *in.EndDate
		}
		if in.VehicleType != nil {
			loan.VehicleType = *in.VehicleType
		}
		if in.Archived != nil {
			loan.Archived = *in.Archived
		}
		return nil
	})
}

// MarkDefaulted is called by whoever owns delinquency decisions.
func (l *Ledger) MarkDefaulted(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := l.mutateLoan(ctx, "mark defaulted", id, func(_ store.Repository, loan *models.Loan) error {
		return MarkDefaulted(loan)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[ledger] loan %s marked %s", loan.ID, loan.Status)
	return loan, nil
}

// DeleteLoan removes a loan together with its installments, its outage
// traces and any single-loan adjustments that targeted it.
func (l *Ledger) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	err := l.RunInTx(ctx, "delete loan", func(tx store.Repository) error {
		if _, err := tx.GetLoan(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteInstallmentsByLoan(ctx, id); err != nil {
			return err
		}
		adjs, err := tx.ListAdjustments(ctx, store.AdjustmentFilter{LoanID: id})
		if err != nil {
			return err
		}
		for _, adj := range adjs {
			if adj.Scope == models.ScopeSingleLoan {
				if err := tx.DeleteAdjustment(ctx, adj.ID); err != nil {
					return err
				}
				continue
			}
			if err := tx.DeleteTrace(ctx, adj.ID, id); err != nil {
				return err
			}
			if adj.AffectedLoans > 0 {
				adj.AffectedLoans--
			}
			adj.UpdatedAt = l.clock.Now()
			if err := tx.UpdateAdjustment(ctx, adj); err != nil {
				return err
			}
		}
		if err := tx.DeleteTracesByLoan(ctx, id); err != nil {
			return err
		}
		return tx.DeleteLoan(ctx, id)
	})
	if err != nil {
		return err
	}
	l.InvalidateStatus(ctx, id)
	log.Printf("[ledger] deleted loan %s", id)
	return nil
}

// GetLoanStatus projects the loan's health on asOf, or today when asOf is
// nil. Cached views stamped with an older loan version are rebuilt.
func (l *Ledger) GetLoanStatus(ctx context.Context, id uuid.UUID, asOf *time.Time) (*schedule.LoanStatus, error) {
	at := l.clock.Now()
	if asOf != nil {
		at = *asOf
	}
	day := clock.StartOfDay(at, l.clock.Location()).Format(time.DateOnly)

	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if l.cache != nil {
		st, err := l.cache.GetStatus(ctx, id, day)
		if err != nil {
			log.Printf("[ledger] status cache read failed for loan %s: %v", id, err)
		} else if st != nil && st.LoanVersion == loan.Version {
			return st, nil
		}
	}

	insts, err := l.storage.ListInstallmentsByLoan(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	st := l.projector.Status(loan, insts, at)

	if l.cache != nil {
		if err := l.cache.SetStatus(ctx, id, day, st); err != nil {
			log.Printf("[ledger] status cache write failed for loan %s: %v", id, err)
		}
	}
	return st, nil
}

// ListLoanStatuses projects every loan matching filter with a single
// installment query.
func (l *Ledger) ListLoanStatuses(ctx context.Context, filter store.LoanFilter, asOf *time.Time) ([]*schedule.LoanStatus, error) {
	at := l.clock.Now()
	if asOf != nil {
		at = *asOf
	}
	loans, err := l.storage.ListLoans(ctx, filter)
	if err != nil {
		return nil, translate(err)
	}
	ids := make([]uuid.UUID, len(loans))
	for i, loan := range loans {
		ids[i] = loan.ID
	}
	byLoan, err := l.storage.ListInstallmentsByLoans(ctx, ids)
	if err != nil {
		return nil, translate(err)
	}
	return l.projector.Batch(loans, byLoan, at), nil
}
