package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/rentledger/pkg/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a guarded loan write or a contract number
	// lost to a concurrent writer.
	ErrConflict = errors.New("version conflict")
)

// LoanFilter narrows ListLoans. Zero values mean "any".
type LoanFilter struct {
	StoreID         uuid.UUID
	Statuses        []models.LoanStatus
	VehicleType     string
	IncludeArchived bool
	Limit           int
	Offset          int
}

// AdjustmentFilter narrows ListAdjustments.
type AdjustmentFilter struct {
	StoreID    uuid.UUID
	LoanID     uuid.UUID
	ActiveOnly bool
}

type LoanStore interface {
	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	// UpdateLoan writes loan only if the stored version still equals
	// loan.Version, then bumps loan.Version. Returns ErrConflict otherwise.
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	DeleteLoan(ctx context.Context, id uuid.UUID) error
	// LastContractNumber returns the highest contract number issued in the
	// store, or 0 when it has none.
	LastContractNumber(ctx context.Context, storeID uuid.UUID) (int, error)
	ListLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error)
}

type InstallmentStore interface {
	CreateInstallment(ctx context.Context, inst *models.Installment) error
	GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error)
	DeleteInstallment(ctx context.Context, id uuid.UUID) error
	ListInstallmentsByLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error)
	ListInstallmentsByLoans(ctx context.Context, loanIDs []uuid.UUID) (map[uuid.UUID][]*models.Installment, error)
	DeleteInstallmentsByLoan(ctx context.Context, loanID uuid.UUID) error
}

type AdjustmentStore interface {
	CreateAdjustment(ctx context.Context, adj *models.OutageAdjustment) error
	GetAdjustment(ctx context.Context, id uuid.UUID) (*models.OutageAdjustment, error)
	UpdateAdjustment(ctx context.Context, adj *models.OutageAdjustment) error
	DeleteAdjustment(ctx context.Context, id uuid.UUID) error
	ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]*models.OutageAdjustment, error)
	// ListActiveAdjustmentsForLoan returns active adjustments that left a
	// trace on the loan, whatever their scope.
	ListActiveAdjustmentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.OutageAdjustment, error)
	// ListAffectedLoans returns the loans a store-wide outage applies to:
	// not archived, ACTIVE or PENDING, optionally of one vehicle type.
	ListAffectedLoans(ctx context.Context, storeID uuid.UUID, vehicleType string) ([]*models.Loan, error)

	GetTrace(ctx context.Context, adjustmentID, loanID uuid.UUID) (*models.AdjustmentTrace, error)
	SaveTrace(ctx context.Context, trace *models.AdjustmentTrace) error
	DeleteTrace(ctx context.Context, adjustmentID, loanID uuid.UUID) error
	ListTraces(ctx context.Context, adjustmentID uuid.UUID) ([]*models.AdjustmentTrace, error)
	DeleteTracesByLoan(ctx context.Context, loanID uuid.UUID) error
}

// Repository is the full set of operations available inside or outside a
// transaction.
type Repository interface {
	LoanStore
	InstallmentStore
	AdjustmentStore
}

// Storage defines the interface for database operations related to loans,
// installments and outage adjustments.
type Storage interface {
	Repository
	// WithTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Repository) error) error
	Close() error
}

func containsStatus(list []models.LoanStatus, s models.LoanStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
