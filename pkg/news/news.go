// Package news manages outage adjustments: spans during which a vehicle, or a
// whole store, could not operate and the loans it backs are reduced to match.
//
// Every adjustment leaves one trace per loan it touched. The trace holds the
// delta that was actually applied, so deleting or resizing an adjustment
// undoes exactly that amount no matter how the loan's terms changed since.
package news

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/rentledger/pkg/clock"
	"github.com/mcclellann/rentledger/pkg/ledger"
	"github.com/mcclellann/rentledger/pkg/models"
	"github.com/mcclellann/rentledger/pkg/money"
	"github.com/mcclellann/rentledger/pkg/store"
	"github.com/shopspring/decimal"
)

// Reduction is what an outage is worth on one loan before capping.
type Reduction struct {
	// Fractional is days / period, kept to ledger.CreditScale places.
	Fractional decimal.Decimal
	Delta      ledger.Delta
}

// DaysBetween counts the calendar days from start to end, both included.
func DaysBetween(start, end time.Time, loc *time.Location) int {
	return clock.InclusiveDays(start, end, loc)
}

// DeltaForLoan converts days of unavailability into the loan's own cadence.
// The installment count is rounded half away from zero; the amount follows
// the fractional count so the two never disagree by more than a cent.
func DeltaForLoan(loan *models.Loan, days int) (Reduction, error) {
	if days < 0 {
		return Reduction{}, fmt.Errorf("%w: days unavailable must not be negative", ledger.ErrInvalidAmount)
	}
	if days == 0 {
		return Reduction{Fractional: decimal.Zero, Delta: ledger.Delta{Amount: decimal.Zero}}, nil
	}
	cost, err := ledger.InstallmentCost(loan)
	if err != nil {
		return Reduction{}, err
	}
	perInstallment := cost.Add(loan.GPSInstallmentPayment)
	period := decimal.NewFromInt(int64(loan.PaymentFrequency.PeriodDays()))
	d := decimal.NewFromInt(int64(days))

	frac := d.DivRound(period, ledger.CreditScale)
	return Reduction{
		Fractional: frac,
		Delta: ledger.Delta{
			Installments: int(frac.Round(0).IntPart()),
			Amount:       perInstallment.Mul(d).DivRound(period, money.Scale),
		},
	}, nil
}

// Service applies outage adjustments to loans through the ledger's
// transaction boundary.
type Service struct {
	storage store.Storage
	ledger  *ledger.Ledger
	clock   clock.Clock
}

func NewService(s store.Storage, l *ledger.Ledger) *Service {
	return &Service{storage: s, ledger: l, clock: l.Clock()}
}

type CreateInput struct {
	StoreID     uuid.UUID
	Scope       models.AdjustmentScope
	LoanID      *uuid.UUID
	VehicleType string
	Category    models.AdjustmentCategory
	Description string
	StartDate   time.Time
	// EndDate may be omitted when DaysUnavailable is given.
	EndDate         *time.Time
	DaysUnavailable int
	// Manual takes InstallmentsSubtracted and AmountSubtracted as given
	// instead of computing them. Single-loan scope only.
	Manual                 bool
	InstallmentsSubtracted decimal.Decimal
	AmountSubtracted       decimal.Decimal
}

// resolveSpan returns the end date and day count for a span, deriving
// whichever one is missing.
func resolveSpan(start time.Time, end *time.Time, days int, loc *time.Location) (time.Time, int, error) {
	if start.IsZero() {
		return time.Time{}, 0, fmt.Errorf("%w: start date is required", ledger.ErrInvalidDates)
	}
	if days < 0 {
		return time.Time{}, 0, fmt.Errorf("%w: days unavailable must not be negative", ledger.ErrInvalidDates)
	}
	if end == nil {
		if days == 0 {
			return time.Time{}, 0, fmt.Errorf("%w: end date or days unavailable is required", ledger.ErrInvalidDates)
		}
		return clock.AddDays(start, days-1), days, nil
	}
	if clock.DaysBetween(start, *end, loc) < 0 {
		return time.Time{}, 0, fmt.Errorf("%w: end date before start date", ledger.ErrInvalidDates)
	}
	span := DaysBetween(start, *end, loc)
	if days != 0 && days != span {
		return time.Time{}, 0, fmt.Errorf("%w: %d days unavailable but the dates cover %d", ledger.ErrInvalidDates, days, span)
	}
	return *end, span, nil
}

func (in *CreateInput) validate() error {
	if !in.Scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q", ledger.ErrInvalidScope, in.Scope)
	}
	if in.StoreID == uuid.Nil {
		return fmt.Errorf("%w: store id is required", ledger.ErrInvalidScope)
	}
	if in.Category == "" {
		in.Category = models.CategoryOther
	}
	if !in.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ledger.ErrInvalidAdjustment, in.Category)
	}
	switch in.Scope {
	case models.ScopeSingleLoan:
		if in.LoanID == nil || *in.LoanID == uuid.Nil {
			return fmt.Errorf("%w: single-loan adjustment needs a loan id", ledger.ErrInvalidScope)
		}
		if in.VehicleType != "" {
			return fmt.Errorf("%w: single-loan adjustment cannot filter by vehicle type", ledger.ErrInvalidScope)
		}
	case models.ScopeStoreWide:
		if in.LoanID != nil {
			return fmt.Errorf("%w: store-wide adjustment cannot target a loan", ledger.ErrInvalidScope)
		}
		if in.Manual {
			return fmt.Errorf("%w: store-wide adjustments are always calculated", ledger.ErrInvalidAdjustment)
		}
	}
	if in.Manual && (in.InstallmentsSubtracted.IsNegative() || in.AmountSubtracted.IsNegative()) {
		return fmt.Errorf("%w: manual values must not be negative", ledger.ErrInvalidAmount)
	}
	return nil
}

// Create records an adjustment and applies it. For store-wide scope the
// record is saved first and each loan is then updated in its own
// transaction; if one fails the error is returned together with the saved
// adjustment and Reapply finishes the job.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.OutageAdjustment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	end, days, err := resolveSpan(in.StartDate, in.EndDate, in.DaysUnavailable, s.clock.Location())
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	adj := &models.OutageAdjustment{
		ID:                     uuid.New(),
		StoreID:                in.StoreID,
		Scope:                  in.Scope,
		LoanID:                 in.LoanID,
		VehicleType:            in.VehicleType,
		Category:               in.Category,
		Description:            in.Description,
		StartDate:              in.StartDate,
		EndDate:                end,
		DaysUnavailable:        days,
		AutoCalculate:          !in.Manual,
		InstallmentsSubtracted: decimal.Zero,
		AmountSubtracted:       decimal.Zero,
		IsActive:               true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if in.Manual {
		adj.InstallmentsSubtracted = in.InstallmentsSubtracted
		adj.AmountSubtracted = money.Round(in.AmountSubtracted)
	}

	if adj.Scope == models.ScopeSingleLoan {
		return s.createSingle(ctx, adj)
	}

	if err := s.ledger.RunInTx(ctx, "create adjustment", func(tx store.Repository) error {
		return tx.CreateAdjustment(ctx, adj)
	}); err != nil {
		return nil, fmt.Errorf("failed to create adjustment: %w", err)
	}
	log.Printf("[news] created store-wide adjustment %s for store %s (%d days)", adj.ID, adj.StoreID, adj.DaysUnavailable)
	return s.propagate(ctx, adj)
}

func (s *Service) createSingle(ctx context.Context, draft *models.OutageAdjustment) (*models.OutageAdjustment, error) {
	var adj *models.OutageAdjustment
	err := s.ledger.RunInTx(ctx, "create adjustment", func(tx store.Repository) error {
		a := *draft
		loan, err := tx.GetLoan(ctx, *a.LoanID)
		if err != nil {
			return err
		}
		if loan.StoreID != a.StoreID {
			return fmt.Errorf("%w: loan %s does not belong to store %s", ledger.ErrInvalidScope, loan.ID, a.StoreID)
		}
		if err := tx.CreateAdjustment(ctx, &a); err != nil {
			return err
		}
		trace, _, err := s.syncLoan(ctx, tx, &a, loan.ID)
		if err != nil {
			return err
		}
		freeze(&a, trace)
		a.AffectedLoans = 1
		if err := tx.UpdateAdjustment(ctx, &a); err != nil {
			return err
		}
		adj = &a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create adjustment: %w", err)
	}
	s.ledger.InvalidateStatus(ctx, *adj.LoanID)
	log.Printf("[news] created adjustment %s on loan %s (-%s installments, -%s)",
		adj.ID, *adj.LoanID, adj.InstallmentsSubtracted, adj.AmountSubtracted.StringFixed(money.Scale))
	return adj, nil
}

// freeze copies what was applied onto a single-loan adjustment record.
func freeze(adj *models.OutageAdjustment, trace *models.AdjustmentTrace) {
	adj.InstallmentsSubtracted = trace.FractionalInstallments
	adj.AmountSubtracted = trace.Amount
}

func traceDelta(tr *models.AdjustmentTrace) ledger.Delta {
	return ledger.Delta{Installments: tr.Installments, Amount: tr.Amount}
}

func (s *Service) reduction(loan *models.Loan, adj *models.OutageAdjustment) (Reduction, error) {
	if adj.AutoCalculate {
		return DeltaForLoan(loan, adj.DaysUnavailable)
	}
	return Reduction{
		Fractional: adj.InstallmentsSubtracted,
		Delta: ledger.Delta{
			Installments: int(adj.InstallmentsSubtracted.Round(0).IntPart()),
			Amount:       money.Round(adj.AmountSubtracted),
		},
	}, nil
}

// syncLoan brings one loan in line with adj inside tx: a first application
// when no trace exists, a net change when the adjustment was resized. It
// reports false when the loan was skipped or already current.
func (s *Service) syncLoan(ctx context.Context, tx store.Repository, adj *models.OutageAdjustment, loanID uuid.UUID) (*models.AdjustmentTrace, bool, error) {
	trace, err := tx.GetTrace(ctx, adj.ID, loanID)
	if errors.Is(err, store.ErrNotFound) {
		trace, err = nil, nil
	}
	if err != nil {
		return nil, false, err
	}
	loan, err := tx.GetLoan(ctx, loanID)
	if err != nil {
		return nil, false, err
	}

	now := s.clock.Now()
	var red Reduction
	var applied ledger.Delta
	if trace == nil {
		if adj.Scope == models.ScopeStoreWide && (loan.Archived || loan.Status.Closed()) {
			return nil, false, nil
		}
		if loan.Status.Closed() {
			return nil, false, fmt.Errorf("%w: loan %s is %s", ledger.ErrLoanClosed, loan.ID, loan.Status)
		}
		if red, err = s.reduction(loan, adj); err != nil {
			return nil, false, err
		}
		applied = ledger.CapOutageDelta(loan, red.Delta)
		if err := ledger.ApplyOutageDelta(loan, applied); err != nil {
			return nil, false, err
		}
		trace = &models.AdjustmentTrace{AdjustmentID: adj.ID, LoanID: loan.ID, CreatedAt: now}
	} else {
		// A defaulted loan keeps what it was given; deleting the adjustment
		// still reverses it exactly.
		if loan.Status == models.LoanStatusDefaulted {
			return trace, false, nil
		}
		from := traceDelta(trace)
		base := *loan
		ledger.ReverseOutageDelta(&base, from)
		if red, err = s.reduction(&base, adj); err != nil {
			return nil, false, err
		}
		if trace.FractionalInstallments.Equal(red.Fractional) && (adj.AutoCalculate || trace.Amount.Equal(red.Delta.Amount)) {
			return trace, false, nil
		}
		applied, err = ledger.ApplyNetOutageDelta(loan, from, red.Delta)
		if errors.Is(err, ledger.ErrLoanClosed) {
			log.Printf("[news] adjustment %s: loan %s is %s, keeping its applied delta", adj.ID, loan.ID, loan.Status)
			return trace, false, nil
		}
		if err != nil {
			return nil, false, err
		}
	}

	loan.UpdatedAt = now
	if err := tx.UpdateLoan(ctx, loan); err != nil {
		return nil, false, err
	}
	trace.Installments = applied.Installments
	trace.FractionalInstallments = red.Fractional
	trace.Amount = applied.Amount
	trace.UpdatedAt = now
	if err := tx.SaveTrace(ctx, trace); err != nil {
		return nil, false, err
	}
	return trace, true, nil
}

// propagate syncs every loan a store-wide adjustment covers: loans it already
// touched and eligible loans it has not reached yet. Loans opened after the
// adjustment was recorded are left alone.
func (s *Service) propagate(ctx context.Context, adj *models.OutageAdjustment) (*models.OutageAdjustment, error) {
	traces, err := s.storage.ListTraces(ctx, adj.ID)
	if err != nil {
		return adj, err
	}
	candidates, err := s.storage.ListAffectedLoans(ctx, adj.StoreID, adj.VehicleType)
	if err != nil {
		return adj, err
	}

	seen := make(map[uuid.UUID]bool, len(traces)+len(candidates))
	ids := make([]uuid.UUID, 0, len(traces)+len(candidates))
	for _, tr := range traces {
		seen[tr.LoanID] = true
		ids = append(ids, tr.LoanID)
	}
	for _, loan := range candidates {
		if seen[loan.ID] || loan.CreatedAt.After(adj.CreatedAt) {
			continue
		}
		seen[loan.ID] = true
		ids = append(ids, loan.ID)
	}

	var touched []uuid.UUID
	defer func() { s.ledger.InvalidateStatus(ctx, touched...) }()
	for _, loanID := range ids {
		var changed bool
		err := s.ledger.RunInTx(ctx, "apply adjustment", func(tx store.Repository) error {
			var err error
			_, changed, err = s.syncLoan(ctx, tx, adj, loanID)
			return err
		})
		if err != nil {
			log.Printf("[news] adjustment %s stopped at loan %s: %v", adj.ID, loanID, err)
			return adj, fmt.Errorf("failed to apply adjustment %s to loan %s: %w", adj.ID, loanID, err)
		}
		if changed {
			touched = append(touched, loanID)
		}
	}

	var out *models.OutageAdjustment
	err = s.ledger.RunInTx(ctx, "count affected loans", func(tx store.Repository) error {
		fresh, err := tx.GetAdjustment(ctx, adj.ID)
		if err != nil {
			return err
		}
		traces, err := tx.ListTraces(ctx, adj.ID)
		if err != nil {
			return err
		}
		fresh.AffectedLoans = len(traces)
		fresh.UpdatedAt = s.clock.Now()
		out = fresh
		return tx.UpdateAdjustment(ctx, fresh)
	})
	if err != nil {
		return adj, err
	}
	log.Printf("[news] adjustment %s now covers %d loans (%d updated)", out.ID, out.AffectedLoans, len(touched))
	return out, nil
}

// Reapply resumes a store-wide adjustment that stopped part way. Loans that
// are already current are not touched again.
func (s *Service) Reapply(ctx context.Context, id uuid.UUID) (*models.OutageAdjustment, error) {
	adj, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !adj.IsActive {
		return nil, fmt.Errorf("%w: adjustment %s is inactive", ledger.ErrInvalidState, id)
	}
	if adj.Scope != models.ScopeStoreWide {
		return adj, nil
	}
	return s.propagate(ctx, adj)
}

// UpdateInput changes an active adjustment. Nil fields are left alone.
type UpdateInput struct {
	Category               *models.AdjustmentCategory
	Description            *string
	StartDate              *time.Time
	EndDate                *time.Time
	DaysUnavailable        *int
	InstallmentsSubtracted *decimal.Decimal
	AmountSubtracted       *decimal.Decimal
}

func (s *Service) applyUpdate(adj *models.OutageAdjustment, in UpdateInput) error {
	if in.Category != nil {
		if !in.Category.Valid() {
			return fmt.Errorf("%w: unknown category %q", ledger.ErrInvalidAdjustment, *in.Category)
		}
		adj.Category = *in.Category
	}
	if in.Description != nil {
		adj.Description = *in.Description
	}

	if in.StartDate != nil || in.EndDate != nil || in.DaysUnavailable != nil {
		start := adj.StartDate
		if in.StartDate != nil {
			start = *in.StartDate
		}
		var end *time.Time
		days := 0
		switch {
		case in.EndDate != nil:
			end = in.EndDate
			if in.DaysUnavailable != nil {
				days = *in.DaysUnavailable
			}
		case in.DaysUnavailable != nil:
			days = *in.DaysUnavailable
		default:
			end = &adj.EndDate
		}
		e, d, err := resolveSpan(start, end, days, s.clock.Location())
		if err != nil {
			return err
		}
		adj.StartDate, adj.EndDate, adj.DaysUnavailable = start, e, d
	}

	if in.InstallmentsSubtracted != nil || in.AmountSubtracted != nil {
		if adj.AutoCalculate {
			return fmt.Errorf("%w: adjustment %s is calculated, not manual", ledger.ErrInvalidAdjustment, adj.ID)
		}
		if in.InstallmentsSubtracted != nil {
			if in.InstallmentsSubtracted.IsNegative() {
				return fmt.Errorf("%w: manual values must not be negative", ledger.ErrInvalidAmount)
			}
			adj.InstallmentsSubtracted = *in.InstallmentsSubtracted
		}
		if in.AmountSubtracted != nil {
			if in.AmountSubtracted.IsNegative() {
				return fmt.Errorf("%w: manual values must not be negative", ledger.ErrInvalidAmount)
			}
			adj.AmountSubtracted = money.Round(*in.AmountSubtracted)
		}
	}
	adj.UpdatedAt = s.clock.Now()
	return nil
}

// Update changes an adjustment and moves each affected loan by the net
// difference between what it had and what it should now have.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*models.OutageAdjustment, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsActive {
		return nil, fmt.Errorf("%w: adjustment %s is inactive", ledger.ErrInvalidState, id)
	}

	if current.Scope == models.ScopeStoreWide {
		var adj *models.OutageAdjustment
		err := s.ledger.RunInTx(ctx, "update adjustment", func(tx store.Repository) error {
			fresh, err := tx.GetAdjustment(ctx, id)
			if err != nil {
				return err
			}
			if err := s.applyUpdate(fresh, in); err != nil {
				return err
			}
			adj = fresh
			return tx.UpdateAdjustment(ctx, fresh)
		})
		if err != nil {
			return nil, err
		}
		log.Printf("[news] updated store-wide adjustment %s (%d days)", adj.ID, adj.DaysUnavailable)
		return s.propagate(ctx, adj)
	}

	var adj *models.OutageAdjustment
	err = s.ledger.RunInTx(ctx, "update adjustment", func(tx store.Repository) error {
		fresh, err := tx.GetAdjustment(ctx, id)
		if err != nil {
			return err
		}
		if err := s.applyUpdate(fresh, in); err != nil {
			return err
		}
		trace, _, err := s.syncLoan(ctx, tx, fresh, *fresh.LoanID)
		if err != nil {
			return err
		}
		freeze(fresh, trace)
		adj = fresh
		return tx.UpdateAdjustment(ctx, fresh)
	})
	if err != nil {
		return nil, err
	}
	s.ledger.InvalidateStatus(ctx, *adj.LoanID)
	log.Printf("[news] updated adjustment %s on loan %s (-%s installments, -%s)",
		adj.ID, *adj.LoanID, adj.InstallmentsSubtracted, adj.AmountSubtracted.StringFixed(money.Scale))
	return adj, nil
}

// unwind gives back what adj applied to every loan it traced and removes the
// traces, one transaction per loan.
func (s *Service) unwind(ctx context.Context, adj *models.OutageAdjustment) error {
	traces, err := s.storage.ListTraces(ctx, adj.ID)
	if err != nil {
		return err
	}
	var touched []uuid.UUID
	defer func() { s.ledger.InvalidateStatus(ctx, touched...) }()
	for _, tr := range traces {
		loanID := tr.LoanID
		err := s.ledger.RunInTx(ctx, "reverse adjustment", func(tx store.Repository) error {
			trace, err := tx.GetTrace(ctx, adj.ID, loanID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			loan, err := tx.GetLoan(ctx, loanID)
			if err != nil {
				return err
			}
			ledger.ReverseOutageDelta(loan, traceDelta(trace))
			loan.UpdatedAt = s.clock.Now()
			if err := tx.UpdateLoan(ctx, loan); err != nil {
				return err
			}
			return tx.DeleteTrace(ctx, adj.ID, loanID)
		})
		if err != nil {
			return fmt.Errorf("failed to reverse adjustment %s on loan %s: %w", adj.ID, loanID, err)
		}
		touched = append(touched, loanID)
	}
	return nil
}

// Delete reverses an adjustment on every loan it touched and removes it.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	adj, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if adj.Scope == models.ScopeSingleLoan {
		err := s.ledger.RunInTx(ctx, "delete adjustment", func(tx store.Repository) error {
			trace, err := tx.GetTrace(ctx, id, *adj.LoanID)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return err
			default:
				loan, err := tx.GetLoan(ctx, trace.LoanID)
				if err != nil {
					return err
				}
				ledger.ReverseOutageDelta(loan, traceDelta(trace))
				loan.UpdatedAt = s.clock.Now()
				if err := tx.UpdateLoan(ctx, loan); err != nil {
					return err
				}
			}
			return tx.DeleteAdjustment(ctx, id)
		})
		if err != nil {
			return err
		}
		s.ledger.InvalidateStatus(ctx, *adj.LoanID)
		log.Printf("[news] deleted adjustment %s on loan %s", id, *adj.LoanID)
		return nil
	}

	if err := s.unwind(ctx, adj); err != nil {
		return err
	}
	if err := s.ledger.RunInTx(ctx, "delete adjustment", func(tx store.Repository) error {
		return tx.DeleteAdjustment(ctx, id)
	}); err != nil {
		return err
	}
	log.Printf("[news] deleted store-wide adjustment %s", id)
	return nil
}

// Deactivate reverses an adjustment but keeps the record for history.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*models.OutageAdjustment, error) {
	adj, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !adj.IsActive {
		return adj, nil
	}
	if err := s.unwind(ctx, adj); err != nil {
		return nil, err
	}
	var out *models.OutageAdjustment
	err = s.ledger.RunInTx(ctx, "deactivate adjustment", func(tx store.Repository) error {
		fresh, err := tx.GetAdjustment(ctx, id)
		if err != nil {
			return err
		}
		fresh.IsActive = false
		fresh.UpdatedAt = s.clock.Now()
		out = fresh
		return tx.UpdateAdjustment(ctx, fresh)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[news] deactivated adjustment %s", id)
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.OutageAdjustment, error) {
	adj, err := s.storage.GetAdjustment(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return adj, nil
}

func (s *Service) List(ctx context.Context, filter store.AdjustmentFilter) ([]*models.OutageAdjustment, error) {
	list, err := s.storage.ListAdjustments(ctx, filter)
	return list, wrapNotFound(err)
}

// ListActiveForLoan returns the active adjustments currently reducing a loan.
func (s *Service) ListActiveForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.OutageAdjustment, error) {
	if _, err := s.storage.GetLoan(ctx, loanID); err != nil {
		return nil, wrapNotFound(err)
	}
	list, err := s.storage.ListActiveAdjustmentsForLoan(ctx, loanID)
	return list, wrapNotFound(err)
}

// ListTraces returns the per-loan deltas of an adjustment.
func (s *Service) ListTraces(ctx context.Context, id uuid.UUID) ([]*models.AdjustmentTrace, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	list, err := s.storage.ListTraces(ctx, id)
	return list, wrapNotFound(err)
}

func wrapNotFound(err error) error {
	if err != nil && errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ledger.ErrNotFound, err)
	}
	return err
}
