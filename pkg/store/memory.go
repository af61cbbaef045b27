package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/rentledger/pkg/models"
)

// MemoryStore keeps everything in process memory. Transactions are serialised
// by one mutex and applied to a staged copy that replaces the live data only
// on commit.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

type traceKey struct {
	adjustmentID uuid.UUID
	loanID       uuid.UUID
}

type memData struct {
	loans        map[uuid.UUID]models.Loan
	installments map[uuid.UUID]models.Installment
	adjustments  map[uuid.UUID]models.OutageAdjustment
	traces       map[traceKey]models.AdjustmentTrace
}

var _ Storage = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

func newMemData() *memData {
	return &memData{
		loans:        make(map[uuid.UUID]models.Loan),
		installments: make(map[uuid.UUID]models.Installment),
		adjustments:  make(map[uuid.UUID]models.OutageAdjustment),
		traces:       make(map[traceKey]models.AdjustmentTrace),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.loans {
		c.loans[k] = v
	}
	for k, v := range d.installments {
		c.installments[k] = v
	}
	for k, v := range d.adjustments {
		c.adjustments[k] = v
	}
	for k, v := range d.traces {
		c.traces[k] = v
	}
	return c
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.data.clone()
	if err := fn(memRepo{d: staged}); err != nil {
		return err
	}
	s.data = staged
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// do runs a single operation against the live data.
func (s *MemoryStore) do(fn func(r memRepo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(memRepo{d: s.data})
}

func (s *MemoryStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	return s.do(func(r memRepo) error { return r.CreateLoan(ctx, loan) })
}

func (s *MemoryStore) GetLoan(ctx context.Context, id uuid.UUID) (loan *models.Loan, err error) {
	err = s.do(func(r memRepo) error { loan, err = r.GetLoan(ctx, id); return err })
	return loan, err
}

func (s *MemoryStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	return s.do(func(r memRepo) error { return r.UpdateLoan(ctx, loan) })
}

func (s *MemoryStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	return s.do(func(r memRepo) error { return r.DeleteLoan(ctx, id) })
}

func (s *MemoryStore) LastContractNumber(ctx context.Context, storeID uuid.UUID) (n int, err error) {
	err = s.do(func(r memRepo) error { n, err = r.LastContractNumber(ctx, storeID); return err })
	return n, err
}

func (s *MemoryStore) ListLoans(ctx context.Context, filter LoanFilter) (loans []*models.Loan, err error) {
	err = s.do(func(r memRepo) error { loans, err = r.ListLoans(ctx, filter); return err })
	return loans, err
}

func (s *MemoryStore) CreateInstallment(ctx context.Context, inst *models.Installment) error {
	return s.do(func(r memRepo) error { return r.CreateInstallment(ctx, inst) })
}

func (s *MemoryStore) GetInstallment(ctx context.Context, id uuid.UUID) (inst *models.Installment, err error) {
	err = s.do(func(r memRepo) error { inst, err = r.GetInstallment(ctx, id); return err })
	return inst, err
}

func (s *MemoryStore) DeleteInstallment(ctx context.Context, id uuid.UUID) error {
	return s.do(func(r memRepo) error { return r.DeleteInstallment(ctx, id) })
}

func (s *MemoryStore) ListInstallmentsByLoan(ctx context.Context, loanID uuid.UUID) (list []*models.Installment, err error) {
	err = s.do(func(r memRepo) error { list, err = r.ListInstallmentsByLoan(ctx, loanID); return err })
	return list, err
}

func (s *MemoryStore) ListInstallmentsByLoans(ctx context.Context, loanIDs []uuid.UUID) (out map[uuid.UUID][]*models.Installment, err error) {
	err = s.do(func(r memRepo) error { out, err = r.ListInstallmentsByLoans(ctx, loanIDs); return err })
	return out, err
}

func (s *MemoryStore) DeleteInstallmentsByLoan(ctx context.Context, loanID uuid.UUID) error {
	return s.do(func(r memRepo) error { return r.DeleteInstallmentsByLoan(ctx, loanID) })
}

func (s *MemoryStore) CreateAdjustment(ctx context.Context, adj *models.OutageAdjustment) error {
	return s.do(func(r memRepo) error { return r.CreateAdjustment(ctx, adj) })
}

func (s *MemoryStore) GetAdjustment(ctx context.Context, id uuid.UUID) (adj *models.OutageAdjustment, err error) {
	err = s.do(func(r memRepo) error { adj, err = r.GetAdjustment(ctx, id); return err })
	return adj, err
}

func (s *MemoryStore) UpdateAdjustment(ctx context.Context, adj *models.OutageAdjustment) error {
	return s.do(func(r memRepo) error { return r.UpdateAdjustment(ctx, adj) })
}

func (s *MemoryStore) DeleteAdjustment(ctx context.Context, id uuid.UUID) error {
	return s.do(func(r memRepo) error { return r.DeleteAdjustment(ctx, id) })
}

func (s *MemoryStore) ListAdjustments(ctx context.Context, filter AdjustmentFilter) (list []*models.OutageAdjustment, err error) {
	err = s.do(func(r memRepo) error { list, err = r.ListAdjustments(ctx, filter); return err })
	return list, err
}

func (s *MemoryStore) ListActiveAdjustmentsForLoan(ctx context.Context, loanID uuid.UUID) (list []*models.OutageAdjustment, err error) {
	err = s.do(func(r memRepo) error { list, err = r.ListActiveAdjustmentsForLoan(ctx, loanID); return err })
	return list, err
}

func (s *MemoryStore) ListAffectedLoans(ctx context.Context, storeID uuid.UUID, vehicleType string) (loans []*models.Loan, err error) {
	err = s.do(func(r memRepo) error { loans, err = r.ListAffectedLoans(ctx, storeID, vehicleType); return err })
	return loans, err
}

func (s *MemoryStore) GetTrace(ctx context.Context, adjustmentID, loanID uuid.UUID) (tr *models.AdjustmentTrace, err error) {
	err = s.do(func(r memRepo) error { tr, err = r.GetTrace(ctx, adjustmentID, loanID); return err })
	return tr, err
}

func (s *MemoryStore) SaveTrace(ctx context.Context, trace *models.AdjustmentTrace) error {
	return s.do(func(r memRepo) error { return r.SaveTrace(ctx, trace) })
}

func (s *MemoryStore) DeleteTrace(ctx context.Context, adjustmentID, loanID uuid.UUID) error {
	return s.do(func(r memRepo) error { return r.DeleteTrace(ctx, adjustmentID, loanID) })
}

func (s *MemoryStore) ListTraces(ctx context.Context, adjustmentID uuid.UUID) (list []*models.AdjustmentTrace, err error) {
	err = s.do(func(r memRepo) error { list, err = r.ListTraces(ctx, adjustmentID); return err })
	return list, err
}

func (s *MemoryStore) DeleteTracesByLoan(ctx context.Context, loanID uuid.UUID) error {
	return s.do(func(r memRepo) error { return r.DeleteTracesByLoan(ctx, loanID) })
}

// memRepo operates on one memData without locking; callers hold the lock.
type memRepo struct {
	d *memData
}

func (r memRepo) CreateLoan(_ context.Context, loan *models.Loan) error {
	if _, ok := r.d.loans[loan.ID]; ok {
		return fmt.Errorf("loan %s already exists", loan.ID)
	}
	for _, other := range r.d.loans {
		if other.StoreID == loan.StoreID && other.ContractNumber == loan.ContractNumber {
			return fmt.Errorf("contract %s in store %s taken: %w", loan.ContractNumber, loan.StoreID, ErrConflict)
		}
	}
	r.d.loans[loan.ID] = *loan
	return nil
}

func (r memRepo) GetLoan(_ context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, ok := r.d.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}
	return &loan, nil
}

func (r memRepo) UpdateLoan(_ context.Context, loan *models.Loan) error {
	current, ok := r.d.loans[loan.ID]
	if !ok {
		return fmt.Errorf("loan %s: %w", loan.ID, ErrNotFound)
	}
	if current.Version != loan.Version {
		return fmt.Errorf("loan %s at version %d: %w", loan.ID, loan.Version, ErrConflict)
	}
	loan.Version++
	r.d.loans[loan.ID] = *loan
	return nil
}

func (r memRepo) DeleteLoan(_ context.Context, id uuid.UUID) error {
	if _, ok := r.d.loans[id]; !ok {
		return fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}
	for _, inst := range r.d.installments {
		if inst.LoanID == id {
			return fmt.Errorf("loan %s still has installments", id)
		}
	}
	delete(r.d.loans, id)
	return nil
}

func (r memRepo) LastContractNumber(_ context.Context, storeID uuid.UUID) (int, error) {
	last := 0
	for _, l := range r.d.loans {
		if l.StoreID != storeID {
			continue
		}
		if n, err := strconv.Atoi(l.ContractNumber); err == nil && n > last {
			last = n
		}
	}
	return last, nil
}

func (r memRepo) ListLoans(_ context.Context, filter LoanFilter) ([]*models.Loan, error) {
	loans := []*models.Loan{}
	for _, l := range r.d.loans {
		if filter.StoreID != uuid.Nil && l.StoreID != filter.StoreID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, l.Status) {
			continue
		}
		if filter.VehicleType != "" && l.VehicleType != filter.VehicleType {
			continue
		}
		if l.Archived && !filter.IncludeArchived {
			continue
		}
		loan := l
		loans = append(loans, &loan)
	}
	sort.Slice(loans, func(i, j int) bool {
		if !loans[i].CreatedAt.Equal(loans[j].CreatedAt) {
			return loans[i].CreatedAt.Before(loans[j].CreatedAt)
		}
		return loans[i].ContractNumber < loans[j].ContractNumber
	})
	return paginate(loans, filter.Offset, filter.Limit), nil
}

func paginate(loans []*models.Loan, offset, limit int) []*models.Loan {
	if offset > 0 {
		if offset >= len(loans) {
			return []*models.Loan{}
		}
		loans = loans[offset:]
	}
	if limit > 0 && limit < len(loans) {
		loans = loans[:limit]
	}
	return loans
}

func (r memRepo) CreateInstallment(_ context.Context, inst *models.Installment) error {
	if _, ok := r.d.loans[inst.LoanID]; !ok {
		return fmt.Errorf("loan %s: %w", inst.LoanID, ErrNotFound)
	}
	r.d.installments[inst.ID] = *inst
	return nil
}

func (r memRepo) GetInstallment(_ context.Context, id uuid.UUID) (*models.Installment, error) {
	inst, ok := r.d.installments[id]
	if !ok {
		return nil, fmt.Errorf("installment %s: %w", id, ErrNotFound)
	}
	return &inst, nil
}

func (r memRepo) DeleteInstallment(_ context.Context, id uuid.UUID) error {
	if _, ok := r.d.installments[id]; !ok {
		return fmt.Errorf("installment %s: %w", id, ErrNotFound)
	}
	delete(r.d.installments, id)
	return nil
}

func (r memRepo) ListInstallmentsByLoan(_ context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	list := []*models.Installment{}
	for _, inst := range r.d.installments {
		if inst.LoanID == loanID {
			i := inst
			list = append(list, &i)
		}
	}
	sortInstallments(list)
	return list, nil
}

func (r memRepo) ListInstallmentsByLoans(ctx context.Context, loanIDs []uuid.UUID) (map[uuid.UUID][]*models.Installment, error) {
	out := make(map[uuid.UUID][]*models.Installment, len(loanIDs))
	wanted := make(map[uuid.UUID]bool, len(loanIDs))
	for _, id := range loanIDs {
		wanted[id] = true
	}
	for _, inst := range r.d.installments {
		if wanted[inst.LoanID] {
			i := inst
			out[inst.LoanID] = append(out[inst.LoanID], &i)
		}
	}
	for _, list := range out {
		sortInstallments(list)
	}
	return out, nil
}

func sortInstallments(list []*models.Installment) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].PaymentDate.Equal(list[j].PaymentDate) {
			return list[i].PaymentDate.Before(list[j].PaymentDate)
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func (r memRepo) DeleteInstallmentsByLoan(_ context.Context, loanID uuid.UUID) error {
	for id, inst := range r.d.installments {
		if inst.LoanID == loanID {
			delete(r.d.installments, id)
		}
	}
	return nil
}

func (r memRepo) CreateAdjustment(_ context.Context, adj *models.OutageAdjustment) error {
	if _, ok := r.d.adjustments[adj.ID]; ok {
		return fmt.Errorf("adjustment %s already exists", adj.ID)
	}
	r.d.adjustments[adj.ID] = *adj
	return nil
}

func (r memRepo) GetAdjustment(_ context.Context, id uuid.UUID) (*models.OutageAdjustment, error) {
	adj, ok := r.d.adjustments[id]
	if !ok {
		return nil, fmt.Errorf("adjustment %s: %w", id, ErrNotFound)
	}
	return &adj, nil
}

func (r memRepo) UpdateAdjustment(_ context.Context, adj *models.OutageAdjustment) error {
	if _, ok := r.d.adjustments[adj.ID]; !ok {
		return fmt.Errorf("adjustment %s: %w", adj.ID, ErrNotFound)
	}
	r.d.adjustments[adj.ID] = *adj
	return nil
}

func (r memRepo) DeleteAdjustment(_ context.Context, id uuid.UUID) error {
	if _, ok := r.d.adjustments[id]; !ok {
		return fmt.Errorf("adjustment %s: %w", id, ErrNotFound)
	}
	delete(r.d.adjustments, id)
	for k := range r.d.traces {
		if k.adjustmentID == id {
			delete(r.d.traces, k)
		}
	}
	return nil
}

func (r memRepo) ListAdjustments(_ context.Context, filter AdjustmentFilter) ([]*models.OutageAdjustment, error) {
	list := []*models.OutageAdjustment{}
	for _, a := range r.d.adjustments {
		if filter.StoreID != uuid.Nil && a.StoreID != filter.StoreID {
			continue
		}
		if filter.ActiveOnly && !a.IsActive {
			continue
		}
		if filter.LoanID != uuid.Nil {
			if _, ok := r.d.traces[traceKey{a.ID, filter.LoanID}]; !ok {
				continue
			}
		}
		adj := a
		list = append(list, &adj)
	}
	sortAdjustments(list)
	return list, nil
}

func sortAdjustments(list []*models.OutageAdjustment) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartDate.Equal(list[j].StartDate) {
			return list[i].StartDate.Before(list[j].StartDate)
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func (r memRepo) ListActiveAdjustmentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.OutageAdjustment, error) {
	return r.ListAdjustments(ctx, AdjustmentFilter{LoanID: loanID, ActiveOnly: true})
}

func (r memRepo) ListAffectedLoans(ctx context.Context, storeID uuid.UUID, vehicleType string) ([]*models.Loan, error) {
	return r.ListLoans(ctx, LoanFilter{
		StoreID:     storeID,
		Statuses:    []models.LoanStatus{models.LoanStatusActive, models.LoanStatusPending},
		VehicleType: vehicleType,
	})
}

func (r memRepo) GetTrace(_ context.Context, adjustmentID, loanID uuid.UUID) (*models.AdjustmentTrace, error) {
	tr, ok := r.d.traces[traceKey{adjustmentID, loanID}]
	if !ok {
		return nil, fmt.Errorf("trace %s/%s: %w", adjustmentID, loanID, ErrNotFound)
	}
	return &tr, nil
}

func (r memRepo) SaveTrace(_ context.Context, trace *models.AdjustmentTrace) error {
	key := traceKey{trace.AdjustmentID, trace.LoanID}
	if existing, ok := r.d.traces[key]; ok {
		trace.CreatedAt = existing.CreatedAt
	} else if trace.CreatedAt.IsZero() {
		trace.CreatedAt = time.Now()
	}
	r.d.traces[key] = *trace
	return nil
}

func (r memRepo) DeleteTrace(_ context.Context, adjustmentID, loanID uuid.UUID) error {
	key := traceKey{adjustmentID, loanID}
	if _, ok := r.d.traces[key]; !ok {
		return fmt.Errorf("trace %s/%s: %w", adjustmentID, loanID, ErrNotFound)
	}
	delete(r.d.traces, key)
	return nil
}

func (r memRepo) ListTraces(_ context.Context, adjustmentID uuid.UUID) ([]*models.AdjustmentTrace, error) {
	list := []*models.AdjustmentTrace{}
	for k, tr := range r.d.traces {
		if k.adjustmentID == adjustmentID {
			t := tr
			list = append(list, &t)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LoanID.String() < list[j].LoanID.String()
	})
	return list, nil
}

func (r memRepo) DeleteTracesByLoan(_ context.Context, loanID uuid.UUID) error {
	for k := range r.d.traces {
		if k.loanID == loanID {
			delete(r.d.traces, k)
		}
	}
	return nil
}
