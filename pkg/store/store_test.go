package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/rentledger/pkg/models"
	"github.com/shopspring/decimal"
)

// runStorageSuite exercises the behaviour every Storage implementation shares.
func runStorageSuite(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("LoanRoundTrip", func(t *testing.T) { testLoanRoundTrip(t, newStore(t)) })
	t.Run("UpdateLoanVersionGuard", func(t *testing.T) { testUpdateLoanVersionGuard(t, newStore(t)) })
	t.Run("ListLoansFilter", func(t *testing.T) { testListLoansFilter(t, newStore(t)) })
	t.Run("Installments", func(t *testing.T) { testInstallments(t, newStore(t)) })
	t.Run("AdjustmentsAndTraces", func(t *testing.T) { testAdjustmentsAndTraces(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("UniqueContractPerStore", func(t *testing.T) { testUniqueContractPerStore(t, newStore(t)) })
}

func testUniqueContractPerStore(t *testing.T, s Storage) {
	ctx := context.Background()
	storeID := uuid.New()
	mustCreateLoan(t, s, testLoan(storeID, "000001", 0))
	mustCreateLoan(t, s, testLoan(storeID, "000007", 1))

	if err := s.CreateLoan(ctx, testLoan(storeID, "000001", 2)); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for a taken contract number, got %v", err)
	}
	// Same number in another store is fine.
	mustCreateLoan(t, s, testLoan(uuid.New(), "000001", 3))

	n, err := s.LastContractNumber(ctx, storeID)
	if err != nil {
		t.Fatalf("Failed to read last contract number: %v", err)
	}
	if n != 7 {
		t.Errorf("Expected last contract 7, got %d", n)
	}
}

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func testLoan(storeID uuid.UUID, contract string, offset int) *models.Loan {
	created := baseTime.Add(time.Duration(offset) * time.Minute)
	return &models.Loan{
		ID:                       uuid.New(),
		StoreID:                  storeID,
		ContractNumber:           contract,
		ClientID:                 uuid.New(),
		VehicleID:                uuid.New(),
		VehicleType:              "MOTORCYCLE",
		TotalAmount:              decimal.RequireFromString("3000000.00"),
		DownPayment:              decimal.RequireFromString("500000.00"),
		Installments:             100,
		InterestRate:             decimal.Zero,
		InterestType:             models.InterestTypeFixed,
		PaymentFrequency:         models.FrequencyDaily,
		InstallmentPaymentAmount: decimal.RequireFromString("25000.00"),
		GPSInstallmentPayment:    decimal.RequireFromString("2000.00"),
		StartDate:                baseTime,
		EndDate:                  baseTime.AddDate(0, 0, 99),
		PaidInstallments:         decimal.Zero,
		RemainingInstallments:    decimal.NewFromInt(100),
		TotalPaid:                decimal.Zero,
		DebtRemaining:            decimal.RequireFromString("2500000.00"),
		Status:                   models.LoanStatusPending,
		CreatedAt:                created,
		UpdatedAt:                created,
	}
}

func mustCreateLoan(t *testing.T, s Storage, loan *models.Loan) {
	t.Helper()
	if err := s.CreateLoan(context.Background(), loan); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
}

func testLoanRoundTrip(t *testing.T, s Storage) {
	ctx := context.Background()
	loan := testLoan(uuid.New(), "000001", 0)
	mustCreateLoan(t, s, loan)

	fetched, err := s.GetLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}
	if fetched.ContractNumber != "000001" {
		t.Errorf("Expected contract 000001, got %s", fetched.ContractNumber)
	}
	if !fetched.DebtRemaining.Equal(loan.DebtRemaining) {
		t.Errorf("Expected DebtRemaining %s, got %s", loan.DebtRemaining, fetched.DebtRemaining)
	}
	if !fetched.GPSInstallmentPayment.Equal(loan.GPSInstallmentPayment) {
		t.Errorf("Expected GPS %s, got %s", loan.GPSInstallmentPayment, fetched.GPSInstallmentPayment)
	}
	if !fetched.StartDate.Equal(loan.StartDate) {
		t.Errorf("Expected StartDate %v, got %v", loan.StartDate, fetched.StartDate)
	}
	if fetched.Status != models.LoanStatusPending || fetched.PaymentFrequency != models.FrequencyDaily {
		t.Errorf("Unexpected enums: %s %s", fetched.Status, fetched.PaymentFrequency)
	}

	n, err := s.LastContractNumber(ctx, loan.StoreID)
	if err != nil {
		t.Fatalf("Failed to read last contract number: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected last contract 1, got %d", n)
	}
	if n, _ := s.LastContractNumber(ctx, uuid.New()); n != 0 {
		t.Errorf("Expected 0 for an empty store, got %d", n)
	}

	if _, err := s.GetLoan(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing loan, got %v", err)
	}
	if err := s.DeleteLoan(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting missing loan, got %v", err)
	}
	if err := s.DeleteLoan(ctx, loan.ID); err != nil {
		t.Fatalf("Failed to delete loan: %v", err)
	}
	if _, err := s.GetLoan(ctx, loan.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected deleted loan to be gone, got %v", err)
	}
}

func testUpdateLoanVersionGuard(t *testing.T, s Storage) {
	ctx := context.Background()
	loan := testLoan(uuid.New(), "000001", 0)
	mustCreateLoan(t, s, loan)

	first, _ := s.GetLoan(ctx, loan.ID)
	second, _ := s.GetLoan(ctx, loan.ID)

	first.TotalPaid = decimal.RequireFromString("27000.00")
	if err := s.UpdateLoan(ctx, first); err != nil {
		t.Fatalf("Failed to update loan: %v", err)
	}
	if first.Version != loan.Version+1 {
		t.Errorf("Expected version %d after update, got %d", loan.Version+1, first.Version)
	}

	second.TotalPaid = decimal.RequireFromString("1.00")
	if err := s.UpdateLoan(ctx, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("Expected ErrConflict for stale write, got %v", err)
	}

	fetched, _ := s.GetLoan(ctx, loan.ID)
	if !fetched.TotalPaid.Equal(decimal.RequireFromString("27000.00")) {
		t.Errorf("Stale write leaked: TotalPaid %s", fetched.TotalPaid)
	}

	missing := testLoan(loan.StoreID, "999999", 1)
	if err := s.UpdateLoan(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating missing loan, got %v", err)
	}
}

func testListLoansFilter(t *testing.T, s Storage) {
	ctx := context.Background()
	storeID := uuid.New()

	pending := testLoan(storeID, "000001", 0)
	active := testLoan(storeID, "000002", 1)
	active.Status = models.LoanStatusActive
	completed := testLoan(storeID, "000003", 2)
	completed.Status = models.LoanStatusCompleted
	scooter := testLoan(storeID, "000004", 3)
	scooter.VehicleType = "SCOOTER"
	archived := testLoan(storeID, "000005", 4)
	archived.Archived = true
	other := testLoan(uuid.New(), "000001", 5)

	for _, l := range []*models.Loan{pending, active, completed, scooter, archived, other} {
		mustCreateLoan(t, s, l)
	}

	all, err := s.ListLoans(ctx, LoanFilter{StoreID: storeID})
	if err != nil {
		t.Fatalf("Failed to list loans: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Expected 4 unarchived loans, got %d", len(all))
	}
	if all[0].ContractNumber != "000001" || all[3].ContractNumber != "000004" {
		t.Errorf("Unexpected order: %s .. %s", all[0].ContractNumber, all[3].ContractNumber)
	}

	withArchived, _ := s.ListLoans(ctx, LoanFilter{StoreID: storeID, IncludeArchived: true})
	if len(withArchived) != 5 {
		t.Errorf("Expected 5 loans including archived, got %d", len(withArchived))
	}

	page, _ := s.ListLoans(ctx, LoanFilter{StoreID: storeID, Limit: 2, Offset: 1})
	if len(page) != 2 || page[0].ContractNumber != "000002" {
		t.Errorf("Unexpected page: %d loans", len(page))
	}

	affected, err := s.ListAffectedLoans(ctx, storeID, "")
	if err != nil {
		t.Fatalf("Failed to list affected loans: %v", err)
	}
	if len(affected) != 3 {
		t.Errorf("Expected 3 open loans, got %d", len(affected))
	}
	affected, _ = s.ListAffectedLoans(ctx, storeID, "SCOOTER")
	if len(affected) != 1 || affected[0].ID != scooter.ID {
		t.Errorf("Expected only the scooter loan, got %d", len(affected))
	}
}

func testInstallment(loan *models.Loan, day int, amount string) *models.Installment {
	paid := baseTime.AddDate(0, 0, day)
	return &models.Installment{
		ID:              uuid.New(),
		LoanID:          loan.ID,
		StoreID:         loan.StoreID,
		Amount:          decimal.RequireFromString(amount),
		GPS:             decimal.RequireFromString("2000.00"),
		PaymentMethod:   models.PaymentMethodCash,
		PaymentDate:     paid,
		InstallmentCost: decimal.RequireFromString("25000.00"),
		Credit:          decimal.RequireFromString(amount),
		CreatedAt:       paid,
	}
}

func testInstallments(t *testing.T, s Storage) {
	ctx := context.Background()
	storeID := uuid.New()
	loan := testLoan(storeID, "000001", 0)
	other := testLoan(storeID, "000002", 1)
	mustCreateLoan(t, s, loan)
	mustCreateLoan(t, s, other)

	late := testInstallment(loan, 5, "25000.00")
	lateAt := baseTime.AddDate(0, 0, 4)
	late.IsLate = true
	late.LatePaymentDate = &lateAt
	early := testInstallment(loan, 1, "12500.00")
	closing := uuid.New()
	early.ClosingID = &closing
	early.Notes = "half"
	otherInst := testInstallment(other, 2, "25000.00")

	for _, inst := range []*models.Installment{late, early, otherInst} {
		if err := s.CreateInstallment(ctx, inst); err != nil {
			t.Fatalf("Failed to create installment: %v", err)
		}
	}

	list, err := s.ListInstallmentsByLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to list installments: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 installments, got %d", len(list))
	}
	if list[0].ID != early.ID {
		t.Errorf("Expected installments ordered by payment date")
	}
	if list[0].ClosingID == nil || *list[0].ClosingID != closing || list[0].Notes != "half" {
		t.Errorf("Optional fields not persisted: %+v", list[0])
	}
	if !list[1].IsLate || list[1].LatePaymentDate == nil || !list[1].LatePaymentDate.Equal(lateAt) {
		t.Errorf("Late flags not persisted: %+v", list[1])
	}
	if list[0].AdvancePaymentDate != nil {
		t.Errorf("Expected nil AdvancePaymentDate")
	}

	byLoan, err := s.ListInstallmentsByLoans(ctx, []uuid.UUID{loan.ID, other.ID, uuid.New()})
	if err != nil {
		t.Fatalf("Failed to list installments by loans: %v", err)
	}
	if len(byLoan[loan.ID]) != 2 || len(byLoan[other.ID]) != 1 {
		t.Errorf("Unexpected grouping: %d / %d", len(byLoan[loan.ID]), len(byLoan[other.ID]))
	}

	if err := s.DeleteInstallment(ctx, early.ID); err != nil {
		t.Fatalf("Failed to delete installment: %v", err)
	}
	if _, err := s.GetInstallment(ctx, early.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteInstallmentsByLoan(ctx, loan.ID); err != nil {
		t.Fatalf("Failed to delete installments by loan: %v", err)
	}
	list, _ = s.ListInstallmentsByLoan(ctx, loan.ID)
	if len(list) != 0 {
		t.Errorf("Expected no installments left, got %d", len(list))
	}
}

func testAdjustmentsAndTraces(t *testing.T, s Storage) {
	ctx := context.Background()
	storeID := uuid.New()
	loan := testLoan(storeID, "000001", 0)
	mustCreateLoan(t, s, loan)

	adj := &models.OutageAdjustment{
		ID:              uuid.New(),
		StoreID:         storeID,
		Scope:           models.ScopeStoreWide,
		Category:        models.CategoryHoliday,
		StartDate:       baseTime.AddDate(0, 0, 10),
		EndDate:         baseTime.AddDate(0, 0, 12),
		DaysUnavailable: 3,
		AutoCalculate:   true,
		IsActive:        true,
		CreatedAt:       baseTime,
		UpdatedAt:       baseTime,
	}
	if err := s.CreateAdjustment(ctx, adj); err != nil {
		t.Fatalf("Failed to create adjustment: %v", err)
	}

	trace := &models.AdjustmentTrace{
		AdjustmentID:           adj.ID,
		LoanID:                 loan.ID,
		Installments:           3,
		FractionalInstallments: decimal.NewFromInt(3),
		Amount:                 decimal.RequireFromString("81000.00"),
		CreatedAt:              baseTime,
		UpdatedAt:              baseTime,
	}
	if err := s.SaveTrace(ctx, trace); err != nil {
		t.Fatalf("Failed to save trace: %v", err)
	}
	trace.Installments = 2
	trace.Amount = decimal.RequireFromString("54000.00")
	trace.UpdatedAt = baseTime.Add(time.Hour)
	if err := s.SaveTrace(ctx, trace); err != nil {
		t.Fatalf("Failed to upsert trace: %v", err)
	}
	got, err := s.GetTrace(ctx, adj.ID, loan.ID)
	if err != nil {
		t.Fatalf("Failed to get trace: %v", err)
	}
	if got.Installments != 2 || !got.Amount.Equal(decimal.RequireFromString("54000.00")) {
		t.Errorf("Upsert not applied: %+v", got)
	}
	if !got.CreatedAt.Equal(baseTime) {
		t.Errorf("Upsert must keep CreatedAt, got %v", got.CreatedAt)
	}

	active, err := s.ListActiveAdjustmentsForLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to list active adjustments: %v", err)
	}
	if len(active) != 1 || active[0].ID != adj.ID {
		t.Fatalf("Expected the store-wide adjustment to be active for the loan")
	}

	adj.IsActive = false
	adj.UpdatedAt = baseTime.Add(time.Hour)
	if err := s.UpdateAdjustment(ctx, adj); err != nil {
		t.Fatalf("Failed to update adjustment: %v", err)
	}
	active, _ = s.ListActiveAdjustmentsForLoan(ctx, loan.ID)
	if len(active) != 0 {
		t.Errorf("Expected no active adjustments, got %d", len(active))
	}
	byStore, _ := s.ListAdjustments(ctx, AdjustmentFilter{StoreID: storeID})
	if len(byStore) != 1 {
		t.Errorf("Expected 1 adjustment for store, got %d", len(byStore))
	}

	traces, _ := s.ListTraces(ctx, adj.ID)
	if len(traces) != 1 {
		t.Fatalf("Expected 1 trace, got %d", len(traces))
	}
	if err := s.DeleteAdjustment(ctx, adj.ID); err != nil {
		t.Fatalf("Failed to delete adjustment: %v", err)
	}
	if _, err := s.GetTrace(ctx, adj.ID, loan.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected traces to be removed with adjustment, got %v", err)
	}
	if err := s.DeleteTrace(ctx, adj.ID, loan.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting missing trace, got %v", err)
	}
}

func testTxRollback(t *testing.T, s Storage) {
	ctx := context.Background()
	loan := testLoan(uuid.New(), "000001", 0)
	mustCreateLoan(t, s, loan)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Repository) error {
		l, err := tx.GetLoan(ctx, loan.ID)
		if err != nil {
			return err
		}
		l.TotalPaid = decimal.NewFromInt(999)
		if err := tx.UpdateLoan(ctx, l); err != nil {
			return err
		}
		if err := tx.CreateInstallment(ctx, testInstallment(loan, 1, "999.00")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	fetched, _ := s.GetLoan(ctx, loan.ID)
	if !fetched.TotalPaid.IsZero() {
		t.Errorf("Rolled back update leaked: TotalPaid %s", fetched.TotalPaid)
	}
	list, _ := s.ListInstallmentsByLoan(ctx, loan.ID)
	if len(list) != 0 {
		t.Errorf("Rolled back insert leaked: %d installments", len(list))
	}

	err = s.WithTx(ctx, func(tx Repository) error {
		l, err := tx.GetLoan(ctx, loan.ID)
		if err != nil {
			return err
		}
		l.TotalPaid = decimal.NewFromInt(25000)
		return tx.UpdateLoan(ctx, l)
	})
	if err != nil {
		t.Fatalf("Failed committed tx: %v", err)
	}
	fetched, _ = s.GetLoan(ctx, loan.ID)
	if !fetched.TotalPaid.Equal(decimal.NewFromInt(25000)) {
		t.Errorf("Committed update missing: TotalPaid %s", fetched.TotalPaid)
	}
}
