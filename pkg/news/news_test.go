package news

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/rentledger/pkg/clock"
	"github.com/mcclellann/rentledger/pkg/ledger"
	"github.com/mcclellann/rentledger/pkg/models"
	"github.com/mcclellann/rentledger/pkg/store"
	"github.com/shopspring/decimal"
)

var bogota, _ = time.LoadLocation(clock.DefaultZone)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, bogota)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

// failingStore fails every guarded write to one loan.
type failingStore struct {
	*store.MemoryStore
	failLoan uuid.UUID
}

func (f *failingStore) WithTx(ctx context.Context, fn func(tx store.Repository) error) error {
	return f.MemoryStore.WithTx(ctx, func(tx store.Repository) error {
		return fn(failingRepo{Repository: tx, s: f})
	})
}

type failingRepo struct {
	store.Repository
	s *failingStore
}

func (r failingRepo) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	if loan.ID == r.s.failLoan {
		return errors.New("disk full")
	}
	return r.Repository.UpdateLoan(ctx, loan)
}

type fixture struct {
	store  *failingStore
	ledger *ledger.Ledger
	news   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := &failingStore{MemoryStore: store.NewMemoryStore()}
	l := ledger.NewLedger(s, clock.Fixed{At: testNow, Loc: bogota})
	return &fixture{store: s, ledger: l, news: NewService(s, l)}
}

// dailyLoan costs 20,000 a day over 30 days with nothing down.
func (f *fixture) dailyLoan(t *testing.T, storeID uuid.UUID, vehicleType string) *models.Loan {
	t.Helper()
	loan, err := f.ledger.CreateLoan(context.Background(), ledger.CreateLoanInput{
		StoreID:                  storeID,
		ClientID:                 uuid.New(),
		VehicleID:                uuid.New(),
		VehicleType:              vehicleType,
		TotalAmount:              dec("600000"),
		Installments:             30,
		PaymentFrequency:         models.FrequencyDaily,
		InstallmentPaymentAmount: dec("20000"),
		StartDate:                testNow.AddDate(0, 0, -5),
	})
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
	return loan
}

func (f *fixture) weeklyLoan(t *testing.T, storeID uuid.UUID) *models.Loan {
	t.Helper()
	loan, err := f.ledger.CreateLoan(context.Background(), ledger.CreateLoanInput{
		StoreID:                  storeID,
		ClientID:                 uuid.New(),
		VehicleID:                uuid.New(),
		VehicleType:              "MOTORCYCLE",
		TotalAmount:              dec("1400000"),
		Installments:             20,
		PaymentFrequency:         models.FrequencyWeekly,
		InstallmentPaymentAmount: dec("70000"),
		GPSInstallmentPayment:    dec("3500"),
		StartDate:                testNow.AddDate(0, 0, -14),
	})
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
	return loan
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.Loan {
	t.Helper()
	loan, err := f.ledger.GetLoan(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to reload loan %s: %v", id, err)
	}
	return loan
}

func storeWide(storeID uuid.UUID, days int) CreateInput {
	return CreateInput{
		StoreID:         storeID,
		Scope:           models.ScopeStoreWide,
		Category:        models.CategoryHoliday,
		StartDate:       testNow,
		DaysUnavailable: days,
	}
}

func single(loan *models.Loan, days int) CreateInput {
	return CreateInput{
		StoreID:         loan.StoreID,
		Scope:           models.ScopeSingleLoan,
		LoanID:          &loan.ID,
		Category:        models.CategoryWorkshop,
		StartDate:       testNow,
		DaysUnavailable: days,
	}
}

func assertSameNumbers(t *testing.T, want, got *models.Loan) {
	t.Helper()
	if got.Installments != want.Installments ||
		!got.TotalAmount.Equal(want.TotalAmount) ||
		!got.DebtRemaining.Equal(want.DebtRemaining) ||
		!got.TotalPaid.Equal(want.TotalPaid) ||
		!got.PaidInstallments.Equal(want.PaidInstallments) ||
		!got.RemainingInstallments.Equal(want.RemainingInstallments) ||
		got.Status != want.Status {
		t.Errorf("Loan numbers differ:\nwant n=%d total=%s debt=%s paid=%s credits=%s remaining=%s %s\ngot  n=%d total=%s debt=%s paid=%s credits=%s remaining=%s %s",
			want.Installments, want.TotalAmount, want.DebtRemaining, want.TotalPaid, want.PaidInstallments, want.RemainingInstallments, want.Status,
			got.Installments, got.TotalAmount, got.DebtRemaining, got.TotalPaid, got.PaidInstallments, got.RemainingInstallments, got.Status)
	}
}

func TestDaysBetween(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 3, d, 23, 30, 0, 0, bogota) }
	cases := []struct {
		start, end time.Time
		want       int
	}{
		{day(1), day(3), 3},
		{day(1), day(1), 1},
		{day(2), day(1), 0},
		// Sundays count like any other day.
		{day(1), day(31), 31},
	}
	for _, c := range cases {
		if got := DaysBetween(c.start, c.end, bogota); got != c.want {
			t.Errorf("DaysBetween(%v, %v) = %d, want %d", c.start, c.end, got, c.want)
		}
	}
}

func TestDeltaForLoan(t *testing.T) {
	loan := func(freq models.PaymentFrequency, cost, gps string) *models.Loan {
		return &models.Loan{
			PaymentFrequency:         freq,
			InstallmentPaymentAmount: dec(cost),
			GPSInstallmentPayment:    dec(gps),
			DebtRemaining:            dec("1000000"),
			RemainingInstallments:    dec("10"),
		}
	}
	cases := []struct {
		name         string
		loan         *models.Loan
		days         int
		fractional   string
		installments int
		amount       string
	}{
		{"daily", loan(models.FrequencyDaily, "20000", "0"), 3, "3", 3, "60000"},
		{"daily with gps", loan(models.FrequencyDaily, "20000", "2000"), 2, "2", 2, "44000"},
		{"weekly below half", loan(models.FrequencyWeekly, "70000", "0"), 3, "0.428571", 0, "30000"},
		{"weekly above half", loan(models.FrequencyWeekly, "70000", "0"), 4, "0.571429", 1, "40000"},
		{"weekly over a period", loan(models.FrequencyWeekly, "70000", "0"), 10, "1.428571", 1, "100000"},
		{"biweekly exactly half", loan(models.FrequencyBiweekly, "140000", "0"), 7, "0.5", 1, "70000"},
		{"monthly", loan(models.FrequencyMonthly, "300000", "0"), 45, "1.5", 2, "450000"},
		{"monthly uneven", loan(models.FrequencyMonthly, "100000", "0"), 1, "0.033333", 0, "3333.33"},
		{"nothing", loan(models.FrequencyDaily, "20000", "0"), 0, "0", 0, "0"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r, err := DeltaForLoan(c.loan, c.days)
			if err != nil {
				t.Fatalf("DeltaForLoan failed: %v", err)
			}
			if !r.Fractional.Equal(dec(c.fractional)) {
				t.Errorf("Expected fractional %s, got %s", c.fractional, r.Fractional)
			}
			if r.Delta.Installments != c.installments {
				t.Errorf("Expected %d installments, got %d", c.installments, r.Delta.Installments)
			}
			if !r.Delta.Amount.Equal(dec(c.amount)) {
				t.Errorf("Expected amount %s, got %s", c.amount, r.Delta.Amount)
			}
		})
	}

	if _, err := DeltaForLoan(loan(models.FrequencyDaily, "1", "0"), -1); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount for negative days, got %v", err)
	}
}

func TestStoreWideScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storeID := uuid.New()
	a := f.dailyLoan(t, storeID, "MOTORCYCLE")
	b := f.dailyLoan(t, storeID, "MOTORCYCLE")
	other := f.dailyLoan(t, uuid.New(), "MOTORCYCLE")

	adj, err := f.news.Create(ctx, storeWide(storeID, 3))
	if err != nil {
		t.Fatalf("Failed to create adjustment: %v", err)
	}
	if adj.AffectedLoans != 2 {
		t.Errorf("Expected 2 affected loans, got %d", adj.AffectedLoans)
	}
	if !adj.EndDate.Equal(testNow.AddDate(0, 0, 2)) {
		t.Errorf("Expected end date derived from 3 days, got %v", adj.EndDate)
	}

	for _, before := range []*models.Loan{a, b} {
		after := f.reload(t, before.ID)
		if after.Installments != 27 {
			t.Errorf("Expected 27 installments, got %d", after.Installments)
		}
		if !after.TotalAmount.Equal(dec("540000")) || !after.DebtRemaining.Equal(dec("540000")) {
			t.Errorf("Expected 60,000 off total and debt, got %s / %s", after.TotalAmount, after.DebtRemaining)
		}
		if !after.RemainingInstallments.Equal(decimal.NewFromInt(27)) {
			t.Errorf("Expected 27 remaining, got %s", after.RemainingInstallments)
		}
	}
	assertSameNumbers(t, other, f.reload(t, other.ID))

	traces, err := f.news.ListTraces(ctx, adj.ID)
	if err != nil || len(traces) != 2 {
		t.Fatalf("Expected 2 traces, got %d (%v)", len(traces), err)
	}
	active, _ := f.news.ListActiveForLoan(ctx, a.ID)
	if len(active) != 1 || active[0].ID != adj.ID {
		t.Errorf("Expected the adjustment to be listed for loan a, got %v", active)
	}

	if err := f.news.Delete(ctx, adj.ID); err != nil {
		t.Fatalf("Failed to delete adjustment: %v", err)
	}
	assertSameNumbers(t, a, f.reload(t, a.ID))
	assertSameNumbers(t, b, f.reload(t, b.ID))
	if _, err := f.news.Get(ctx, adj.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if left, _ := f.store.ListTraces(ctx, adj.ID); len(left) != 0 {
		t.Errorf("Expected traces to be gone, got %d", len(left))
	}
}

func TestStoreWideSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storeID := uuid.New()
	moto := f.dailyLoan(t, storeID, "MOTORCYCLE")
	scooter := f.dailyLoan(t, storeID, "SCOOTER")
	archived := f.dailyLoan(t, storeID, "MOTORCYCLE")
	defaulted := f.dailyLoan(t, storeID, "MOTORCYCLE")

	if _, err := f.ledger.UpdateLoanTerms(ctx, archived.ID, ledger.UpdateTermsInput{Archived: ptr(true)}); err != nil {
		t.Fatalf("Failed to archive: %v", err)
	}
	if _, err := f.ledger.MarkDefaulted(ctx, defaulted.ID); err != nil {
		t.Fatalf("Failed to default: %v", err)
	}
	archived, defaulted = f.reload(t, archived.ID), f.reload(t, defaulted.ID)

	in := storeWide(storeID, 2)
	in.VehicleType = "MOTORCYCLE"
	adj, err := f.news.Create(ctx, in)
	if err != nil {
		t.Fatalf("Failed to create adjustment: %v", err)
	}
	if adj.AffectedLoans != 1 {
		t.Errorf("Expected 1 affected loan, got %d", adj.AffectedLoans)
	}
	if got := f.reload(t, moto.ID); got.Installments != 28 {
		t.Errorf("Expected motorcycle loan reduced, got %d installments", got.Installments)
	}
	assertSameNumbers(t, scooter, f.reload(t, scooter.ID))
	assertSameNumbers(t, archived, f.reload(t, archived.ID))
	assertSameNumbers(t, defaulted, f.reload(t, defaulted.ID))
}

func TestNetUpdateMatchesDirectCreate(t *testing.T) {
	for _, freq := range []string{"daily", "weekly"} {
		t.Run(freq, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			mk := f.dailyLoan
			if freq == "weekly" {
				mk = func(t *testing.T, storeID uuid.UUID, _ string) *models.Loan { return f.weeklyLoan(t, storeID) }
			}
			storeID := uuid.New()
			viaUpdate := mk(t, storeID, "MOTORCYCLE")
			direct := mk(t, storeID, "MOTORCYCLE")

			adj, err := f.news.Create(ctx, single(viaUpdate, 2))
			if err != nil {
				t.Fatalf("Failed to create adjustment: %v", err)
			}
			updated, err := f.news.Update(ctx, adj.ID, UpdateInput{DaysUnavailable: ptr(11)})
			if err != nil {
				t.Fatalf("Failed to update adjustment: %v", err)
			}
			want, err := f.news.Create(ctx, single(direct, 11))
			if err != nil {
				t.Fatalf("Failed to create adjustment: %v", err)
			}

			assertSameNumbers(t, f.reload(t, direct.ID), f.reload(t, viaUpdate.ID))
			if !updated.AmountSubtracted.Equal(want.AmountSubtracted) || !updated.InstallmentsSubtracted.Equal(want.InstallmentsSubtracted) {
				t.Errorf("Frozen values differ: %s/%s vs %s/%s", updated.InstallmentsSubtracted, updated.AmountSubtracted, want.InstallmentsSubtracted, want.AmountSubtracted)
			}
			if updated.DaysUnavailable != 11 || !updated.EndDate.Equal(testNow.AddDate(0, 0, 10)) {
				t.Errorf("Expected 11 days ending %v, got %d ending %v", testNow.AddDate(0, 0, 10), updated.DaysUnavailable, updated.EndDate)
			}

			// Shrinking back restores the two-day state.
			if _, err := f.news.Update(ctx, adj.ID, UpdateInput{DaysUnavailable: ptr(2)}); err != nil {
				t.Fatalf("Failed to shrink adjustment: %v", err)
			}
			fresh := mk(t, storeID, "MOTORCYCLE")
			if _, err := f.news.Create(ctx, single(fresh, 2)); err != nil {
				t.Fatalf("Failed to create adjustment: %v", err)
			}
			assertSameNumbers(t, f.reload(t, fresh.ID), f.reload(t, viaUpdate.ID))
		})
	}
}

func TestUpdateStoreWide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storeID := uuid.New()
	a := f.dailyLoan(t, storeID, "MOTORCYCLE")
	b := f.dailyLoan(t, storeID, "MOTORCYCLE")

	adj, err := f.news.Create(ctx, storeWide(storeID, 3))
	if err != nil {
		t.Fatalf("Failed to create adjustment: %v", err)
	}
	end := testNow.AddDate(0, 0, 4)
	adj, err = f.news.Update(ctx, adj.ID, UpdateInput{EndDate: &end})
	if err != nil {
		t.Fatalf("Failed to update adjustment: %v", err)
	}
	if adj.DaysUnavailable != 5 || adj.AffectedLoans != 2 {
		t.Errorf("Expected 5 days over 2 loans, got %d / %d", adj.DaysUnavailable, adj.AffectedLoans)
	}
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		got := f.reload(t, id)
		if got.Installments != 25 || !got.TotalAmount.Equal(dec("500000")) {
			t.Errorf("Expected 5 days off loan %s, got %d / %s", id, got.Installments, got.TotalAmount)
		}
	}

	before := f.reload(t, a.ID)
	if _, err := f.news.Update(ctx, adj.ID, UpdateInput{Description: ptr("closed for repaving")}); err != nil {
		t.Fatalf("Failed to update description: %v", err)
	}
	after := f.reload(t, a.ID)
	if after.Version != before.Version {
		t.Errorf("Description change must not touch loans, version %d -> %d", before.Version, after.Version)
	}

	if err := f.news.Delete(ctx, adj.ID); err != nil {
		t.Fatalf("Failed to delete adjustment: %v", err)
	}
	assertSameNumbers(t, a, f.reload(t, a.ID))
	assertSameNumbers(t, b, f.reload(t, b.ID))
}

func TestUpdateStoreWide_DefaultedLoanKeepsItsDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storeID := uuid.New()
	a := f.dailyLoan(t, storeID, "MOTORCYCLE")
	b := f.dailyLoan(t, storeID, "MOTORCYCLE")

	adj, err := f.news.Create(ctx, storeWide(storeID, 3))
	if err != nil {
		t.Fatalf("Failed to create adjustment: %v", err)
	}
	if _, err := f.ledger.MarkDefaulted(ctx, a.ID); err != nil {
		t.Fatalf("Failed to default loan: %v", err)
	}

	adj, err = f.news.Update(ctx, adj.ID, UpdateInput{DaysUnavailable: ptr(5)})
	if err != nil {
		t.Fatalf("Expected update to pass over the defaulted loan, got %v", err)
	}
	if adj.AffectedLoans != 2 {
		t.Errorf("Expected 2 affected loans, got %d", adj.AffectedLoans)
	}
	gotA := f.reload(t, a.ID)
	if gotA.Installments != 27 || !gotA.TotalAmount.Equal(dec("540000")) || gotA.Status != models.LoanStatusDefaulted {
		t.Errorf("Expected defaulted loan to keep 3 days off, got %d / %s %s", gotA.Installments, gotA.TotalAmount, gotA.Status)
	}
	gotB := f.reload(t, b.ID)
	if gotB.Installments != 25 || !gotB.TotalAmount.Equal(dec("500000")) {
		t.Errorf("Expected open loan to carry 5 days off, got %d / %s", gotB.Installments, gotB.TotalAmount)
	}

	if _, err := f.news.Reapply(ctx, adj.ID); err != nil {
		t.Errorf("Expected reapply to succeed, got %v", err)
	}
	if again := f.reload(t, b.ID); again.Version != gotB.Version {
		t.Errorf("Reapply must not touch a current loan, version %d -> %d", gotB.Version, again.Version)
	}

	if err := f.news.Delete(ctx, adj.ID); err != nil {
		t.Fatalf("Failed to delete adjustment: %v", err)
	}
	restored := f.reload(t, a.ID)
	if restored.Installments != 30 || !restored.TotalAmount.Equal(dec("600000")) || !restored.DebtRemaining.Equal(dec("600000")) {
		t.Errorf("Expected defaulted loan restored exactly, got %d / %s / %s", restored.Installments, restored.TotalAmount, restored.DebtRemaining)
	}
	assertSameNumbers(t, b, f.reload(t, b.ID))
}

func TestDeleteAfterCostChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := f.dailyLoan(t, uuid.New(), "MOTORCYCLE")

	adj, err := f.news.Create(ctx, single(loan, 3))
	if err != nil {
		t.Fatalf("Failed to create adjustment: %v", err)
	}
	if !adj.AmountSubtracted.Equal(dec("60000")) || !adj.InstallmentsSubtracted.Equal(dec("3")) {
		t.Errorf("Expected 3 / 60,000 frozen, got %s / %s", adj.InstallmentsSubtracted, adj.AmountSubtracted)
	}
	if adj.AffectedLoans != 1 {
		t.Errorf("Expected 1 affected loan, got %d", adj.AffectedLoans)
	}

	if _, err := f.ledger.UpdateLoanTerms(ctx, loan.ID, ledger.UpdateTermsInput{InstallmentPaymentAmount: ptr(dec("30000"))}); err != nil {
		t.Fatalf("Failed to change cost: %v", err)
	}

	// Resizing prices the new span at today's cost and gives back exactly
	// what was taken before.
	adj, err = f.news.Update(ctx, adj.ID, UpdateInput{DaysUnavailable: ptr(4)})
	if err != nil {
		t.Fatalf("Failed to update adjustment: %v", err)
	}
	if !adj.AmountSubtracted.Equal(dec("120000")) {
		t.Errorf("Expected 120,000 at the new cost, got %s", adj.AmountSubtracted)
	}
	if got := f.reload(t, loan.ID); !got.TotalAmount.Equal(dec("480000")) || got.Installments != 26 {
		t.Errorf("Expected total 480,000 over 26 installments, got %s / %d", got.TotalAmount, got.Installments)
	}

	if err := f.news.Delete(ctx, adj.ID); err != nil {
		t.Fatalf("Failed to delete adjustment: %v", err)
	}
	got := f.reload(t, loan.ID)
	if got.Installments != 30 || !got.TotalAmount.Equal(dec("600000")) || !got.DebtRemaining.Equal(dec("600000")) {
		t.Errorf("Expected original obligation back, got %d / %s / %s", got.Installments, got.TotalAmount, got.DebtRemaining)
	}
}

func TestManualSingleAdjustment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := f.dailyLoan(t, uuid.New(), "")

	in := single(loan, 5)
	in.Manual = true
	in.InstallmentsSubtracted = dec("2")
	in.AmountSubtracted = dec("35000")
	adj, err := f.news.Create(ctx, in)
	if err != nil {
		t.Fatalf("Failed to create adjustment: %v", err)
	}
	if adj.AutoCalculate {
		t.Errorf("Expected a manual adjustment")
	}
	got := f.reload(t, loan.ID)
	if got.Installments != 28 || !got.DebtRemaining.Equal(dec("565000")) {
		t.Errorf("Expected manual values applied, got %d / %s", got.Installments, got.DebtRemaining)
	}

	adj, err = f.news.Update(ctx, adj.ID, UpdateInput{AmountSubtracted: ptr(dec("50000"))})
	if err != nil {
		t.Fatalf("Failed to update adjustment: %v", err)
	}
	got = f.reload(t, loan.ID)
	if got.Installments != 28 || !got.DebtRemaining.Equal(dec("550000")) {
		t.Errorf("Expected net manual change, got %d / %s", got.Installments, got.DebtRemaining)
	}

	auto, err := f.news.Create(ctx, single(loan, 1))
	if err != nil {
		t.Fatalf("Failed to create adjustment: %v", err)
	}
	if _, err := f.news.Update(ctx, auto.ID, UpdateInput{AmountSubtracted: ptr(dec("1"))}); !errors.Is(err, ledger.ErrInvalidAdjustment) {
		t.Errorf("Expected ErrInvalidAdjustment for manual values on a calculated adjustment, got %v", err)
	}
}

func TestAdjustmentCappedAtDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := f.dailyLoan(t, uuid.New(), "MOTORCYCLE")
	loan, _, err := f.ledger.PostInstallment(ctx, ledger.PostInstallmentInput{LoanID: loan.ID, Amount: dec("580000")})
	if err != nil {
		t.Fatalf("Failed to post installment: %v", err)
	}

	adj, err := f.news.Create(ctx, single(loan, 3))
	if err != nil {
		t.Fatalf("Failed to create adjustment: %v", err)
	}
	if !adj.AmountSubtracted.Equal(dec("20000")) {
		t.Errorf("Expected amount capped at the 20,000 left, got %s", adj.AmountSubtracted)
	}
	got := f.reload(t, loan.ID)
	if !got.DebtRemaining.IsZero() || got.Status != models.LoanStatusCompleted {
		t.Errorf("Expected the outage to complete the loan, got %s / %s", got.Status, got.DebtRemaining)
	}
	if !got.RemainingInstallments.IsZero() {
		t.Errorf("Expected remaining floored at 0, got %s", got.RemainingInstallments)
	}

	if err := f.news.Delete(ctx, adj.ID); err != nil {
		t.Fatalf("Failed to delete adjustment: %v", err)
	}
	assertSameNumbers(t, loan, f.reload(t, loan.ID))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storeID := uuid.New()
	loan := f.dailyLoan(t, storeID, "MOTORCYCLE")
	paidOff := f.dailyLoan(t, storeID, "MOTORCYCLE")
	if _, _, err := f.ledger.PostInstallment(ctx, ledger.PostInstallmentInput{LoanID: paidOff.ID, Amount: dec("600000")}); err != nil {
		t.Fatalf("Failed to pay off loan: %v", err)
	}
	before := testNow.AddDate(0, 0, -1)
	later := testNow.AddDate(0, 0, 4)

	cases := map[string]struct {
		mutate func(*CreateInput)
		want   error
	}{
		"unknown scope":         {func(in *CreateInput) { in.Scope = "REGION" }, ledger.ErrInvalidScope},
		"no store":              {func(in *CreateInput) { in.StoreID = uuid.Nil }, ledger.ErrInvalidScope},
		"single without loan":   {func(in *CreateInput) { in.LoanID = nil }, ledger.ErrInvalidScope},
		"single with vehicle":   {func(in *CreateInput) { in.VehicleType = "SCOOTER" }, ledger.ErrInvalidScope},
		"loan of other store":   {func(in *CreateInput) { in.StoreID = uuid.New() }, ledger.ErrInvalidScope},
		"store-wide with loan":  {func(in *CreateInput) { in.Scope = models.ScopeStoreWide }, ledger.ErrInvalidScope},
		"unknown category":      {func(in *CreateInput) { in.Category = "FLOOD" }, ledger.ErrInvalidAdjustment},
		"no start":              {func(in *CreateInput) { in.StartDate = time.Time{} }, ledger.ErrInvalidDates},
		"end before start":      {func(in *CreateInput) { in.EndDate = &before }, ledger.ErrInvalidDates},
		"days disagree":         {func(in *CreateInput) { in.EndDate = &later }, ledger.ErrInvalidDates},
		"no span":               {func(in *CreateInput) { in.DaysUnavailable = 0 }, ledger.ErrInvalidDates},
		"negative manual":       {func(in *CreateInput) { in.Manual = true; in.AmountSubtracted = dec("-1") }, ledger.ErrInvalidAmount},
		"missing loan":          {func(in *CreateInput) { in.LoanID = ptr(uuid.New()) }, ledger.ErrNotFound},
		"closed loan":           {func(in *CreateInput) { in.LoanID = &paidOff.ID }, ledger.ErrLoanClosed},
		"manual store-wide":     {func(in *CreateInput) { in.Scope = models.ScopeStoreWide; in.LoanID = nil; in.Manual = true }, ledger.ErrInvalidAdjustment},
	}
	for name, c := range cases {
		in := single(loan, 3)
		c.mutate(&in)
		if _, err := f.news.Create(ctx, in); !errors.Is(err, c.want) {
			t.Errorf("%s: expected %v, got %v", name, c.want, err)
		}
	}

	list, _ := f.news.List(ctx, store.AdjustmentFilter{})
	if len(list) != 0 {
		t.Errorf("Failed creates must not leave adjustments, got %d", len(list))
	}
	assertSameNumbers(t, loan, f.reload(t, loan.ID))

	in := single(loan, 0)
	in.EndDate = &later
	adj, err := f.news.Create(ctx, in)
	if err != nil {
		t.Fatalf("Failed to create from dates: %v", err)
	}
	if adj.DaysUnavailable != 5 || adj.Category != models.CategoryWorkshop {
		t.Errorf("Expected 5 days from the dates, got %d", adj.DaysUnavailable)
	}
}

func TestReapplyResumesPartialBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storeID := uuid.New()
	a := f.dailyLoan(t, storeID, "MOTORCYCLE")
	b := f.dailyLoan(t, storeID, "MOTORCYCLE")

	f.store.failLoan = b.ID
	adj, err := f.news.Create(ctx, storeWide(storeID, 3))
	if err == nil {
		t.Fatalf("Expected the batch to stop at loan b")
	}
	if adj == nil {
		t.Fatalf("Expected the saved adjustment back with the error")
	}
	assertSameNumbers(t, b, f.reload(t, b.ID))
	appliedA := f.reload(t, a.ID)
	if appliedA.Installments != 27 {
		t.Fatalf("Expected loan a reduced before the failure, got %d", appliedA.Installments)
	}

	f.store.failLoan = uuid.Nil
	adj, err = f.news.Reapply(ctx, adj.ID)
	if err != nil {
		t.Fatalf("Failed to reapply: %v", err)
	}
	if adj.AffectedLoans != 2 {
		t.Errorf("Expected 2 affected loans, got %d", adj.AffectedLoans)
	}
	if got := f.reload(t, a.ID); got.Version != appliedA.Version {
		t.Errorf("Reapply must not touch loan a again, version %d -> %d", appliedA.Version, got.Version)
	}
	assertSameNumbers(t, appliedA, f.reload(t, b.ID))

	// A loan opened after the outage is not part of it.
	late := f.dailyLoan(t, storeID, "MOTORCYCLE")
	late.CreatedAt = testNow.Add(time.Hour)
	if err := f.store.MemoryStore.WithTx(ctx, func(tx store.Repository) error { return tx.UpdateLoan(ctx, late) }); err != nil {
		t.Fatalf("Failed to backdate loan: %v", err)
	}
	if _, err := f.news.Reapply(ctx, adj.ID); err != nil {
		t.Fatalf("Failed to reapply: %v", err)
	}
	if got := f.reload(t, late.ID); got.Installments != 30 {
		t.Errorf("Expected the newer loan untouched, got %d installments", got.Installments)
	}
}

func TestDeactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storeID := uuid.New()
	loan := f.dailyLoan(t, storeID, "MOTORCYCLE")

	adj, err := f.news.Create(ctx, storeWide(storeID, 3))
	if err != nil {
		t.Fatalf("Failed to create adjustment: %v", err)
	}
	adj, err = f.news.Deactivate(ctx, adj.ID)
	if err != nil {
		t.Fatalf("Failed to deactivate: %v", err)
	}
	if adj.IsActive {
		t.Errorf("Expected adjustment to be inactive")
	}
	assertSameNumbers(t, loan, f.reload(t, loan.ID))

	if list, _ := f.news.List(ctx, store.AdjustmentFilter{StoreID: storeID, ActiveOnly: true}); len(list) != 0 {
		t.Errorf("Expected no active adjustments, got %d", len(list))
	}
	if list, _ := f.news.List(ctx, store.AdjustmentFilter{StoreID: storeID}); len(list) != 1 {
		t.Errorf("Expected the record to be kept, got %d", len(list))
	}
	if _, err := f.news.Update(ctx, adj.ID, UpdateInput{DaysUnavailable: ptr(4)}); !errors.Is(err, ledger.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState updating an inactive adjustment, got %v", err)
	}
	if _, err := f.news.Reapply(ctx, adj.ID); !errors.Is(err, ledger.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState reapplying an inactive adjustment, got %v", err)
	}
	if err := f.news.Delete(ctx, adj.ID); err != nil {
		t.Errorf("Failed to delete inactive adjustment: %v", err)
	}
	assertSameNumbers(t, loan, f.reload(t, loan.ID))
}

func TestDeleteLoanDetachesAdjustments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storeID := uuid.New()
	a := f.dailyLoan(t, storeID, "MOTORCYCLE")
	b := f.dailyLoan(t, storeID, "MOTORCYCLE")

	wide, err := f.news.Create(ctx, storeWide(storeID, 3))
	if err != nil {
		t.Fatalf("Failed to create adjustment: %v", err)
	}
	one, err := f.news.Create(ctx, single(f.reload(t, a.ID), 1))
	if err != nil {
		t.Fatalf("Failed to create adjustment: %v", err)
	}

	if err := f.ledger.DeleteLoan(ctx, a.ID); err != nil {
		t.Fatalf("Failed to delete loan: %v", err)
	}
	if _, err := f.news.Get(ctx, one.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected the single-loan adjustment to go with its loan, got %v", err)
	}
	wide, _ = f.news.Get(ctx, wide.ID)
	if wide.AffectedLoans != 1 {
		t.Errorf("Expected 1 affected loan left, got %d", wide.AffectedLoans)
	}

	if err := f.news.Delete(ctx, wide.ID); err != nil {
		t.Fatalf("Failed to delete adjustment: %v", err)
	}
	assertSameNumbers(t, b, f.reload(t, b.ID))
}
