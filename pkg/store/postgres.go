package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/rentledger/pkg/models"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// PostgresStore is the gorm-backed Storage used in production. Loan reads
// inside WithTx take a row lock; writes still honour the version column.
type PostgresStore struct {
	gormRepo
}

var _ Storage = (*PostgresStore)(nil)

type loanRow struct {
	ID                       uuid.UUID       `gorm:"type:uuid;primaryKey"`
	StoreID                  uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_loans_store_contract;index:idx_loans_store_status"`
	ContractNumber           string          `gorm:"size:32;not null;uniqueIndex:idx_loans_store_contract"`
	ClientID                 uuid.UUID       `gorm:"type:uuid;not null"`
	VehicleID                uuid.UUID       `gorm:"type:uuid;not null"`
	VehicleType              string          `gorm:"size:64;not null;default:''"`
	TotalAmount              decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	DownPayment              decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Installments             int             `gorm:"not null"`
	InterestRate             decimal.Decimal `gorm:"type:numeric(9,4);not null;default:0"`
	InterestType             string          `gorm:"size:16;not null"`
	PaymentFrequency         string          `gorm:"size:16;not null"`
	InstallmentPaymentAmount decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	GPSInstallmentPayment    decimal.Decimal `gorm:"column:gps_installment_payment;type:numeric(18,2);not null;default:0"`
	StartDate                time.Time       `gorm:"not null"`
	EndDate                  time.Time       `gorm:"not null"`
	PaidInstallments         decimal.Decimal `gorm:"type:numeric(18,6);not null;default:0"`
	RemainingInstallments    decimal.Decimal `gorm:"type:numeric(18,6);not null;default:0"`
	TotalPaid                decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	DebtRemaining            decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	Status                   string          `gorm:"size:16;not null;index:idx_loans_store_status"`
	Archived                 bool            `gorm:"not null;default:false"`
	Version                  int64           `gorm:"not null;default:0"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (loanRow) TableName() string { return "loans" }

type installmentRow struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey"`
	LoanID             uuid.UUID       `gorm:"type:uuid;not null;index:idx_installments_loan"`
	StoreID            uuid.UUID       `gorm:"type:uuid;not null"`
	Amount             decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	GPS                decimal.Decimal `gorm:"column:gps;type:numeric(18,2);not null;default:0"`
	PaymentMethod      string          `gorm:"size:16;not null"`
	PaymentDate        time.Time       `gorm:"not null;index:idx_installments_loan"`
	IsLate             bool            `gorm:"not null;default:false"`
	LatePaymentDate    *time.Time
	IsAdvance          bool `gorm:"not null;default:false"`
	AdvancePaymentDate *time.Time
	ClosingID          *uuid.UUID      `gorm:"type:uuid"`
	Notes              string          `gorm:"not null;default:''"`
	InstallmentCost    decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Credit             decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	CreatedAt          time.Time
}

func (installmentRow) TableName() string { return "installments" }

type adjustmentRow struct {
	ID                     uuid.UUID       `gorm:"type:uuid;primaryKey"`
	StoreID                uuid.UUID       `gorm:"type:uuid;not null;index:idx_outage_adjustments_store"`
	Scope                  string          `gorm:"size:16;not null"`
	LoanID                 *uuid.UUID      `gorm:"type:uuid"`
	VehicleType            string          `gorm:"size:64;not null;default:''"`
	Category               string          `gorm:"size:16;not null"`
	Description            string          `gorm:"not null;default:''"`
	StartDate              time.Time       `gorm:"not null;index:idx_outage_adjustments_store"`
	EndDate                time.Time       `gorm:"not null"`
	DaysUnavailable        int             `gorm:"not null"`
	AutoCalculate          bool            `gorm:"not null;default:true"`
	InstallmentsSubtracted decimal.Decimal `gorm:"type:numeric(18,6);not null;default:0"`
	AmountSubtracted       decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	AffectedLoans          int             `gorm:"not null;default:0"`
	IsActive               bool            `gorm:"not null;default:true"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (adjustmentRow) TableName() string { return "outage_adjustments" }

type traceRow struct {
	AdjustmentID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	LoanID                 uuid.UUID       `gorm:"type:uuid;primaryKey;index:idx_adjustment_traces_loan"`
	Installments           int             `gorm:"not null"`
	FractionalInstallments decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	Amount                 decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (traceRow) TableName() string { return "adjustment_traces" }

// NewPostgresStore opens dsn and migrates the ledger tables.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("could not migrate schema: %w", err)
	}
	log.Println("[store] postgres connection established and schema migrated")
	return &PostgresStore{gormRepo: gormRepo{db: db}}, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&loanRow{}, &installmentRow{}, &adjustmentRow{}, &traceRow{})
}

// WithTx runs fn inside a gorm transaction with row locking on loan reads.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(gormRepo{db: tx, lock: true})
	})
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormRepo struct {
	db   *gorm.DB
	lock bool
}

func (r gormRepo) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func toLoanRow(l *models.Loan) loanRow {
	return loanRow{
		ID: l.ID, StoreID: l.StoreID, ContractNumber: l.ContractNumber, ClientID: l.ClientID,
		VehicleID: l.VehicleID, VehicleType: l.VehicleType,
		TotalAmount: l.TotalAmount, DownPayment: l.DownPayment, Installments: l.Installments,
		InterestRate: l.InterestRate, InterestType: string(l.InterestType), PaymentFrequency: string(l.PaymentFrequency),
		InstallmentPaymentAmount: l.InstallmentPaymentAmount, GPSInstallmentPayment: l.GPSInstallmentPayment,
		StartDate: l.StartDate, EndDate: l.EndDate,
		PaidInstallments: l.PaidInstallments, RemainingInstallments: l.RemainingInstallments,
		TotalPaid: l.TotalPaid, DebtRemaining: l.DebtRemaining, Status: string(l.Status),
		Archived: l.Archived, Version: l.Version, CreatedAt: l.CreatedAt, UpdatedAt: l.UpdatedAt,
	}
}

func (row loanRow) model() (*models.Loan, error) {
	l := &models.Loan{
		ID: row.ID, StoreID: row.StoreID, ContractNumber: row.ContractNumber, ClientID: row.ClientID,
		VehicleID: row.VehicleID, VehicleType: row.VehicleType,
		TotalAmount: row.TotalAmount, DownPayment: row.DownPayment, Installments: row.Installments,
		InterestRate: row.InterestRate, InterestType: models.InterestType(row.InterestType),
		PaymentFrequency:         models.PaymentFrequency(row.PaymentFrequency),
		InstallmentPaymentAmount: row.InstallmentPaymentAmount, GPSInstallmentPayment: row.GPSInstallmentPayment,
		StartDate: row.StartDate, EndDate: row.EndDate,
		PaidInstallments: row.PaidInstallments, RemainingInstallments: row.RemainingInstallments,
		TotalPaid: row.TotalPaid, DebtRemaining: row.DebtRemaining, Status: models.LoanStatus(row.Status),
		Archived: row.Archived, Version: row.Version, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
	if !l.Status.Valid() || !l.PaymentFrequency.Valid() || !l.InterestType.Valid() {
		return nil, fmt.Errorf("loan %s has invalid enum values (status=%q frequency=%q interest=%q)",
			l.ID, l.Status, l.PaymentFrequency, l.InterestType)
	}
	return l, nil
}

func (r gormRepo) CreateLoan(ctx context.Context, loan *models.Loan) error {
	row := toLoanRow(loan)
	err := r.conn(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("contract %s in store %s taken: %w", loan.ContractNumber, loan.StoreID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

func (r gormRepo) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	q := r.conn(ctx)
	if r.lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row loanRow
	if err := q.First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "loan", id)
	}
	return row.model()
}

func (r gormRepo) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	res := r.conn(ctx).Model(&loanRow{}).
		Where("id = ? AND version = ?", loan.ID, loan.Version).
		Updates(map[string]any{
			"vehicle_type":               loan.VehicleType,
			"total_amount":               loan.TotalAmount,
			"down_payment":               loan.DownPayment,
			"installments":               loan.Installments,
			"interest_rate":              loan.InterestRate,
			"interest_type":              string(loan.InterestType),
			"payment_frequency":          string(loan.PaymentFrequency),
			"installment_payment_amount": loan.InstallmentPaymentAmount,
			"gps_installment_payment":    loan.GPSInstallmentPayment,
			"start_date":                 loan.StartDate,
			"end_date":                   loan.EndDate,
			"paid_installments":          loan.PaidInstallments,
			"remaining_installments":     loan.RemainingInstallments,
			"total_paid":                 loan.TotalPaid,
			"debt_remaining":             loan.DebtRemaining,
			"status":                     string(loan.Status),
			"archived":                   loan.Archived,
			"version":                    gorm.Expr("version + 1"),
			"updated_at":                 loan.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update loan: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := r.conn(ctx).Model(&loanRow{}).Where("id = ?", loan.ID).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check loan existence: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("loan %s: %w", loan.ID, ErrNotFound)
		}
		return fmt.Errorf("loan %s at version %d: %w", loan.ID, loan.Version, ErrConflict)
	}
	loan.Version++
	return nil
}

func (r gormRepo) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	var n int64
	if err := r.conn(ctx).Model(&installmentRow{}).Where("loan_id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to count installments: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("loan %s still has %d installments", id, n)
	}
	res := r.conn(ctx).Delete(&loanRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete loan: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r gormRepo) LastContractNumber(ctx context.Context, storeID uuid.UUID) (int, error) {
	var n int64
	err := r.conn(ctx).Model(&loanRow{}).
		Select("COALESCE(MAX(CAST(contract_number AS BIGINT)), 0)").
		Where("store_id = ?", storeID).
		Scan(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read last contract number: %w", err)
	}
	return int(n), nil
}

func (r gormRepo) ListLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error) {
	q := r.conn(ctx).Model(&loanRow{})
	if filter.StoreID != uuid.Nil {
		q = q.Where("store_id = ?", filter.StoreID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.VehicleType != "" {
		q = q.Where("vehicle_type = ?", filter.VehicleType)
	}
	if !filter.IncludeArchived {
		q = q.Where("archived = ?", false)
	}
	q = q.Order("created_at ASC, contract_number ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var rows []loanRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	loans := make([]*models.Loan, 0, len(rows))
	for _, row := range rows {
		l, err := row.model()
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, nil
}

func toInstallmentRow(i *models.Installment) installmentRow {
	return installmentRow{
		ID: i.ID, LoanID: i.LoanID, StoreID: i.StoreID, Amount: i.Amount, GPS: i.GPS,
		PaymentMethod: string(i.PaymentMethod), PaymentDate: i.PaymentDate,
		IsLate: i.IsLate, LatePaymentDate: i.LatePaymentDate,
		IsAdvance: i.IsAdvance, AdvancePaymentDate: i.AdvancePaymentDate,
		ClosingID: i.ClosingID, Notes: i.Notes,
		InstallmentCost: i.InstallmentCost, Credit: i.Credit, CreatedAt: i.CreatedAt,
	}
}

func (row installmentRow) model() (*models.Installment, error) {
	i := &models.Installment{
		ID: row.ID, LoanID: row.LoanID, StoreID: row.StoreID, Amount: row.Amount, GPS: row.GPS,
		PaymentMethod: models.PaymentMethod(row.PaymentMethod), PaymentDate: row.PaymentDate,
		IsLate: row.IsLate, LatePaymentDate: row.LatePaymentDate,
		IsAdvance: row.IsAdvance, AdvancePaymentDate: row.AdvancePaymentDate,
		ClosingID: row.ClosingID, Notes: row.Notes,
		InstallmentCost: row.InstallmentCost, Credit: row.Credit, CreatedAt: row.CreatedAt,
	}
	if !i.PaymentMethod.Valid() {
		return nil, fmt.Errorf("installment %s has invalid payment method %q", i.ID, i.PaymentMethod)
	}
	return i, nil
}

func (r gormRepo) CreateInstallment(ctx context.Context, inst *models.Installment) error {
	row := toInstallmentRow(inst)
	if err := r.conn(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create installment: %w", err)
	}
	return nil
}

func (r gormRepo) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	var row installmentRow
	if err := r.conn(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "installment", id)
	}
	return row.model()
}

func (r gormRepo) DeleteInstallment(ctx context.Context, id uuid.UUID) error {
	res := r.conn(ctx).Delete(&installmentRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete installment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("installment %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r gormRepo) findInstallments(q *gorm.DB) ([]*models.Installment, error) {
	var rows []installmentRow
	if err := q.Order("payment_date ASC, created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list installments: %w", err)
	}
	list := make([]*models.Installment, 0, len(rows))
	for _, row := range rows {
		i, err := row.model()
		if err != nil {
			return nil, err
		}
		list = append(list, i)
	}
	return list, nil
}

func (r gormRepo) ListInstallmentsByLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	return r.findInstallments(r.conn(ctx).Where("loan_id = ?", loanID))
}

func (r gormRepo) ListInstallmentsByLoans(ctx context.Context, loanIDs []uuid.UUID) (map[uuid.UUID][]*models.Installment, error) {
	out := make(map[uuid.UUID][]*models.Installment, len(loanIDs))
	if len(loanIDs) == 0 {
		return out, nil
	}
	list, err := r.findInstallments(r.conn(ctx).Where("loan_id IN ?", loanIDs))
	if err != nil {
		return nil, err
	}
	for _, inst := range list {
		out[inst.LoanID] = append(out[inst.LoanID], inst)
	}
	return out, nil
}

func (r gormRepo) DeleteInstallmentsByLoan(ctx context.Context, loanID uuid.UUID) error {
	if err := r.conn(ctx).Delete(&installmentRow{}, "loan_id = ?", loanID).Error; err != nil {
		return fmt.Errorf("failed to delete installments for loan %s: %w", loanID, err)
	}
	return nil
}

func toAdjustmentRow(a *models.OutageAdjustment) adjustmentRow {
	return adjustmentRow{
		ID: a.ID, StoreID: a.StoreID, Scope: string(a.Scope), LoanID: a.LoanID, VehicleType: a.VehicleType,
		Category: string(a.Category), Description: a.Description,
		StartDate: a.StartDate, EndDate: a.EndDate, DaysUnavailable: a.DaysUnavailable, AutoCalculate: a.AutoCalculate,
		InstallmentsSubtracted: a.InstallmentsSubtracted, AmountSubtracted: a.AmountSubtracted,
		AffectedLoans: a.AffectedLoans, IsActive: a.IsActive, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
}

func (row adjustmentRow) model() (*models.OutageAdjustment, error) {
	a := &models.OutageAdjustment{
		ID: row.ID, StoreID: row.StoreID, Scope: models.AdjustmentScope(row.Scope), LoanID: row.LoanID,
		VehicleType: row.VehicleType, Category: models.AdjustmentCategory(row.Category), Description: row.Description,
		StartDate: row.StartDate, EndDate: row.EndDate, DaysUnavailable: row.DaysUnavailable, AutoCalculate: row.AutoCalculate,
		InstallmentsSubtracted: row.InstallmentsSubtracted, AmountSubtracted: row.AmountSubtracted,
		AffectedLoans: row.AffectedLoans, IsActive: row.IsActive, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
	if !a.Scope.Valid() || !a.Category.Valid() {
		return nil, fmt.Errorf("adjustment %s has invalid enum values (scope=%q category=%q)", a.ID, a.Scope, a.Category)
	}
	return a, nil
}

func (r gormRepo) CreateAdjustment(ctx context.Context, adj *models.OutageAdjustment) error {
	row := toAdjustmentRow(adj)
	if err := r.conn(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create adjustment: %w", err)
	}
	return nil
}

func (r gormRepo) GetAdjustment(ctx context.Context, id uuid.UUID) (*models.OutageAdjustment, error) {
	var row adjustmentRow
	if err := r.conn(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "adjustment", id)
	}
	return row.model()
}

func (r gormRepo) UpdateAdjustment(ctx context.Context, adj *models.OutageAdjustment) error {
	res := r.conn(ctx).Model(&adjustmentRow{}).Where("id = ?", adj.ID).Updates(map[string]any{
		"category":                string(adj.Category),
		"description":             adj.Description,
		"start_date":              adj.StartDate,
		"end_date":                adj.EndDate,
		"days_unavailable":        adj.DaysUnavailable,
		"auto_calculate":          adj.AutoCalculate,
		"installments_subtracted": adj.InstallmentsSubtracted,
		"amount_subtracted":       adj.AmountSubtracted,
		"affected_loans":          adj.AffectedLoans,
		"is_active":               adj.IsActive,
		"updated_at":              adj.UpdatedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update adjustment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("adjustment %s: %w", adj.ID, ErrNotFound)
	}
	return nil
}

func (r gormRepo) DeleteAdjustment(ctx context.Context, id uuid.UUID) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&traceRow{}, "adjustment_id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete traces: %w", err)
		}
		res := tx.Delete(&adjustmentRow{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete adjustment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("adjustment %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (r gormRepo) ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]*models.OutageAdjustment, error) {
	q := r.conn(ctx).Model(&adjustmentRow{})
	if filter.StoreID != uuid.Nil {
		q = q.Where("store_id = ?", filter.StoreID)
	}
	if filter.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if filter.LoanID != uuid.Nil {
		q = q.Where("EXISTS (SELECT 1 FROM adjustment_traces t WHERE t.adjustment_id = outage_adjustments.id AND t.loan_id = ?)", filter.LoanID)
	}
	var rows []adjustmentRow
	if err := q.Order("start_date ASC, created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	list := make([]*models.OutageAdjustment, 0, len(rows))
	for _, row := range rows {
		a, err := row.model()
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, nil
}

func (r gormRepo) ListActiveAdjustmentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.OutageAdjustment, error) {
	return r.ListAdjustments(ctx, AdjustmentFilter{LoanID: loanID, ActiveOnly: true})
}

func (r gormRepo) ListAffectedLoans(ctx context.Context, storeID uuid.UUID, vehicleType string) ([]*models.Loan, error) {
	return r.ListLoans(ctx, LoanFilter{
		StoreID:     storeID,
		Statuses:    []models.LoanStatus{models.LoanStatusActive, models.LoanStatusPending},
		VehicleType: vehicleType,
	})
}

func (row traceRow) model() *models.AdjustmentTrace {
	return &models.AdjustmentTrace{
		AdjustmentID: row.AdjustmentID, LoanID: row.LoanID, Installments: row.Installments,
		FractionalInstallments: row.FractionalInstallments, Amount: row.Amount,
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
}

func (r gormRepo) GetTrace(ctx context.Context, adjustmentID, loanID uuid.UUID) (*models.AdjustmentTrace, error) {
	var row traceRow
	err := r.conn(ctx).First(&row, "adjustment_id = ? AND loan_id = ?", adjustmentID, loanID).Error
	if err != nil {
		return nil, notFound(err, "trace", adjustmentID.String()+"/"+loanID.String())
	}
	return row.model(), nil
}

func (r gormRepo) SaveTrace(ctx context.Context, trace *models.AdjustmentTrace) error {
	if trace.CreatedAt.IsZero() {
		trace.CreatedAt = time.Now()
	}
	if trace.UpdatedAt.IsZero() {
		trace.UpdatedAt = trace.CreatedAt
	}
	row := traceRow{
		AdjustmentID: trace.AdjustmentID, LoanID: trace.LoanID, Installments: trace.Installments,
		FractionalInstallments: trace.FractionalInstallments, Amount: trace.Amount,
		CreatedAt: trace.CreatedAt, UpdatedAt: trace.UpdatedAt,
	}
	err := r.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "adjustment_id"}, {Name: "loan_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"installments", "fractional_installments", "amount", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save trace: %w", err)
	}
	return nil
}

func (r gormRepo) DeleteTrace(ctx context.Context, adjustmentID, loanID uuid.UUID) error {
	res := r.conn(ctx).Delete(&traceRow{}, "adjustment_id = ? AND loan_id = ?", adjustmentID, loanID)
	if res.Error != nil {
		return fmt.Errorf("failed to delete trace: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("trace %s/%s: %w", adjustmentID, loanID, ErrNotFound)
	}
	return nil
}

func (r gormRepo) ListTraces(ctx context.Context, adjustmentID uuid.UUID) ([]*models.AdjustmentTrace, error) {
	var rows []traceRow
	if err := r.conn(ctx).Where("adjustment_id = ?", adjustmentID).Order("loan_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	list := make([]*models.AdjustmentTrace, 0, len(rows))
	for _, row := range rows {
		list = append(list, row.model())
	}
	return list, nil
}

func (r gormRepo) DeleteTracesByLoan(ctx context.Context, loanID uuid.UUID) error {
	if err := r.conn(ctx).Delete(&traceRow{}, "loan_id = ?", loanID).Error; err != nil {
		return fmt.Errorf("failed to delete traces for loan %s: %w", loanID, err)
	}
	return nil
}
