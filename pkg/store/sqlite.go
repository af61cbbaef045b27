package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/rentledger/pkg/models"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
// Loan writes are guarded by an optimistic version column.
type SQLiteStore struct {
	sqliteRepo
	db *sql.DB
}

var _ Storage = (*SQLiteStore)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// One connection keeps the pragmas below in effect and serialises writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{sqliteRepo: sqliteRepo{q: db}, db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Println("[store] sqlite connection established and schema initialized")
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// Decimal fields are TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		contract_number TEXT NOT NULL,
		client_id TEXT NOT NULL,
		vehicle_id TEXT NOT NULL,
		vehicle_type TEXT NOT NULL DEFAULT '',
		total_amount TEXT NOT NULL,
		down_payment TEXT NOT NULL,
		installments INTEGER NOT NULL,
		interest_rate TEXT NOT NULL DEFAULT '0',
		interest_type TEXT NOT NULL,
		payment_frequency TEXT NOT NULL,
		installment_payment_amount TEXT NOT NULL DEFAULT '0',
		gps_installment_payment TEXT NOT NULL DEFAULT '0',
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		paid_installments TEXT NOT NULL DEFAULT '0',
		remaining_installments TEXT NOT NULL DEFAULT '0',
		total_paid TEXT NOT NULL DEFAULT '0',
		debt_remaining TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		archived INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (store_id, contract_number)
	);
	CREATE INDEX IF NOT EXISTS idx_loans_store_status ON loans (store_id, status);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		store_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		gps TEXT NOT NULL DEFAULT '0',
		payment_method TEXT NOT NULL,
		payment_date DATETIME NOT NULL,
		is_late INTEGER NOT NULL DEFAULT 0,
		late_payment_date DATETIME,
		is_advance INTEGER NOT NULL DEFAULT 0,
		advance_payment_date DATETIME,
		closing_id TEXT,
		notes TEXT NOT NULL DEFAULT '',
		installment_cost TEXT NOT NULL,
		credit TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_installments_loan ON installments (loan_id, payment_date);
	CREATE TABLE IF NOT EXISTS outage_adjustments (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		loan_id TEXT,
		vehicle_type TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		days_unavailable INTEGER NOT NULL,
		auto_calculate INTEGER NOT NULL DEFAULT 1,
		installments_subtracted TEXT NOT NULL DEFAULT '0',
		amount_subtracted TEXT NOT NULL DEFAULT '0',
		affected_loans INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outage_adjustments_store ON outage_adjustments (store_id, start_date);
	CREATE TABLE IF NOT EXISTS adjustment_traces (
		adjustment_id TEXT NOT NULL,
		loan_id TEXT NOT NULL,
		installments INTEGER NOT NULL,
		fractional_installments TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (adjustment_id, loan_id),
		FOREIGN KEY(adjustment_id) REFERENCES outage_adjustments(id) ON DELETE CASCADE,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_adjustment_traces_loan ON adjustment_traces (loan_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx runs fn inside a database transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(sqliteRepo{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteRepo struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

const loanColumns = `id, store_id, contract_number, client_id, vehicle_id, vehicle_type,
	total_amount, down_payment, installments, interest_rate, interest_type, payment_frequency,
	installment_payment_amount, gps_installment_payment, start_date, end_date,
	paid_installments, remaining_installments, total_paid, debt_remaining, status,
	archived, version, created_at, updated_at`

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	err := row.Scan(
		&loan.ID, &loan.StoreID, &loan.ContractNumber, &loan.ClientID, &loan.VehicleID, &loan.VehicleType,
		&loan.TotalAmount, &loan.DownPayment, &loan.Installments, &loan.InterestRate, &loan.InterestType, &loan.PaymentFrequency,
		&loan.InstallmentPaymentAmount, &loan.GPSInstallmentPayment, &loan.StartDate, &loan.EndDate,
		&loan.PaidInstallments, &loan.RemainingInstallments, &loan.TotalPaid, &loan.DebtRemaining, &loan.Status,
		&loan.Archived, &loan.Version, &loan.CreatedAt, &loan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if !loan.Status.Valid() || !loan.PaymentFrequency.Valid() || !loan.InterestType.Valid() {
		return nil, fmt.Errorf("loan %s has invalid enum values (status=%q frequency=%q interest=%q)",
			loan.ID, loan.Status, loan.PaymentFrequency, loan.InterestType)
	}
	return &loan, nil
}

func (r sqliteRepo) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.StoreID, loan.ContractNumber, loan.ClientID, loan.VehicleID, loan.VehicleType,
		loan.TotalAmount, loan.DownPayment, loan.Installments, loan.InterestRate, loan.InterestType, loan.PaymentFrequency,
		loan.InstallmentPaymentAmount, loan.GPSInstallmentPayment, loan.StartDate, loan.EndDate,
		loan.PaidInstallments, loan.RemainingInstallments, loan.TotalPaid, loan.DebtRemaining, loan.Status,
		loan.Archived, loan.Version, loan.CreatedAt, loan.UpdatedAt,
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("contract %s in store %s taken: %w", loan.ContractNumber, loan.StoreID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (r sqliteRepo) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates an existing loan if nobody wrote it since it was read.
func (r sqliteRepo) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE loans SET vehicle_type = ?, total_amount = ?, down_payment = ?, installments = ?, interest_rate = ?,
			interest_type = ?, payment_frequency = ?, installment_payment_amount = ?, gps_installment_payment = ?,
			start_date = ?, end_date = ?, paid_installments = ?, remaining_installments = ?, total_paid = ?,
			debt_remaining = ?, status = ?, archived = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		loan.VehicleType, loan.TotalAmount, loan.DownPayment, loan.Installments, loan.InterestRate,
		loan.InterestType, loan.PaymentFrequency, loan.InstallmentPaymentAmount, loan.GPSInstallmentPayment,
		loan.StartDate, loan.EndDate, loan.PaidInstallments, loan.RemainingInstallments, loan.TotalPaid,
		loan.DebtRemaining, loan.Status, loan.Archived, loan.UpdatedAt,
		loan.ID, loan.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		err := r.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM loans WHERE id = ?`, loan.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check loan existence: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("loan %s: %w", loan.ID, ErrNotFound)
		}
		return fmt.Errorf("loan %s at version %d: %w", loan.ID, loan.Version, ErrConflict)
	}
	loan.Version++
	return nil
}

// DeleteLoan removes a loan. Installments must already be gone.
func (r sqliteRepo) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r sqliteRepo) LastContractNumber(ctx context.Context, storeID uuid.UUID) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(CAST(contract_number AS INTEGER)), 0) FROM loans WHERE store_id = ?`, storeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to read last contract number: %w", err)
	}
	return n, nil
}

// ListLoans retrieves loans matching filter.
func (r sqliteRepo) ListLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error) {
	var where []string
	var args []any
	if filter.StoreID != uuid.Nil {
		where = append(where, "store_id = ?")
		args = append(args, filter.StoreID)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.VehicleType != "" {
		where = append(where, "vehicle_type = ?")
		args = append(args, filter.VehicleType)
	}
	if !filter.IncludeArchived {
		where = append(where, "archived = 0")
	}

	query := `SELECT ` + loanColumns + ` FROM loans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, contract_number ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	loans := []*models.Loan{}
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

const installmentColumns = `id, loan_id, store_id, amount, gps, payment_method, payment_date,
	is_late, late_payment_date, is_advance, advance_payment_date, closing_id, notes,
	installment_cost, credit, created_at`

func scanInstallment(row rowScanner) (*models.Installment, error) {
	var inst models.Installment
	var lateDate, advanceDate sql.NullTime
	var closingID uuid.NullUUID
	err := row.Scan(
		&inst.ID, &inst.LoanID, &inst.StoreID, &inst.Amount, &inst.GPS, &inst.PaymentMethod, &inst.PaymentDate,
		&inst.IsLate, &lateDate, &inst.IsAdvance, &advanceDate, &closingID, &inst.Notes,
		&inst.InstallmentCost, &inst.Credit, &inst.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lateDate.Valid {
		inst.LatePaymentDate = &lateDate.Time
	}
	if advanceDate.Valid {
		inst.AdvancePaymentDate = &advanceDate.Time
	}
	if closingID.Valid {
		inst.ClosingID = &closingID.UUID
	}
	if !inst.PaymentMethod.Valid() {
		return nil, fmt.Errorf("installment %s has invalid payment method %q", inst.ID, inst.PaymentMethod)
	}
	return &inst, nil
}

// CreateInstallment inserts a new installment into the database.
func (r sqliteRepo) CreateInstallment(ctx context.Context, inst *models.Installment) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO installments (`+installmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.LoanID, inst.StoreID, inst.Amount, inst.GPS, inst.PaymentMethod, inst.PaymentDate,
		inst.IsLate, nullTime(inst.LatePaymentDate), inst.IsAdvance, nullTime(inst.AdvancePaymentDate),
		nullUUID(inst.ClosingID), inst.Notes, inst.InstallmentCost, inst.Credit, inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create installment: %w", err)
	}
	return nil
}

func (r sqliteRepo) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = ?`, id)
	inst, err := scanInstallment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("installment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get installment: %w", err)
	}
	return inst, nil
}

func (r sqliteRepo) DeleteInstallment(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM installments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete installment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("installment %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListInstallmentsByLoan retrieves all installments for a given loan ID.
func (r sqliteRepo) ListInstallmentsByLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+installmentColumns+` FROM installments WHERE loan_id = ? ORDER BY payment_date ASC, created_at ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	list := []*models.Installment{}
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		list = append(list, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan installments: %w", err)
	}
	return list, nil
}

func (r sqliteRepo) ListInstallmentsByLoans(ctx context.Context, loanIDs []uuid.UUID) (map[uuid.UUID][]*models.Installment, error) {
	out := make(map[uuid.UUID][]*models.Installment, len(loanIDs))
	if len(loanIDs) == 0 {
		return out, nil
	}
	marks := make([]string, len(loanIDs))
	args := make([]any, len(loanIDs))
	for i, id := range loanIDs {
		marks[i] = "?"
		args[i] = id
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+installmentColumns+` FROM installments WHERE loan_id IN (`+strings.Join(marks, ", ")+`)
		ORDER BY payment_date ASC, created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for %d loans: %w", len(loanIDs), err)
	}
	defer rows.Close()

	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		out[inst.LoanID] = append(out[inst.LoanID], inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installments: %w", err)
	}
	return out, nil
}

func (r sqliteRepo) DeleteInstallmentsByLoan(ctx context.Context, loanID uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM installments WHERE loan_id = ?`, loanID); err != nil {
		return fmt.Errorf("failed to delete installments for loan %s: %w", loanID, err)
	}
	return nil
}

const adjustmentColumns = `id, store_id, scope, loan_id, vehicle_type, category, description,
	start_date, end_date, days_unavailable, auto_calculate, installments_subtracted, amount_subtracted,
	affected_loans, is_active, created_at, updated_at`

func scanAdjustment(row rowScanner) (*models.OutageAdjustment, error) {
	var adj models.OutageAdjustment
	var loanID uuid.NullUUID
	err := row.Scan(
		&adj.ID, &adj.StoreID, &adj.Scope, &loanID, &adj.VehicleType, &adj.Category, &adj.Description,
		&adj.StartDate, &adj.EndDate, &adj.DaysUnavailable, &adj.AutoCalculate, &adj.InstallmentsSubtracted, &adj.AmountSubtracted,
		&adj.AffectedLoans, &adj.IsActive, &adj.CreatedAt, &adj.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if loanID.Valid {
		adj.LoanID = &loanID.UUID
	}
	if !adj.Scope.Valid() || !adj.Category.Valid() {
		return nil, fmt.Errorf("adjustment %s has invalid enum values (scope=%q category=%q)", adj.ID, adj.Scope, adj.Category)
	}
	return &adj, nil
}

func (r sqliteRepo) CreateAdjustment(ctx context.Context, adj *models.OutageAdjustment) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO outage_adjustments (`+adjustmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		adj.ID, adj.StoreID, adj.Scope, nullUUID(adj.LoanID), adj.VehicleType, adj.Category, adj.Description,
		adj.StartDate, adj.EndDate, adj.DaysUnavailable, adj.AutoCalculate, adj.InstallmentsSubtracted, adj.AmountSubtracted,
		adj.AffectedLoans, adj.IsActive, adj.CreatedAt, adj.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create adjustment: %w", err)
	}
	return nil
}

func (r sqliteRepo) GetAdjustment(ctx context.Context, id uuid.UUID) (*models.OutageAdjustment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+adjustmentColumns+` FROM outage_adjustments WHERE id = ?`, id)
	adj, err := scanAdjustment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("adjustment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get adjustment: %w", err)
	}
	return adj, nil
}

func (r sqliteRepo) UpdateAdjustment(ctx context.Context, adj *models.OutageAdjustment) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE outage_adjustments SET category = ?, description = ?, start_date = ?, end_date = ?,
			days_unavailable = ?, auto_calculate = ?, installments_subtracted = ?, amount_subtracted = ?,
			affected_loans = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		adj.Category, adj.Description, adj.StartDate, adj.EndDate,
		adj.DaysUnavailable, adj.AutoCalculate, adj.InstallmentsSubtracted, adj.AmountSubtracted,
		adj.AffectedLoans, adj.IsActive, adj.UpdatedAt, adj.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update adjustment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("adjustment %s: %w", adj.ID, ErrNotFound)
	}
	return nil
}

// DeleteAdjustment removes an adjustment; its traces go with it.
func (r sqliteRepo) DeleteAdjustment(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM outage_adjustments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete adjustment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("adjustment %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r sqliteRepo) ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]*models.OutageAdjustment, error) {
	var where []string
	var args []any
	if filter.StoreID != uuid.Nil {
		where = append(where, "store_id = ?")
		args = append(args, filter.StoreID)
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	if filter.LoanID != uuid.Nil {
		where = append(where, "EXISTS (SELECT 1 FROM adjustment_traces t WHERE t.adjustment_id = a.id AND t.loan_id = ?)")
		args = append(args, filter.LoanID)
	}
	query := `SELECT ` + adjustmentColumns + ` FROM outage_adjustments a`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date ASC, created_at ASC"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()

	list := []*models.OutageAdjustment{}
	for rows.Next() {
		adj, err := scanAdjustment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan adjustment row: %w", err)
		}
		list = append(list, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for adjustments: %w", err)
	}
	return list, nil
}

func (r sqliteRepo) ListActiveAdjustmentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.OutageAdjustment, error) {
	return r.ListAdjustments(ctx, AdjustmentFilter{LoanID: loanID, ActiveOnly: true})
}

func (r sqliteRepo) ListAffectedLoans(ctx context.Context, storeID uuid.UUID, vehicleType string) ([]*models.Loan, error) {
	return r.ListLoans(ctx, LoanFilter{
		StoreID:     storeID,
		Statuses:    []models.LoanStatus{models.LoanStatusActive, models.LoanStatusPending},
		VehicleType: vehicleType,
	})
}

const traceColumns = `adjustment_id, loan_id, installments, fractional_installments, amount, created_at, updated_at`

func scanTrace(row rowScanner) (*models.AdjustmentTrace, error) {
	var tr models.AdjustmentTrace
	if err := row.Scan(&tr.AdjustmentID, &tr.LoanID, &tr.Installments, &tr.FractionalInstallments, &tr.Amount, &tr.CreatedAt, &tr.UpdatedAt); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (r sqliteRepo) GetTrace(ctx context.Context, adjustmentID, loanID uuid.UUID) (*models.AdjustmentTrace, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+traceColumns+` FROM adjustment_traces WHERE adjustment_id = ? AND loan_id = ?`, adjustmentID, loanID)
	tr, err := scanTrace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("trace %s/%s: %w", adjustmentID, loanID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get trace: %w", err)
	}
	return tr, nil
}

// SaveTrace inserts or replaces the trace for (adjustment, loan).
func (r sqliteRepo) SaveTrace(ctx context.Context, trace *models.AdjustmentTrace) error {
	if trace.CreatedAt.IsZero() {
		trace.CreatedAt = time.Now()
	}
	if trace.UpdatedAt.IsZero() {
		trace.UpdatedAt = trace.CreatedAt
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO adjustment_traces (`+traceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(adjustment_id, loan_id) DO UPDATE SET
			installments = excluded.installments,
			fractional_installments = excluded.fractional_installments,
			amount = excluded.amount,
			updated_at = excluded.updated_at`,
		trace.AdjustmentID, trace.LoanID, trace.Installments, trace.FractionalInstallments, trace.Amount,
		trace.CreatedAt, trace.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trace: %w", err)
	}
	return nil
}

func (r sqliteRepo) DeleteTrace(ctx context.Context, adjustmentID, loanID uuid.UUID) error {
	result, err := r.q.ExecContext(ctx,
		`DELETE FROM adjustment_traces WHERE adjustment_id = ? AND loan_id = ?`, adjustmentID, loanID)
	if err != nil {
		return fmt.Errorf("failed to delete trace: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trace %s/%s: %w", adjustmentID, loanID, ErrNotFound)
	}
	return nil
}

func (r sqliteRepo) ListTraces(ctx context.Context, adjustmentID uuid.UUID) ([]*models.AdjustmentTrace, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+traceColumns+` FROM adjustment_traces WHERE adjustment_id = ? ORDER BY loan_id ASC`, adjustmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	defer rows.Close()

	list := []*models.AdjustmentTrace{}
	for rows.Next() {
		tr, err := scanTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trace row: %w", err)
		}
		list = append(list, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for traces: %w", err)
	}
	return list, nil
}

func (r sqliteRepo) DeleteTracesByLoan(ctx context.Context, loanID uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM adjustment_traces WHERE loan_id = ?`, loanID); err != nil {
		return fmt.Errorf("failed to delete traces for loan %s: %w", loanID, err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
