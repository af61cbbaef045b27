package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "PENDING"
	LoanStatusActive    LoanStatus = "ACTIVE"
	LoanStatusCompleted LoanStatus = "COMPLETED"
	LoanStatusDefaulted LoanStatus = "DEFAULTED"
)

func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusPending, LoanStatusActive, LoanStatusCompleted, LoanStatusDefaulted:
		return true
	}
	return false
}

// Closed reports whether the loan no longer accepts payments or outages.
func (s LoanStatus) Closed() bool {
	return s == LoanStatusCompleted || s == LoanStatusDefaulted
}

type PaymentFrequency string

const (
	FrequencyDaily    PaymentFrequency = "DAILY"
	FrequencyWeekly   PaymentFrequency = "WEEKLY"
	FrequencyBiweekly PaymentFrequency = "BIWEEKLY"
	FrequencyMonthly  PaymentFrequency = "MONTHLY"
)

func (f PaymentFrequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// PeriodDays is the number of calendar days one installment covers when an
// outage is converted into installments. Months count as 30 days.
func (f PaymentFrequency) PeriodDays() int {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyBiweekly:
		return 14
	case FrequencyMonthly:
		return 30
	}
	return 1
}

type InterestType string

const (
	InterestTypeFixed     InterestType = "FIXED"
	InterestTypeDeclining InterestType = "DECLINING"
)

func (t InterestType) Valid() bool {
	return t == InterestTypeFixed || t == InterestTypeDeclining
}

type Loan struct {
	ID             uuid.UUID `json:"id"`
	StoreID        uuid.UUID `json:"store_id"`
	ContractNumber string    `json:"contract_number"`
	ClientID       uuid.UUID `json:"client_id"`
	VehicleID      uuid.UUID `json:"vehicle_id"`
	VehicleType    string    `json:"vehicle_type"`

	TotalAmount              decimal.Decimal  `json:"total_amount"`
	DownPayment              decimal.Decimal  `json:"down_payment"`
	Installments             int              `json:"installments"`
	InterestRate             decimal.Decimal  `json:"interest_rate"`
	InterestType             InterestType     `json:"interest_type"`
	PaymentFrequency         PaymentFrequency `json:"payment_frequency"`
	InstallmentPaymentAmount decimal.Decimal  `json:"installment_payment_amount"`
	GPSInstallmentPayment    decimal.Decimal  `json:"gps_installment_payment"`
	StartDate                time.Time        `json:"start_date"`
	EndDate                  time.Time        `json:"end_date"`

	// Running state. Only the ledger functions write these.
	PaidInstallments      decimal.Decimal `json:"paid_installments"`
	RemainingInstallments decimal.Decimal `json:"remaining_installments"`
	TotalPaid             decimal.Decimal `json:"total_paid"`
	DebtRemaining         decimal.Decimal `json:"debt_remaining"`
	Status                LoanStatus      `json:"status"`

	Archived  bool      `json:"archived"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "CASH"
	PaymentMethodTransfer PaymentMethod = "TRANSFER"
	PaymentMethodCard     PaymentMethod = "CARD"
	PaymentMethodOther    PaymentMethod = "OTHER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodTransfer, PaymentMethodCard, PaymentMethodOther:
		return true
	}
	return false
}

type Installment struct {
	ID                 uuid.UUID       `json:"id"`
	LoanID             uuid.UUID       `json:"loan_id"`
	StoreID            uuid.UUID       `json:"store_id"`
	Amount             decimal.Decimal `json:"amount"`
	GPS                decimal.Decimal `json:"gps"`
	PaymentMethod      PaymentMethod   `json:"payment_method"`
	PaymentDate        time.Time       `json:"payment_date"`
	IsLate             bool            `json:"is_late"`
	LatePaymentDate    *time.Time      `json:"late_payment_date,omitempty"`
	IsAdvance          bool            `json:"is_advance"`
	AdvancePaymentDate *time.Time      `json:"advance_payment_date,omitempty"`
	ClosingID          *uuid.UUID      `json:"closing_id,omitempty"` // cash-register closing batch, owned elsewhere
	Notes              string          `json:"notes,omitempty"`

	// Frozen at post time so removal reverses exactly what was applied.
	InstallmentCost decimal.Decimal `json:"installment_cost"`
	Credit          decimal.Decimal `json:"credit"`

	CreatedAt time.Time `json:"created_at"`
}

type AdjustmentScope string

const (
	ScopeSingleLoan AdjustmentScope = "SINGLE_LOAN"
	ScopeStoreWide  AdjustmentScope = "STORE_WIDE"
)

func (s AdjustmentScope) Valid() bool {
	return s == ScopeSingleLoan || s == ScopeStoreWide
}

type AdjustmentCategory string

const (
	CategoryTheft      AdjustmentCategory = "THEFT"
	CategoryWorkshop   AdjustmentCategory = "WORKSHOP"
	CategoryHoliday    AdjustmentCategory = "HOLIDAY"
	CategoryStoreEvent AdjustmentCategory = "STORE_EVENT"
	CategoryOther      AdjustmentCategory = "OTHER"
)

func (c AdjustmentCategory) Valid() bool {
	switch c {
	case CategoryTheft, CategoryWorkshop, CategoryHoliday, CategoryStoreEvent, CategoryOther:
		return true
	}
	return false
}

// OutageAdjustment ("news") records a span during which a vehicle, or every
// vehicle of a store, was unavailable and the obligation was reduced.
type OutageAdjustment struct {
	ID              uuid.UUID          `json:"id"`
	StoreID         uuid.UUID          `json:"store_id"`
	Scope           AdjustmentScope    `json:"scope"`
	LoanID          *uuid.UUID         `json:"loan_id,omitempty"`
	VehicleType     string             `json:"vehicle_type,omitempty"`
	Category        AdjustmentCategory `json:"category"`
	Description     string             `json:"description,omitempty"`
	StartDate       time.Time          `json:"start_date"`
	EndDate         time.Time          `json:"end_date"`
	DaysUnavailable int                `json:"days_unavailable"`
	AutoCalculate   bool               `json:"auto_calculate"`

	// Frozen for SINGLE_LOAN scope: what was actually subtracted.
	InstallmentsSubtracted decimal.Decimal `json:"installments_subtracted"`
	AmountSubtracted       decimal.Decimal `json:"amount_subtracted"`
	// Number of loans touched by a STORE_WIDE adjustment.
	AffectedLoans int `json:"affected_loans"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdjustmentTrace is the delta one adjustment applied to one loan. It is keyed
// by (AdjustmentID, LoanID) and is what reversal and net updates read.
type AdjustmentTrace struct {
	AdjustmentID           uuid.UUID       `json:"adjustment_id"`
	LoanID                 uuid.UUID       `json:"loan_id"`
	Installments           int             `json:"installments"`
	FractionalInstallments decimal.Decimal `json:"fractional_installments"`
	Amount                 decimal.Decimal `json:"amount"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}
