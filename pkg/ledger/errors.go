package ledger

import (
	"errors"
	"fmt"

	"github.com/mcclellann/rentledger/pkg/store"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	// ErrLoanClosed is returned for payments or outages against a COMPLETED
	// or DEFAULTED loan.
	ErrLoanClosed          = fmt.Errorf("loan is closed: %w", ErrInvalidState)
	ErrExceedsDebt         = errors.New("amount exceeds remaining debt")
	ErrInvalidScope        = errors.New("invalid scope")
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidInstallment = errors.New("invalid installment")
	ErrInvalidLoan        = errors.New("invalid loan")
	ErrInvalidDates       = errors.New("invalid dates")
	ErrInvalidAdjustment  = errors.New("invalid adjustment")
)

// translate lifts store errors into ledger kinds so callers only need to
// match against this package.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
