package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount rejects non-positive requested volumes before any state
// is touched.
var ErrInvalidAmount = errors.New("ledger: trade amount must be positive")

// InsufficientFundsError rejects a buy whose cost exceeds the user's cash.
// Nothing is mutated.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("ledger: insufficient funds: need %s, have %s",
		e.Required, e.Available)
}

// InsufficientSharesError rejects a sale of more units than the user holds.
// Nothing is mutated.
type InsufficientSharesError struct {
	AssetCode string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("ledger: insufficient shares of %s: have %s, requested %s",
		e.AssetCode, e.Available, e.Requested)
}

// StorageError reports a persistence failure. The settlement write pair is
// atomic, so prior state is guaranteed unchanged.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return "ledger: storage failure: " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }
