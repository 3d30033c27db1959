package credits

import "errors"

var (
	ErrAccountNotFound     = errors.New("credit account not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrLedgerReadFailed    = errors.New("ledger read failed")
	ErrLedgerWriteFailed   = errors.New("ledger write failed")
)
