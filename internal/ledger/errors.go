package ledger

import "errors"

var (
	// ErrInsufficientFunds rejects a debit that would take a balance negative.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrDuplicateOperation rejects a credit/debit whose (kind, correlation)
	// was already applied to the account. Callers treat it as already-applied;
	// it is the idempotency guard, not a failure.
	ErrDuplicateOperation = errors.New("ledger: duplicate operation")

	// ErrAccountNotFound is returned for operations on unknown accounts.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrInvalidAmount rejects non-positive amounts and empty correlations.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
)
