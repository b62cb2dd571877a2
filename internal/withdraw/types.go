// Package withdraw runs the on-chain payout state machine. A withdrawal
// debits the ledger before anything touches the chain; from then on it can
// only end confirmed on-chain or refunded by a compensating credit.
package withdraw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is a PendingWithdrawal's lifecycle position.
type State string

const (
	// StateQueued: ledger debited, nothing submitted yet.
	StateQueued State = "queued"
	// StateSubmitted: transaction sent, awaiting finalization.
	StateSubmitted State = "submitted"
	// StateConfirmed: finalized on chain. Terminal.
	StateConfirmed State = "confirmed"
	// StateFailed: compensating credit issued. Terminal.
	StateFailed State = "failed"
)

var (
	// ErrWithdrawalFailed is the terminal failure after retries; the
	// compensating credit has been issued by the time it is returned.
	ErrWithdrawalFailed = errors.New("withdraw: withdrawal failed")

	// ErrWithdrawalNotFound is returned for unknown withdrawal ids.
	ErrWithdrawalNotFound = errors.New("withdraw: not found")

	// ErrAmountTooSmall rejects requests under the configured minimum.
	ErrAmountTooSmall = errors.New("withdraw: amount below minimum")
)

// PendingWithdrawal is one withdrawal from request to terminal state.
type PendingWithdrawal struct {
	ID          uuid.UUID `json:"id"`
	Account     uuid.UUID `json:"account"`
	AmountMQC   int64     `json:"amount_mqc"`
	Destination string    `json:"destination"`
	State       State     `json:"state"`
	Signature   string    `json:"signature,omitempty"`
	FeeLamports int64     `json:"fee_lamports,omitempty"`
	RetryCount  int       `json:"retry_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CompensationCorrelation is the ledger correlation for the refund credit
// of a failed withdrawal. Distinct from the debit's correlation (the bare
// id) so the idempotency index admits exactly one compensation without
// colliding with the original debit record.
func CompensationCorrelation(id uuid.UUID) string {
	return "comp:" + id.String()
}

// Store persists withdrawal rows. Updates replace the mutable fields;
// rows never leave a terminal state.
type Store interface {
	CreateWithdrawal(ctx context.Context, w *PendingWithdrawal) error
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*PendingWithdrawal, error)
	UpdateWithdrawal(ctx context.Context, w *PendingWithdrawal) error
	// ListWithdrawals returns rows in the given state, oldest first.
	ListWithdrawals(ctx context.Context, state State, limit int) ([]PendingWithdrawal, error)
}

func (s State) valid() bool {
	switch s {
	case StateQueued, StateSubmitted, StateConfirmed, StateFailed:
		return true
	}
	return false
}

// ParseState maps a stored state string back to a State.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.valid() {
		return "", fmt.Errorf("withdraw: unknown state %q", raw)
	}
	return s, nil
}

// Notifier receives withdrawal state transitions. Must not block.
type Notifier interface {
	WithdrawalChanged(w *PendingWithdrawal)
}
