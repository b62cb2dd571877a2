// Package ledger is the balance core: integer mQC accounts with an
// append-only entry log. Every mutation is atomic, serialized per account,
// and deduplicated by (kind, correlation), which is what makes deposit
// crediting and withdrawal debiting safe to retry.
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"QuantaCasino/internal/observability"
)

// Store is the durable backend the ledger runs on. Implementations must
// guarantee: per-account serialization of mutations, atomicity of the
// balance update together with the entry append, rejection of duplicate
// (account, kind, correlation) triples with ErrDuplicateOperation, and
// rejection of debits below zero with ErrInsufficientFunds. Transfers
// touch two accounts atomically, acquiring them in account-id order.
type Store interface {
	EnsureAccount(ctx context.Context, id uuid.UUID, kind AccountKind) (*Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	ApplyEntry(ctx context.Context, account uuid.UUID, delta int64, kind EntryKind, correlation string) (*Entry, error)
	ApplyTransfer(ctx context.Context, from, to uuid.UUID, amount int64, kind EntryKind, correlation string) (*Entry, *Entry, error)
	ListEntries(ctx context.Context, account uuid.UUID, cursor int64, limit int) (*EntryPage, error)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Ledger wraps a Store with validation, logging and metrics. All balance
// movement in the system goes through this type.
type Ledger struct {
	store   Store
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(store Store, metrics *observability.Metrics) *Ledger {
	return &Ledger{
		store:   store,
		log:     observability.NewLogger("ledger"),
		metrics: metrics,
	}
}

// EnsureAccount creates the account if it does not exist yet and returns it.
func (l *Ledger) EnsureAccount(ctx context.Context, id uuid.UUID, kind AccountKind) (*Account, error) {
	return l.store.EnsureAccount(ctx, id, kind)
}

// Credit adds amount mQC to the account.
func (l *Ledger) Credit(ctx context.Context, account uuid.UUID, amount int64, kind EntryKind, correlation string) (*Entry, error) {
	if amount <= 0 || correlation == "" {
		return nil, ErrInvalidAmount
	}
	entry, err := l.store.ApplyEntry(ctx, account, amount, kind, correlation)
	if err != nil {
		return nil, err
	}
	l.record(entry)
	return entry, nil
}

// Debit removes amount mQC from the account, failing with
// ErrInsufficientFunds when the balance cannot cover it.
func (l *Ledger) Debit(ctx context.Context, account uuid.UUID, amount int64, kind EntryKind, correlation string) (*Entry, error) {
	if amount <= 0 || correlation == "" {
		return nil, ErrInvalidAmount
	}
	entry, err := l.store.ApplyEntry(ctx, account, -amount, kind, correlation)
	if err != nil {
		return nil, err
	}
	l.record(entry)
	return entry, nil
}

// Transfer atomically debits from and credits to. Used for tips and for
// moving stakes and payouts between players and the house.
func (l *Ledger) Transfer(ctx context.Context, from, to uuid.UUID, amount int64, kind EntryKind, correlation string) (*Entry, *Entry, error) {
	if amount <= 0 || correlation == "" || from == to {
		return nil, nil, ErrInvalidAmount
	}
	debit, credit, err := l.store.ApplyTransfer(ctx, from, to, amount, kind, correlation)
	if err != nil {
		return nil, nil, err
	}
	l.record(debit)
	l.record(credit)
	return debit, credit, nil
}

// Balance returns the committed balance snapshot for the account.
func (l *Ledger) Balance(ctx context.Context, account uuid.UUID) (int64, error) {
	acct, err := l.store.GetAccount(ctx, account)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Entries returns the account's entries newest first. cursor is the Seq of
// the last entry seen (0 for the first page).
func (l *Ledger) Entries(ctx context.Context, account uuid.UUID, cursor int64, limit int) (*EntryPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return l.store.ListEntries(ctx, account, cursor, limit)
}

func (l *Ledger) record(e *Entry) {
	if l.metrics != nil {
		l.metrics.LedgerEntries.WithLabelValues(e.Kind.String()).Inc()
	}
	l.log.Debug().
		Str("account", e.Account.String()).
		Int64("delta", e.Delta).
		Str("kind", e.Kind.String()).
		Str("correlation", e.Correlation).
		Int64("balance_after", e.BalanceAfter).
		Msg("entry committed")
}
