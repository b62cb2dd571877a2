// Package store holds the persistence backends: PostgreSQL as the source
// of truth, an optional Redis read-through cache in front of immutable
// reads, and an in-memory implementation for tests and keyless dev runs.
package store

import (
	"context"

	"github.com/google/uuid"

	"QuantaCasino/internal/deposit"
	"QuantaCasino/internal/fairness"
	"QuantaCasino/internal/game"
	"QuantaCasino/internal/ledger"
	"QuantaCasino/internal/withdraw"
)

// Store is the full persistence surface the daemon wires together. Each
// consumer package declares only the slice it needs; implementations here
// satisfy all of them.
type Store interface {
	ledger.Store
	fairness.Store
	game.RoundStore
	withdraw.Store
	deposit.Store

	// LinkAddress binds a sender address to an account for deposit
	// attribution. Re-linking an address moves it to the new account.
	LinkAddress(ctx context.Context, address string, account uuid.UUID) error

	// LinkedAddresses returns the account's registered sender addresses.
	LinkedAddresses(ctx context.Context, account uuid.UUID) ([]string, error)
}
