package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"QuantaCasino/internal/game"
	"QuantaCasino/internal/ledger"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// the two read paths worth caching: settled rounds (immutable, verified
// repeatedly by third parties) and transaction history pages. Balance
// reads always hit the primary; stale balances are never acceptable.
//
// History pages are keyed under a per-account version that every write
// bumps, so invalidation is one INCR instead of a key scan; superseded
// pages fall out by TTL.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

func roundKey(id uuid.UUID) string {
	return "qc:round:" + id.String()
}

func entriesVersionKey(account uuid.UUID) string {
	return "qc:entriesver:" + account.String()
}

func entriesKey(account uuid.UUID, version int64, cursor int64, limit int) string {
	return fmt.Sprintf("qc:entries:%s:%d:%d:%d", account, version, cursor, limit)
}

// --- cached reads ---

func (s *CachedStore) GetRound(ctx context.Context, id uuid.UUID) (*game.Round, error) {
	if data, err := s.rdb.Get(ctx, roundKey(id)).Bytes(); err == nil {
		var r game.Round
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.Store.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}
	// Only terminal rounds are cacheable; a placed round still changes.
	if r.State == game.StateSettled || r.State == game.StateRefunded {
		if data, err := json.Marshal(r); err == nil {
			s.rdb.Set(ctx, roundKey(id), data, s.ttl)
		}
	}
	return r, nil
}

func (s *CachedStore) ListEntries(ctx context.Context, account uuid.UUID, cursor int64, limit int) (*ledger.EntryPage, error) {
	version, _ := s.rdb.Get(ctx, entriesVersionKey(account)).Int64()
	key := entriesKey(account, version, cursor, limit)

	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var page ledger.EntryPage
		if json.Unmarshal(data, &page) == nil {
			return &page, nil
		}
	}

	page, err := s.Store.ListEntries(ctx, account, cursor, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(page); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return page, nil
}

// --- write-through invalidation ---

func (s *CachedStore) ApplyEntry(ctx context.Context, account uuid.UUID, delta int64, kind ledger.EntryKind, correlation string) (*ledger.Entry, error) {
	entry, err := s.Store.ApplyEntry(ctx, account, delta, kind, correlation)
	if err != nil {
		return nil, err
	}
	s.rdb.Incr(ctx, entriesVersionKey(account))
	return entry, nil
}

func (s *CachedStore) ApplyTransfer(ctx context.Context, from, to uuid.UUID, amount int64, kind ledger.EntryKind, correlation string) (*ledger.Entry, *ledger.Entry, error) {
	debit, credit, err := s.Store.ApplyTransfer(ctx, from, to, amount, kind, correlation)
	if err != nil {
		return nil, nil, err
	}
	s.rdb.Incr(ctx, entriesVersionKey(from))
	s.rdb.Incr(ctx, entriesVersionKey(to))
	return debit, credit, nil
}
