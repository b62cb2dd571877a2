package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"QuantaCasino/internal/deposit"
	"QuantaCasino/internal/fairness"
	"QuantaCasino/internal/game"
	"QuantaCasino/internal/ledger"
	"QuantaCasino/internal/withdraw"
)

// MemoryStore implements Store in process memory. Balance mutations take
// per-account locks, acquired in account-id order for transfers, the same
// serialization shape the Postgres store gets from row locks.
type MemoryStore struct {
	mu       sync.Mutex // guards every map below
	accounts map[uuid.UUID]*ledger.Account
	locks    map[uuid.UUID]*sync.Mutex
	entries  map[uuid.UUID][]ledger.Entry // per account, append order
	dedup    map[string]bool              // account|kind|correlation
	seq      int64

	pairs  map[uuid.UUID]*fairness.SeedPair
	active map[uuid.UUID]uuid.UUID // account -> active pair

	rounds      map[uuid.UUID]*game.Round
	withdrawals map[uuid.UUID]*withdraw.PendingWithdrawal
	watermarks  map[string]*deposit.Watermark
	review      map[string]*deposit.ReviewItem
	linked      map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[uuid.UUID]*ledger.Account),
		locks:       make(map[uuid.UUID]*sync.Mutex),
		entries:     make(map[uuid.UUID][]ledger.Entry),
		dedup:       make(map[string]bool),
		pairs:       make(map[uuid.UUID]*fairness.SeedPair),
		active:      make(map[uuid.UUID]uuid.UUID),
		rounds:      make(map[uuid.UUID]*game.Round),
		withdrawals: make(map[uuid.UUID]*withdraw.PendingWithdrawal),
		watermarks:  make(map[string]*deposit.Watermark),
		review:      make(map[string]*deposit.ReviewItem),
		linked:      make(map[string]uuid.UUID),
	}
}

func dedupKey(account uuid.UUID, kind ledger.EntryKind, correlation string) string {
	return account.String() + "|" + kind.String() + "|" + correlation
}

// lockFor returns the account's mutex, creating it on first use.
func (s *MemoryStore) lockFor(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// lockOrdered acquires both accounts' mutexes in id order.
func (s *MemoryStore) lockOrdered(a, b uuid.UUID) (unlock func()) {
	la, lb := s.lockFor(a), s.lockFor(b)
	if bytes.Compare(a[:], b[:]) > 0 {
		la, lb = lb, la
	}
	la.Lock()
	lb.Lock()
	return func() {
		lb.Unlock()
		la.Unlock()
	}
}

// --- ledger.Store ---

func (s *MemoryStore) EnsureAccount(_ context.Context, id uuid.UUID, kind ledger.AccountKind) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[id]; ok {
		cp := *acct
		return &cp, nil
	}
	acct := &ledger.Account{
		ID:        id,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	s.accounts[id] = acct
	cp := *acct
	return &cp, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (s *MemoryStore) ApplyEntry(ctx context.Context, account uuid.UUID, delta int64, kind ledger.EntryKind, correlation string) (*ledger.Entry, error) {
	lock := s.lockFor(account)
	lock.Lock()
	defer lock.Unlock()
	return s.applyLocked(account, delta, kind, correlation)
}

func (s *MemoryStore) ApplyTransfer(ctx context.Context, from, to uuid.UUID, amount int64, kind ledger.EntryKind, correlation string) (*ledger.Entry, *ledger.Entry, error) {
	unlock := s.lockOrdered(from, to)
	defer unlock()

	// Both legs are checked before either applies, so a duplicate or an
	// uncovered debit leaves no half-applied transfer behind.
	s.mu.Lock()
	fromAcct, okFrom := s.accounts[from]
	_, okTo := s.accounts[to]
	dup := s.dedup[dedupKey(from, kind, correlation)] || s.dedup[dedupKey(to, kind, correlation)]
	short := okFrom && fromAcct.Balance < amount
	s.mu.Unlock()

	if !okFrom || !okTo {
		return nil, nil, ledger.ErrAccountNotFound
	}
	if dup {
		return nil, nil, ledger.ErrDuplicateOperation
	}
	if short {
		return nil, nil, ledger.ErrInsufficientFunds
	}

	debit, err := s.applyLocked(from, -amount, kind, correlation)
	if err != nil {
		return nil, nil, err
	}
	credit, err := s.applyLocked(to, amount, kind, correlation)
	if err != nil {
		return nil, nil, err
	}
	return debit, credit, nil
}

// applyLocked mutates one balance. The caller holds the account lock.
func (s *MemoryStore) applyLocked(account uuid.UUID, delta int64, kind ledger.EntryKind, correlation string) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[account]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	key := dedupKey(account, kind, correlation)
	if s.dedup[key] {
		return nil, ledger.ErrDuplicateOperation
	}
	if acct.Balance+delta < 0 {
		return nil, ledger.ErrInsufficientFunds
	}

	s.seq++
	acct.Balance += delta
	acct.Version++
	entry := ledger.Entry{
		ID:           uuid.New(),
		Seq:          s.seq,
		Account:      account,
		Delta:        delta,
		Kind:         kind,
		Correlation:  correlation,
		BalanceAfter: acct.Balance,
		CreatedAt:    time.Now().UTC(),
	}
	s.dedup[key] = true
	s.entries[account] = append(s.entries[account], entry)
	cp := entry
	return &cp, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, account uuid.UUID, cursor int64, limit int) (*ledger.EntryPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account]; !ok {
		return nil, ledger.ErrAccountNotFound
	}

	all := s.entries[account]
	page := &ledger.EntryPage{}
	for i := len(all) - 1; i >= 0 && len(page.Entries) < limit; i-- {
		if cursor != 0 && all[i].Seq >= cursor {
			continue
		}
		page.Entries = append(page.Entries, all[i])
	}
	if n := len(page.Entries); n == limit && n > 0 {
		last := page.Entries[n-1].Seq
		for i := 0; i < len(all); i++ {
			if all[i].Seq < last {
				page.NextCursor = last
				break
			}
		}
	}
	return page, nil
}

// --- fairness.Store ---

func (s *MemoryStore) ActiveSeedPair(_ context.Context, account uuid.UUID) (*fairness.SeedPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[account]
	if !ok {
		return nil, nil
	}
	cp := *s.pairs[id]
	return &cp, nil
}

func (s *MemoryStore) GetSeedPair(_ context.Context, id uuid.UUID) (*fairness.SeedPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pairs[id]
	if !ok {
		return nil, fairness.ErrSeedPairNotFound
	}
	cp := *pair
	return &cp, nil
}

func (s *MemoryStore) CreateSeedPair(_ context.Context, pair *fairness.SeedPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pair
	s.pairs[pair.ID] = &cp
	if pair.Active {
		s.active[pair.Account] = pair.ID
	}
	return nil
}

func (s *MemoryStore) ReserveNext(_ context.Context, id uuid.UUID) (nonce, rounds int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pairs[id]
	if !ok || !pair.Active {
		return 0, 0, fairness.ErrSeedPairNotFound
	}
	nonce = pair.NextNonce
	pair.NextNonce++
	pair.Rounds++
	return nonce, pair.Rounds, nil
}

func (s *MemoryStore) ReserveNonce(_ context.Context, id uuid.UUID, nonce int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pairs[id]
	if !ok || !pair.Active {
		return fairness.ErrSeedPairNotFound
	}
	if nonce < pair.NextNonce {
		return fairness.ErrNonceReuse
	}
	pair.NextNonce = nonce + 1
	return nil
}

func (s *MemoryStore) RetireSeedPair(_ context.Context, id uuid.UUID, revealedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pairs[id]
	if !ok {
		return fairness.ErrSeedPairNotFound
	}
	pair.Active = false
	pair.RevealedAt = &revealedAt
	if s.active[pair.Account] == id {
		delete(s.active, pair.Account)
	}
	return nil
}

// --- game.RoundStore ---

func (s *MemoryStore) CreateRound(_ context.Context, r *game.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rounds[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, id uuid.UUID) (*game.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, game.ErrRoundNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) UpdateRound(_ context.Context, r *game.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rounds[r.ID]; !ok {
		return game.ErrRoundNotFound
	}
	cp := *r
	s.rounds[r.ID] = &cp
	return nil
}

func (s *MemoryStore) ListStaleRounds(_ context.Context, cutoff time.Time, limit int) ([]game.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []game.Round
	for _, r := range s.rounds {
		if (r.State == game.StatePlaced || r.State == game.StateResolved) && r.CreatedAt.Before(cutoff) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- withdraw.Store ---

func (s *MemoryStore) CreateWithdrawal(_ context.Context, w *withdraw.PendingWithdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.withdrawals[w.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWithdrawal(_ context.Context, id uuid.UUID) (*withdraw.PendingWithdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, withdraw.ErrWithdrawalNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) UpdateWithdrawal(_ context.Context, w *withdraw.PendingWithdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.withdrawals[w.ID]; !ok {
		return withdraw.ErrWithdrawalNotFound
	}
	cp := *w
	s.withdrawals[w.ID] = &cp
	return nil
}

func (s *MemoryStore) ListWithdrawals(_ context.Context, state withdraw.State, limit int) ([]withdraw.PendingWithdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []withdraw.PendingWithdrawal
	for _, w := range s.withdrawals {
		if w.State == state {
			out = append(out, *w)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// --- deposit.Store ---

func (s *MemoryStore) Watermark(_ context.Context, wallet string) (*deposit.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.watermarks[wallet]
	if !ok {
		return nil, nil
	}
	cp := *wm
	return &cp, nil
}

func (s *MemoryStore) SetWatermark(_ context.Context, wallet, signature string, slot uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[wallet] = &deposit.Watermark{
		Wallet:        wallet,
		LastSignature: signature,
		LastSlot:      slot,
		UpdatedAt:     time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) AccountForAddress(_ context.Context, address string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.linked[address]
	return account, ok, nil
}

func (s *MemoryStore) ParkDeposit(_ context.Context, item *deposit.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.review[item.Signature]; exists {
		return nil
	}
	cp := *item
	s.review[item.Signature] = &cp
	return nil
}

// --- linked addresses ---

func (s *MemoryStore) LinkAddress(_ context.Context, address string, account uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linked[address] = account
	return nil
}

func (s *MemoryStore) LinkedAddresses(_ context.Context, account uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for addr, acct := range s.linked {
		if acct == account {
			out = append(out, addr)
		}
	}
	return out, nil
}
