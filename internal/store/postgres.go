package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"QuantaCasino/internal/deposit"
	"QuantaCasino/internal/fairness"
	"QuantaCasino/internal/game"
	"QuantaCasino/internal/ledger"
	"QuantaCasino/internal/withdraw"
)

// PostgresStore implements Store on database/sql + lib/pq. Per-account
// serialization comes from SELECT ... FOR UPDATE row locks; the unique
// index on (account_id, kind, correlation) is the idempotency guard, with
// unique violations mapped to ErrDuplicateOperation.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// --- ledger.Store ---

func (s *PostgresStore) EnsureAccount(ctx context.Context, id uuid.UUID, kind ledger.AccountKind) (*ledger.Account, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, kind, balance, version, created_at)
		 VALUES ($1, $2, 0, 0, NOW())
		 ON CONFLICT (id) DO NOTHING`,
		id, kind.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("store: ensure account: %w", err)
	}
	return s.GetAccount(ctx, id)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, kind, balance, version, created_at FROM accounts WHERE id = $1`, id))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var acct ledger.Account
	var kind string
	err := row.Scan(&acct.ID, &kind, &acct.Balance, &acct.Version, &acct.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan account: %w", err)
	}
	acct.Kind, err = ledger.ParseAccountKind(kind)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *PostgresStore) ApplyEntry(ctx context.Context, account uuid.UUID, delta int64, kind ledger.EntryKind, correlation string) (*ledger.Entry, error) {
	var entry *ledger.Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = applyEntryTx(ctx, tx, account, delta, kind, correlation)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *PostgresStore) ApplyTransfer(ctx context.Context, from, to uuid.UUID, amount int64, kind ledger.EntryKind, correlation string) (*ledger.Entry, *ledger.Entry, error) {
	var debit, credit *ledger.Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Lock both account rows in id order so two opposing transfers
		// cannot deadlock.
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
			pq.Array([]uuid.UUID{from, to}),
		)
		if err != nil {
			return fmt.Errorf("store: lock accounts: %w", err)
		}
		locked := 0
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			locked++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if locked != 2 {
			return ledger.ErrAccountNotFound
		}

		if debit, err = applyEntryTx(ctx, tx, from, -amount, kind, correlation); err != nil {
			return err
		}
		credit, err = applyEntryTx(ctx, tx, to, amount, kind, correlation)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return debit, credit, nil
}

// applyEntryTx is the single-account balance mutation: re-check the
// balance under the row lock, append the entry, bump the balance. All in
// the caller's transaction, so entry and balance commit or roll back
// together.
func applyEntryTx(ctx context.Context, tx *sql.Tx, account uuid.UUID, delta int64, kind ledger.EntryKind, correlation string) (*ledger.Entry, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, account,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lock account: %w", err)
	}
	if balance+delta < 0 {
		return nil, ledger.ErrInsufficientFunds
	}

	entry := &ledger.Entry{
		ID:           uuid.New(),
		Account:      account,
		Delta:        delta,
		Kind:         kind,
		Correlation:  correlation,
		BalanceAfter: balance + delta,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO ledger_entries (id, account_id, delta, kind, correlation, balance_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 RETURNING seq, created_at`,
		entry.ID, account, delta, kind.String(), correlation, entry.BalanceAfter,
	).Scan(&entry.Seq, &entry.CreatedAt)
	if isUniqueViolation(err) {
		return nil, ledger.ErrDuplicateOperation
	}
	if err != nil {
		return nil, fmt.Errorf("store: insert entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $2, version = version + 1 WHERE id = $1`,
		account, entry.BalanceAfter,
	); err != nil {
		return nil, fmt.Errorf("store: update balance: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, account uuid.UUID, cursor int64, limit int) (*ledger.EntryPage, error) {
	if _, err := s.GetAccount(ctx, account); err != nil {
		return nil, err
	}
	if cursor == 0 {
		cursor = int64(^uint64(0) >> 1) // no upper bound on the first page
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, account_id, delta, kind, correlation, balance_after, created_at
		 FROM ledger_entries
		 WHERE account_id = $1 AND seq < $2
		 ORDER BY seq DESC
		 LIMIT $3`,
		account, cursor, limit+1,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list entries: %w", err)
	}
	defer rows.Close()

	page := &ledger.EntryPage{}
	for rows.Next() {
		var e ledger.Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.Seq, &e.Account, &e.Delta, &kind, &e.Correlation, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Kind, err = ledger.ParseEntryKind(kind); err != nil {
			return nil, err
		}
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(page.Entries) > limit {
		page.Entries = page.Entries[:limit]
		page.NextCursor = page.Entries[limit-1].Seq
	}
	return page, nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// --- fairness.Store ---

const seedPairColumns = `id, account_id, server_seed, server_seed_hash, client_seed, next_nonce, rounds, active, created_at, revealed_at`

func scanSeedPair(row rowScanner) (*fairness.SeedPair, error) {
	var p fairness.SeedPair
	var revealed sql.NullTime
	err := row.Scan(&p.ID, &p.Account, &p.ServerSeed, &p.ServerSeedHash, &p.ClientSeed,
		&p.NextNonce, &p.Rounds, &p.Active, &p.CreatedAt, &revealed)
	if err != nil {
		return nil, err
	}
	if revealed.Valid {
		t := revealed.Time
		p.RevealedAt = &t
	}
	return &p, nil
}

func (s *PostgresStore) ActiveSeedPair(ctx context.Context, account uuid.UUID) (*fairness.SeedPair, error) {
	pair, err := scanSeedPair(s.db.QueryRowContext(ctx,
		`SELECT `+seedPairColumns+` FROM seed_pairs WHERE account_id = $1 AND active`, account))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: active seed pair: %w", err)
	}
	return pair, nil
}

func (s *PostgresStore) GetSeedPair(ctx context.Context, id uuid.UUID) (*fairness.SeedPair, error) {
	pair, err := scanSeedPair(s.db.QueryRowContext(ctx,
		`SELECT `+seedPairColumns+` FROM seed_pairs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fairness.ErrSeedPairNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get seed pair: %w", err)
	}
	return pair, nil
}

func (s *PostgresStore) CreateSeedPair(ctx context.Context, pair *fairness.SeedPair) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seed_pairs (`+seedPairColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		pair.ID, pair.Account, pair.ServerSeed, pair.ServerSeedHash, pair.ClientSeed,
		pair.NextNonce, pair.Rounds, pair.Active, pair.CreatedAt, pair.RevealedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create seed pair: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReserveNext(ctx context.Context, id uuid.UUID) (nonce, rounds int64, err error) {
	// Single-statement reservation: the row update is the serialization
	// point, so concurrent resolves get distinct nonces.
	err = s.db.QueryRowContext(ctx,
		`UPDATE seed_pairs SET next_nonce = next_nonce + 1, rounds = rounds + 1
		 WHERE id = $1 AND active
		 RETURNING next_nonce - 1, rounds`,
		id,
	).Scan(&nonce, &rounds)
	if err == sql.ErrNoRows {
		return 0, 0, fairness.ErrSeedPairNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("store: reserve nonce: %w", err)
	}
	return nonce, rounds, nil
}

func (s *PostgresStore) ReserveNonce(ctx context.Context, id uuid.UUID, nonce int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE seed_pairs SET next_nonce = $2 + 1, rounds = rounds + 1
		 WHERE id = $1 AND active AND next_nonce <= $2`,
		id, nonce,
	)
	if err != nil {
		return fmt.Errorf("store: reserve explicit nonce: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	// Distinguish a spent nonce from a missing pair.
	if _, err := s.GetSeedPair(ctx, id); err != nil {
		return err
	}
	return fairness.ErrNonceReuse
}

func (s *PostgresStore) RetireSeedPair(ctx context.Context, id uuid.UUID, revealedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE seed_pairs SET active = FALSE, revealed_at = $2 WHERE id = $1 AND active`,
		id, revealedAt,
	)
	if err != nil {
		return fmt.Errorf("store: retire seed pair: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fairness.ErrSeedPairNotFound
	}
	return nil
}

// --- game.RoundStore ---

func (s *PostgresStore) CreateRound(ctx context.Context, r *game.Round) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("store: marshal round params: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO game_rounds (id, account_id, game, stake_mqc, params, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.Account, string(r.Game), r.StakeMQC, params, r.State.String(), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create round: %w", err)
	}
	return nil
}

const roundColumns = `id, account_id, game, stake_mqc, params, state, seed_pair_id, seed_hash,
	client_seed, nonce, outcome, win, push, payout_mqc, detail, created_at, settled_at`

func scanRound(row rowScanner) (*game.Round, error) {
	var r game.Round
	var gameKind, state string
	var params, detail []byte
	var seedPair uuid.NullUUID
	var seedHash, clientSeed sql.NullString
	var nonce sql.NullInt64
	var outcome sql.NullInt64
	var settled sql.NullTime
	err := row.Scan(&r.ID, &r.Account, &gameKind, &r.StakeMQC, &params, &state,
		&seedPair, &seedHash, &clientSeed, &nonce, &outcome,
		&r.Win, &r.Push, &r.PayoutMQC, &detail, &r.CreatedAt, &settled)
	if err != nil {
		return nil, err
	}
	r.Game = game.Kind(gameKind)
	if r.State, err = game.ParseRoundState(state); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &r.Params); err != nil {
			return nil, fmt.Errorf("store: unmarshal round params: %w", err)
		}
	}
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &r.Detail); err != nil {
			return nil, fmt.Errorf("store: unmarshal round detail: %w", err)
		}
	}
	r.SeedPairID = seedPair.UUID
	r.SeedHash = seedHash.String
	r.ClientSeed = clientSeed.String
	r.Nonce = nonce.Int64
	r.Outcome = uint64(outcome.Int64)
	if settled.Valid {
		t := settled.Time
		r.SettledAt = &t
	}
	return &r, nil
}

func (s *PostgresStore) GetRound(ctx context.Context, id uuid.UUID) (*game.Round, error) {
	r, err := scanRound(s.db.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM game_rounds WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get round: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) UpdateRound(ctx context.Context, r *game.Round) error {
	detail, err := json.Marshal(r.Detail)
	if err != nil {
		return fmt.Errorf("store: marshal round detail: %w", err)
	}
	var seedPair interface{}
	if r.SeedPairID != uuid.Nil {
		seedPair = r.SeedPairID
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE game_rounds
		 SET state = $2, seed_pair_id = $3, seed_hash = $4, client_seed = $5, nonce = $6,
		     outcome = $7, win = $8, push = $9, payout_mqc = $10, detail = $11, settled_at = $12
		 WHERE id = $1`,
		r.ID, r.State.String(), seedPair, r.SeedHash, r.ClientSeed, r.Nonce,
		int64(r.Outcome), r.Win, r.Push, r.PayoutMQC, detail, r.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("store: update round: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return game.ErrRoundNotFound
	}
	return nil
}

func (s *PostgresStore) ListStaleRounds(ctx context.Context, cutoff time.Time, limit int) ([]game.Round, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roundColumns+` FROM game_rounds
		 WHERE state IN ('placed', 'resolved') AND created_at < $1
		 ORDER BY created_at
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list stale rounds: %w", err)
	}
	defer rows.Close()

	var out []game.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// --- withdraw.Store ---

const withdrawalColumns = `id, account_id, amount_mqc, destination, state, signature, fee_lamports, retry_count, created_at, updated_at`

func scanWithdrawal(row rowScanner) (*withdraw.PendingWithdrawal, error) {
	var w withdraw.PendingWithdrawal
	var state string
	var signature sql.NullString
	err := row.Scan(&w.ID, &w.Account, &w.AmountMQC, &w.Destination, &state,
		&signature, &w.FeeLamports, &w.RetryCount, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if w.State, err = withdraw.ParseState(state); err != nil {
		return nil, err
	}
	w.Signature = signature.String
	return &w, nil
}

func (s *PostgresStore) CreateWithdrawal(ctx context.Context, w *withdraw.PendingWithdrawal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_withdrawals (`+withdrawalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)`,
		w.ID, w.Account, w.AmountMQC, w.Destination, string(w.State),
		w.Signature, w.FeeLamports, w.RetryCount, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create withdrawal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWithdrawal(ctx context.Context, id uuid.UUID) (*withdraw.PendingWithdrawal, error) {
	w, err := scanWithdrawal(s.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM pending_withdrawals WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, withdraw.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get withdrawal: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) UpdateWithdrawal(ctx context.Context, w *withdraw.PendingWithdrawal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_withdrawals
		 SET state = $2, signature = NULLIF($3, ''), fee_lamports = $4, retry_count = $5, updated_at = $6
		 WHERE id = $1`,
		w.ID, string(w.State), w.Signature, w.FeeLamports, w.RetryCount, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: update withdrawal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return withdraw.ErrWithdrawalNotFound
	}
	return nil
}

func (s *PostgresStore) ListWithdrawals(ctx context.Context, state withdraw.State, limit int) ([]withdraw.PendingWithdrawal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+withdrawalColumns+` FROM pending_withdrawals
		 WHERE state = $1 ORDER BY created_at LIMIT $2`,
		string(state), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list withdrawals: %w", err)
	}
	defer rows.Close()

	var out []withdraw.PendingWithdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// --- deposit.Store ---

func (s *PostgresStore) Watermark(ctx context.Context, wallet string) (*deposit.Watermark, error) {
	var wm deposit.Watermark
	err := s.db.QueryRowContext(ctx,
		`SELECT wallet, last_signature, last_slot, updated_at FROM deposit_watermarks WHERE wallet = $1`,
		wallet,
	).Scan(&wm.Wallet, &wm.LastSignature, &wm.LastSlot, &wm.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get watermark: %w", err)
	}
	return &wm, nil
}

func (s *PostgresStore) SetWatermark(ctx context.Context, wallet, signature string, slot uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deposit_watermarks (wallet, last_signature, last_slot, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (wallet) DO UPDATE
		 SET last_signature = EXCLUDED.last_signature, last_slot = EXCLUDED.last_slot, updated_at = NOW()`,
		wallet, signature, int64(slot),
	)
	if err != nil {
		return fmt.Errorf("store: set watermark: %w", err)
	}
	return nil
}

func (s *PostgresStore) AccountForAddress(ctx context.Context, address string) (uuid.UUID, bool, error) {
	var account uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id FROM linked_addresses WHERE address = $1`, address,
	).Scan(&account)
	if err == sql.ErrNoRows {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("store: account for address: %w", err)
	}
	return account, true, nil
}

func (s *PostgresStore) ParkDeposit(ctx context.Context, item *deposit.ReviewItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deposit_review (signature, from_address, lamports, slot, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (signature) DO NOTHING`,
		item.Signature, item.FromAddress, item.Lamports, int64(item.Slot), item.Reason, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: park deposit: %w", err)
	}
	return nil
}

// --- linked addresses ---

func (s *PostgresStore) LinkAddress(ctx context.Context, address string, account uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO linked_addresses (address, account_id, created_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (address) DO UPDATE SET account_id = EXCLUDED.account_id`,
		address, account,
	)
	if err != nil {
		return fmt.Errorf("store: link address: %w", err)
	}
	return nil
}

func (s *PostgresStore) LinkedAddresses(ctx context.Context, account uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address FROM linked_addresses WHERE account_id = $1 ORDER BY created_at`, account)
	if err != nil {
		return nil, fmt.Errorf("store: linked addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}
