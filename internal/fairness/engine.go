package fairness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"QuantaCasino/internal/observability"
)

var (
	// ErrNonceReuse rejects a resolve whose nonce does not advance the pair.
	ErrNonceReuse = errors.New("fairness: nonce reuse")

	// ErrSeedPairNotFound is returned for unknown seed pair ids.
	ErrSeedPairNotFound = errors.New("fairness: seed pair not found")

	// ErrClientSeedInvalid rejects empty or oversized client seeds.
	ErrClientSeedInvalid = errors.New("fairness: invalid client seed")
)

const maxClientSeedLen = 64

// Store persists seed pairs. ReserveNext and ReserveNonce are the
// serialization points: implementations must advance NextNonce atomically
// so two concurrent resolves can never be issued the same nonce.
type Store interface {
	ActiveSeedPair(ctx context.Context, account uuid.UUID) (*SeedPair, error)
	GetSeedPair(ctx context.Context, id uuid.UUID) (*SeedPair, error)
	CreateSeedPair(ctx context.Context, pair *SeedPair) error
	// ReserveNext atomically claims the pair's next nonce and bumps the
	// round counter, returning the claimed nonce and the new round count.
	ReserveNext(ctx context.Context, id uuid.UUID) (nonce, rounds int64, err error)
	// ReserveNonce claims an explicit nonce. It fails with ErrNonceReuse
	// unless nonce >= NextNonce; on success NextNonce becomes nonce+1.
	ReserveNonce(ctx context.Context, id uuid.UUID, nonce int64) error
	// RetireSeedPair deactivates the pair and records the reveal time.
	RetireSeedPair(ctx context.Context, id uuid.UUID, revealedAt time.Time) error
}

// Draw is the randomness handed to a game resolver for one round. The
// server seed itself never leaves this package before reveal; multi-value
// games read from Stream instead.
type Draw struct {
	SeedPairID     uuid.UUID
	ServerSeedHash string
	ClientSeed     string
	Nonce          int64
	Outcome        uint64

	stream *Stream
}

// Stream returns the round's deterministic value stream.
func (d *Draw) Stream() *Stream {
	return d.stream
}

// Engine owns the active seed pair per account and is the only component
// allowed to touch server seeds. Rotation reveals the outgoing seed; a
// committed-but-unrevealed seed is never reused under a new commitment.
type Engine struct {
	store       Store
	rotateAfter int64
	log         zerolog.Logger
	metrics     *observability.Metrics
}

// NewEngine creates the engine. rotateAfter is the round count after which
// a pair is rotated automatically; 0 disables auto-rotation.
func NewEngine(store Store, rotateAfter int64, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:       store,
		rotateAfter: rotateAfter,
		log:         observability.NewLogger("fairness"),
		metrics:     metrics,
	}
}

// Commit returns the account's active seed pair, creating a fresh one when
// none exists. The returned pair's ServerSeed is blanked; only the hash is
// for publication.
func (e *Engine) Commit(ctx context.Context, account uuid.UUID) (*SeedPair, error) {
	pair, err := e.activeOrNew(ctx, account)
	if err != nil {
		return nil, err
	}
	return redact(pair), nil
}

// SetClientSeed installs a player-chosen client seed. The current pair is
// retired and revealed, and a fresh server seed is committed under the new
// client seed. Rotating the server seed here (rather than resetting the
// nonce in place) guarantees no (serverSeed, clientSeed, nonce) triple can
// recur even if a player flips between the same client seeds.
func (e *Engine) SetClientSeed(ctx context.Context, account uuid.UUID, seed string) (*SeedPair, error) {
	if seed == "" || len(seed) > maxClientSeedLen {
		return nil, ErrClientSeedInvalid
	}
	pair, err := e.activeOrNew(ctx, account)
	if err != nil {
		return nil, err
	}
	if err := e.store.RetireSeedPair(ctx, pair.ID, time.Now().UTC()); err != nil {
		return nil, err
	}
	next, err := e.newPair(ctx, account, seed)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.SeedRotations.Inc()
	}
	return redact(next), nil
}

// ResolveNext claims the pair's next nonce and derives the round's Draw.
// A pair can be retired between load and reservation by a concurrent
// rotation; reservation then fails and the resolve retries on the
// replacement pair, never drawing against a revealed seed.
func (e *Engine) ResolveNext(ctx context.Context, account uuid.UUID) (*Draw, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		pair, err := e.activeOrNew(ctx, account)
		if err != nil {
			return nil, err
		}
		nonce, rounds, err := e.store.ReserveNext(ctx, pair.ID)
		if errors.Is(err, ErrSeedPairNotFound) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		e.maybeRotate(ctx, account, rounds)
		return e.draw(pair, nonce), nil
	}
	return nil, fmt.Errorf("fairness: resolve raced rotation: %w", lastErr)
}

// Resolve claims an explicit nonce, enforcing strict increase within the
// pair. Reusing (or rewinding to) an already-claimed nonce fails with
// ErrNonceReuse.
func (e *Engine) Resolve(ctx context.Context, account uuid.UUID, nonce int64) (*Draw, error) {
	pair, err := e.activeOrNew(ctx, account)
	if err != nil {
		return nil, err
	}
	if err := e.store.ReserveNonce(ctx, pair.ID, nonce); err != nil {
		return nil, err
	}
	return e.draw(pair, nonce), nil
}

// Rotate retires the active pair, revealing its server seed, and commits a
// fresh pair carrying over the client seed. Returns the revealed pair and
// the new pair (redacted).
func (e *Engine) Rotate(ctx context.Context, account uuid.UUID) (revealed, fresh *SeedPair, err error) {
	pair, err := e.activeOrNew(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	if err := e.store.RetireSeedPair(ctx, pair.ID, now); err != nil {
		return nil, nil, err
	}
	pair.Active = false
	pair.RevealedAt = &now

	next, err := e.newPair(ctx, account, pair.ClientSeed)
	if err != nil {
		return nil, nil, fmt.Errorf("fairness: commit replacement pair: %w", err)
	}
	if e.metrics != nil {
		e.metrics.SeedRotations.Inc()
	}
	e.log.Info().
		Str("account", account.String()).
		Str("revealed_hash", pair.ServerSeedHash).
		Str("next_hash", next.ServerSeedHash).
		Msg("seed pair rotated")
	return pair, redact(next), nil
}

// PairInfo loads a pair for verification display. The server seed is
// included only after the pair has been revealed.
func (e *Engine) PairInfo(ctx context.Context, id uuid.UUID) (*SeedPair, error) {
	pair, err := e.store.GetSeedPair(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pair.Revealed() {
		return redact(pair), nil
	}
	return pair, nil
}

// DrawFromSeeds rebuilds the randomness of a revealed round so the
// resolution can be replayed outside the engine.
func DrawFromSeeds(serverSeed, clientSeed string, nonce int64) *Draw {
	return &Draw{
		ServerSeedHash: HashSeed(serverSeed),
		ClientSeed:     clientSeed,
		Nonce:          nonce,
		Outcome:        Outcome(serverSeed, clientSeed, nonce),
		stream:         NewStream(serverSeed, clientSeed, nonce),
	}
}

func (e *Engine) draw(pair *SeedPair, nonce int64) *Draw {
	return &Draw{
		SeedPairID:     pair.ID,
		ServerSeedHash: pair.ServerSeedHash,
		ClientSeed:     pair.ClientSeed,
		Nonce:          nonce,
		Outcome:        Outcome(pair.ServerSeed, pair.ClientSeed, nonce),
		stream:         NewStream(pair.ServerSeed, pair.ClientSeed, nonce),
	}
}

// maybeRotate rotates after the configured round count. The in-flight round
// still resolves under the old pair; rotation covers what follows.
func (e *Engine) maybeRotate(ctx context.Context, account uuid.UUID, rounds int64) {
	if e.rotateAfter <= 0 || rounds < e.rotateAfter {
		return
	}
	if _, _, err := e.Rotate(ctx, account); err != nil {
		e.log.Warn().Err(err).Str("account", account.String()).Msg("auto rotation failed")
	}
}

func (e *Engine) activeOrNew(ctx context.Context, account uuid.UUID) (*SeedPair, error) {
	pair, err := e.store.ActiveSeedPair(ctx, account)
	if err != nil {
		return nil, err
	}
	if pair != nil {
		return pair, nil
	}
	return e.newPair(ctx, account, DefaultClientSeed(account))
}

func (e *Engine) newPair(ctx context.Context, account uuid.UUID, clientSeed string) (*SeedPair, error) {
	seed, err := NewServerSeed()
	if err != nil {
		return nil, err
	}
	pair := &SeedPair{
		ID:             uuid.New(),
		Account:        account,
		ServerSeed:     seed,
		ServerSeedHash: HashSeed(seed),
		ClientSeed:     clientSeed,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.CreateSeedPair(ctx, pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// redact returns a copy safe to hand outside the engine.
func redact(p *SeedPair) *SeedPair {
	cp := *p
	if !cp.Revealed() {
		cp.ServerSeed = ""
	}
	return &cp
}
