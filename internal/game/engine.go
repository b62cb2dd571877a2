package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"QuantaCasino/internal/fairness"
	"QuantaCasino/internal/ledger"
	"QuantaCasino/internal/observability"
)

// RoundStore persists game rounds. Rounds are append-heavy and read back
// only for verification, history and the timeout refund sweep.
type RoundStore interface {
	CreateRound(ctx context.Context, r *Round) error
	GetRound(ctx context.Context, id uuid.UUID) (*Round, error)
	UpdateRound(ctx context.Context, r *Round) error
	// ListStaleRounds returns rounds still in StatePlaced or StateResolved
	// created before the cutoff, oldest first.
	ListStaleRounds(ctx context.Context, cutoff time.Time, limit int) ([]Round, error)
}

// Sink receives settled and refunded rounds. Implementations must not
// block; settlement does not wait for fan-out.
type Sink interface {
	RoundSettled(r *Round)
}

// Limits bound the accepted stake per bet, in mQC.
type Limits struct {
	MinStakeMQC int64
	MaxStakeMQC int64
}

// Engine runs the shared round pipeline for all house-banked games:
// validate, debit the stake into the house account, resolve against the
// fairness engine, credit the payout back. Settlement is at-most-once per
// round through the ledger's (kind, correlation) idempotency.
type Engine struct {
	ledger    *ledger.Ledger
	fair      *fairness.Engine
	rounds    RoundStore
	house     uuid.UUID
	limits    Limits
	resolvers map[Kind]Resolver
	sinks     []Sink
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewEngine(l *ledger.Ledger, fair *fairness.Engine, rounds RoundStore, house uuid.UUID, limits Limits, metrics *observability.Metrics) *Engine {
	e := &Engine{
		ledger:    l,
		fair:      fair,
		rounds:    rounds,
		house:     house,
		limits:    limits,
		resolvers: make(map[Kind]Resolver),
		log:       observability.NewLogger("game"),
		metrics:   metrics,
	}
	for _, r := range builtinResolvers() {
		e.resolvers[r.Kind()] = r
	}
	return e
}

// AddSink registers a settlement consumer. Not safe to call after the
// engine starts taking bets.
func (e *Engine) AddSink(s Sink) {
	e.sinks = append(e.sinks, s)
}

// PlaceBet runs one round start to finish. The returned Result reflects
// the settled round and the player's balance after settlement.
func (e *Engine) PlaceBet(ctx context.Context, account uuid.UUID, kind Kind, stakeMQC int64, params Params) (*Result, error) {
	resolver, ok := e.resolvers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGame, kind)
	}
	if stakeMQC < e.limits.MinStakeMQC || stakeMQC > e.limits.MaxStakeMQC {
		return nil, fmt.Errorf("%w: stake %d outside [%d, %d] mQC",
			ErrBetOutOfRange, stakeMQC, e.limits.MinStakeMQC, e.limits.MaxStakeMQC)
	}
	if err := resolver.ValidateParams(params); err != nil {
		return nil, err
	}

	round := &Round{
		ID:        uuid.New(),
		Account:   account,
		Game:      kind,
		StakeMQC:  stakeMQC,
		Params:    params,
		State:     StatePlaced,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.rounds.CreateRound(ctx, round); err != nil {
		return nil, fmt.Errorf("game: create round: %w", err)
	}

	// Stake moves player -> house before any outcome exists. From here on
	// the round either settles or is refunded by the janitor; the bet
	// correlation makes the debit safe against replays.
	if _, _, err := e.ledger.Transfer(ctx, account, e.house, stakeMQC, ledger.KindBet, round.ID.String()); err != nil {
		round.State = StateRefunded
		if uerr := e.rounds.UpdateRound(ctx, round); uerr != nil {
			e.log.Error().Err(uerr).Str("round", round.ID.String()).Msg("void unfunded round")
		}
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.StakedMQC.Add(float64(stakeMQC))
	}

	draw, err := e.fair.ResolveNext(ctx, account)
	if err != nil {
		// Stake stays debited; the janitor refunds the round when it
		// expires unresolved. Never resolve outside the committed pair.
		return nil, fmt.Errorf("game: resolve round %s: %w", round.ID, err)
	}

	resolution, err := resolver.Resolve(draw, stakeMQC, params)
	if err != nil {
		return nil, fmt.Errorf("game: resolve %s round %s: %w", kind, round.ID, err)
	}

	round.State = StateResolved
	round.SeedPairID = draw.SeedPairID
	round.SeedHash = draw.ServerSeedHash
	round.ClientSeed = draw.ClientSeed
	round.Nonce = draw.Nonce
	round.Outcome = draw.Outcome
	round.Win = resolution.Win
	round.Push = resolution.Push
	round.PayoutMQC = resolution.PayoutMQC
	round.Detail = resolution.Detail
	if err := e.rounds.UpdateRound(ctx, round); err != nil {
		return nil, fmt.Errorf("game: record resolution %s: %w", round.ID, err)
	}

	// A failed settle leaves the round in StateResolved; the janitor
	// retries it once the round goes stale.
	if err := e.settle(ctx, round); err != nil {
		return nil, err
	}

	balance, err := e.ledger.Balance(ctx, account)
	if err != nil {
		return nil, err
	}
	return e.result(round, balance), nil
}

// settle credits the payout and marks the round terminal. The payout uses
// the round id as correlation, so a retried settle applies exactly once.
func (e *Engine) settle(ctx context.Context, round *Round) error {
	if round.PayoutMQC > 0 {
		_, _, err := e.ledger.Transfer(ctx, e.house, round.Account, round.PayoutMQC, ledger.KindPayout, round.ID.String())
		if err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
			return fmt.Errorf("game: settle round %s: %w", round.ID, err)
		}
		if e.metrics != nil {
			e.metrics.PaidOutMQC.Add(float64(round.PayoutMQC))
		}
	}

	now := time.Now().UTC()
	round.State = StateSettled
	round.SettledAt = &now
	if err := e.rounds.UpdateRound(ctx, round); err != nil {
		return fmt.Errorf("game: mark settled %s: %w", round.ID, err)
	}

	if e.metrics != nil {
		e.metrics.RoundsTotal.WithLabelValues(string(round.Game), resultLabel(round)).Inc()
	}
	e.log.Info().
		Str("round", round.ID.String()).
		Str("game", string(round.Game)).
		Str("account", round.Account.String()).
		Int64("stake", round.StakeMQC).
		Int64("payout", round.PayoutMQC).
		Bool("win", round.Win).
		Msg("round settled")

	for _, s := range e.sinks {
		s.RoundSettled(round)
	}
	return nil
}

// VerifyRound returns the fairness material for a settled round. The
// server seed appears only once its pair has been rotated and revealed.
func (e *Engine) VerifyRound(ctx context.Context, id uuid.UUID) (*Round, *fairness.SeedPair, error) {
	round, err := e.rounds.GetRound(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if round.State == StatePlaced || round.State == StateRefunded {
		return round, nil, nil
	}
	pair, err := e.fair.PairInfo(ctx, round.SeedPairID)
	if err != nil {
		return nil, nil, err
	}
	return round, pair, nil
}

// RunJanitor completes rounds stuck past the timeout. StatePlaced rounds
// are refunded: the process died between stake debit and resolution, so
// no outcome exists. StateResolved rounds have an outcome on record and
// get their settlement retried, which covers a house account that could
// not cover the payout at bet time. Both paths reuse the round id as
// payout correlation, so a crashed-but-settled round can never be paid
// twice.
func (e *Engine) RunJanitor(ctx context.Context, timeout, sweep time.Duration) error {
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.sweepStale(ctx, timeout)
		}
	}
}

func (e *Engine) sweepStale(ctx context.Context, timeout time.Duration) {
	stale, err := e.rounds.ListStaleRounds(ctx, time.Now().UTC().Add(-timeout), 100)
	if err != nil {
		e.log.Error().Err(err).Msg("list stale rounds")
		return
	}
	for i := range stale {
		round := &stale[i]
		if round.State == StateResolved {
			if err := e.settle(ctx, round); err != nil {
				e.log.Error().Err(err).Str("round", round.ID.String()).Msg("settle stale round")
			}
			continue
		}
		if err := e.refund(ctx, round); err != nil {
			e.log.Error().Err(err).Str("round", round.ID.String()).Msg("refund stale round")
		}
	}
}

func (e *Engine) refund(ctx context.Context, round *Round) error {
	_, _, err := e.ledger.Transfer(ctx, e.house, round.Account, round.StakeMQC, ledger.KindPayout, round.ID.String())
	if err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
		return err
	}
	now := time.Now().UTC()
	round.State = StateRefunded
	round.PayoutMQC = round.StakeMQC
	round.SettledAt = &now
	if err := e.rounds.UpdateRound(ctx, round); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RoundsRefunds.Inc()
	}
	e.log.Warn().Str("round", round.ID.String()).Msg("stale round refunded")
	return nil
}

func (e *Engine) result(round *Round, balance int64) *Result {
	return &Result{
		RoundID:      round.ID,
		Game:         round.Game,
		StakeMQC:     round.StakeMQC,
		PayoutMQC:    round.PayoutMQC,
		Win:          round.Win,
		Push:         round.Push,
		Detail:       round.Detail,
		BalanceAfter: balance,
		SeedHash:     round.SeedHash,
		ClientSeed:   round.ClientSeed,
		Nonce:        round.Nonce,
		Outcome:      round.Outcome,
	}
}

func resultLabel(round *Round) string {
	switch {
	case round.Push:
		return "push"
	case round.Win:
		return "win"
	default:
		return "loss"
	}
}
