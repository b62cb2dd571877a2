package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"QuantaCasino/internal/ledger"
	"QuantaCasino/internal/observability"
)

// MatchState is the tic-tac-toe match lifecycle position.
type MatchState uint8

const (
	MatchLive MatchState = iota
	MatchWon
	MatchDrawn
	// MatchAbandoned: move timeout expired; settled as a draw.
	MatchAbandoned
)

func (s MatchState) String() string {
	switch s {
	case MatchLive:
		return "live"
	case MatchWon:
		return "won"
	case MatchDrawn:
		return "drawn"
	case MatchAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Match is one player-versus-player tic-tac-toe wager. The challenger
// plays X and moves first. Both stakes sit in the house account while the
// match is live; the winner collects the pot, a draw refunds both sides.
type Match struct {
	ID         uuid.UUID  `json:"id"`
	Challenger uuid.UUID  `json:"challenger"`
	Opponent   uuid.UUID  `json:"opponent"`
	StakeMQC   int64      `json:"stake_mqc"`
	Board      [9]byte    `json:"-"`
	Next       uuid.UUID  `json:"next"`
	State      MatchState `json:"-"`
	Winner     uuid.UUID  `json:"winner,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Cells returns the board as a display slice: "", "x" or "o" per cell.
func (m *Match) Cells() []string {
	out := make([]string, 9)
	for i, c := range m.Board {
		if c != 0 {
			out[i] = string(c)
		}
	}
	return out
}

var ttWinLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Matches is the in-memory tic-tac-toe session table. Matches are short
// lived and not part of the durable round history; all money movement
// still goes through the ledger, so a crash mid-match loses the board
// but never the stakes, which stay traceable under the match correlation.
type Matches struct {
	mu      sync.Mutex
	live    map[uuid.UUID]*Match
	ledger  *ledger.Ledger
	house   uuid.UUID
	limits  Limits
	timeout time.Duration
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewMatches(l *ledger.Ledger, house uuid.UUID, limits Limits, timeout time.Duration, metrics *observability.Metrics) *Matches {
	return &Matches{
		live:    make(map[uuid.UUID]*Match),
		ledger:  l,
		house:   house,
		limits:  limits,
		timeout: timeout,
		log:     observability.NewLogger("tictactoe"),
		metrics: metrics,
	}
}

// stakeCorrelation is the per-player bet correlation within a match.
func stakeCorrelation(match, player uuid.UUID) string {
	return match.String() + ":" + player.String()
}

// Create debits both players' stakes and opens the board. Either debit
// failing insufficient leaves the other side untouched: the challenger is
// debited first and refunded if the opponent cannot cover.
func (m *Matches) Create(ctx context.Context, challenger, opponent uuid.UUID, stakeMQC int64) (*Match, error) {
	if challenger == opponent {
		return nil, fmt.Errorf("%w: cannot challenge yourself", ErrInvalidParams)
	}
	if stakeMQC < m.limits.MinStakeMQC || stakeMQC > m.limits.MaxStakeMQC {
		return nil, fmt.Errorf("%w: stake %d outside [%d, %d] mQC",
			ErrBetOutOfRange, stakeMQC, m.limits.MinStakeMQC, m.limits.MaxStakeMQC)
	}

	match := &Match{
		ID:         uuid.New(),
		Challenger: challenger,
		Opponent:   opponent,
		StakeMQC:   stakeMQC,
		Next:       challenger,
		State:      MatchLive,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	if _, _, err := m.ledger.Transfer(ctx, challenger, m.house, stakeMQC, ledger.KindBet, stakeCorrelation(match.ID, challenger)); err != nil {
		return nil, err
	}
	if _, _, err := m.ledger.Transfer(ctx, opponent, m.house, stakeMQC, ledger.KindBet, stakeCorrelation(match.ID, opponent)); err != nil {
		if rerr := m.refundPlayer(ctx, match, challenger); rerr != nil {
			m.log.Error().Err(rerr).Str("match", match.ID.String()).Msg("refund challenger of unfunded match")
		}
		return nil, err
	}

	m.mu.Lock()
	m.live[match.ID] = match
	m.mu.Unlock()

	m.log.Info().
		Str("match", match.ID.String()).
		Str("challenger", challenger.String()).
		Str("opponent", opponent.String()).
		Int64("stake", stakeMQC).
		Msg("match opened")
	return match, nil
}

// Get returns a live match. Finished matches leave the table; their
// settlement survives in the ledger under the match correlation.
func (m *Matches) Get(id uuid.UUID) (*Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.live[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	cp := *match
	return &cp, nil
}

// Move places the player's mark on cell 0..8 and settles the match when
// the move finishes it.
func (m *Matches) Move(ctx context.Context, id, player uuid.UUID, cell int) (*Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	match, ok := m.live[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	if match.State != MatchLive {
		return nil, ErrMatchOver
	}
	if player != match.Next {
		return nil, ErrNotYourTurn
	}
	if cell < 0 || cell > 8 || match.Board[cell] != 0 {
		return nil, ErrBadMove
	}

	mark := byte('x')
	next := match.Opponent
	if player == match.Opponent {
		mark = 'o'
		next = match.Challenger
	}
	match.Board[cell] = mark
	match.Next = next
	match.UpdatedAt = time.Now().UTC()

	switch {
	case match.wonBy(mark):
		match.State = MatchWon
		match.Winner = player
		if err := m.payWinner(ctx, match); err != nil {
			return nil, err
		}
	case match.full():
		match.State = MatchDrawn
		if err := m.refundBoth(ctx, match); err != nil {
			return nil, err
		}
	}

	if match.State != MatchLive {
		delete(m.live, id)
		if m.metrics != nil {
			m.metrics.RoundsTotal.WithLabelValues(string(TicTacToe), match.State.String()).Inc()
		}
	}
	cp := *match
	return &cp, nil
}

// RunJanitor settles matches whose last move is older than the timeout as
// abandoned: both stakes go back, same as a draw. Matches already decided
// but still in the table had their settlement fail; those get the
// settlement retried instead of a refund.
func (m *Matches) RunJanitor(ctx context.Context, sweep time.Duration) error {
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweepExpired(ctx)
		}
	}
}

func (m *Matches) sweepExpired(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.timeout)

	m.mu.Lock()
	var due []*Match
	for _, match := range m.live {
		if match.State == MatchLive && match.UpdatedAt.Before(cutoff) {
			match.State = MatchAbandoned
		}
		if match.State != MatchLive {
			due = append(due, match)
		}
	}
	m.mu.Unlock()

	for _, match := range due {
		var err error
		if match.State == MatchWon {
			// The board is decided; the winner gets the pot, never a
			// refund. Both transfers are idempotent, so a retry after a
			// half-applied settlement is safe.
			err = m.payWinner(ctx, match)
		} else {
			err = m.refundBoth(ctx, match)
		}
		if err != nil {
			m.log.Error().Err(err).
				Str("match", match.ID.String()).
				Str("state", match.State.String()).
				Msg("settle expired match")
			continue
		}

		// Leave the table only once the money moved.
		m.mu.Lock()
		delete(m.live, match.ID)
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RoundsTotal.WithLabelValues(string(TicTacToe), match.State.String()).Inc()
		}
		m.log.Warn().
			Str("match", match.ID.String()).
			Str("state", match.State.String()).
			Msg("expired match settled")
	}
}

// payWinner moves the full pot to the winner. Player-versus-player pots
// carry no house cut.
func (m *Matches) payWinner(ctx context.Context, match *Match) error {
	pot := 2 * match.StakeMQC
	_, _, err := m.ledger.Transfer(ctx, m.house, match.Winner, pot, ledger.KindPayout, match.ID.String())
	if err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
		return fmt.Errorf("game: pay match %s pot: %w", match.ID, err)
	}
	return nil
}

// refundBoth returns each player's stake, idempotent per player.
func (m *Matches) refundBoth(ctx context.Context, match *Match) error {
	if err := m.refundPlayer(ctx, match, match.Challenger); err != nil {
		return err
	}
	return m.refundPlayer(ctx, match, match.Opponent)
}

func (m *Matches) refundPlayer(ctx context.Context, match *Match, player uuid.UUID) error {
	_, _, err := m.ledger.Transfer(ctx, m.house, player, match.StakeMQC, ledger.KindPayout, stakeCorrelation(match.ID, player))
	if err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
		return fmt.Errorf("game: refund match %s player %s: %w", match.ID, player, err)
	}
	return nil
}

func (m *Match) wonBy(mark byte) bool {
	for _, line := range ttWinLines {
		if m.Board[line[0]] == mark && m.Board[line[1]] == mark && m.Board[line[2]] == mark {
			return true
		}
	}
	return false
}

func (m *Match) full() bool {
	for _, c := range m.Board {
		if c == 0 {
			return false
		}
	}
	return true
}
