package game_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"QuantaCasino/internal/fairness"
	"QuantaCasino/internal/game"
	"QuantaCasino/internal/ledger"
	"QuantaCasino/internal/store"
)

type fixture struct {
	store  *store.MemoryStore
	ledger *ledger.Ledger
	engine *game.Engine
	house  uuid.UUID
	player uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	book := ledger.New(st, nil)
	fair := fairness.NewEngine(st, 0, nil)
	ctx := context.Background()

	house := uuid.New()
	player := uuid.New()
	if _, err := book.EnsureAccount(ctx, house, ledger.AccountHouse); err != nil {
		t.Fatalf("ensure house: %v", err)
	}
	if _, err := book.EnsureAccount(ctx, player, ledger.AccountUser); err != nil {
		t.Fatalf("ensure player: %v", err)
	}
	// Bankroll covers any payout the tests can produce.
	if _, err := book.Credit(ctx, house, 1_000_000_000, ledger.KindAirdrop, "bankroll"); err != nil {
		t.Fatalf("fund house: %v", err)
	}
	if _, err := book.Credit(ctx, player, 1_000_000, ledger.KindAirdrop, "stake-money"); err != nil {
		t.Fatalf("fund player: %v", err)
	}

	limits := game.Limits{MinStakeMQC: 1, MaxStakeMQC: 500_000}
	return &fixture{
		store:  st,
		ledger: book,
		engine: game.NewEngine(book, fair, st, house, limits, nil),
		house:  house,
		player: player,
	}
}

func TestPlaceBet_SettlesAndBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.engine.PlaceBet(ctx, f.player, game.Dice, 100_000, game.Params{Target: 50})
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	// 100 QC at 50% either pays 198 QC or nothing.
	want := int64(900_000)
	if result.Win {
		if result.PayoutMQC != 198_000 {
			t.Errorf("win payout: got %d, want 198000", result.PayoutMQC)
		}
		want = 1_098_000
	} else if result.PayoutMQC != 0 {
		t.Errorf("loss payout: got %d, want 0", result.PayoutMQC)
	}
	if result.BalanceAfter != want {
		t.Errorf("balance after: got %d, want %d", result.BalanceAfter, want)
	}

	balance, _ := f.ledger.Balance(ctx, f.player)
	if balance != result.BalanceAfter {
		t.Errorf("reported balance %d diverges from ledger %d", result.BalanceAfter, balance)
	}

	round, err := f.store.GetRound(ctx, result.RoundID)
	if err != nil {
		t.Fatalf("GetRound: %v", err)
	}
	if round.State != game.StateSettled {
		t.Errorf("round state: got %s, want settled", round.State)
	}
	if result.SeedHash == "" || result.ClientSeed == "" {
		t.Error("result is missing fairness material")
	}
}

func TestPlaceBet_MoneyConserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	houseBefore, _ := f.ledger.Balance(ctx, f.house)
	playerBefore, _ := f.ledger.Balance(ctx, f.player)

	for i := 0; i < 20; i++ {
		if _, err := f.engine.PlaceBet(ctx, f.player, game.Coinflip, 1_000, game.Params{Pick: "heads"}); err != nil {
			t.Fatalf("PlaceBet %d: %v", i, err)
		}
	}

	houseAfter, _ := f.ledger.Balance(ctx, f.house)
	playerAfter, _ := f.ledger.Balance(ctx, f.player)
	if houseBefore+playerBefore != houseAfter+playerAfter {
		t.Fatalf("money not conserved: %d -> %d",
			houseBefore+playerBefore, houseAfter+playerAfter)
	}
}

func TestPlaceBet_NoncesNeverRepeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seen := make(map[int64]bool)
	for i := 0; i < 10; i++ {
		result, err := f.engine.PlaceBet(ctx, f.player, game.Dice, 1_000, game.Params{Target: 50})
		if err != nil {
			t.Fatalf("PlaceBet %d: %v", i, err)
		}
		if seen[result.Nonce] {
			t.Fatalf("nonce %d reused", result.Nonce)
		}
		seen[result.Nonce] = true
	}
}

func TestPlaceBet_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		game  game.Kind
		stake int64
		p     game.Params
		want  error
	}{
		{"unknown game", "baccarat", 1000, game.Params{}, game.ErrUnknownGame},
		{"stake below min", game.Dice, 0, game.Params{Target: 50}, game.ErrBetOutOfRange},
		{"stake above max", game.Dice, 500_001, game.Params{Target: 50}, game.ErrBetOutOfRange},
		{"bad params", game.Dice, 1000, game.Params{Target: 1}, game.ErrInvalidParams},
		{"tictactoe via bet", game.TicTacToe, 1000, game.Params{}, game.ErrUnknownGame},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.engine.PlaceBet(ctx, f.player, tc.game, tc.stake, tc.p); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}

	balance, _ := f.ledger.Balance(ctx, f.player)
	if balance != 1_000_000 {
		t.Errorf("rejected bets moved money: %d", balance)
	}
}

func TestPlaceBet_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceBet(ctx, f.player, game.Dice, 500_000, game.Params{Target: 50})
	if err != nil {
		t.Fatalf("first bet: %v", err)
	}
	_, err = f.engine.PlaceBet(ctx, f.player, game.Dice, 500_000, game.Params{Target: 50})
	for err == nil {
		// The first bet may have won; spend it down until the stake no
		// longer fits.
		_, err = f.engine.PlaceBet(ctx, f.player, game.Dice, 500_000, game.Params{Target: 50})
	}
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestVerifyRound_RedactsUntilRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fair := fairness.NewEngine(f.store, 0, nil)

	result, err := f.engine.PlaceBet(ctx, f.player, game.Dice, 1_000, game.Params{Target: 50})
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	round, pair, err := f.engine.VerifyRound(ctx, result.RoundID)
	if err != nil {
		t.Fatalf("VerifyRound: %v", err)
	}
	if round.SeedHash != result.SeedHash {
		t.Error("verify returned a different commitment")
	}
	if pair.ServerSeed != "" {
		t.Fatal("server seed leaked before rotation")
	}

	if _, _, err := fair.Rotate(ctx, f.player); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	_, pair, err = f.engine.VerifyRound(ctx, result.RoundID)
	if err != nil {
		t.Fatalf("VerifyRound after rotation: %v", err)
	}
	if pair.ServerSeed == "" {
		t.Fatal("server seed missing after rotation")
	}
	outcome, hash := fairness.Verify(pair.ServerSeed, round.ClientSeed, round.Nonce)
	if outcome != round.Outcome || hash != round.SeedHash {
		t.Fatal("revealed seed does not reproduce the round")
	}
}

func TestVerifyRound_Unknown(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.engine.VerifyRound(context.Background(), uuid.New()); !errors.Is(err, game.ErrRoundNotFound) {
		t.Fatalf("got %v, want ErrRoundNotFound", err)
	}
}

// flakyRoundStore fails the settlement write a fixed number of times and
// then behaves normally.
type flakyRoundStore struct {
	*store.MemoryStore
	failures int
}

func (s *flakyRoundStore) UpdateRound(ctx context.Context, r *game.Round) error {
	if r.State == game.StateSettled && s.failures > 0 {
		s.failures--
		return errors.New("write timeout")
	}
	return s.MemoryStore.UpdateRound(ctx, r)
}

func TestJanitor_SettlesStrandedResolvedRound(t *testing.T) {
	st := store.NewMemoryStore()
	flaky := &flakyRoundStore{MemoryStore: st, failures: 1}
	book := ledger.New(st, nil)
	fair := fairness.NewEngine(st, 0, nil)
	ctx := context.Background()

	house := uuid.New()
	player := uuid.New()
	if _, err := book.EnsureAccount(ctx, house, ledger.AccountHouse); err != nil {
		t.Fatalf("ensure house: %v", err)
	}
	if _, err := book.EnsureAccount(ctx, player, ledger.AccountUser); err != nil {
		t.Fatalf("ensure player: %v", err)
	}
	if _, err := book.Credit(ctx, house, 1_000_000_000, ledger.KindAirdrop, "bankroll"); err != nil {
		t.Fatalf("fund house: %v", err)
	}
	if _, err := book.Credit(ctx, player, 1_000_000, ledger.KindAirdrop, "stake-money"); err != nil {
		t.Fatalf("fund player: %v", err)
	}
	limits := game.Limits{MinStakeMQC: 1, MaxStakeMQC: 500_000}
	engine := game.NewEngine(book, fair, flaky, house, limits, nil)

	// The stake is debited and the outcome recorded, then the settlement
	// write dies. The bet fails for the caller but the round must not stay
	// resolved forever.
	if _, err := engine.PlaceBet(ctx, player, game.Dice, 100_000, game.Params{Target: 50}); err == nil {
		t.Fatal("expected the settlement write to fail")
	}

	stale, err := st.ListStaleRounds(ctx, time.Now().UTC().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ListStaleRounds: %v", err)
	}
	if len(stale) != 1 || stale[0].State != game.StateResolved {
		t.Fatalf("stranded round not listed: %+v", stale)
	}
	roundID := stale[0].ID

	janitorCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	engine.RunJanitor(janitorCtx, time.Millisecond, 10*time.Millisecond)

	round, err := st.GetRound(ctx, roundID)
	if err != nil {
		t.Fatalf("GetRound: %v", err)
	}
	if round.State != game.StateSettled {
		t.Fatalf("round state: got %s, want settled", round.State)
	}

	playerBalance, _ := book.Balance(ctx, player)
	if want := 1_000_000 - 100_000 + round.PayoutMQC; playerBalance != want {
		t.Fatalf("player balance: got %d, want %d", playerBalance, want)
	}
	houseBalance, _ := book.Balance(ctx, house)
	if playerBalance+houseBalance != 1_001_000_000 {
		t.Fatalf("money not conserved: %d", playerBalance+houseBalance)
	}
}

func TestJanitor_RefundsStaleRoundOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Simulate a crash after the stake debit: the round is placed and
	// funded but never resolved.
	round := &game.Round{
		ID:        uuid.New(),
		Account:   f.player,
		Game:      game.Dice,
		StakeMQC:  50_000,
		Params:    game.Params{Target: 50},
		State:     game.StatePlaced,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := f.store.CreateRound(ctx, round); err != nil {
		t.Fatalf("CreateRound: %v", err)
	}
	if _, _, err := f.ledger.Transfer(ctx, f.player, f.house, round.StakeMQC, ledger.KindBet, round.ID.String()); err != nil {
		t.Fatalf("stake debit: %v", err)
	}

	janitorCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	// Several sweeps run inside the window; the refund must still apply
	// exactly once.
	f.engine.RunJanitor(janitorCtx, time.Minute, 10*time.Millisecond)

	got, err := f.store.GetRound(ctx, round.ID)
	if err != nil {
		t.Fatalf("GetRound: %v", err)
	}
	if got.State != game.StateRefunded {
		t.Fatalf("round state: got %s, want refunded", got.State)
	}
	balance, _ := f.ledger.Balance(ctx, f.player)
	if balance != 1_000_000 {
		t.Fatalf("player balance after refund: got %d, want 1000000", balance)
	}
}
