package game

import (
	"errors"
	"testing"

	"QuantaCasino/internal/fairness"
)

const (
	testServerSeed = "5c1f08d0a2b3c4d5e6f708192a3b4c5d6e7f808192a3b4c5d6e7f8091a2b3c4d"
	testClientSeed = "resolver-test"
)

func drawWithOutcome(outcome uint64) *fairness.Draw {
	return &fairness.Draw{Outcome: outcome}
}

func streamDraw(nonce int64) *fairness.Draw {
	return fairness.DrawFromSeeds(testServerSeed, testClientSeed, nonce)
}

func TestDice_WinPaysEdgeAdjusted(t *testing.T) {
	r := diceResolver{}
	// Outcome 49 rolls 50, exactly on a target of 50: a win.
	res, err := r.Resolve(drawWithOutcome(49), 100_000, Params{Target: 50})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Win {
		t.Fatal("roll 50 against target 50 should win")
	}
	// 100 QC at 50% pays 198 QC after the 1% cut.
	if res.PayoutMQC != 198_000 {
		t.Errorf("payout: got %d, want 198000", res.PayoutMQC)
	}
	if res.Detail["roll"] != 50 {
		t.Errorf("detail roll: got %v, want 50", res.Detail["roll"])
	}
}

func TestDice_LossJustOverTarget(t *testing.T) {
	r := diceResolver{}
	res, err := r.Resolve(drawWithOutcome(50), 100_000, Params{Target: 50})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Win || res.PayoutMQC != 0 {
		t.Fatalf("roll 51 against target 50 should lose, got win=%v payout=%d", res.Win, res.PayoutMQC)
	}
}

func TestDice_ValidateParams(t *testing.T) {
	r := diceResolver{}
	for _, target := range []int{0, 1, 101} {
		if err := r.ValidateParams(Params{Target: target}); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("target %d: got %v, want ErrInvalidParams", target, err)
		}
	}
	for _, target := range []int{2, 50, 100} {
		if err := r.ValidateParams(Params{Target: target}); err != nil {
			t.Errorf("target %d: unexpected error %v", target, err)
		}
	}
}

func TestCoinflip(t *testing.T) {
	r := coinflipResolver{}
	res, err := r.Resolve(drawWithOutcome(2), 1000, Params{Pick: "heads"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Win || res.PayoutMQC != 1980 {
		t.Fatalf("even outcome on heads: got win=%v payout=%d, want win 1980", res.Win, res.PayoutMQC)
	}

	res, err = r.Resolve(drawWithOutcome(3), 1000, Params{Pick: "heads"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Win {
		t.Fatal("odd outcome on heads should lose")
	}

	if err := r.ValidateParams(Params{Pick: "edge"}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("bad pick: got %v, want ErrInvalidParams", err)
	}
}

func TestRoulette_ColorAndStraight(t *testing.T) {
	r := rouletteResolver{}

	// Pocket 32 is red and even.
	res, err := r.Resolve(drawWithOutcome(32), 1000, Params{Pick: "red"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Win || res.PayoutMQC != 1980 {
		t.Fatalf("red on pocket 32: got win=%v payout=%d", res.Win, res.PayoutMQC)
	}

	// Zero is green: every even-money bet loses.
	for _, pick := range []string{"red", "black", "even", "odd"} {
		res, err := r.Resolve(drawWithOutcome(0), 1000, Params{Pick: pick})
		if err != nil {
			t.Fatalf("Resolve %s: %v", pick, err)
		}
		if res.Win {
			t.Errorf("%s should lose on zero", pick)
		}
	}

	// Straight zero pays 36x gross.
	res, err = r.Resolve(drawWithOutcome(0), 1000, Params{Pick: "0"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Win || res.PayoutMQC != 35_640 {
		t.Fatalf("straight 0: got win=%v payout=%d, want win 35640", res.Win, res.PayoutMQC)
	}

	if err := r.ValidateParams(Params{Pick: "37"}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("pick 37: got %v, want ErrInvalidParams", err)
	}
}

func TestLimbo_WinBoundary(t *testing.T) {
	r := limboResolver{}
	const target = int64(200) // 2.00x

	// Largest winning outcome: outcome * 200 == floor bound.
	edge := (uint64(99) << fairness.OutcomeBits) / uint64(target)

	res, err := r.Resolve(drawWithOutcome(edge), 1000, Params{TargetX100: target})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Win {
		t.Fatal("boundary outcome should win")
	}
	if res.PayoutMQC != 1980 {
		t.Errorf("payout: got %d, want 1980", res.PayoutMQC)
	}

	res, err = r.Resolve(drawWithOutcome(edge+1), 1000, Params{TargetX100: target})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Win {
		t.Fatal("outcome past the boundary should lose")
	}
}

func TestLimbo_ValidateParams(t *testing.T) {
	r := limboResolver{}
	for _, bad := range []int64{0, 101, 10_001} {
		if err := r.ValidateParams(Params{TargetX100: bad}); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("target %d: got %v, want ErrInvalidParams", bad, err)
		}
	}
	if err := r.ValidateParams(Params{TargetX100: 102}); err != nil {
		t.Errorf("minimum target: %v", err)
	}
}

func TestHilo_SevenAlwaysLoses(t *testing.T) {
	r := hiloResolver{}
	// Outcome 6 draws card 7.
	for _, pick := range []string{"higher", "lower"} {
		res, err := r.Resolve(drawWithOutcome(6), 1000, Params{Pick: pick})
		if err != nil {
			t.Fatalf("Resolve %s: %v", pick, err)
		}
		if res.Win {
			t.Errorf("card 7 should lose for %s", pick)
		}
	}
}

func TestHilo_StrictSides(t *testing.T) {
	r := hiloResolver{}
	// Outcome 7 draws card 8.
	res, err := r.Resolve(drawWithOutcome(7), 1000, Params{Pick: "higher"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Win || res.PayoutMQC != 1980 {
		t.Fatalf("card 8 higher: got win=%v payout=%d", res.Win, res.PayoutMQC)
	}
	res, _ = r.Resolve(drawWithOutcome(7), 1000, Params{Pick: "lower"})
	if res.Win {
		t.Fatal("card 8 lower should lose")
	}
}

func TestWheel_EverySegmentPays(t *testing.T) {
	r := wheelResolver{}
	for seg := uint64(0); seg < uint64(len(wheelCenti)); seg++ {
		res, err := r.Resolve(drawWithOutcome(seg), 1000, Params{})
		if err != nil {
			t.Fatalf("Resolve segment %d: %v", seg, err)
		}
		want := payout(1000, wheelCenti[seg])
		if res.PayoutMQC != want {
			t.Errorf("segment %d: got %d, want %d", seg, res.PayoutMQC, want)
		}
	}
}

func TestKeno_Resolution(t *testing.T) {
	r := kenoResolver{}
	params := Params{Picks: []int{1, 2, 3, 4, 5, 6}}
	if err := r.ValidateParams(params); err != nil {
		t.Fatalf("ValidateParams: %v", err)
	}

	res, err := r.Resolve(streamDraw(1), 10_000, params)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	drawn, ok := res.Detail["drawn"].([]int)
	if !ok || len(drawn) != kenoDraws {
		t.Fatalf("drawn: got %v", res.Detail["drawn"])
	}
	seen := make(map[int]bool)
	for _, n := range drawn {
		if n < 1 || n > kenoBoard {
			t.Fatalf("drawn number %d out of board", n)
		}
		if seen[n] {
			t.Fatalf("drawn number %d repeated", n)
		}
		seen[n] = true
	}

	matches := res.Detail["matches"].(int)
	want := kenoCenti[matches]
	if want == 0 && (res.Win || res.PayoutMQC != 0) {
		t.Fatalf("%d matches should pay nothing", matches)
	}
	if want != 0 && res.PayoutMQC != payout(10_000, want) {
		t.Fatalf("%d matches: got %d, want %d", matches, res.PayoutMQC, payout(10_000, want))
	}

	// Same draw, same board.
	again, err := r.Resolve(streamDraw(1), 10_000, params)
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if again.PayoutMQC != res.PayoutMQC {
		t.Fatal("keno resolution is not deterministic")
	}
}

func TestKeno_ValidateParams(t *testing.T) {
	r := kenoResolver{}
	cases := []struct {
		name  string
		picks []int
	}{
		{"too few", []int{1, 2, 3}},
		{"duplicate", []int{1, 2, 3, 4, 5, 5}},
		{"out of board", []int{1, 2, 3, 4, 5, 41}},
		{"zero", []int{0, 2, 3, 4, 5, 6}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := r.ValidateParams(Params{Picks: tc.picks}); !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("got %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestMines_Resolution(t *testing.T) {
	r := minesResolver{}
	res, err := r.Resolve(streamDraw(2), 8000, Params{MinePicks: 3})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	mines := res.Detail["mines"].([]int)
	picks := res.Detail["picks"].([]int)
	if len(mines) != minesCount || len(picks) != 3 {
		t.Fatalf("layout: %d mines, %d picks", len(mines), len(picks))
	}
	mined := make(map[int]bool)
	for _, c := range mines {
		if c < 0 || c >= minesCells {
			t.Fatalf("mine cell %d out of board", c)
		}
		mined[c] = true
	}
	safe := 0
	for _, c := range picks {
		if !mined[c] {
			safe++
		}
	}
	if res.Win != (safe == 3) {
		t.Fatalf("win=%v with %d/3 safe picks", res.Win, safe)
	}
	if res.Win && res.PayoutMQC != minesPayout(8000, 3) {
		t.Fatalf("payout: got %d, want %d", res.PayoutMQC, minesPayout(8000, 3))
	}
}

func TestMinesPayout_SinglePick(t *testing.T) {
	// Surviving one pick has probability 20/25, so the fair gross is
	// 25/20 and the net is 99/80 of the stake.
	if got := minesPayout(8000, 1); got != 9900 {
		t.Fatalf("got %d, want 9900", got)
	}
}

func TestMines_ValidateParams(t *testing.T) {
	r := minesResolver{}
	for _, bad := range []int{0, 11} {
		if err := r.ValidateParams(Params{MinePicks: bad}); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("picks %d: got %v, want ErrInvalidParams", bad, err)
		}
	}
}

func TestSlots_PayoutMatchesReels(t *testing.T) {
	r := slotsResolver{}
	res, err := r.Resolve(streamDraw(3), 1000, Params{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	reels := res.Detail["reels"].([]string)
	if len(reels) != 3 {
		t.Fatalf("reels: %v", reels)
	}

	var centi int64
	switch {
	case reels[0] == reels[1] && reels[1] == reels[2]:
		for i, sym := range slotsSymbols {
			if sym == reels[0] {
				centi = slotsTripleCenti[i]
			}
		}
	case reels[0] == reels[1] || reels[1] == reels[2] || reels[0] == reels[2]:
		centi = slotsPairCenti
	}
	if res.PayoutMQC != payout(1000, centi) {
		t.Fatalf("reels %v: got %d, want %d", reels, res.PayoutMQC, payout(1000, centi))
	}
}

func TestBlackjack_HandsAreLegal(t *testing.T) {
	r := blackjackResolver{}
	for nonce := int64(0); nonce < 30; nonce++ {
		res, err := r.Resolve(streamDraw(nonce), 1000, Params{})
		if err != nil {
			t.Fatalf("nonce %d: %v", nonce, err)
		}
		player := res.Detail["player_score"].(int)
		dealer := res.Detail["dealer_score"].(int)
		for _, score := range []int{player, dealer} {
			if score < 17 || score > 21 {
				t.Fatalf("nonce %d: score %d outside 17..21", nonce, score)
			}
		}
		switch {
		case res.Push:
			if player != dealer || res.PayoutMQC != 1000 {
				t.Fatalf("nonce %d: push with %d vs %d pays %d", nonce, player, dealer, res.PayoutMQC)
			}
		case res.Win:
			if player <= dealer || res.PayoutMQC != 1980 {
				t.Fatalf("nonce %d: win with %d vs %d pays %d", nonce, player, dealer, res.PayoutMQC)
			}
		default:
			if player >= dealer || res.PayoutMQC != 0 {
				t.Fatalf("nonce %d: loss with %d vs %d pays %d", nonce, player, dealer, res.PayoutMQC)
			}
		}
	}
}

func TestPayout_HouseEdge(t *testing.T) {
	// 2.00x gross on 100 QC returns 198 QC.
	if got := payout(100_000, 200); got != 198_000 {
		t.Errorf("got %d, want 198000", got)
	}
	// Fractions floor toward the house.
	if got := payout(1, 150); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}
