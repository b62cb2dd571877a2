package fairness_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"QuantaCasino/internal/fairness"
	"QuantaCasino/internal/store"
)

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parse uuid %q: %v", s, err)
	}
	return id
}

func newEngine(t *testing.T) *fairness.Engine {
	t.Helper()
	return fairness.NewEngine(store.NewMemoryStore(), 0, nil)
}

func TestCommit_RedactsServerSeed(t *testing.T) {
	eng := newEngine(t)
	account := uuid.New()

	pair, err := eng.Commit(context.Background(), account)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if pair.ServerSeed != "" {
		t.Fatal("Commit leaked the server seed before reveal")
	}
	if len(pair.ServerSeedHash) != 64 {
		t.Fatalf("commitment hash: got %d chars, want 64", len(pair.ServerSeedHash))
	}
	if !pair.Active {
		t.Fatal("committed pair should be active")
	}
}

func TestCommit_Idempotent(t *testing.T) {
	eng := newEngine(t)
	account := uuid.New()
	ctx := context.Background()

	first, err := eng.Commit(ctx, account)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	second, err := eng.Commit(ctx, account)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if first.ID != second.ID || first.ServerSeedHash != second.ServerSeedHash {
		t.Fatal("repeat Commit replaced the active pair")
	}
}

func TestResolveNext_NonceIncreases(t *testing.T) {
	eng := newEngine(t)
	account := uuid.New()
	ctx := context.Background()

	d1, err := eng.ResolveNext(ctx, account)
	if err != nil {
		t.Fatalf("ResolveNext: %v", err)
	}
	d2, err := eng.ResolveNext(ctx, account)
	if err != nil {
		t.Fatalf("ResolveNext: %v", err)
	}
	if d2.Nonce != d1.Nonce+1 {
		t.Fatalf("nonces: got %d then %d, want strict +1", d1.Nonce, d2.Nonce)
	}
	if d1.Outcome == d2.Outcome {
		t.Fatal("consecutive draws produced the same outcome")
	}
}

func TestResolve_NonceReuseRejected(t *testing.T) {
	eng := newEngine(t)
	account := uuid.New()
	ctx := context.Background()

	if _, err := eng.Resolve(ctx, account, 5); err != nil {
		t.Fatalf("Resolve(5): %v", err)
	}
	if _, err := eng.Resolve(ctx, account, 5); !errors.Is(err, fairness.ErrNonceReuse) {
		t.Fatalf("replayed nonce: got %v, want ErrNonceReuse", err)
	}
	if _, err := eng.Resolve(ctx, account, 3); !errors.Is(err, fairness.ErrNonceReuse) {
		t.Fatalf("rewound nonce: got %v, want ErrNonceReuse", err)
	}
	if _, err := eng.Resolve(ctx, account, 6); err != nil {
		t.Fatalf("Resolve(6): %v", err)
	}
}

func TestRotate_RevealsOldSeed(t *testing.T) {
	eng := newEngine(t)
	account := uuid.New()
	ctx := context.Background()

	committed, err := eng.Commit(ctx, account)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	revealed, fresh, err := eng.Rotate(ctx, account)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if revealed.ServerSeed == "" {
		t.Fatal("rotation did not reveal the outgoing server seed")
	}
	if fairness.HashSeed(revealed.ServerSeed) != committed.ServerSeedHash {
		t.Fatal("revealed seed does not hash to the prior commitment")
	}
	if fresh.ServerSeed != "" {
		t.Fatal("fresh pair leaked its server seed")
	}
	if fresh.ServerSeedHash == committed.ServerSeedHash {
		t.Fatal("rotation reused the server seed")
	}
	if fresh.ClientSeed != committed.ClientSeed {
		t.Fatal("rotation should carry the client seed over")
	}
}

func TestSetClientSeed_RotatesServerSeed(t *testing.T) {
	eng := newEngine(t)
	account := uuid.New()
	ctx := context.Background()

	before, err := eng.Commit(ctx, account)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	after, err := eng.SetClientSeed(ctx, account, "my-lucky-charm")
	if err != nil {
		t.Fatalf("SetClientSeed: %v", err)
	}
	if after.ClientSeed != "my-lucky-charm" {
		t.Fatalf("client seed: got %q", after.ClientSeed)
	}
	if after.ServerSeedHash == before.ServerSeedHash {
		t.Fatal("changing the client seed must commit a fresh server seed")
	}
}

func TestSetClientSeed_RejectsEmpty(t *testing.T) {
	eng := newEngine(t)
	if _, err := eng.SetClientSeed(context.Background(), uuid.New(), ""); !errors.Is(err, fairness.ErrClientSeedInvalid) {
		t.Fatalf("empty client seed: got %v, want ErrClientSeedInvalid", err)
	}
}

func TestPairInfo_RedactsUntilRevealed(t *testing.T) {
	eng := newEngine(t)
	account := uuid.New()
	ctx := context.Background()

	committed, err := eng.Commit(ctx, account)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	info, err := eng.PairInfo(ctx, committed.ID)
	if err != nil {
		t.Fatalf("PairInfo: %v", err)
	}
	if info.ServerSeed != "" {
		t.Fatal("PairInfo leaked the server seed before reveal")
	}

	revealed, _, err := eng.Rotate(ctx, account)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	info, err = eng.PairInfo(ctx, revealed.ID)
	if err != nil {
		t.Fatalf("PairInfo after reveal: %v", err)
	}
	if info.ServerSeed == "" {
		t.Fatal("PairInfo must expose the server seed after reveal")
	}
}

func TestAutoRotation_AfterConfiguredRounds(t *testing.T) {
	eng := fairness.NewEngine(store.NewMemoryStore(), 3, nil)
	account := uuid.New()
	ctx := context.Background()

	first, err := eng.Commit(ctx, account)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := eng.ResolveNext(ctx, account); err != nil {
			t.Fatalf("ResolveNext %d: %v", i, err)
		}
	}
	after, err := eng.Commit(ctx, account)
	if err != nil {
		t.Fatalf("Commit after rotation: %v", err)
	}
	if after.ID == first.ID {
		t.Fatal("pair was not rotated after the configured round count")
	}
}
