package withdraw_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"QuantaCasino/internal/chain"
	"QuantaCasino/internal/ledger"
	"QuantaCasino/internal/store"
	"QuantaCasino/internal/wallet"
	"QuantaCasino/internal/withdraw"
)

// fakeChain scripts the RPC surface. Zero values behave like a healthy
// cluster with a rich house wallet.
type fakeChain struct {
	mu            sync.Mutex
	balance       uint64
	sendErr       error
	blockhashErr  error
	status        *chain.SignatureStatus
	statusErr     error
	sendCount     int
}

func (f *fakeChain) Balance(context.Context, string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance == 0 {
		return 10_000_000_000, nil
	}
	return f.balance, nil
}

func (f *fakeChain) LatestBlockhash(context.Context) (*chain.Blockhash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blockhashErr != nil {
		return nil, f.blockhashErr
	}
	return &chain.Blockhash{Blockhash: "FwRYtTPRk5N4wUeP87rTw9kQVSwigB6kbikGzzeCMrW5", LastValidBlockHeight: 1000}, nil
}

func (f *fakeChain) FeeForMessage(context.Context, string) (uint64, error) {
	return 5_000, nil
}

func (f *fakeChain) SendTransaction(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCount++
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "5VERYfakeSIGNATUREforTESTS", nil
}

func (f *fakeChain) SignatureStatuses(_ context.Context, sigs []string) ([]*chain.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	out := make([]*chain.SignatureStatus, len(sigs))
	for i := range out {
		out[i] = f.status
	}
	return out, nil
}

func (f *fakeChain) set(mutate func(*fakeChain)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(f)
}

type procFixture struct {
	store   *store.MemoryStore
	ledger  *ledger.Ledger
	chain   *fakeChain
	proc    *withdraw.Processor
	keys    *wallet.Keypair
	account uuid.UUID
	dest    string
}

func newProcFixture(t *testing.T) *procFixture {
	t.Helper()
	st := store.NewMemoryStore()
	book := ledger.New(st, nil)
	ctx := context.Background()

	_, housePriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate house key: %v", err)
	}
	keys, err := wallet.Load(base58.Encode(housePriv))
	if err != nil {
		t.Fatalf("load house key: %v", err)
	}

	destPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate destination: %v", err)
	}

	account := uuid.New()
	if _, err := book.EnsureAccount(ctx, account, ledger.AccountUser); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if _, err := book.Credit(ctx, account, 1_000_000, ledger.KindDeposit, "seed-money"); err != nil {
		t.Fatalf("fund account: %v", err)
	}

	fc := &fakeChain{}
	proc := withdraw.NewProcessor(book, st, fc, keys, withdraw.Config{
		MinAmountMQC:   1_000,
		SubmitPoll:     5 * time.Millisecond,
		ConfirmPoll:    5 * time.Millisecond,
		ConfirmTimeout: time.Minute,
	}, nil)

	return &procFixture{
		store:   st,
		ledger:  book,
		chain:   fc,
		proc:    proc,
		keys:    keys,
		account: account,
		dest:    base58.Encode(destPub),
	}
}

func (f *procFixture) balance(t *testing.T) int64 {
	t.Helper()
	balance, err := f.ledger.Balance(context.Background(), f.account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func TestRequest_DebitsAndQueues(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	w, err := f.proc.Request(ctx, f.account, 250_000, f.dest)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if w.State != withdraw.StateQueued {
		t.Errorf("state: got %s, want queued", w.State)
	}
	if got := f.balance(t); got != 750_000 {
		t.Errorf("balance after request: got %d, want 750000", got)
	}

	stored, err := f.proc.Get(ctx, w.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.AmountMQC != 250_000 || stored.Destination != f.dest {
		t.Errorf("stored row mismatch: %+v", stored)
	}
}

func TestRequest_Rejections(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	if _, err := f.proc.Request(ctx, f.account, 250_000, "not-an-address"); !errors.Is(err, wallet.ErrInvalidAddress) {
		t.Errorf("bad address: got %v", err)
	}
	if _, err := f.proc.Request(ctx, f.account, 500, f.dest); !errors.Is(err, withdraw.ErrAmountTooSmall) {
		t.Errorf("below minimum: got %v", err)
	}
	if _, err := f.proc.Request(ctx, f.account, 2_000_000, f.dest); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("overdraw: got %v", err)
	}
	if got := f.balance(t); got != 1_000_000 {
		t.Errorf("rejected requests moved money: %d", got)
	}
}

func TestRequest_HouseWalletAsDestination(t *testing.T) {
	f := newProcFixture(t)
	if _, err := f.proc.Request(context.Background(), f.account, 250_000, f.keys.Address); !errors.Is(err, wallet.ErrInvalidAddress) {
		t.Fatalf("withdrawal to the house wallet accepted: %v", err)
	}
	if got := f.balance(t); got != 1_000_000 {
		t.Fatalf("rejected request moved money: %d", got)
	}
}

func TestSubmit_Success(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	w, err := f.proc.Request(ctx, f.account, 250_000, f.dest)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := f.proc.Submit(ctx, w); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if w.State != withdraw.StateSubmitted || w.Signature == "" {
		t.Fatalf("after submit: state=%s signature=%q", w.State, w.Signature)
	}
	if w.FeeLamports != 5_000 {
		t.Errorf("fee: got %d, want 5000", w.FeeLamports)
	}
}

func TestSubmit_TransientRPCRetriesThenFails(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()
	f.chain.set(func(c *fakeChain) { c.blockhashErr = chain.ErrRPCUnavailable })

	w, err := f.proc.Request(ctx, f.account, 250_000, f.dest)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	// First two attempts keep the row queued.
	for i := 0; i < 2; i++ {
		if err := f.proc.Submit(ctx, w); !errors.Is(err, chain.ErrRPCUnavailable) {
			t.Fatalf("attempt %d: got %v, want ErrRPCUnavailable", i, err)
		}
		if w.State != withdraw.StateQueued {
			t.Fatalf("attempt %d: state %s, want queued", i, w.State)
		}
	}

	// The third exhausts the budget: compensated and terminal.
	if err := f.proc.Submit(ctx, w); err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if w.State != withdraw.StateFailed {
		t.Fatalf("state: got %s, want failed", w.State)
	}
	if got := f.balance(t); got != 1_000_000 {
		t.Fatalf("balance after compensation: got %d, want 1000000", got)
	}
}

func TestSubmit_PermanentErrorCompensatesOnce(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()
	f.chain.set(func(c *fakeChain) { c.sendErr = errors.New("Transaction simulation failed") })

	w, err := f.proc.Request(ctx, f.account, 250_000, f.dest)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := f.proc.Submit(ctx, w); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if w.State != withdraw.StateFailed {
		t.Fatalf("state: got %s, want failed", w.State)
	}
	if got := f.balance(t); got != 1_000_000 {
		t.Fatalf("balance: got %d, want 1000000", got)
	}

	// Replaying the failure path must not credit twice.
	if err := f.proc.Submit(ctx, w); err != nil {
		t.Fatalf("replayed Submit: %v", err)
	}
	if got := f.balance(t); got != 1_000_000 {
		t.Fatalf("double compensation: got %d, want 1000000", got)
	}
}

func TestSubmit_HouseWalletTooPoor(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()
	// 250 QC needs 250,000,000 lamports plus fee headroom.
	f.chain.set(func(c *fakeChain) { c.balance = 1_000 })

	w, err := f.proc.Request(ctx, f.account, 250_000, f.dest)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := f.proc.Submit(ctx, w); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if w.State != withdraw.StateFailed {
		t.Fatalf("state: got %s, want failed", w.State)
	}
	if f.chain.sendCount != 0 {
		t.Error("transaction was sent despite the balance check")
	}
	if got := f.balance(t); got != 1_000_000 {
		t.Fatalf("balance: got %d, want 1000000", got)
	}
}

func TestRun_ConfirmsFinalizedWithdrawal(t *testing.T) {
	f := newProcFixture(t)
	f.chain.set(func(c *fakeChain) {
		c.status = &chain.SignatureStatus{ConfirmationStatus: "finalized"}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.proc.Run(ctx)

	w, err := f.proc.Request(ctx, f.account, 250_000, f.dest)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			got, _ := f.proc.Get(context.Background(), w.ID)
			t.Fatalf("never confirmed; state %s", got.State)
		case <-time.After(10 * time.Millisecond):
		}
		got, err := f.proc.Get(context.Background(), w.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State == withdraw.StateConfirmed {
			if f.balance(t) != 750_000 {
				t.Fatalf("confirmed withdrawal refunded: %d", f.balance(t))
			}
			return
		}
	}
}

func TestRun_OnChainFailureCompensates(t *testing.T) {
	f := newProcFixture(t)
	f.chain.set(func(c *fakeChain) {
		c.status = &chain.SignatureStatus{
			ConfirmationStatus: "finalized",
			Err:                json.RawMessage(`{"InstructionError":[0,"Custom"]}`),
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.proc.Run(ctx)

	w, err := f.proc.Request(ctx, f.account, 250_000, f.dest)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			got, _ := f.proc.Get(context.Background(), w.ID)
			t.Fatalf("never failed; state %s", got.State)
		case <-time.After(10 * time.Millisecond):
		}
		got, err := f.proc.Get(context.Background(), w.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State == withdraw.StateFailed {
			if f.balance(t) != 1_000_000 {
				t.Fatalf("failed withdrawal not compensated: %d", f.balance(t))
			}
			return
		}
	}
}

func TestRecover_SignaturelessSubmission(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	w, err := f.proc.Request(ctx, f.account, 250_000, f.dest)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	// Simulate a crash between send and record: submitted, no signature.
	w.State = withdraw.StateSubmitted
	w.Signature = ""
	if err := f.store.UpdateWithdrawal(ctx, w); err != nil {
		t.Fatalf("UpdateWithdrawal: %v", err)
	}

	if err := f.proc.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	got, err := f.proc.Get(ctx, w.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != withdraw.StateFailed {
		t.Fatalf("state: got %s, want failed", got.State)
	}
	if f.balance(t) != 1_000_000 {
		t.Fatalf("balance after recovery: got %d, want 1000000", f.balance(t))
	}
}

func TestRecover_KeepsSignedSubmissions(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	w, err := f.proc.Request(ctx, f.account, 250_000, f.dest)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := f.proc.Submit(ctx, w); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := f.proc.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	got, _ := f.proc.Get(ctx, w.ID)
	if got.State != withdraw.StateSubmitted {
		t.Fatalf("recovery touched a signed submission: %s", got.State)
	}
}
