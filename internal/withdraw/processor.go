package withdraw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"QuantaCasino/internal/chain"
	"QuantaCasino/internal/ledger"
	"QuantaCasino/internal/observability"
	"QuantaCasino/internal/wallet"
)

// ChainClient is the slice of the RPC surface the processor uses.
type ChainClient interface {
	Balance(ctx context.Context, address string) (uint64, error)
	LatestBlockhash(ctx context.Context) (*chain.Blockhash, error)
	FeeForMessage(ctx context.Context, messageBase64 string) (uint64, error)
	SendTransaction(ctx context.Context, txBase64 string) (string, error)
	SignatureStatuses(ctx context.Context, sigs []string) ([]*chain.SignatureStatus, error)
}

// feeSafetyLamports pads the quoted network fee so a fee bump between
// quote and submission cannot strand the house wallet.
const feeSafetyLamports = 15_000

const (
	maxSubmitAttempts = 3
	claimBatchLimit   = 20
	confirmBatchLimit = 50
)

// Config bounds the processor's behavior.
type Config struct {
	MinAmountMQC   int64
	SubmitPoll     time.Duration // queued-row claim interval
	ConfirmPoll    time.Duration // signature status poll interval
	ConfirmTimeout time.Duration // submitted age before giving up
}

// Processor drives PendingWithdrawals through
// queued -> submitted -> confirmed | failed. The request path debits the
// ledger first; every failure path after that ends in exactly one
// compensating credit.
type Processor struct {
	ledger    *ledger.Ledger
	store     Store
	client    ChainClient
	keys      *wallet.Keypair
	cfg       Config
	notifiers []Notifier
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewProcessor(l *ledger.Ledger, store Store, client ChainClient, keys *wallet.Keypair, cfg Config, metrics *observability.Metrics) *Processor {
	return &Processor{
		ledger:  l,
		store:   store,
		client:  client,
		keys:    keys,
		cfg:     cfg,
		log:     observability.NewLogger("withdraw"),
		metrics: metrics,
	}
}

// AddNotifier registers a state-transition consumer. Not safe to call
// after Run.
func (p *Processor) AddNotifier(n Notifier) {
	p.notifiers = append(p.notifiers, n)
}

// Request validates, debits and queues a withdrawal. The debit commits
// before the row exists; if persisting the row fails the debit is
// compensated immediately, so no state leaves funds debited untracked.
func (p *Processor) Request(ctx context.Context, account uuid.UUID, amountMQC int64, destination string) (*PendingWithdrawal, error) {
	if _, err := wallet.DecodeAddress(destination); err != nil {
		return nil, err
	}
	if destination == p.keys.Address {
		return nil, fmt.Errorf("%w: destination is the house wallet", wallet.ErrInvalidAddress)
	}
	if amountMQC < p.cfg.MinAmountMQC {
		return nil, fmt.Errorf("%w: %d mQC (minimum %d)", ErrAmountTooSmall, amountMQC, p.cfg.MinAmountMQC)
	}

	w := &PendingWithdrawal{
		ID:          uuid.New(),
		Account:     account,
		AmountMQC:   amountMQC,
		Destination: destination,
		State:       StateQueued,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	if _, err := p.ledger.Debit(ctx, account, amountMQC, ledger.KindWithdrawal, w.ID.String()); err != nil {
		return nil, err
	}
	if err := p.store.CreateWithdrawal(ctx, w); err != nil {
		if cerr := p.compensate(ctx, w); cerr != nil {
			p.log.Error().Err(cerr).Str("withdrawal", w.ID.String()).Msg("compensate unpersisted withdrawal")
		}
		return nil, fmt.Errorf("withdraw: persist request: %w", err)
	}

	p.transition(w, StateQueued)
	p.log.Info().
		Str("withdrawal", w.ID.String()).
		Str("account", account.String()).
		Int64("mqc", amountMQC).
		Str("destination", wallet.Redact(destination)).
		Msg("withdrawal queued")
	return w, nil
}

// Get returns one withdrawal row.
func (p *Processor) Get(ctx context.Context, id uuid.UUID) (*PendingWithdrawal, error) {
	return p.store.GetWithdrawal(ctx, id)
}

// Run drives both loops until the context is canceled.
func (p *Processor) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- p.runSubmitLoop(ctx) }()
	go func() { errCh <- p.runConfirmLoop(ctx) }()
	return <-errCh
}

func (p *Processor) runSubmitLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.SubmitPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.submitQueued(ctx)
		}
	}
}

func (p *Processor) runConfirmLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.ConfirmPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.confirmSubmitted(ctx)
		}
	}
}

func (p *Processor) submitQueued(ctx context.Context) {
	queued, err := p.store.ListWithdrawals(ctx, StateQueued, claimBatchLimit)
	if err != nil {
		p.log.Error().Err(err).Msg("list queued withdrawals")
		return
	}
	for i := range queued {
		w := &queued[i]
		if err := p.Submit(ctx, w); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn().Err(err).Str("withdrawal", w.ID.String()).Msg("submission attempt failed")
		}
	}
}

// Submit builds, signs and sends one queued withdrawal. Transient RPC
// failures leave the row queued for the next tick; exhausting the retry
// budget compensates and fails it.
func (p *Processor) Submit(ctx context.Context, w *PendingWithdrawal) error {
	sig, fee, err := p.trySubmit(ctx, w)
	if err != nil {
		w.RetryCount++
		if errors.Is(err, chain.ErrRPCUnavailable) && w.RetryCount < maxSubmitAttempts {
			if uerr := p.store.UpdateWithdrawal(ctx, w); uerr != nil {
				return uerr
			}
			return err
		}
		return p.fail(ctx, w, err)
	}

	w.Signature = sig
	w.FeeLamports = int64(fee)
	w.State = StateSubmitted
	w.UpdatedAt = time.Now().UTC()
	if err := p.store.UpdateWithdrawal(ctx, w); err != nil {
		// The transfer is on the wire with a recorded-nowhere signature
		// only if this update is lost; surface loudly so the operator can
		// reconcile against the chain. The confirm loop cannot help here.
		p.log.Error().Err(err).
			Str("withdrawal", w.ID.String()).
			Str("signature", sig).
			Msg("submitted but row update failed")
		return err
	}
	p.transition(w, StateSubmitted)
	p.log.Info().
		Str("withdrawal", w.ID.String()).
		Str("signature", sig).
		Uint64("fee_lamports", fee).
		Msg("withdrawal submitted")
	return nil
}

func (p *Processor) trySubmit(ctx context.Context, w *PendingWithdrawal) (signature string, fee uint64, err error) {
	bh, err := p.client.LatestBlockhash(ctx)
	if err != nil {
		return "", 0, err
	}

	lamports := uint64(ledger.MQCToLamports(w.AmountMQC))
	tx, err := chain.BuildTransfer(p.keys, w.Destination, lamports, bh.Blockhash)
	if err != nil {
		return "", 0, err
	}

	fee, err = p.client.FeeForMessage(ctx, tx.Message)
	if err != nil {
		return "", 0, err
	}
	houseBalance, err := p.client.Balance(ctx, p.keys.Address)
	if err != nil {
		return "", 0, err
	}
	if houseBalance < lamports+fee+feeSafetyLamports {
		return "", 0, fmt.Errorf("%w: house wallet cannot cover %d lamports + fee", ErrWithdrawalFailed, lamports)
	}

	sig, err := p.client.SendTransaction(ctx, tx.Signed)
	if err != nil {
		return "", 0, err
	}
	return sig, fee, nil
}

func (p *Processor) confirmSubmitted(ctx context.Context) {
	submitted, err := p.store.ListWithdrawals(ctx, StateSubmitted, confirmBatchLimit)
	if err != nil {
		p.log.Error().Err(err).Msg("list submitted withdrawals")
		return
	}
	if len(submitted) == 0 {
		return
	}

	sigs := make([]string, len(submitted))
	for i := range submitted {
		sigs[i] = submitted[i].Signature
	}
	statuses, err := p.client.SignatureStatuses(ctx, sigs)
	if err != nil {
		p.log.Warn().Err(err).Msg("signature status poll failed")
		return
	}

	for i := range submitted {
		w := &submitted[i]
		var status *chain.SignatureStatus
		if i < len(statuses) {
			status = statuses[i]
		}
		if err := p.applyStatus(ctx, w, status); err != nil {
			p.log.Error().Err(err).Str("withdrawal", w.ID.String()).Msg("apply confirmation status")
		}
	}
}

func (p *Processor) applyStatus(ctx context.Context, w *PendingWithdrawal, status *chain.SignatureStatus) error {
	switch {
	case status.Finalized():
		w.State = StateConfirmed
		w.UpdatedAt = time.Now().UTC()
		if err := p.store.UpdateWithdrawal(ctx, w); err != nil {
			return err
		}
		p.transition(w, StateConfirmed)
		p.log.Info().
			Str("withdrawal", w.ID.String()).
			Str("signature", w.Signature).
			Msg("withdrawal confirmed")
		return nil

	case status.Failed():
		return p.fail(ctx, w, fmt.Errorf("%w: transaction errored on chain", ErrWithdrawalFailed))

	case time.Since(w.UpdatedAt) > p.cfg.ConfirmTimeout:
		// Unknown past the timeout: the blockhash has long expired, so
		// the transfer can no longer land. Safe to compensate.
		return p.fail(ctx, w, fmt.Errorf("%w: no confirmation within %s", ErrWithdrawalFailed, p.cfg.ConfirmTimeout))

	default:
		return nil
	}
}

// Recover resumes interrupted withdrawals at startup. Submitted rows with
// a signature rejoin the confirm loop as-is; a submitted row without one
// means the crash hit between send and record, where submission cannot be
// proven, so the row is compensated and the house wallet reconciled from
// chain history if the transfer did land.
func (p *Processor) Recover(ctx context.Context) error {
	submitted, err := p.store.ListWithdrawals(ctx, StateSubmitted, confirmBatchLimit)
	if err != nil {
		return fmt.Errorf("withdraw: recover: %w", err)
	}
	for i := range submitted {
		w := &submitted[i]
		if w.Signature != "" {
			continue
		}
		p.log.Warn().Str("withdrawal", w.ID.String()).Msg("recovering signatureless submission")
		if err := p.fail(ctx, w, fmt.Errorf("%w: crashed before signature was recorded", ErrWithdrawalFailed)); err != nil {
			return err
		}
	}
	return nil
}

// fail issues the compensating credit and marks the row terminal. The
// comp correlation makes double-compensation impossible across retries
// and restarts.
func (p *Processor) fail(ctx context.Context, w *PendingWithdrawal, cause error) error {
	if err := p.compensate(ctx, w); err != nil {
		// Leave the row non-terminal; the next sweep retries the credit.
		return fmt.Errorf("withdraw: compensate %s: %w", w.ID, err)
	}
	w.State = StateFailed
	w.UpdatedAt = time.Now().UTC()
	if err := p.store.UpdateWithdrawal(ctx, w); err != nil {
		return err
	}
	p.transition(w, StateFailed)
	p.log.Warn().Err(cause).
		Str("withdrawal", w.ID.String()).
		Int64("mqc", w.AmountMQC).
		Msg("withdrawal failed, funds compensated")
	return nil
}

func (p *Processor) compensate(ctx context.Context, w *PendingWithdrawal) error {
	_, err := p.ledger.Credit(ctx, w.Account, w.AmountMQC, ledger.KindWithdrawal, CompensationCorrelation(w.ID))
	if errors.Is(err, ledger.ErrDuplicateOperation) {
		return nil
	}
	if err == nil && p.metrics != nil {
		p.metrics.Compensations.Inc()
	}
	return err
}

func (p *Processor) transition(w *PendingWithdrawal, state State) {
	if p.metrics != nil {
		p.metrics.WithdrawalsTotal.WithLabelValues(string(state)).Inc()
	}
	for _, n := range p.notifiers {
		n.WithdrawalChanged(w)
	}
}
