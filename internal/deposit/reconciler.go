// Package deposit watches the house wallet for incoming on-chain
// transfers and credits the ledger exactly once per signature. The scan
// cursor (watermark) advances only past transfers whose credit or parking
// has durably committed, so a crash mid-scan replays work instead of
// losing it; the ledger's correlation dedup makes the replay harmless.
package deposit

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

// ErrUnattributableDeposit marks a transfer whose sender maps to no
// account. Such transfers are parked for review, never dropped.
var ErrUnattributableDeposit = errors.New("deposit: unattributable")

// Watermark is the per-house-wallet scan cursor.
type Watermark struct {
	Wallet        string
	LastSignature string
	LastSlot      uint64
	UpdatedAt     time.Time
}

// ReviewItem is a parked transfer awaiting manual attribution.
type ReviewItem struct {
	Signature   string
	FromAddress string
	Lamports    int64
	Slot        uint64
	Reason      string
	CreatedAt   time.Time
}

// Store is the durable state the reconciler needs besides the ledger.
type Store interface {
	Watermark(ctx context.Context, wallet string) (*Watermark, error)
	// SetWatermark persists the cursor. Called only after the signature's
	// ledger work has committed.
	SetWatermark(ctx context.Context, wallet, signature string, slot uint64) error
	// AccountForAddress resolves a linked sender address; ok is false for
	// unknown senders.
	AccountForAddress(ctx context.Context, address string) (account uuid.UUID, ok bool, err error)
	// ParkDeposit records a review item, idempotent on signature.
	ParkDeposit(ctx context.Context, item *ReviewItem) error
}

// ChainClient is the slice of the RPC surface the reconciler uses.
type ChainClient interface {
	SignaturesForAddress(ctx context.Context, address, beforeSig, untilSig string, limit int) ([]chain.SignatureInfo, error)
	TransfersIn(ctx context.Context, signature, address string) ([]chain.Transfer, error)
}

// Notifier receives successfully credited deposits. Must not block.
type Notifier interface {
	DepositCredited(signature string, account uuid.UUID, amountMQC int64)
}

const (
	scanBatchLimit = 100
	backoffBase    = time.Second
	backoffCap     = time.Minute
)

// Reconciler is the deposit scan loop.
type Reconciler struct {
	ledger    *ledger.Ledger
	store     Store
	client    ChainClient
	wallet    string // house wallet address
	poll      time.Duration
	notifiers []Notifier
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewReconciler(l *ledger.Ledger, store Store, client ChainClient, houseWallet string, poll time.Duration, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		ledger:  l,
		store:   store,
		client:  client,
		wallet:  houseWallet,
		poll:    poll,
		log:     observability.NewLogger("deposit"),
		metrics: metrics,
	}
}

// AddNotifier registers a credit consumer. Not safe to call after Run.
func (r *Reconciler) AddNotifier(n Notifier) {
	r.notifiers = append(r.notifiers, n)
}

// Run polls until the context is canceled. Scan failures back off
// exponentially and resume from the watermark; one scan is in flight at a
// time.
func (r *Reconciler) Run(ctx context.Context) error {
	backoff := backoffBase
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := r.ScanOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if r.metrics != nil {
				r.metrics.ReconcileErrors.Inc()
			}
			r.log.Warn().Err(err).Dur("backoff", backoff).Msg("deposit scan failed")
			timer.Reset(backoff)
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
			continue
		}
		backoff = backoffBase
		timer.Reset(r.poll)
	}
}

// ScanOnce processes every finalized transfer newer than the watermark,
// oldest first, advancing the watermark per settled signature.
func (r *Reconciler) ScanOnce(ctx context.Context) error {
	wm, err := r.store.Watermark(ctx, r.wallet)
	if err != nil {
		return fmt.Errorf("deposit: load watermark: %w", err)
	}
	until := ""
	if wm != nil {
		until = wm.LastSignature
	}

	// The RPC pages newest first, so one page is not enough when more than
	// scanBatchLimit signatures landed since the watermark: the page holds
	// the newest ones and the backlog's oldest would fall past the cursor.
	// Walk backwards page by page until the until boundary (a short page)
	// before touching the ledger or the watermark.
	var infos []chain.SignatureInfo
	before := ""
	for {
		page, err := r.client.SignaturesForAddress(ctx, r.wallet, before, until, scanBatchLimit)
		if err != nil {
			return fmt.Errorf("deposit: list signatures: %w", err)
		}
		infos = append(infos, page...)
		if len(page) < scanBatchLimit {
			break
		}
		before = page[len(page)-1].Signature
	}

	// Reversed so credits apply in chain order and the watermark never
	// skips an unprocessed signature.
	for i := len(infos) - 1; i >= 0; i-- {
		info := infos[i]
		if !info.Failed() {
			if err := r.processSignature(ctx, info); err != nil {
				return err
			}
		}
		if err := r.store.SetWatermark(ctx, r.wallet, info.Signature, info.Slot); err != nil {
			return fmt.Errorf("deposit: advance watermark: %w", err)
		}
		if r.metrics != nil {
			r.metrics.WatermarkSlot.Set(float64(info.Slot))
		}
	}
	return nil
}

func (r *Reconciler) processSignature(ctx context.Context, info chain.SignatureInfo) error {
	transfers, err := r.client.TransfersIn(ctx, info.Signature, r.wallet)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			// Signature listed but detail pruned; nothing creditable.
			return r.park(ctx, info.Signature, "", 0, info.Slot, "transaction detail unavailable")
		}
		return fmt.Errorf("deposit: fetch %s: %w", info.Signature, err)
	}

	for _, t := range transfers {
		if err := r.credit(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// credit applies one incoming transfer: attribute the sender, convert to
// mQC and credit with the signature as correlation. Sub-mQC dust and
// unknown senders are parked instead.
func (r *Reconciler) credit(ctx context.Context, t chain.Transfer) error {
	if t.From == r.wallet {
		// Self transfers (sweeps, change) are not deposits.
		return nil
	}

	mqc, _ := ledger.LamportsToMQC(t.Lamports)
	if mqc <= 0 {
		return r.park(ctx, t.Signature, t.From, t.Lamports, t.Slot, "below minimum deposit")
	}

	account, ok, err := r.store.AccountForAddress(ctx, t.From)
	if err != nil {
		return fmt.Errorf("deposit: attribute %s: %w", t.Signature, err)
	}
	if !ok {
		r.log.Warn().
			Str("signature", t.Signature).
			Str("from", wallet.Redact(t.From)).
			Int64("lamports", t.Lamports).
			Msg("unattributable deposit parked")
		return r.park(ctx, t.Signature, t.From, t.Lamports, t.Slot, ErrUnattributableDeposit.Error())
	}

	_, err = r.ledger.Credit(ctx, account, mqc, ledger.KindDeposit, t.Signature)
	switch {
	case errors.Is(err, ledger.ErrDuplicateOperation):
		// Already applied by an earlier scan; counts as committed.
		return nil
	case err != nil:
		return fmt.Errorf("deposit: credit %s: %w", t.Signature, err)
	}

	if r.metrics != nil {
		r.metrics.DepositCredits.Inc()
		r.metrics.DepositMQC.Add(float64(mqc))
	}
	r.log.Info().
		Str("signature", t.Signature).
		Str("account", account.String()).
		Int64("mqc", mqc).
		Msg("deposit credited")
	for _, n := range r.notifiers {
		n.DepositCredited(t.Signature, account, mqc)
	}
	return nil
}

func (r *Reconciler) park(ctx context.Context, signature, from string, lamports int64, slot uint64, reason string) error {
	err := r.store.ParkDeposit(ctx, &ReviewItem{
		Signature:   signature,
		FromAddress: from,
		Lamports:    lamports,
		Slot:        slot,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("deposit: park %s: %w", signature, err)
	}
	if r.metrics != nil {
		r.metrics.DepositsParked.Inc()
	}
	return nil
}
