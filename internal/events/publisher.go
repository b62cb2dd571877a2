// Package events publishes settlement activity to NATS JetStream for
// downstream consumers (chat bots, dashboards). Publishing is best
// effort: a failed publish is logged and dropped, because every event is
// re-derivable from the ledger.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"QuantaCasino/internal/game"
	"QuantaCasino/internal/observability"
	"QuantaCasino/internal/withdraw"
)

const streamName = "QC_CASINO_EVENTS"

// Event is one outbound message.
type Event struct {
	Subject string
	Payload interface{}
}

// RoundEvent is the payload published for a settled or refunded round.
type RoundEvent struct {
	RoundID   string    `json:"round_id"`
	Account   string    `json:"account"`
	Game      string    `json:"game"`
	StakeMQC  int64     `json:"stake_mqc"`
	PayoutMQC int64     `json:"payout_mqc"`
	Win       bool      `json:"win"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// DepositEvent is published once per credited deposit.
type DepositEvent struct {
	Signature string    `json:"signature"`
	Account   string    `json:"account"`
	AmountMQC int64     `json:"amount_mqc"`
	Timestamp time.Time `json:"timestamp"`
}

// WithdrawalEvent is published on every withdrawal state transition.
type WithdrawalEvent struct {
	WithdrawalID string    `json:"withdrawal_id"`
	Account      string    `json:"account"`
	AmountMQC    int64     `json:"amount_mqc"`
	State        string    `json:"state"`
	Signature    string    `json:"signature,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Connect dials NATS with unbounded reconnects.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("events")
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("events: nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("events: jetstream: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the casino event stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"qc.casino.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("events: create stream: %w", err)
	}
	return nil
}

// Publisher drains a buffered event channel into JetStream. The channel
// drops under pressure rather than blocking settlement.
type Publisher struct {
	js      jetstream.JetStream
	ch      chan Event
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, buffer int, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		ch:      make(chan Event, buffer),
		log:     observability.NewLogger("events"),
		metrics: metrics,
	}
}

// Run drains the channel until the context is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-p.ch:
			p.publish(ctx, evt)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, evt Event) {
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		p.log.Error().Err(err).Str("subject", evt.Subject).Msg("marshal event")
		return
	}
	outcome := "ok"
	if _, err := p.js.Publish(ctx, evt.Subject, data); err != nil {
		outcome = "error"
		p.log.Warn().Err(err).Str("subject", evt.Subject).Msg("publish failed")
	}
	if p.metrics != nil {
		p.metrics.NATSPublished.WithLabelValues(evt.Subject, outcome).Inc()
	}
}

func (p *Publisher) enqueue(evt Event) {
	select {
	case p.ch <- evt:
	default:
		if p.metrics != nil {
			p.metrics.EventsDropped.Inc()
		}
	}
}

// RoundSettled implements game.Sink.
func (p *Publisher) RoundSettled(r *game.Round) {
	p.enqueue(Event{
		Subject: "qc.casino.rounds." + string(r.Game),
		Payload: RoundEvent{
			RoundID:   r.ID.String(),
			Account:   r.Account.String(),
			Game:      string(r.Game),
			StakeMQC:  r.StakeMQC,
			PayoutMQC: r.PayoutMQC,
			Win:       r.Win,
			State:     r.State.String(),
			Timestamp: time.Now().UTC(),
		},
	})
}

// DepositCredited implements deposit.Notifier.
func (p *Publisher) DepositCredited(signature string, account uuid.UUID, amountMQC int64) {
	p.enqueue(Event{
		Subject: "qc.casino.deposits",
		Payload: DepositEvent{
			Signature: signature,
			Account:   account.String(),
			AmountMQC: amountMQC,
			Timestamp: time.Now().UTC(),
		},
	})
}

// WithdrawalChanged implements withdraw.Notifier.
func (p *Publisher) WithdrawalChanged(w *withdraw.PendingWithdrawal) {
	p.enqueue(Event{
		Subject: "qc.casino.withdrawals." + string(w.State),
		Payload: WithdrawalEvent{
			WithdrawalID: w.ID.String(),
			Account:      w.Account.String(),
			AmountMQC:    w.AmountMQC,
			State:        string(w.State),
			Signature:    w.Signature,
			Timestamp:    time.Now().UTC(),
		},
	})
}
