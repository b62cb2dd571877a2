package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the casino core.
type Metrics struct {
	// --- Ledger ---
	LedgerEntries   *prometheus.CounterVec
	LedgerConflicts *prometheus.CounterVec

	// --- Games ---
	RoundsTotal   *prometheus.CounterVec
	StakedMQC     prometheus.Counter
	PaidOutMQC    prometheus.Counter
	RoundsRefunds prometheus.Counter
	SeedRotations prometheus.Counter

	// --- Deposits ---
	DepositCredits  prometheus.Counter
	DepositMQC      prometheus.Counter
	DepositsParked  prometheus.Counter
	WatermarkSlot   prometheus.Gauge
	ReconcileErrors prometheus.Counter

	// --- Withdrawals ---
	WithdrawalsTotal *prometheus.CounterVec
	Compensations    prometheus.Counter

	// --- Chain RPC ---
	RPCRequests *prometheus.CounterVec
	RPCLatency  *prometheus.HistogramVec

	// --- HTTP & feed ---
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	WSClients     prometheus.Gauge
	EventsDropped prometheus.Counter
	NATSPublished *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	rpcBuckets := []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	httpBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

	return &Metrics{
		LedgerEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_ledger_entries_total",
			Help: "Ledger entries committed",
		}, []string{"kind"}),

		LedgerConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_ledger_conflicts_total",
			Help: "Ledger operations rejected (duplicate, insufficient funds)",
		}, []string{"reason"}),

		RoundsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_rounds_total",
			Help: "Game rounds settled",
		}, []string{"game", "result"}),

		StakedMQC: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qc_staked_mqc_total",
			Help: "Total mQC staked across all games",
		}),

		PaidOutMQC: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qc_paid_out_mqc_total",
			Help: "Total mQC paid out as winnings",
		}),

		RoundsRefunds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qc_round_refunds_total",
			Help: "Rounds refunded after timeout",
		}),

		SeedRotations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qc_seed_rotations_total",
			Help: "Fairness seed pairs rotated and revealed",
		}),

		DepositCredits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qc_deposit_credits_total",
			Help: "Deposits credited to accounts",
		}),

		DepositMQC: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qc_deposit_mqc_total",
			Help: "Total mQC credited from deposits",
		}),

		DepositsParked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qc_deposits_parked_total",
			Help: "Unattributable deposits parked for review",
		}),

		WatermarkSlot: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "qc_deposit_watermark_slot",
			Help: "Slot of the last reconciled deposit",
		}),

		ReconcileErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qc_reconcile_errors_total",
			Help: "Deposit scan failures (retried with backoff)",
		}),

		WithdrawalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_withdrawals_total",
			Help: "Withdrawal state transitions",
		}, []string{"state"}),

		Compensations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qc_withdrawal_compensations_total",
			Help: "Compensating credits issued for failed withdrawals",
		}),

		RPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_rpc_requests_total",
			Help: "Chain RPC requests",
		}, []string{"method", "code"}),

		RPCLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qc_rpc_latency_seconds",
			Help:    "Chain RPC round-trip latency",
			Buckets: rpcBuckets,
		}, []string{"method"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "path", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qc_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: httpBuckets,
		}, []string{"method", "path"}),

		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "qc_ws_clients",
			Help: "Connected WebSocket feed clients",
		}),

		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qc_feed_events_dropped_total",
			Help: "Feed events dropped due to full buffers",
		}),

		NATSPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_nats_published_total",
			Help: "Events published to NATS",
		}, []string{"subject", "outcome"}),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMiddleware records request count and duration. The path label uses
// the raw URL path; handlers are mounted on fixed-shape routes so
// cardinality stays bounded.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
