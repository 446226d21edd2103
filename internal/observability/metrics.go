// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Reconciliation metrics
	EventsHandled    *prometheus.CounterVec
	Corrections      *prometheus.CounterVec
	EventsSkipped    *prometheus.CounterVec
	StakeAdjustments *prometheus.CounterVec

	// Settlement metrics
	SettlementTriggers *prometheus.CounterVec

	// Ingestion metrics
	TransactionsDecoded prometheus.Counter
	HighestSlotSeen     prometheus.Gauge

	// Latency metrics
	EventHandlingLatency *prometheus.HistogramVec
	RPCCallLatency       *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Resync metrics
	PoolResyncs *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "belief_pool_indexer"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		EventsHandled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "events_total",
			Help:      "Events handled by kind and outcome",
		}, []string{"kind", "outcome"}),
		Corrections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "corrections_total",
			Help:      "Optimistic rows overwritten with ledger values",
		}, []string{"table"}),
		EventsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "skipped_total",
			Help:      "Events skipped because a dependency was not yet mirrored",
		}, []string{"kind", "reason"}),
		StakeAdjustments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stake",
			Name:      "adjustments_total",
			Help:      "Custodian balance adjustments by direction",
		}, []string{"direction"}),

		SettlementTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "triggers_total",
			Help:      "Epoch processing dispatches by result",
		}, []string{"result"}),

		TransactionsDecoded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "transactions_decoded_total",
			Help:      "Transactions decoded from any transport",
		}),
		HighestSlotSeen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),

		EventHandlingLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "event_latency_seconds",
			Help:      "Event handling latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		PoolResyncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projection",
			Name:      "resyncs_total",
			Help:      "Ledger resyncs of pool state by result",
		}, []string{"result"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordEvent records one handled event and its latency.
func RecordEvent(kind, outcome string, seconds float64) {
	DefaultMetrics.EventsHandled.WithLabelValues(kind, outcome).Inc()
	DefaultMetrics.EventHandlingLatency.WithLabelValues(kind).Observe(seconds)
}

// RecordCorrection counts an optimistic row corrected in table.
func RecordCorrection(table string) {
	DefaultMetrics.Corrections.WithLabelValues(table).Inc()
}

// RecordSkip counts an event skipped for reason.
func RecordSkip(kind, reason string) {
	DefaultMetrics.EventsSkipped.WithLabelValues(kind, reason).Inc()
}

// RecordStakeAdjustment counts a credit or debit.
func RecordStakeAdjustment(direction string) {
	DefaultMetrics.StakeAdjustments.WithLabelValues(direction).Inc()
}

// RecordSettlementTrigger counts a dispatch result: ok, failed or duplicate.
func RecordSettlementTrigger(result string) {
	DefaultMetrics.SettlementTriggers.WithLabelValues(result).Inc()
}

// RecordTransactionDecoded counts a decoded transaction and tracks its slot.
func RecordTransactionDecoded(slot uint64) {
	DefaultMetrics.TransactionsDecoded.Inc()
	UpdateHighestSlot(slot)
}

var highestSlot atomic.Uint64

// UpdateHighestSlot raises the highest slot seen gauge.
func UpdateHighestSlot(slot uint64) {
	for {
		cur := highestSlot.Load()
		if slot <= cur {
			return
		}
		if highestSlot.CompareAndSwap(cur, slot) {
			DefaultMetrics.HighestSlotSeen.Set(float64(slot))
			return
		}
	}
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordResync counts a pool resync result.
func RecordResync(result string) {
	DefaultMetrics.PoolResyncs.WithLabelValues(result).Inc()
}
