// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Swap metrics
	SwapsSubmitted   *prometheus.CounterVec
	SwapsCompleted   *prometheus.CounterVec
	SwapSubmitErrors *prometheus.CounterVec
	DuplicatesCaught prometheus.Counter

	// Polling metrics
	PollDuration  prometheus.Histogram
	PollTimeouts  prometheus.Counter
	FeedFastPaths prometheus.Counter

	// Reconciliation metrics
	TradeRecordsInserted  *prometheus.CounterVec
	LowConfidenceRecords  prometheus.Counter
	BackfillRuns          *prometheus.CounterVec
	BackfillFieldsUpdated prometheus.Counter

	// Pricing metrics
	CurrentPrice    prometheus.Gauge
	PoolSbtcBalance prometheus.Gauge
	PriceReadErrors prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "curvedex"
	}

	return &Metrics{
		SwapsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "submitted_total",
			Help:      "Total number of swaps submitted to the ledger by direction",
		}, []string{"direction"}),
		SwapsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "completed_total",
			Help:      "Total number of swaps reaching a terminal state by status",
		}, []string{"status"}),
		SwapSubmitErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "submit_errors_total",
			Help:      "Total number of submission errors by type",
		}, []string{"error_type"}),
		DuplicatesCaught: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "duplicates_caught_total",
			Help:      "Total number of stale re-submissions caught by the local marker",
		}),

		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "poll_duration_seconds",
			Help:      "Time from submission to terminal poll status",
			Buckets:   []float64{1, 3, 6, 12, 24, 48, 60, 90},
		}),
		PollTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "poll_timeouts_total",
			Help:      "Total number of polls that exceeded the confirmation budget",
		}),
		FeedFastPaths: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "feed_fast_paths_total",
			Help:      "Polls short-circuited by the WebSocket event feed",
		}),

		TradeRecordsInserted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "trade_records_inserted_total",
			Help:      "Total number of trade records derived and inserted by confidence",
		}, []string{"confidence"}),
		LowConfidenceRecords: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "low_confidence_records_total",
			Help:      "Records stored with the declared-amount fallback",
		}),
		BackfillRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "backfill_runs_total",
			Help:      "Total number of backfill passes by status",
		}, []string{"status"}),
		BackfillFieldsUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "backfill_records_updated_total",
			Help:      "Records repaired by the backfill pass",
		}),

		CurrentPrice: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "current_price",
			Help:      "Latest observed pool price in sats per token base unit",
		}),
		PoolSbtcBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "pool_sbtc_balance",
			Help:      "Latest observed real sBTC reserve in sats",
		}),
		PriceReadErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "read_errors_total",
			Help:      "Failed pool state reads",
		}),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
