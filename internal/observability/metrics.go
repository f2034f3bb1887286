package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the synth engine.
type Metrics struct {
	// --- Engine ---
	OpsApplied      *prometheus.CounterVec
	OpsRejected     *prometheus.CounterVec
	OpsSkipped      *prometheus.CounterVec
	OpDuration      *prometheus.HistogramVec
	EngineSequence  prometheus.Gauge
	TotalDebtShares prometheus.Gauge

	// --- Exchange & settlement ---
	BreakerTrips      *prometheus.CounterVec
	ExchangeFeeRate   *prometheus.HistogramVec
	ExchangeVolume    *prometheus.CounterVec
	AtomicBlockVolume prometheus.Gauge
	EntriesSettled    *prometheus.CounterVec
	ReclaimTotal      *prometheus.CounterVec
	RebateTotal       *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec

	// --- Channel & backpressure ---
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Ingestion ---
	RateUpdates       *prometheus.CounterVec
	RateRoundsDropped *prometheus.CounterVec
	ParseErrors       *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge

	// --- HTTP API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Engine
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_ops_applied_total",
			Help: "Operations successfully applied by the engine",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_ops_rejected_total",
			Help: "Operations rejected with a loud error",
		}, []string{"op", "reason"}),

		OpsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_ops_skipped_total",
			Help: "Exchanges skipped silently by the circuit breaker",
		}, []string{"currency"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_op_apply_duration_seconds",
			Help:    "Time to apply a single operation in the engine",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_engine_sequence",
			Help: "Current global operation sequence",
		}),

		TotalDebtShares: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_total_debt_shares",
			Help: "Outstanding debt shares across all accounts",
		}),

		// Exchange & settlement
		BreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_breaker_trips_total",
			Help: "Circuit breaker trips per currency",
		}, []string{"currency"}),

		ExchangeFeeRate: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_exchange_fee_rate",
			Help:    "Applied exchange fee rates (fractional)",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"src", "dest"}),

		ExchangeVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_exchange_volume_total",
			Help: "Source-asset volume exchanged (amount units)",
		}, []string{"src", "dest", "path"}),

		AtomicBlockVolume: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_atomic_block_volume",
			Help: "USD-equivalent atomic volume in the current block",
		}),

		EntriesSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_entries_settled_total",
			Help: "Settlement entries drained",
		}, []string{"currency"}),

		ReclaimTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_settlement_reclaim_total",
			Help: "Value clawed back at settlement (amount units)",
		}, []string{"currency"}),

		RebateTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_settlement_rebate_total",
			Help: "Value topped up at settlement (amount units)",
		}, []string{"currency"}),

		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "synth_settlement_queue_depth",
			Help: "Pending settlement entries per currency",
		}, []string{"currency"}),

		// Channel & backpressure
		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		// Ingestion
		RateUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_rate_updates_total",
			Help: "Price rounds accepted into the feed cache",
		}, []string{"currency"}),

		RateRoundsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_rate_rounds_dropped_total",
			Help: "Out-of-order price rounds dropped",
		}, []string{"currency"}),

		ParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_ingest_parse_errors_total",
			Help: "Malformed feed payloads",
		}, []string{"subject"}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_events_written_total",
			Help: "Operation envelopes written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_persist_batch_size",
			Help:    "Operations per persisted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		// HTTP API
		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_api_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_api_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
