package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for CarbonLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreCallsApplied  *prometheus.CounterVec
	CoreCallsRejected *prometheus.CounterVec
	CoreCallDuration  *prometheus.HistogramVec
	CoreJournals      *prometheus.CounterVec
	CoreStateHashDur  prometheus.Histogram
	CoreSequence      prometheus.Gauge
	CoreConservation  prometheus.Counter

	// --- Credits ---
	CreditsMinted         *prometheus.CounterVec
	CreditsRetired        *prometheus.CounterVec
	CommitmentsFulfilled  prometheus.Counter
	TokenSupply           *prometheus.GaugeVec
	CommitmentOutstanding *prometheus.GaugeVec

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	NATSPullLatency     *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Duration    prometheus.Histogram
	DedupTier2Errors      prometheus.Counter
	CallSequenceGap       *prometheus.CounterVec
	CallOutOfOrder        *prometheus.CounterVec

	// --- Persistence ---
	PersistCallsWritten    prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistFactsWritten    prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Checkpoint ---
	CheckpointTaken   prometheus.Counter
	CheckpointLastSeq prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in the service and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreCallsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbon_core_calls_applied_total",
			Help: "Calls committed by core",
		}, []string{"method"}),

		CoreCallsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbon_core_calls_rejected_total",
			Help: "Calls rejected (duplicate, sequence, contract error)",
		}, []string{"method", "reason"}),

		CoreCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carbon_core_call_apply_duration_seconds",
			Help:    "Time to apply a single call in core",
			Buckets: latencyBuckets,
		}, []string{"method"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbon_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "carbon_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "carbon_core_sequence",
			Help: "Last committed global sequence number",
		}),

		CoreConservation: f.NewCounter(prometheus.CounterOpts{
			Name: "carbon_core_conservation_checks_total",
			Help: "Full supply/balance conservation scans run",
		}),

		// Credits
		CreditsMinted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbon_credits_minted_total",
			Help: "Credits minted",
		}, []string{"contract"}),

		CreditsRetired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbon_credits_retired_total",
			Help: "Credits burned",
		}, []string{"contract"}),

		CommitmentsFulfilled: f.NewCounter(prometheus.CounterOpts{
			Name: "carbon_commitments_fulfilled_total",
			Help: "Commitments that reached zero outstanding",
		}),

		TokenSupply: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carbon_token_supply",
			Help: "Projected total supply per token contract",
		}, []string{"contract"}),

		CommitmentOutstanding: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carbon_commitment_outstanding",
			Help: "Projected outstanding quantity per commitment contract",
		}, []string{"contract"}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carbon_ingest_to_apply_seconds",
			Help:    "Transport receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"transport"}),

		ApplyToPersist: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "carbon_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		NATSPullLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carbon_nats_pull_latency_seconds",
			Help:    "Stream publish to ingest handler latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "carbon_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carbon_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carbon_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carbon_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carbon_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbon_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "carbon_publish_drops_total",
			Help: "Facts dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "carbon_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbon_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"method", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "carbon_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupTier2Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "carbon_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "carbon_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		CallSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbon_call_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"source"}),

		CallOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbon_call_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"source"}),

		// Persistence
		PersistCallsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "carbon_persist_calls_written_total",
			Help: "Calls written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "carbon_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistFactsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "carbon_persist_facts_written_total",
			Help: "Facts written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "carbon_persist_batch_size",
			Help:    "Calls per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbon_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "carbon_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Checkpoint
		CheckpointTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "carbon_checkpoint_taken_total",
			Help: "State checkpoints recorded",
		}),

		CheckpointLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "carbon_checkpoint_last_sequence",
			Help: "Sequence of last checkpoint",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbon_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carbon_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
