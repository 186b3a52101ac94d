package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsHandled tracks event records passed to handlers per entity type
	RecordsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facilitator_records_handled_total",
			Help: "Total number of event records handled",
		},
		[]string{"entity_type"},
	)

	// StaleRecords tracks records that could not move any status forward
	StaleRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facilitator_stale_records_total",
			Help: "Total number of event records that did not change state",
		},
		[]string{"entity_type"},
	)

	// DispatchTotal tracks dispatched batches by result
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facilitator_dispatch_total",
			Help: "Total number of dispatched batches",
		},
		[]string{"side", "result"},
	)

	// DispatchLatency tracks the time from handler fan-out to commit
	DispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "facilitator_dispatch_latency_seconds",
			Help:    "Batch dispatch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"side"},
	)

	// CursorTimestamp tracks the watermark per contract and entity type
	CursorTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "facilitator_cursor_timestamp",
			Help: "Latest committed uts watermark",
		},
		[]string{"contract", "entity_type"},
	)

	// StatusTransitions tracks message status changes per side
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facilitator_status_transitions_total",
			Help: "Total number of message status transitions",
		},
		[]string{"side", "status"},
	)

	// RequestsBound tracks requests bound to a message
	RequestsBound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "facilitator_requests_bound_total",
			Help: "Total number of message transfer requests bound to a message",
		},
	)

	// SourceQueriesTotal tracks indexer queries per side and outcome
	SourceQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facilitator_source_queries_total",
			Help: "Total number of indexer queries",
		},
		[]string{"side", "result"},
	)

	// SourceLatency tracks indexer query latency
	SourceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "facilitator_source_latency_seconds",
			Help:    "Indexer query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"side"},
	)

	// DBConnectionPoolUsage tracks the percentage of open connections in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "facilitator_db_connection_pool_usage_percent",
			Help: "Database connection pool usage in percent",
		},
	)

	// DBBatchSize tracks rows written per operation in one unit of work
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "facilitator_db_batch_size",
			Help:    "Number of rows written per batch operation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"op"},
	)
)
