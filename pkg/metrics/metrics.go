package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsProcessed counts drained queue operations.
	// status is sent or error, type is create/update/delete.
	OperationsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_operations_processed_total",
		Help: "Total number of queued operations sent to the backend",
	}, []string{"status", "type", "table"})

	// OperationsEnqueued counts mutations accepted into the queue
	OperationsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_operations_enqueued_total",
		Help: "Total number of operations added to the mutation queue",
	}, []string{"type"})

	// DrainDuration measures a full SyncAll pass
	DrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_drain_duration_seconds",
		Help:    "Duration of queue drains in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// DrainSize tracks how many operations each drain attempted
	DrainSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_drain_size",
		Help:    "Number of operations attempted per drain",
		Buckets: []float64{0, 1, 10, 50, 100, 500, 1000},
	})

	// DrainsSkipped counts drains that did not run, by reason
	DrainsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_drains_skipped_total",
		Help: "Total number of drains skipped before touching the queue",
	}, []string{"reason"})

	// MergeRecords counts records resolved during pulls, by winner
	MergeRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_merge_records_total",
		Help: "Records resolved by last-write-wins merges",
	}, []string{"winner"})

	// QueueBacklog is the number of pending operations.
	// This is the primary indicator of sync lag.
	QueueBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_queue_backlog",
		Help: "Current number of operations waiting in the mutation queue",
	})

	// StuckOperations counts operations that reached the retry limit.
	// If this number grows, manual intervention is required.
	StuckOperations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_stuck_operations",
		Help: "Current number of queued operations at or over the retry limit",
	})

	// DeadLettersPublished counts stuck operations handed to the broker
	DeadLettersPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_dead_letters_published_total",
		Help: "Stuck operations published to the dead-letter exchange",
	}, []string{"status"})

	// RabbitMQReconnections counts how many times the broker link was restored
	RabbitMQReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_rabbitmq_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts",
	})

	// HealthStatus is 1 when the engine is online with a backend, else 0
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_healthy",
		Help: "Current health status of the sync engine (1 for healthy, 0 for unhealthy)",
	})

	// LastSyncTimestamp is the unix time of the last successful drain
	LastSyncTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_last_success_timestamp_seconds",
		Help: "Unix time of the last drain that completed at least one operation",
	})
)
