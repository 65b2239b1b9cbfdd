package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ArchiveDuration tracks how long a dead letter takes from delivery to archive write
	ArchiveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deadletter_archive_duration_seconds",
		Help:    "Time taken to validate and append one dead letter to the archive",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	// DeadLettersArchived counts consumed dead letters by outcome
	DeadLettersArchived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deadletter_archived_total",
		Help: "Total number of dead letters consumed by the archiver",
	}, []string{"status", "type"}) // status: archived, malformed, error
)
