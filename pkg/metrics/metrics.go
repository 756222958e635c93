// Package metrics provides Prometheus metrics for the candidate deduplication service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DuplicateChecksTotal tracks duplicate checks by outcome (duplicate, unique, error)
	DuplicateChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tulip",
			Subsystem: "matching",
			Name:      "checks_total",
			Help:      "Total number of duplicate checks by outcome",
		},
		[]string{"outcome"},
	)

	// MatchesTotal tracks matches found per strategy
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tulip",
			Subsystem: "matching",
			Name:      "matches_total",
			Help:      "Total number of candidate matches by strategy",
		},
		[]string{"strategy"},
	)

	// ImportRowsTotal tracks imported rows by outcome
	ImportRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tulip",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Total number of import rows by outcome",
		},
		[]string{"outcome"},
	)

	// MergesTotal tracks merges by result
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tulip",
			Subsystem: "merge",
			Name:      "merges_total",
			Help:      "Total number of candidate merges by result",
		},
		[]string{"result"},
	)

	// MergeDuration tracks merge transaction duration in seconds
	MergeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tulip",
			Subsystem: "merge",
			Name:      "duration_seconds",
			Help:      "Duration of candidate merges in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// RecordsRepointedTotal tracks dependent rows moved to a primary candidate
	RecordsRepointedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tulip",
			Subsystem: "merge",
			Name:      "records_repointed_total",
			Help:      "Total number of dependent records repointed by kind",
		},
		[]string{"kind"},
	)

	// KafkaMessagesTotal tracks intake and audit messages by topic and status
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tulip",
			Subsystem: "kafka",
			Name:      "messages_total",
			Help:      "Total number of Kafka messages handled by topic and status",
		},
		[]string{"topic", "direction", "status"},
	)
)

// RecordCheck records the outcome of a duplicate check
func RecordCheck(outcome string) {
	DuplicateChecksTotal.WithLabelValues(outcome).Inc()
}

// RecordMatch records one match produced by a strategy
func RecordMatch(strategy string) {
	MatchesTotal.WithLabelValues(strategy).Inc()
}

// RecordImportRow records the outcome of one import row
func RecordImportRow(outcome string) {
	ImportRowsTotal.WithLabelValues(outcome).Inc()
}

// RecordMerge records a merge attempt and, on success, the rows it repointed
func RecordMerge(result string, durationSeconds float64, repointed map[string]int64) {
	MergesTotal.WithLabelValues(result).Inc()
	MergeDuration.Observe(durationSeconds)
	for kind, n := range repointed {
		RecordsRepointedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordKafkaMessage records a consumed or published Kafka message
func RecordKafkaMessage(topic, direction, status string) {
	KafkaMessagesTotal.WithLabelValues(topic, direction, status).Inc()
}
