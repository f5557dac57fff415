package dedup

import "github.com/prometheus/client_golang/prometheus"

var (
	debounceSuppressedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reward_pipeline",
		Subsystem: "dedup",
		Name:      "debounce_suppressed_total",
		Help:      "Number of workouts suppressed by the temporal debouncer, labeled by detection source.",
	}, []string{"source"})

	duplicatesRemovedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reward_pipeline",
		Subsystem: "dedup",
		Name:      "duplicates_removed_total",
		Help:      "Number of workouts removed as cross-source duplicates, labeled by sync source.",
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(debounceSuppressedCounter, duplicatesRemovedCounter)
}

func recordDebounceSuppressed(source string) {
	debounceSuppressedCounter.WithLabelValues(source).Inc()
}

func recordDuplicateRemoved(source string) {
	duplicatesRemovedCounter.WithLabelValues(source).Inc()
}
