package detect

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	triggerCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reward_pipeline",
		Subsystem: "detect",
		Name:      "triggers_total",
		Help:      "Number of detection triggers fired, labeled by mechanism.",
	}, []string{"mechanism"})

	detectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reward_pipeline",
		Subsystem: "detect",
		Name:      "workouts_detected_total",
		Help:      "Number of workouts surviving the debounce filter, labeled by mechanism.",
	}, []string{"mechanism"})

	fetchErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reward_pipeline",
		Subsystem: "detect",
		Name:      "fetch_errors_total",
		Help:      "Number of failed health-data fetches, labeled by mechanism.",
	}, []string{"mechanism"})

	watermarkGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reward_pipeline",
		Subsystem: "detect",
		Name:      "high_water_mark_timestamp_seconds",
		Help:      "Unix timestamp of the most recent fully processed workout start.",
	})
)

func init() {
	prometheus.MustRegister(triggerCounter, detectedCounter, fetchErrorCounter, watermarkGauge)
}

func recordTrigger(mechanism string) {
	triggerCounter.WithLabelValues(mechanism).Inc()
}

func recordDetected(mechanism string, count int) {
	detectedCounter.WithLabelValues(mechanism).Add(float64(count))
}

func recordFetchError(mechanism string) {
	fetchErrorCounter.WithLabelValues(mechanism).Inc()
}

func recordWatermark(ts time.Time) {
	if ts.IsZero() {
		return
	}
	watermarkGauge.Set(float64(ts.Unix()))
}
