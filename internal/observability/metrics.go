package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	workoutPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reward_pipeline",
		Subsystem: "persistence",
		Name:      "last_workout_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent canonical workout persisted to Postgres.",
	})
	rewardPaidGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reward_pipeline",
		Subsystem: "payments",
		Name:      "last_reward_paid_timestamp_seconds",
		Help:      "Unix timestamp of the most recent reward settled over Lightning.",
	})
)

func init() {
	prometheus.MustRegister(workoutPersistGauge, rewardPaidGauge)
}

// RecordWorkoutPersisted updates the persistence watermark gauge.
func RecordWorkoutPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	workoutPersistGauge.Set(float64(ts.Unix()))
}

// RecordRewardPaid updates the payment watermark gauge.
func RecordRewardPaid(ts time.Time) {
	if ts.IsZero() {
		return
	}
	rewardPaidGauge.Set(float64(ts.Unix()))
}
