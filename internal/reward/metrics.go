package reward

import "github.com/prometheus/client_golang/prometheus"

var (
	calculatedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reward_pipeline",
		Subsystem: "reward",
		Name:      "calculated_total",
		Help:      "Number of rewards calculated, labeled by reward type.",
	}, []string{"type"})

	satsAwardedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reward_pipeline",
		Subsystem: "reward",
		Name:      "sats_awarded_total",
		Help:      "Total sats awarded across calculated rewards, labeled by reward type.",
	}, []string{"type"})

	ineligibleCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reward_pipeline",
		Subsystem: "reward",
		Name:      "ineligible_total",
		Help:      "Number of workouts that failed reward eligibility, labeled by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(calculatedCounter, satsAwardedCounter, ineligibleCounter)
}

func recordCalculated(rewardType string, totalSats int64) {
	calculatedCounter.WithLabelValues(rewardType).Inc()
	satsAwardedCounter.WithLabelValues(rewardType).Add(float64(totalSats))
}

func recordIneligible(reason string) {
	ineligibleCounter.WithLabelValues(reason).Inc()
}
