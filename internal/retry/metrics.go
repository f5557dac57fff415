package retry

import "github.com/prometheus/client_golang/prometheus"

var (
	trackedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reward_pipeline",
		Subsystem: "retry",
		Name:      "failures_tracked_total",
		Help:      "Number of reward deliveries that entered the retry backlog.",
	})

	retryFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reward_pipeline",
		Subsystem: "retry",
		Name:      "attempts_failed_total",
		Help:      "Number of retry attempts that failed.",
	})

	recoveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reward_pipeline",
		Subsystem: "retry",
		Name:      "recovered_total",
		Help:      "Number of reward deliveries that eventually succeeded.",
	})

	permanentCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reward_pipeline",
		Subsystem: "retry",
		Name:      "permanent_failures_total",
		Help:      "Number of reward deliveries that exhausted the retry budget.",
	})

	backlogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reward_pipeline",
		Subsystem: "retry",
		Name:      "backlog_size",
		Help:      "Current number of reward deliveries awaiting retry.",
	})
)

func init() {
	prometheus.MustRegister(trackedCounter, retryFailedCounter, recoveredCounter, permanentCounter, backlogGauge)
}

func recordFailureTracked() {
	trackedCounter.Inc()
}

func recordRetryFailed() {
	retryFailedCounter.Inc()
}

func recordRecovered() {
	recoveredCounter.Inc()
}

func recordPermanentFailure() {
	permanentCounter.Inc()
}

func updateBacklogGauge(size int) {
	backlogGauge.Set(float64(size))
}
