// Package metrics defines the Prometheus collectors exposed on /metrics:
// counters for graded attempts and reward claims, plus gauges sampling
// queue depth and worker activity.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every metric the engine registers.
type Collectors struct {
	AttemptsTotal *prometheus.CounterVec
	ClaimsTotal   *prometheus.CounterVec
}

// New constructs and registers every counter against reg. Gauges that
// sample live state (queue depth, worker activity) are registered
// separately via RegisterPoolGauges once the queue and pool exist.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptchallenge",
			Name:      "attempts_total",
			Help:      "Total graded attempts, labeled by final verdict.",
		}, []string{"final_verdict"}),
		ClaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptchallenge",
			Name:      "reward_claims_total",
			Help:      "Total successful reward claims, labeled by pool.",
		}, []string{"pool_id"}),
	}
	reg.MustRegister(c.AttemptsTotal, c.ClaimsTotal)
	return c
}

// RegisterPoolGauges registers GaugeFuncs that sample queue depth and
// worker activity at scrape time, so the values are always current without
// any instrumentation calls on the hot path.
func RegisterPoolGauges(reg prometheus.Registerer, queueDepth, workersBusy func() int, workersTotal int) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "promptchallenge",
			Name:      "queue_depth",
			Help:      "Current number of pending tasks.",
		}, func() float64 { return float64(queueDepth()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "promptchallenge",
			Name:      "workers_busy",
			Help:      "Number of workers currently processing a task.",
		}, func() float64 { return float64(workersBusy()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "promptchallenge",
			Name:      "workers_total",
			Help:      "Configured worker pool size.",
		}, func() float64 { return float64(workersTotal) }),
	)
}

// ObserveAttempt increments the attempt counter for the given final verdict.
func (c *Collectors) ObserveAttempt(finalVerdict string) {
	c.AttemptsTotal.WithLabelValues(finalVerdict).Inc()
}

// ObserveClaim increments the claim counter for poolID.
func (c *Collectors) ObserveClaim(poolID string) {
	c.ClaimsTotal.WithLabelValues(poolID).Inc()
}
