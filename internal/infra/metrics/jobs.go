package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsTotal, deliveryLatency) }

// Job outcomes recorded by the dispatch worker.
const (
	OutcomeDelivered    = "delivered"
	OutcomeRequeued     = "requeued"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeDropped      = "dropped"
	OutcomeDeferred     = "deferred" // session not ready
	OutcomeLost         = "lost"     // write-back failed
)

var jobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "whatsapp_jobs_total",
		Help: "Jobs handled by the dispatch worker, labeled by outcome.",
	},
	[]string{"outcome"},
)

var deliveryLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "whatsapp_delivery_seconds",
		Help:    "Latency of send attempts against the messaging session.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	},
	[]string{"success"},
)

func IncJob(outcome string) {
	jobsTotal.WithLabelValues(norm(outcome)).Inc()
}

func ObserveDelivery(d time.Duration, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	deliveryLatency.WithLabelValues(label).Observe(d.Seconds())
}
