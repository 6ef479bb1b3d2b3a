package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(queueDepth) }

var queueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "whatsapp_queue_depth",
		Help: "Number of payloads waiting in each queue.",
	},
	[]string{"queue"},
)

func SetQueueDepth(queue string, n int64) {
	queueDepth.WithLabelValues(queue).Set(float64(n))
}
