package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(sessionState, sessionRestarts) }

var sessionState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "whatsapp_session_state",
		Help: "1 for the current session state, 0 for the others.",
	},
	[]string{"state"},
)

var sessionRestarts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "whatsapp_session_restarts_total",
		Help: "Capability bring-ups scheduled by the session lifecycle, labeled by cause.",
	},
	[]string{"cause"},
)

// SetSessionState flips the state gauge; known lists every state so stale
// series are zeroed.
func SetSessionState(current string, known []string) {
	for _, s := range known {
		v := 0.0
		if s == current {
			v = 1
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}

func IncSessionRestart(cause string) {
	sessionRestarts.WithLabelValues(norm(cause)).Inc()
}
