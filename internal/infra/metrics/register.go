package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once
	pending      []prometheus.Collector
)

// register queues collectors from the init funcs of this package. Nothing
// reaches the default registry until MustRegister runs, so a process with
// metrics disabled exposes none of them.
func register(cs ...prometheus.Collector) {
	pending = append(pending, cs...)
}

// MustRegister publishes the queued collectors. Calling it again is a no-op.
func MustRegister() {
	registerOnce.Do(func() {
		for _, c := range pending {
			prometheus.MustRegister(c)
		}
	})
}

// norm keeps label values in one spelling.
func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
