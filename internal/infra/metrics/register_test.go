package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMustRegister(t *testing.T) {
	MustRegister()
	MustRegister() // a second call must not re-register

	IncJob(" Delivered ")

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var delivered float64
	for _, mf := range mfs {
		if mf.GetName() != "whatsapp_jobs_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() == OutcomeDelivered {
					delivered = m.GetCounter().GetValue()
				}
			}
		}
	}
	if delivered < 1 {
		t.Fatalf("delivered = %v, want the normalized label to be counted", delivered)
	}
}
