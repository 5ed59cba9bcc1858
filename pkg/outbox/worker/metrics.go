package worker

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Processed        *prometheus.CounterVec
	Failed           *prometheus.CounterVec
	Quarantined      *prometheus.CounterVec
	QuarantinedTotal prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_processed_total",
			Help: "Outbox events whose handlers all succeeded.",
		}, []string{"event_type"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_failed_total",
			Help: "Outbox delivery attempts that failed and were scheduled for retry.",
		}, []string{"event_type"}),
		Quarantined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_quarantined_total",
			Help: "Outbox events that exhausted their retry budget.",
		}, []string{"event_type"}),
		QuarantinedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_quarantined_events",
			Help: "Outbox events currently waiting for operator action.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Processed, m.Failed, m.Quarantined, m.QuarantinedTotal)
	}

	return m
}
