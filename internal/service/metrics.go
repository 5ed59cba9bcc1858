package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	OrdersCreated    prometheus.Counter
	OrderTransitions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders committed in PENDING status.",
		}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Committed order status transitions by target status.",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(m.OrdersCreated, m.OrderTransitions)
	}

	return m
}
