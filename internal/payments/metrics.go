package payments

import "github.com/prometheus/client_golang/prometheus"

var (
	urlsBuilt = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paygate",
		Subsystem: "payment",
		Name:      "urls_built_total",
		Help:      "Total signed payment URLs built.",
	})

	callbacksReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paygate",
		Name:      "callbacks_total",
		Help:      "Total gateway callbacks by channel and verification reason.",
	}, []string{"channel", "reason"}) // channel: "return", "ipn"

	transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paygate",
		Name:      "transitions_total",
		Help:      "Total payment state transitions by target state.",
	}, []string{"to"})

	pendingExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paygate",
		Name:      "pending_expired_total",
		Help:      "Total pending attempts expired by the sweeper.",
	})
)

func init() {
	prometheus.MustRegister(
		urlsBuilt,
		callbacksReceived,
		transitions,
		pendingExpired,
	)
}
