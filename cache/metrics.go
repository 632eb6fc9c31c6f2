package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	lookups       *prometheus.CounterVec
	invalidations prometheus.Counter
	writeBacks    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entity",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		invalidations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "entity",
			Subsystem: "cache",
			Name:      "invalidated_keys_total",
			Help:      "Keys removed by entity invalidation.",
		}),
		writeBacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entity",
			Subsystem: "cache",
			Name:      "write_backs_total",
			Help:      "Pending entries at scope close by outcome.",
		}, []string{"outcome"}),
	}
}
