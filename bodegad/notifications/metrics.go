package notifications

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSent   = "sent"
	ResultFailed = "failed"
)

type Metrics struct {
	DispatchedCount *prometheus.CounterVec
}

// NewMetrics registers the dispatcher's counters. A nil registerer yields an
// unregistered (but usable) set, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{
		DispatchedCount: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "bodegad",
			Subsystem: "notifications",
			Name:      "dispatched_total",
			Help:      "Count of dispatch attempts by terminal result.",
		}, []string{"result"}),
	}
}
