package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notifyq"

var (
	dispatchCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "cycles_total",
			Help:      "Total dispatch cycles by result",
		},
		[]string{"tenant", "result"},
	)

	entriesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "entries_total",
			Help:      "Total dispatch attempts by outcome",
		},
		[]string{"transport", "outcome"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "send_duration_seconds",
			Help:      "Time to send one notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"transport"},
	)
)

func recordCycle(tenantID, result string) {
	dispatchCycles.WithLabelValues(tenantID, result).Inc()
}

func recordDispatched(transport, outcome string) {
	entriesDispatched.WithLabelValues(transport, outcome).Inc()
}

func recordSendDuration(transport string, duration time.Duration) {
	sendDuration.WithLabelValues(transport).Observe(duration.Seconds())
}
