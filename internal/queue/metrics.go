package queue

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notifyq"

var (
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "entries",
			Help:      "Number of queue entries by status",
		},
		[]string{"tenant", "status"},
	)

	queueTierDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "tier_depth",
			Help:      "Number of indexed entries per priority tier",
		},
		[]string{"tenant", "tier"},
	)

	entriesEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total entries accepted into the queue",
		},
		[]string{"tier"},
	)
)

// recordEnqueued records an accepted entry.
func recordEnqueued(tier int) {
	entriesEnqueued.WithLabelValues(strconv.Itoa(tier)).Inc()
}

// RecordStats updates queue gauges from a stats snapshot.
func RecordStats(stats *Stats) {
	for status, count := range stats.ByStatus {
		queueDepth.WithLabelValues(stats.TenantID, string(status)).Set(float64(count))
	}
	for tier, depth := range stats.DepthByTier {
		queueTierDepth.WithLabelValues(stats.TenantID, strconv.Itoa(tier)).Set(float64(depth))
	}
}
