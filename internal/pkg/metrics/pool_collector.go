package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// RecordStorePoolMetrics updates postgres storage pool metrics.
func RecordStorePoolMetrics(pool *pgxpool.Pool) {
	stats := pool.Stat()

	StorePoolConnections.WithLabelValues("in_use").Set(float64(stats.AcquiredConns()))
	StorePoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns()))
	StorePoolConnections.WithLabelValues("max").Set(float64(stats.MaxConns()))
}
