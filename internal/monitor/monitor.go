// Package monitor aggregates queue and rate limiter state into a flat
// metrics record for external telemetry and dashboards.
package monitor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bissquit/notifyq/internal/queue"
	"github.com/bissquit/notifyq/internal/ratelimit"
)

// Snapshot is one monitoring sample. Field names and units are part of the
// external contract: dashboards key on them, do not rename.
type Snapshot struct {
	TenantID string `json:"tenant_id"`

	Pending    int `json:"pending"`
	Sending    int `json:"sending"`
	Sent       int `json:"sent"`
	Retry      int `json:"retry"`
	Failed     int `json:"failed"`
	QueueDepth int `json:"queue_depth"`

	DepthByTier map[string]int `json:"depth_by_tier"`

	// SecondsSinceLastDispatch is -1 when no dispatch was recorded yet.
	SecondsSinceLastDispatch int64 `json:"seconds_since_last_dispatch"`
	DispatchAllowed          bool  `json:"dispatch_allowed"`
	BatchCount               int64 `json:"batch_count"`
	EntryCount               int64 `json:"entry_count"`
}

// Monitor samples queue and rate limiter state. Read-only: safe to call
// concurrently with a running dispatch cycle.
type Monitor struct {
	core    *queue.Core
	limiter *ratelimit.Limiter

	now func() time.Time
}

// New creates a monitor over the given queue core and rate limiter.
func New(core *queue.Core, limiter *ratelimit.Limiter) *Monitor {
	return &Monitor{
		core:    core,
		limiter: limiter,
		now:     time.Now,
	}
}

// Sample combines queue statistics and rate limiter state into one flat
// record, and refreshes the prometheus queue gauges along the way.
func (m *Monitor) Sample(ctx context.Context, tenantID string) (*Snapshot, error) {
	stats, err := m.core.Stats(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	rateState, err := m.limiter.Snapshot(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("rate state: %w", err)
	}

	allowed, err := m.limiter.CanDispatch(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("rate gate: %w", err)
	}

	queue.RecordStats(stats)

	snapshot := &Snapshot{
		TenantID:                 tenantID,
		Pending:                  stats.ByStatus[queue.StatusPending],
		Sending:                  stats.ByStatus[queue.StatusSending],
		Sent:                     stats.ByStatus[queue.StatusSent],
		Retry:                    stats.ByStatus[queue.StatusRetry],
		Failed:                   stats.ByStatus[queue.StatusFailed],
		QueueDepth:               stats.Depth(),
		DepthByTier:              make(map[string]int, len(stats.DepthByTier)),
		SecondsSinceLastDispatch: -1,
		DispatchAllowed:          allowed,
		BatchCount:               rateState.BatchCount,
		EntryCount:               rateState.EntryCount,
	}

	for tier, depth := range stats.DepthByTier {
		snapshot.DepthByTier[strconv.Itoa(tier)] = depth
	}

	if !rateState.LastDispatchAt.IsZero() {
		snapshot.SecondsSinceLastDispatch = int64(m.now().Sub(rateState.LastDispatchAt).Seconds())
	}

	return snapshot, nil
}
