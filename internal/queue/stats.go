package queue

import (
	"context"
	"fmt"
)

// Stats is a point-in-time aggregate over a tenant's queue. It is never
// persisted: every call recomputes it from the authoritative entries.
type Stats struct {
	TenantID    string         `json:"tenant_id"`
	Total       int            `json:"total"`
	ByStatus    map[Status]int `json:"by_status"`
	DepthByTier map[int]int    `json:"depth_by_tier"`
}

// Depth returns the number of entries currently awaiting dispatch.
func (s *Stats) Depth() int {
	return s.ByStatus[StatusPending] + s.ByStatus[StatusRetry]
}

// Stats recomputes queue statistics for a tenant by scanning index
// membership and stored entry statuses. Read-only.
func (c *Core) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	stats := &Stats{
		TenantID:    tenantID,
		ByStatus:    make(map[Status]int, len(Statuses)),
		DepthByTier: make(map[int]int, c.config.MaxTier),
	}
	for _, status := range Statuses {
		stats.ByStatus[status] = 0
	}

	for tier := 1; tier <= c.config.MaxTier; tier++ {
		ids, err := c.readIndex(ctx, tenantID, indexKey(tier))
		if err != nil {
			return nil, err
		}
		stats.DepthByTier[tier] = len(ids)
	}

	ids, err := c.readIndex(ctx, tenantID, allIDsKey)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return stats, nil
	}

	entries, err := c.loadEntries(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("load entries for stats: %w", err)
	}

	for _, entry := range entries {
		stats.Total++
		stats.ByStatus[entry.Status]++
	}

	return stats, nil
}
