// Package ratelimit gates dispatch cycles per tenant. It is a fixed-window
// gate, not a token bucket: only the gap between consecutive dispatch cycles
// is enforced, bursts within a cycle are bounded by the batch size.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/notifyq/internal/kvstore"
)

// stateKey is the tenant-scoped storage key holding the rate state.
const stateKey = "queue:rate"

// State is the persisted per-tenant rate limit state. Mutated only by the
// dispatch scheduler, read by the monitor.
type State struct {
	LastDispatchAt time.Time `json:"last_dispatch_at"`
	BatchCount     int64     `json:"batch_count"`
	EntryCount     int64     `json:"entry_count"`
}

// Limiter enforces a minimum interval between dispatch cycles.
type Limiter struct {
	store       kvstore.Store
	minInterval time.Duration

	now func() time.Time
}

// NewLimiter creates a limiter with the given minimum interval between
// dispatches.
func NewLimiter(store kvstore.Store, minInterval time.Duration) *Limiter {
	return &Limiter{
		store:       store,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// CanDispatch reports whether a new dispatch cycle may proceed: true iff at
// least minInterval passed since the last recorded dispatch, or none was
// recorded yet.
func (l *Limiter) CanDispatch(ctx context.Context, tenantID string) (bool, error) {
	state, err := l.Snapshot(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if state.LastDispatchAt.IsZero() {
		return true, nil
	}
	return l.now().Sub(state.LastDispatchAt) >= l.minInterval, nil
}

// RecordDispatch persists the completion of a dispatch cycle: updates the
// last dispatch time and increments the batch counter.
func (l *Limiter) RecordDispatch(ctx context.Context, tenantID string, batchSize int) error {
	err := l.store.Update(ctx, tenantID, stateKey, func(current string, found bool) (string, error) {
		var state State
		if found {
			if err := json.Unmarshal([]byte(current), &state); err != nil {
				return "", fmt.Errorf("decode rate state: %w", err)
			}
		}
		state.LastDispatchAt = l.now().UTC()
		state.BatchCount++
		state.EntryCount += int64(batchSize)

		data, err := json.Marshal(state)
		if err != nil {
			return "", fmt.Errorf("encode rate state: %w", err)
		}
		return string(data), nil
	})
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// Snapshot returns the current rate state. A tenant with no recorded
// dispatch yet gets a zero state.
func (l *Limiter) Snapshot(ctx context.Context, tenantID string) (State, error) {
	blob, err := l.store.Get(ctx, tenantID, stateKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("load rate state: %w", err)
	}

	var state State
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return State{}, fmt.Errorf("decode rate state: %w", err)
	}
	return state, nil
}

// MinInterval returns the configured minimum interval between dispatches.
func (l *Limiter) MinInterval() time.Duration {
	return l.minInterval
}
