package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/notifyq/internal/kvstore/memory"
)

func newTestLimiter(t *testing.T, minInterval time.Duration) (*Limiter, *time.Time) {
	t.Helper()

	l := NewLimiter(memory.New(), minInterval)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_FirstDispatchAllowed(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute)

	ok, err := l.CanDispatch(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.True(t, ok, "a tenant with no recorded dispatch is never gated")
}

func TestLimiter_GateWindow(t *testing.T) {
	l, now := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.RecordDispatch(ctx, "tenant-a", 5))

	tests := []struct {
		name    string
		advance time.Duration
		want    bool
	}{
		{"immediately after", 0, false},
		{"just inside the window", 59 * time.Second, false},
		{"exactly at the boundary", time.Minute, true},
		{"past the window", 2 * time.Minute, true},
	}

	base := *now
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			*now = base.Add(tt.advance)

			ok, err := l.CanDispatch(ctx, "tenant-a")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestLimiter_RecordDispatchAccumulates(t *testing.T) {
	l, now := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.RecordDispatch(ctx, "tenant-a", 5))
	*now = now.Add(2 * time.Minute)
	require.NoError(t, l.RecordDispatch(ctx, "tenant-a", 3))

	state, err := l.Snapshot(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.BatchCount)
	assert.Equal(t, int64(8), state.EntryCount)
	assert.Equal(t, *now, state.LastDispatchAt)
}

func TestLimiter_SnapshotZeroState(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute)

	state, err := l.Snapshot(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.True(t, state.LastDispatchAt.IsZero())
	assert.Zero(t, state.BatchCount)
	assert.Zero(t, state.EntryCount)
}

func TestLimiter_TenantsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.RecordDispatch(ctx, "tenant-a", 1))

	ok, err := l.CanDispatch(ctx, "tenant-a")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.CanDispatch(ctx, "tenant-b")
	require.NoError(t, err)
	assert.True(t, ok, "one tenant's window does not gate another")
}

func TestLimiter_ZeroIntervalNeverGates(t *testing.T) {
	l, _ := newTestLimiter(t, 0)
	ctx := context.Background()

	require.NoError(t, l.RecordDispatch(ctx, "tenant-a", 1))

	ok, err := l.CanDispatch(ctx, "tenant-a")
	require.NoError(t, err)
	assert.True(t, ok)
}
