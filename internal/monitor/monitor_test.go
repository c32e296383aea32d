package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/notifyq/internal/kvstore/memory"
	"github.com/bissquit/notifyq/internal/queue"
	"github.com/bissquit/notifyq/internal/ratelimit"
)

type fixedResolver int

func (r fixedResolver) Resolve(context.Context, string, string, string) int { return int(r) }

func newTestMonitor(t *testing.T, tier int, minInterval time.Duration) (*Monitor, *queue.Core, *ratelimit.Limiter) {
	t.Helper()

	store := memory.New()
	core := queue.NewCore(queue.CoreConfig{MaxTier: 4, MaxRetries: 3}, store, fixedResolver(tier))
	limiter := ratelimit.NewLimiter(store, minInterval)
	return New(core, limiter), core, limiter
}

func enqueueOne(t *testing.T, core *queue.Core, text string) *queue.Entry {
	t.Helper()

	entry, err := core.Normalize(context.Background(),
		queue.RawMessage{Text: text},
		queue.Origin{TenantID: "tenant-a", OriginID: "host-1"},
	)
	require.NoError(t, err)
	_, err = core.Enqueue(context.Background(), entry)
	require.NoError(t, err)
	return entry
}

func TestMonitor_SampleEmpty(t *testing.T) {
	m, _, _ := newTestMonitor(t, 2, time.Minute)

	snap, err := m.Sample(context.Background(), "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, "tenant-a", snap.TenantID)
	assert.Zero(t, snap.QueueDepth)
	assert.Equal(t, int64(-1), snap.SecondsSinceLastDispatch, "no dispatch recorded yet")
	assert.True(t, snap.DispatchAllowed)
	assert.Zero(t, snap.BatchCount)
}

func TestMonitor_SampleCounts(t *testing.T) {
	m, core, _ := newTestMonitor(t, 2, time.Minute)
	ctx := context.Background()

	sent := enqueueOne(t, core, "sent")
	retried := enqueueOne(t, core, "retried")
	enqueueOne(t, core, "pending")

	require.NoError(t, core.UpdateStatus(ctx, "tenant-a", sent.QueueID, queue.StatusSending, queue.StatusMeta{}))
	require.NoError(t, core.UpdateStatus(ctx, "tenant-a", sent.QueueID, queue.StatusSent, queue.StatusMeta{}))

	require.NoError(t, core.UpdateStatus(ctx, "tenant-a", retried.QueueID, queue.StatusSending, queue.StatusMeta{}))
	require.NoError(t, core.UpdateStatus(ctx, "tenant-a", retried.QueueID, queue.StatusRetry, queue.StatusMeta{}))

	snap, err := m.Sample(ctx, "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Pending)
	assert.Equal(t, 1, snap.Sent)
	assert.Equal(t, 1, snap.Retry)
	assert.Zero(t, snap.Failed)
	assert.Equal(t, 2, snap.QueueDepth)
	assert.Equal(t, 2, snap.DepthByTier["2"], "tier keys are strings for stable JSON")
}

func TestMonitor_SampleRateState(t *testing.T) {
	m, _, limiter := newTestMonitor(t, 1, time.Hour)
	ctx := context.Background()

	require.NoError(t, limiter.RecordDispatch(ctx, "tenant-a", 4))

	// A fixed clock pins the elapsed time
	m.now = func() time.Time { return time.Now().Add(90 * time.Second) }

	snap, err := m.Sample(ctx, "tenant-a")
	require.NoError(t, err)

	assert.False(t, snap.DispatchAllowed, "inside the rate window")
	assert.Equal(t, int64(1), snap.BatchCount)
	assert.Equal(t, int64(4), snap.EntryCount)
	assert.InDelta(t, 90, snap.SecondsSinceLastDispatch, 2)
}
