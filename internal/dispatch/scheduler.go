// Package dispatch orchestrates dispatch cycles: it pulls a batch from the
// queue on each tick, sends every entry through the configured transport and
// records each outcome before moving on.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/notifyq/internal/queue"
	"github.com/bissquit/notifyq/internal/ratelimit"
	"github.com/bissquit/notifyq/internal/sender"
)

// Skip reasons reported in CycleResult.
const (
	ReasonCycleInProgress = "cycle_in_progress"
	ReasonRateLimited     = "rate_limited"
)

// SchedulerConfig contains dispatch scheduler configuration.
type SchedulerConfig struct {
	TenantID  string
	BatchSize int
}

// Scheduler runs dispatch cycles for a single tenant's queue. Each scheduler
// owns its own mutex, so independent tenants dispatch concurrently without
// blocking each other.
type Scheduler struct {
	config  SchedulerConfig
	core    *queue.Core
	limiter *ratelimit.Limiter
	sender  sender.Sender

	// mu guards the whole cycle. A tick arriving while a cycle is still
	// running is skipped entirely, never queued.
	mu sync.Mutex
}

// NewScheduler creates a dispatch scheduler.
func NewScheduler(config SchedulerConfig, core *queue.Core, limiter *ratelimit.Limiter, snd sender.Sender) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	return &Scheduler{
		config:  config,
		core:    core,
		limiter: limiter,
		sender:  snd,
	}
}

// TenantID returns the tenant this scheduler dispatches for.
func (s *Scheduler) TenantID() string {
	return s.config.TenantID
}

// CycleResult summarizes one dispatch cycle.
type CycleResult struct {
	TenantID   string `json:"tenant_id"`
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
	QueueEmpty bool   `json:"queue_empty,omitempty"`
	BatchSize  int    `json:"batch_size"`
	Sent       int    `json:"sent"`
	Retried    int    `json:"retried"`
	Failed     int    `json:"failed"`
}

// RunCycle executes one dispatch cycle. Entries are processed strictly in
// the order Dequeue returned them, one at a time; an individual send failure
// never aborts the batch. Safe to invoke with no new entries.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	result := CycleResult{TenantID: s.config.TenantID}

	if !s.mu.TryLock() {
		result.Skipped = true
		result.Reason = ReasonCycleInProgress
		recordCycle(s.config.TenantID, "skipped_busy")
		return result, nil
	}
	defer s.mu.Unlock()

	ok, err := s.limiter.CanDispatch(ctx, s.config.TenantID)
	if err != nil {
		recordCycle(s.config.TenantID, "error")
		return result, fmt.Errorf("rate gate: %w", err)
	}
	if !ok {
		result.Skipped = true
		result.Reason = ReasonRateLimited
		recordCycle(s.config.TenantID, "skipped_rate_limited")
		return result, nil
	}

	batch, err := s.core.Dequeue(ctx, s.config.TenantID, s.config.BatchSize)
	if err != nil {
		recordCycle(s.config.TenantID, "error")
		return result, fmt.Errorf("dequeue: %w", err)
	}
	if len(batch) == 0 {
		result.QueueEmpty = true
		recordCycle(s.config.TenantID, "queue_empty")
		return result, nil
	}
	result.BatchSize = len(batch)

	for _, entry := range batch {
		s.processEntry(ctx, entry, &result)
	}

	if err := s.limiter.RecordDispatch(ctx, s.config.TenantID, len(batch)); err != nil {
		// The batch already went out; failing the cycle here would only
		// hide the summary. The next gate check sees the stale window.
		slog.Error("failed to record dispatch", "tenant_id", s.config.TenantID, "error", err)
	}

	recordCycle(s.config.TenantID, "completed")

	slog.Info("dispatch cycle completed",
		"tenant_id", s.config.TenantID,
		"batch_size", result.BatchSize,
		"sent", result.Sent,
		"retried", result.Retried,
		"failed", result.Failed,
	)

	return result, nil
}

// processEntry sends one entry and records its outcome. Every error path is
// contained to this entry.
func (s *Scheduler) processEntry(ctx context.Context, entry *queue.Entry, result *CycleResult) {
	tenantID := s.config.TenantID

	err := s.core.UpdateStatus(ctx, tenantID, entry.QueueID, queue.StatusSending, queue.StatusMeta{})
	if err != nil {
		// Entry stays dispatchable and is picked up again next cycle.
		slog.Error("failed to mark entry sending", "queue_id", entry.QueueID, "error", err)
		return
	}

	start := time.Now()
	sendErr := s.sender.Send(ctx, entry.Payload)
	duration := time.Since(start)

	if sendErr == nil {
		if err := s.core.UpdateStatus(ctx, tenantID, entry.QueueID, queue.StatusSent, queue.StatusMeta{}); err != nil {
			// The message went out but the entry still reads sending, so a
			// later cycle will re-dispatch it. Delivery is at-least-once.
			slog.Error("failed to mark entry sent", "queue_id", entry.QueueID, "error", err)
		}
		result.Sent++
		recordDispatched(s.sender.Name(), "sent")
		recordSendDuration(s.sender.Name(), duration)

		slog.Debug("entry sent",
			"queue_id", entry.QueueID,
			"transport", s.sender.Name(),
			"duration", duration,
		)
		return
	}

	s.handleSendError(ctx, entry, sendErr, result)
}

func (s *Scheduler) handleSendError(ctx context.Context, entry *queue.Entry, sendErr error, result *CycleResult) {
	tenantID := s.config.TenantID

	slog.Warn("send failed",
		"queue_id", entry.QueueID,
		"transport", s.sender.Name(),
		"attempt", entry.RetryCount+1,
		"max_retries", entry.MaxRetries,
		"error", sendErr,
	)

	meta := queue.StatusMeta{
		SendError: &queue.SendError{
			Code:    sender.StatusCode(sendErr),
			Message: sendErr.Error(),
		},
	}

	if sender.IsRetryable(sendErr) && entry.RetryCount < entry.MaxRetries {
		if err := s.core.UpdateStatus(ctx, tenantID, entry.QueueID, queue.StatusRetry, meta); err != nil {
			slog.Error("failed to mark entry for retry", "queue_id", entry.QueueID, "error", err)
		}
		result.Retried++
		recordDispatched(s.sender.Name(), "retry")
		return
	}

	if err := s.core.UpdateStatus(ctx, tenantID, entry.QueueID, queue.StatusFailed, meta); err != nil {
		slog.Error("failed to mark entry failed", "queue_id", entry.QueueID, "error", err)
	}
	result.Failed++
	recordDispatched(s.sender.Name(), "failed")
}
