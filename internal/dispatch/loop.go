package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Loop drives schedulers on a fixed tick. Each tenant's scheduler runs in
// its own goroutine so a slow tenant never delays the others.
type Loop struct {
	interval   time.Duration
	schedulers []*Scheduler

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLoop creates a dispatch loop ticking every interval.
func NewLoop(interval time.Duration, schedulers ...*Scheduler) *Loop {
	return &Loop{
		interval:   interval,
		schedulers: schedulers,
		stopCh:     make(chan struct{}),
	}
}

// Start launches one dispatch goroutine per scheduler.
func (l *Loop) Start(ctx context.Context) {
	slog.Info("starting dispatch loop",
		"tenants", len(l.schedulers),
		"tick_interval", l.interval,
	)

	for _, sched := range l.schedulers {
		l.wg.Add(1)
		go l.run(ctx, sched)
	}
}

// Stop gracefully stops all dispatch goroutines, waiting for any in-flight
// cycle to finish.
func (l *Loop) Stop() {
	close(l.stopCh)
	l.wg.Wait()
	slog.Info("dispatch loop stopped")
}

func (l *Loop) run(ctx context.Context, sched *Scheduler) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			if _, err := sched.RunCycle(ctx); err != nil {
				slog.Error("dispatch cycle failed",
					"tenant_id", sched.TenantID(),
					"error", err,
				)
			}
		}
	}
}
