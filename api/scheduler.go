/*
scheduler.go - Automated renewal reminder scheduler

PURPOSE:
  Periodically runs the reminder batch so holders are told, once per day,
  that a policy, license or certificate is about to expire.

DESIGN:
  - Runs a background goroutine with configurable interval (default: 24h)
  - Runs once immediately on start, then on every tick
  - Never overlaps itself: a tick or manual trigger that arrives while a
    run is in flight is refused with renewal.ErrRunInProgress
  - Stop cancels the in-flight run; the runner finishes the current
    candidate and returns
  - Keeps the last run for the /api/reminders/last-run endpoint

  Cross-process overlap is the runner's concern (renewal.RunLock, backed
  by Redis when configured).

USAGE:
  scheduler := NewReminderScheduler(runner, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunReminders endpoint (manual trigger)
  - renewal/reminder.go: ReminderRunner
*/
package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/warp/renewal-engine/renewal"
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// ReminderScheduler handles automated reminder runs.
type ReminderScheduler struct {
	Runner   *renewal.ReminderRunner
	Interval time.Duration
	Enabled  bool
	Logger   *zap.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running atomic.Bool

	lastMu  sync.RWMutex
	lastRun *RunDTO
}

// NewReminderScheduler creates a new scheduler.
func NewReminderScheduler(runner *renewal.ReminderRunner, logger *zap.Logger) *ReminderScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReminderScheduler{
		Runner:   runner,
		Interval: 24 * time.Hour,
		Enabled:  true,
		Logger:   logger.Named("scheduler"),
	}
}

// Start begins the scheduler.
func (rs *ReminderScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.stop = make(chan struct{})
	rs.ticker = time.NewTicker(rs.Interval)
	rs.wg.Add(1)

	go rs.run(ctx)

	rs.Logger.Info("started", zap.Duration("interval", rs.Interval))
}

// Stop stops the scheduler and waits for an in-flight run to return.
func (rs *ReminderScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	rs.cancel()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.Logger.Info("stopped")
}

func (rs *ReminderScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.tick(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.tick(ctx)
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReminderScheduler) tick(ctx context.Context) {
	if _, err := rs.execute(ctx, TriggerScheduled); err != nil {
		rs.Logger.Warn("scheduled run finished with errors", zap.Error(err))
	}
}

// RunNow triggers an immediate run and waits for it.
func (rs *ReminderScheduler) RunNow(ctx context.Context) (renewal.RunSummary, error) {
	return rs.execute(ctx, TriggerManual)
}

func (rs *ReminderScheduler) execute(ctx context.Context, trigger string) (renewal.RunSummary, error) {
	if !rs.running.CompareAndSwap(false, true) {
		return renewal.RunSummary{}, renewal.ErrRunInProgress
	}
	defer rs.running.Store(false)

	rs.Logger.Info("run starting", zap.String("trigger", trigger))
	summary, err := rs.Runner.RunAll(ctx)

	record := &RunDTO{Trigger: trigger, Summary: summary}
	if err != nil {
		record.Error = err.Error()
	}
	// A run refused by the cross-process lock did nothing worth reporting.
	if !renewal.IsConflict(err) {
		rs.lastMu.Lock()
		rs.lastRun = record
		rs.lastMu.Unlock()
	}

	rs.Logger.Info("run finished",
		zap.String("trigger", trigger),
		zap.String("run_id", summary.RunID),
		zap.Int("processed", summary.Total.Processed),
		zap.Int("successful", summary.Total.Successful),
		zap.Int("errors", summary.Total.Errors),
		zap.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, err
}

// LastRun returns the most recent completed run, or nil.
func (rs *ReminderScheduler) LastRun() *RunDTO {
	rs.lastMu.RLock()
	defer rs.lastMu.RUnlock()
	if rs.lastRun == nil {
		return nil
	}
	cp := *rs.lastRun
	return &cp
}

// GetNextRunTime returns when the next scheduled run will occur.
func (rs *ReminderScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(rs.Interval)
}
