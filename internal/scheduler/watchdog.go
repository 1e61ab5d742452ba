package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WatchdogStore is the narrow view of the job store the watchdog needs.
type WatchdogStore interface {
	FailStaleJobs(ctx context.Context, startedBefore time.Time) ([]uuid.UUID, error)
}

// WatchdogConfig holds watchdog tunables.
type WatchdogConfig struct {
	Interval   time.Duration
	JobTimeout time.Duration
}

// DefaultWatchdogConfig returns the default watchdog configuration.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		Interval:   2 * time.Minute,
		JobTimeout: 30 * time.Minute,
	}
}

// Watchdog independently scans for jobs stuck in running beyond the time budget and
// force-fails them. It is the only mechanism that terminates a job its worker lost
// track of (process restart mid-run, engine call that never returns). Racing the
// scheduler is safe: terminal transitions are guarded on current status.
type Watchdog struct {
	store WatchdogStore
	cfg   WatchdogConfig
	now   func() time.Time
}

// NewWatchdog creates a watchdog. Zero or negative config values fall back to
// defaults.
func NewWatchdog(store WatchdogStore, cfg WatchdogConfig) *Watchdog {
	defaults := DefaultWatchdogConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaults.JobTimeout
	}
	return &Watchdog{store: store, cfg: cfg, now: time.Now}
}

// Run scans on the configured interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	fmt.Printf("Watchdog started (interval %s, job timeout %s)\n", w.cfg.Interval, w.cfg.JobTimeout)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep reaps every running job whose started_at precedes now minus the budget.
func (w *Watchdog) Sweep(ctx context.Context) {
	cutoff := w.now().Add(-w.cfg.JobTimeout)
	ids, err := w.store.FailStaleJobs(ctx, cutoff)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Printf("Warning: watchdog sweep failed: %v\n", err)
		}
		return
	}
	for _, id := range ids {
		fmt.Printf("Watchdog: job %s exceeded time budget, marked failed\n", id)
	}
}
