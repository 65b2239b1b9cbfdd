package service

import (
	"context"
	"time"

	"github.com/Guizzs26/tdee-sync/pkg/infra"
)

// RunConfig drives the periodic scheduler
type RunConfig struct {
	Interval            time.Duration
	MaintenanceInterval time.Duration
	BackoffMin          time.Duration
	BackoffMax          time.Duration
	// BackoffJitter is the ± fraction applied to each backoff wait. Zero
	// selects infra.DefaultBackoffJitter.
	BackoffJitter float64
}

func (c RunConfig) withDefaults() RunConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 5 * time.Minute
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = c.Interval
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = c.BackoffMin
	}
	if c.BackoffJitter <= 0 {
		c.BackoffJitter = infra.DefaultBackoffJitter
	}
	return c
}

// Run drains the queue every Interval until ctx ends. After a drain with
// failures the next attempt waits an exponentially growing, jittered delay
// instead. A janitor refreshes the backlog gauges and warns about stuck
// operations every MaintenanceInterval.
func (e *Engine) Run(ctx context.Context, cfg RunConfig) {
	cfg = cfg.withDefaults()

	janitorDone := make(chan struct{})
	go e.runMaintenance(ctx, cfg.MaintenanceInterval, janitorDone)
	defer func() { <-janitorDone }()

	backoff := infra.NewBackoff(cfg.BackoffMin, cfg.BackoffMax, infra.WithJitter(cfg.BackoffJitter))
	capped := false

	for {
		wait := cfg.Interval

		res := e.SyncAll(ctx)
		switch {
		case res.Skipped != SkipNone:
			// nothing ran, keep the regular cadence
		case res.Failed > 0:
			wait = backoff.Next()
			e.logger.Warn("Drain had failures, backing off",
				"failed", res.Failed,
				"retry_in", wait,
				"attempt", backoff.Attempts(),
				"next_base", backoff.Peek(),
			)
			if backoff.Saturated() && !capped {
				capped = true
				e.logger.Error("Drain keeps failing at the maximum backoff",
					"max_delay", cfg.BackoffMax,
					"backlog", e.queue.Len(),
				)
			}
		default:
			backoff.Reset()
			capped = false
		}

		select {
		case <-ctx.Done():
			e.logger.Info("👋 Shutting down sync scheduler...")
			return
		case <-time.After(wait):
		}
	}
}

func (e *Engine) runMaintenance(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.refreshGauges()
			if stuck := e.queue.StuckCount(e.maxRetries); stuck > 0 {
				e.logger.Warn("🧹 Janitor: operations stuck at retry limit",
					"count", stuck,
					"max_retries", e.maxRetries,
				)
			}
		case <-ctx.Done():
			e.logger.Info("🛑 Janitor: Stopping maintenance goroutine")
			return
		}
	}
}
