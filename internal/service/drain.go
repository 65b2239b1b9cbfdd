package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/internal/queue"
	"github.com/Guizzs26/tdee-sync/internal/remote"
	"github.com/Guizzs26/tdee-sync/pkg/metrics"
)

// SkipReason says why SyncAll returned without touching the queue
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipInProgress SkipReason = "in_progress"
	SkipCannotSync SkipReason = "cannot_sync"
	SkipOffline    SkipReason = "offline"
)

const MaxDrainMemoryThresholdMB = 20

type DrainResult struct {
	Skipped   SkipReason    `json:"skipped,omitempty"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`

	// Interrupted is set when ctx ended mid-drain; untouched operations stay queued
	Interrupted bool `json:"interrupted,omitempty"`
}

// SyncAll drains a snapshot of the queue against the backend in FIFO order.
// Each failure is isolated: the operation stays queued with one more retry
// and an error entry is appended, then the drain moves on.
func (e *Engine) SyncAll(ctx context.Context) (res DrainResult) {
	if !e.syncing.CompareAndSwap(false, true) {
		e.logger.Debug("Drain already in progress, skipping")
		metrics.DrainsSkipped.WithLabelValues(string(SkipInProgress)).Inc()
		return DrainResult{Skipped: SkipInProgress}
	}
	defer e.syncing.Store(false)

	if !e.online.Load() {
		metrics.DrainsSkipped.WithLabelValues(string(SkipOffline)).Inc()
		return DrainResult{Skipped: SkipOffline}
	}

	target, err := e.canSync(ctx)
	if err != nil {
		e.logger.Debug("Cannot sync right now", "reason", err)
		metrics.DrainsSkipped.WithLabelValues(string(SkipCannotSync)).Inc()
		return DrainResult{Skipped: SkipCannotSync}
	}

	start := e.now()
	snapshot := e.queue.List()

	defer func() {
		res.Duration = e.now().Sub(start)
		metrics.DrainDuration.Observe(res.Duration.Seconds())
		metrics.DrainSize.Observe(float64(res.Attempted))
		e.refreshGauges()

		if res.Attempted > 0 {
			e.logger.Info("Drain cycle telemetry",
				"attempted", res.Attempted,
				"succeeded", res.Succeeded,
				"failed", res.Failed,
				"remaining", e.queue.Len(),
				"duration_ms", res.Duration.Milliseconds(),
			)
		}
	}()

	e.warnHeavySnapshot(snapshot)

	for _, op := range snapshot {
		if ctx.Err() != nil {
			e.logger.Warn("Drain interrupted, remaining operations stay queued",
				"remaining", len(snapshot)-res.Attempted,
				"error", ctx.Err(),
			)
			res.Interrupted = true
			break
		}

		res.Attempted++
		l := e.logger.With("operation_id", op.ID, "type", op.Type, "date", op.Data.Date)

		if err := e.dispatch(ctx, target.backend, op); err != nil {
			res.Failed++
			metrics.OperationsProcessed.WithLabelValues("error", string(op.Type), op.Table).Inc()

			updated, found, qerr := e.queue.MarkFailed(ctx, op.ID)
			if qerr != nil {
				l.Error("Failed to record retry on queued operation", "error", qerr)
			}
			if _, herr := e.history.Append(ctx, "sync_"+string(op.Type), err, op); herr != nil {
				l.Error("Failed to append error history", "error", herr)
			}

			if found && updated.Retries >= e.maxRetries {
				l.Warn("Operation reached retry limit and needs manual cleanup",
					"retries", updated.Retries,
					"error", err,
				)
			} else {
				l.Warn("Operation failed, kept for next drain", "retries", updated.Retries, "error", err)
			}
			continue
		}

		res.Succeeded++
		metrics.OperationsProcessed.WithLabelValues("sent", string(op.Type), op.Table).Inc()

		// The backend write is idempotent, so a failed checkpoint only costs a resend
		if _, err := e.queue.Remove(ctx, op.ID); err != nil {
			l.Error("Operation sent but failed to remove it from the queue", "error", err)
		}
	}

	if res.Succeeded > 0 || len(snapshot) == 0 {
		e.setLastSync(ctx, e.now())
	}
	return res
}

func (e *Engine) dispatch(ctx context.Context, backend remote.Backend, op models.QueuedOperation) error {
	if _, ok := models.TableRegistry[op.Table]; !ok {
		return fmt.Errorf("%w: unknown table %q", queue.ErrInvalidOperation, op.Table)
	}

	id := remote.RowID{UserID: op.Data.UserID, Date: op.Data.Date}
	switch op.Type {
	case models.OpCreate:
		return backend.Insert(ctx, op.Data.RemoteRecord())
	case models.OpUpdate:
		return backend.Update(ctx, op.Data.RemoteRecord(), id)
	case models.OpDelete:
		return backend.Delete(ctx, id)
	default:
		return fmt.Errorf("%w: unknown type %q", queue.ErrInvalidOperation, op.Type)
	}
}

func (e *Engine) warnHeavySnapshot(snapshot []models.QueuedOperation) {
	var total int
	for _, op := range snapshot {
		total += op.EstimateBytes()
	}
	if mb := total / (1024 * 1024); mb > MaxDrainMemoryThresholdMB {
		e.logger.Warn("Heavy queue detected: memory pressure risk",
			"size_mb", mb,
			"threshold_mb", MaxDrainMemoryThresholdMB,
			"count", len(snapshot),
		)
	}
}
