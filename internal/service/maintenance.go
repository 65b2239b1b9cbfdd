package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/internal/queue"
	"github.com/Guizzs26/tdee-sync/pkg/metrics"
)

const deadLetterReason = "max_retries_exceeded"

var ErrForeignOperation = errors.New("operation belongs to another user")

// ListQueue returns the pending operations in FIFO order
func (e *Engine) ListQueue() []models.QueuedOperation {
	return e.queue.List()
}

// ClearQueue drops every pending operation without contacting the backend
func (e *Engine) ClearQueue(ctx context.Context) error {
	if err := e.queue.Clear(ctx); err != nil {
		return err
	}
	e.refreshGauges()
	return nil
}

// RemoveStuck removes operations with retries >= maxRetries. A non-positive
// maxRetries uses the engine's configured limit. Removed operations are
// handed to the dead-letter publisher when one is configured.
func (e *Engine) RemoveStuck(ctx context.Context, maxRetries int) ([]models.QueuedOperation, error) {
	if maxRetries <= 0 {
		maxRetries = e.maxRetries
	}

	removed, err := e.queue.RemoveStuck(ctx, maxRetries)
	if err != nil {
		return nil, err
	}
	e.refreshGauges()

	if e.publisher == nil {
		return removed, nil
	}
	for _, op := range removed {
		if err := e.publisher.PublishDeadLetter(ctx, op, deadLetterReason); err != nil {
			metrics.DeadLettersPublished.WithLabelValues("error").Inc()
			e.logger.Error("Failed to publish dead letter",
				"operation_id", op.ID,
				"date", op.Data.Date,
				"error", err,
			)
			continue
		}
		metrics.DeadLettersPublished.WithLabelValues("sent").Inc()
	}
	return removed, nil
}

// FilterInvalid drops queued operations that could never be sent
func (e *Engine) FilterInvalid(ctx context.Context) (queue.FilterResult, error) {
	res, err := e.queue.FilterInvalid(ctx, queue.ValidOperation)
	if err != nil {
		return queue.FilterResult{}, err
	}
	e.refreshGauges()
	return res, nil
}

// Requeue puts a previously removed operation back at the tail of the queue
// with a fresh id and zero retries. It is used to replay archived dead
// letters and only accepts operations of the signed-in user.
func (e *Engine) Requeue(ctx context.Context, op models.QueuedOperation) (string, error) {
	if !queue.ValidOperation(op) {
		return "", fmt.Errorf("%w: %s", queue.ErrInvalidOperation, op.ID)
	}
	user := e.gate.CurrentUser()
	if !e.gate.IsAuthenticated() || user == nil {
		return "", ErrNotAuthenticated
	}
	if op.Data.UserID != user.ID {
		return "", fmt.Errorf("%w: %s", ErrForeignOperation, op.ID)
	}

	id, err := e.queue.Enqueue(ctx, op.Type, op.Table, op.Data, op.LocalID)
	if err != nil {
		return "", err
	}
	metrics.OperationsEnqueued.WithLabelValues(string(op.Type)).Inc()
	e.refreshGauges()

	e.logger.Info("Operation requeued", "previous_id", op.ID, "id", id, "date", op.Data.Date)
	return id, nil
}

// ListErrors returns the error history oldest first
func (e *Engine) ListErrors() []models.ErrorEntry {
	return e.history.List()
}

func (e *Engine) ClearErrors(ctx context.Context) error {
	return e.history.Clear(ctx)
}

// Entries returns local records in [from, to], oldest first
func (e *Engine) Entries(ctx context.Context, from, to string) ([]models.DailyRecord, error) {
	return e.store.ListRange(ctx, from, to)
}
