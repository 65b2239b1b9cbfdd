// Package queue keeps the durable collections owned by the sync engine: the
// ordered mutation queue and the bounded error history.
//
// Both collections are persisted as one JSON document per key. Every mutation
// serializes the full collection and writes it with a single SaveState call
// while holding the collection mutex; the in-memory copy is only swapped once
// the write succeeded, so memory and disk never diverge.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/google/uuid"
)

// StateStore is the slice of the local store used to persist engine state
type StateStore interface {
	LoadState(ctx context.Context, key string) ([]byte, bool, error)
	SaveState(ctx context.Context, key string, value []byte) error
}

const DefaultQueueKey = "sync_queue"

var ErrInvalidOperation = errors.New("invalid queued operation")

// Option customizes a Queue or History
type Option func(*options)

type options struct {
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

func defaultOptions() options {
	return options{
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides the identifier source
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// FilterResult reports what FilterInvalid did
type FilterResult struct {
	Filtered  int `json:"filtered"`
	Remaining int `json:"remaining"`
}

// Queue is the ordered, durable list of pending operations
type Queue struct {
	mu    sync.Mutex
	ops   []models.QueuedOperation
	store StateStore
	key   string
	opts  options
}

// Open loads the persisted queue stored under key
func Open(ctx context.Context, store StateStore, key string, opts ...Option) (*Queue, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	q := &Queue{store: store, key: key, opts: o}

	raw, found, err := store.LoadState(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load queue %q: %w", key, err)
	}
	if found && len(raw) > 0 {
		if err := json.Unmarshal(raw, &q.ops); err != nil {
			return nil, fmt.Errorf("decode queue %q: %w", key, err)
		}
	}

	o.logger.Debug("Mutation queue loaded", "key", key, "pending", len(q.ops))
	return q, nil
}

// Enqueue appends a new operation and persists the queue before returning
func (q *Queue) Enqueue(ctx context.Context, opType models.OperationType, table string, data models.OperationData, localID string) (string, error) {
	if !opType.IsValid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, opType)
	}
	if _, ok := models.TableRegistry[table]; !ok {
		return "", fmt.Errorf("%w: unknown table %q", ErrInvalidOperation, table)
	}

	op := models.QueuedOperation{
		ID:        q.opts.newID(),
		Type:      opType,
		Table:     table,
		Data:      data,
		LocalID:   localID,
		Timestamp: q.opts.now(),
		Retries:   0,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	next := make([]models.QueuedOperation, len(q.ops), len(q.ops)+1)
	copy(next, q.ops)
	next = append(next, op)

	if err := q.persist(ctx, next); err != nil {
		return "", err
	}

	q.opts.logger.Debug("Operation enqueued", "id", op.ID, "type", op.Type, "date", data.Date)
	return op.ID, nil
}

// List returns a snapshot of the queue in FIFO order
func (q *Queue) List() []models.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.QueuedOperation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Len returns the number of pending operations
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Clear drops every pending operation. It never contacts the backend.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.persist(ctx, []models.QueuedOperation{}); err != nil {
		return err
	}
	q.opts.logger.Info("Mutation queue cleared")
	return nil
}

// Remove deletes the operation with the given id.
// It reports false when the id is no longer queued.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(id)
	if idx < 0 {
		return false, nil
	}

	next := make([]models.QueuedOperation, 0, len(q.ops)-1)
	next = append(next, q.ops[:idx]...)
	next = append(next, q.ops[idx+1:]...)

	if err := q.persist(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

// MarkFailed increments the retry counter of the operation with the given id
// and returns its updated state
func (q *Queue) MarkFailed(ctx context.Context, id string) (models.QueuedOperation, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(id)
	if idx < 0 {
		return models.QueuedOperation{}, false, nil
	}

	next := make([]models.QueuedOperation, len(q.ops))
	copy(next, q.ops)
	next[idx].Retries++

	if err := q.persist(ctx, next); err != nil {
		return models.QueuedOperation{}, false, err
	}
	return next[idx], true, nil
}

// RemoveStuck removes and returns operations whose retries reached maxRetries
func (q *Queue) RemoveStuck(ctx context.Context, maxRetries int) ([]models.QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []models.QueuedOperation
	kept := make([]models.QueuedOperation, 0, len(q.ops))
	for _, op := range q.ops {
		if op.Retries >= maxRetries {
			removed = append(removed, op)
			continue
		}
		kept = append(kept, op)
	}

	if len(removed) == 0 {
		return nil, nil
	}

	if err := q.persist(ctx, kept); err != nil {
		return nil, err
	}

	q.opts.logger.Warn("Stuck operations removed from queue",
		"removed", len(removed),
		"remaining", len(kept),
		"max_retries", maxRetries,
	)
	return removed, nil
}

// StuckCount counts operations whose retries reached maxRetries
func (q *Queue) StuckCount(maxRetries int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, op := range q.ops {
		if op.Retries >= maxRetries {
			n++
		}
	}
	return n
}

// FilterInvalid drops operations rejected by valid
func (q *Queue) FilterInvalid(ctx context.Context, valid func(models.QueuedOperation) bool) (FilterResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := make([]models.QueuedOperation, 0, len(q.ops))
	for _, op := range q.ops {
		if valid(op) {
			kept = append(kept, op)
		}
	}

	res := FilterResult{Filtered: len(q.ops) - len(kept), Remaining: len(kept)}
	if res.Filtered == 0 {
		return res, nil
	}

	if err := q.persist(ctx, kept); err != nil {
		return FilterResult{}, err
	}

	q.opts.logger.Warn("Invalid operations filtered from queue",
		"filtered", res.Filtered,
		"remaining", res.Remaining,
	)
	return res, nil
}

// ValidOperation is the default FilterInvalid predicate
func ValidOperation(op models.QueuedOperation) bool {
	if op.ID == "" || !op.Type.IsValid() {
		return false
	}
	if _, ok := models.TableRegistry[op.Table]; !ok {
		return false
	}
	if op.Data.UserID == "" {
		return false
	}
	return models.ValidateDateKey(op.Data.Date) == nil
}

// indexOf must be called with q.mu held
func (q *Queue) indexOf(id string) int {
	for i := range q.ops {
		if q.ops[i].ID == id {
			return i
		}
	}
	return -1
}

// persist must be called with q.mu held
func (q *Queue) persist(ctx context.Context, next []models.QueuedOperation) error {
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.store.SaveState(ctx, q.key, raw); err != nil {
		return fmt.Errorf("persist queue %q: %w", q.key, err)
	}
	q.ops = next
	return nil
}
