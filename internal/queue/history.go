package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Guizzs26/tdee-sync/internal/models"
)

const (
	DefaultHistoryKey = "sync_errors"
	DefaultHistoryCap = 50
)

// History is the bounded, durable log of failed sync attempts
type History struct {
	mu      sync.Mutex
	entries []models.ErrorEntry
	store   StateStore
	key     string
	cap     int
	opts    options
}

// OpenHistory loads the error history stored under key. Entries beyond
// capacity are trimmed oldest first.
func OpenHistory(ctx context.Context, store StateStore, key string, capacity int, opts ...Option) (*History, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}

	h := &History{store: store, key: key, cap: capacity, opts: o}

	raw, found, err := store.LoadState(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load error history %q: %w", key, err)
	}
	if found && len(raw) > 0 {
		if err := json.Unmarshal(raw, &h.entries); err != nil {
			return nil, fmt.Errorf("decode error history %q: %w", key, err)
		}
	}
	h.entries = trim(h.entries, capacity)

	return h, nil
}

// Append records a failure. details is marshaled to JSON when non-nil.
func (h *History) Append(ctx context.Context, operation string, cause error, details any) (models.ErrorEntry, error) {
	entry := models.ErrorEntry{
		ID:        h.opts.newID(),
		Timestamp: h.opts.now(),
		Operation: operation,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return models.ErrorEntry{}, fmt.Errorf("encode error details: %w", err)
		}
		entry.Details = raw
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	next := make([]models.ErrorEntry, len(h.entries), len(h.entries)+1)
	copy(next, h.entries)
	next = trim(append(next, entry), h.cap)

	if err := h.persist(ctx, next); err != nil {
		return models.ErrorEntry{}, err
	}
	return entry, nil
}

// List returns the history oldest first
func (h *History) List() []models.ErrorEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]models.ErrorEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear drops every entry
func (h *History) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.persist(ctx, []models.ErrorEntry{}); err != nil {
		return err
	}
	h.opts.logger.Info("Sync error history cleared")
	return nil
}

func trim(entries []models.ErrorEntry, capacity int) []models.ErrorEntry {
	if len(entries) <= capacity {
		return entries
	}
	return entries[len(entries)-capacity:]
}

// persist must be called with h.mu held
func (h *History) persist(ctx context.Context, next []models.ErrorEntry) error {
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode error history: %w", err)
	}
	if err := h.store.SaveState(ctx, h.key, raw); err != nil {
		return fmt.Errorf("persist error history %q: %w", h.key, err)
	}
	h.entries = next
	return nil
}
