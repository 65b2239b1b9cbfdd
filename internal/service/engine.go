// Package service hosts the offline-first sync engine: optimistic local
// writes, the durable mutation queue drain, the last-write-wins pull merge
// and the reactions to auth and network transitions.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/auth"
	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/internal/queue"
	"github.com/Guizzs26/tdee-sync/internal/remote"
	"github.com/Guizzs26/tdee-sync/pkg/metrics"
	"github.com/google/uuid"
)

const (
	DefaultMaxRetries = 5
	lastSyncKey       = "last_sync"
)

var (
	ErrEngineClosed     = errors.New("sync engine is closed")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoSession        = errors.New("no usable session")
	ErrNoBackend        = errors.New("no backend handle available")
)

// LocalStore is the date-keyed record store the engine writes through
type LocalStore interface {
	Put(ctx context.Context, date string, rec models.DailyRecord) error
	Get(ctx context.Context, date string) (models.DailyRecord, bool, error)
	ListAll(ctx context.Context) (map[string]models.DailyRecord, error)
	ListRange(ctx context.Context, from, to string) ([]models.DailyRecord, error)
	Delete(ctx context.Context, date string) error
}

// Store is a local store that can also persist the engine's own state
type Store interface {
	LocalStore
	queue.StateStore
}

// DeadLetterPublisher receives operations removed as stuck
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, op models.QueuedOperation, reason string) error
}

type Options struct {
	Logger          *slog.Logger
	Now             func() time.Time
	NewID           func() string
	MaxRetries      int
	ErrorHistoryCap int

	// Publisher is optional
	Publisher DeadLetterPublisher

	// QueueKey and HistoryKey default to queue.DefaultQueueKey and
	// queue.DefaultHistoryKey
	QueueKey   string
	HistoryKey string
}

// Engine is the sync engine. Build it with New, call Start to react to auth
// events and Close when done.
type Engine struct {
	store     Store
	gate      auth.Gate
	queue     *queue.Queue
	history   *queue.History
	publisher DeadLetterPublisher

	logger     *slog.Logger
	now        func() time.Time
	maxRetries int

	syncing atomic.Bool
	online  atomic.Bool

	// writeMu orders local record writes against pull apply
	writeMu sync.Mutex

	mu         sync.Mutex
	lastSync   time.Time
	sub        auth.Subscription
	subscribed bool
	closed     bool
	bgCtx      context.Context
	bgCancel   context.CancelFunc
	wg         sync.WaitGroup
}

// New loads the persisted queue, error history and last sync time
func New(ctx context.Context, store Store, gate auth.Gate, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.QueueKey == "" {
		opts.QueueKey = queue.DefaultQueueKey
	}
	if opts.HistoryKey == "" {
		opts.HistoryKey = queue.DefaultHistoryKey
	}

	qopts := []queue.Option{
		queue.WithClock(opts.Now),
		queue.WithIDGenerator(opts.NewID),
		queue.WithLogger(opts.Logger),
	}

	q, err := queue.Open(ctx, store, opts.QueueKey, qopts...)
	if err != nil {
		return nil, err
	}
	h, err := queue.OpenHistory(ctx, store, opts.HistoryKey, opts.ErrorHistoryCap, qopts...)
	if err != nil {
		return nil, err
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:      store,
		gate:       gate,
		queue:      q,
		history:    h,
		publisher:  opts.Publisher,
		logger:     opts.Logger,
		now:        opts.Now,
		maxRetries: opts.MaxRetries,
		bgCtx:      bgCtx,
		bgCancel:   cancel,
	}
	e.online.Store(true)

	if err := e.loadLastSync(ctx); err != nil {
		e.logger.Warn("Ignoring unreadable last sync time", "error", err)
	}

	e.refreshGauges()
	return e, nil
}

// Start subscribes to auth events. A sign-in pulls remote rows and then
// drains the queue in the background.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if e.subscribed {
		return nil
	}

	e.sub = e.gate.Subscribe(e.handleAuthEvent)
	e.subscribed = true

	// Stop background reactions when the caller's context ends too
	go func() {
		select {
		case <-ctx.Done():
			e.bgCancel()
		case <-e.bgCtx.Done():
		}
	}()

	e.logger.Info("Sync engine started",
		"pending", e.queue.Len(),
		"max_retries", e.maxRetries,
	)
	return nil
}

// Close unsubscribes from the gate and waits for background reactions
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.subscribed {
		e.gate.Unsubscribe(e.sub)
		e.subscribed = false
	}
	e.mu.Unlock()

	e.bgCancel()
	e.wg.Wait()
	e.logger.Info("Sync engine stopped")
	return nil
}

// Wait blocks until every background reaction started so far has finished
func (e *Engine) Wait() {
	e.wg.Wait()
}

// SetOnline records network reachability. Going from offline to online
// triggers a background drain.
func (e *Engine) SetOnline(online bool) {
	was := e.online.Swap(online)
	e.refreshGauges()

	if was == online {
		return
	}
	if !online {
		e.logger.Warn("Network went offline, drains paused")
		return
	}

	e.logger.Info("Network back online, draining queue")
	e.goReact("online", func(ctx context.Context) {
		e.SyncAll(ctx)
	})
}

func (e *Engine) Online() bool {
	return e.online.Load()
}

func (e *Engine) handleAuthEvent(ev auth.Event) {
	switch ev.Type {
	case auth.EventSignedIn:
		l := e.logger
		if ev.Session != nil {
			l = l.With("user_id", ev.Session.User.ID)
		}
		l.Info("Signed in, pulling remote data and draining queue")
		e.goReact("signed_in", func(ctx context.Context) {
			if _, err := e.FetchAndMergeData(ctx); err != nil {
				l.Error("Pull after sign-in failed", "error", err)
			}
			e.SyncAll(ctx)
		})
	case auth.EventSignedOut:
		e.logger.Info("Signed out, sync paused", "pending", e.queue.Len())
	}
}

// goReact runs fn in a tracked goroutine unless the engine is closed
func (e *Engine) goReact(trigger string, fn func(ctx context.Context)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Background sync reaction panicked", "trigger", trigger, "panic", r)
			}
		}()
		fn(e.bgCtx)
	}()
}

// syncTarget is what a drain or pull needs from the gate
type syncTarget struct {
	user    auth.User
	backend remote.Backend
}

// canSync reports why the engine may not talk to the backend right now.
// Session lookup failures are treated as "cannot sync".
func (e *Engine) canSync(ctx context.Context) (syncTarget, error) {
	if !e.gate.IsAuthenticated() {
		return syncTarget{}, ErrNotAuthenticated
	}
	user := e.gate.CurrentUser()
	if user == nil || user.ID == "" {
		return syncTarget{}, ErrNotAuthenticated
	}
	if _, err := e.gate.Session(ctx); err != nil {
		return syncTarget{}, fmt.Errorf("%w: %w", ErrNoSession, err)
	}
	b := e.gate.Backend()
	if b == nil {
		return syncTarget{}, ErrNoBackend
	}
	return syncTarget{user: *user, backend: b}, nil
}

func (e *Engine) setLastSync(ctx context.Context, t time.Time) {
	e.mu.Lock()
	e.lastSync = t
	e.mu.Unlock()

	metrics.LastSyncTimestamp.Set(float64(t.Unix()))

	raw, err := json.Marshal(t)
	if err == nil {
		err = e.store.SaveState(ctx, lastSyncKey, raw)
	}
	if err != nil {
		e.logger.Warn("Failed to persist last sync time", "error", err)
	}
}

func (e *Engine) loadLastSync(ctx context.Context) error {
	raw, found, err := e.store.LoadState(ctx, lastSyncKey)
	if err != nil || !found {
		return err
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("decode last sync: %w", err)
	}
	e.mu.Lock()
	e.lastSync = t
	e.mu.Unlock()
	return nil
}

// LastSync returns the zero time when no drain has completed yet
func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

func (e *Engine) refreshGauges() {
	metrics.QueueBacklog.Set(float64(e.queue.Len()))
	metrics.StuckOperations.Set(float64(e.queue.StuckCount(e.maxRetries)))
	if e.online.Load() && e.gate.Backend() != nil {
		metrics.HealthStatus.Set(1)
	} else {
		metrics.HealthStatus.Set(0)
	}
}
