package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/remote"
	"github.com/google/uuid"
)

var _ Gate = (*SessionGate)(nil)

// SessionGate is an in-process Gate holding at most one session
type SessionGate struct {
	mu       sync.RWMutex
	session  *Session
	backend  remote.Backend
	handlers map[Subscription]Handler
	nextSub  Subscription
	now      func() time.Time
	logger   *slog.Logger
}

type SessionOption func(*SessionGate)

func WithClock(now func() time.Time) SessionOption {
	return func(g *SessionGate) { g.now = now }
}

func WithLogger(l *slog.Logger) SessionOption {
	return func(g *SessionGate) { g.logger = l }
}

// NewSessionGate returns a signed-out gate. backend may be nil.
func NewSessionGate(backend remote.Backend, opts ...SessionOption) *SessionGate {
	g := &SessionGate{
		backend:  backend,
		handlers: make(map[Subscription]Handler),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SignIn opens a session for user lasting ttl and emits EventSignedIn
func (g *SessionGate) SignIn(user User, ttl time.Duration) (*Session, error) {
	if user.ID == "" {
		return nil, ErrMissingUserID
	}

	s := &Session{
		Token:     uuid.NewString(),
		User:      user,
		ExpiresAt: g.now().Add(ttl),
	}

	g.mu.Lock()
	g.session = s
	g.mu.Unlock()

	g.logger.Info("User signed in", "user_id", user.ID, "expires_at", s.ExpiresAt)
	g.emit(Event{Type: EventSignedIn, Session: cloneSession(s)})
	return cloneSession(s), nil
}

// SignOut drops the session and emits EventSignedOut. It is a no-op when
// nobody is signed in.
func (g *SessionGate) SignOut() {
	g.mu.Lock()
	prev := g.session
	g.session = nil
	g.mu.Unlock()

	if prev == nil {
		return
	}
	g.logger.Info("User signed out", "user_id", prev.User.ID)
	g.emit(Event{Type: EventSignedOut})
}

// RefreshSession extends the current session and rotates its token
func (g *SessionGate) RefreshSession(ttl time.Duration) (*Session, error) {
	g.mu.Lock()
	if g.session == nil {
		g.mu.Unlock()
		return nil, ErrNoSession
	}
	g.session.Token = uuid.NewString()
	g.session.ExpiresAt = g.now().Add(ttl)
	s := cloneSession(g.session)
	g.mu.Unlock()

	g.emit(Event{Type: EventTokenRefreshed, Session: s})
	return cloneSession(s), nil
}

// SetBackend swaps the backend handle, e.g. after a reconnect
func (g *SessionGate) SetBackend(b remote.Backend) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.backend = b
}

func (g *SessionGate) IsAuthenticated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session != nil
}

func (g *SessionGate) CurrentUser() *User {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.session == nil {
		return nil
	}
	u := g.session.User
	return &u
}

// Session returns the current session or an error when there is none or it
// has expired
func (g *SessionGate) Session(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.session == nil {
		return nil, ErrNoSession
	}
	if !g.session.ExpiresAt.IsZero() && !g.now().Before(g.session.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return cloneSession(g.session), nil
}

func (g *SessionGate) Subscribe(h Handler) Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextSub++
	g.handlers[g.nextSub] = h
	return g.nextSub
}

func (g *SessionGate) Unsubscribe(s Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.handlers, s)
}

func (g *SessionGate) Backend() remote.Backend {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.backend
}

// emit calls handlers outside the lock so they may query the gate
func (g *SessionGate) emit(ev Event) {
	g.mu.RLock()
	handlers := make([]Handler, 0, len(g.handlers))
	for _, h := range g.handlers {
		handlers = append(handlers, h)
	}
	g.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
