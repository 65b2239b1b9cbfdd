// Package auth decides whether the sync engine may talk to the backend and
// notifies subscribers when the signed-in state changes.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/remote"
)

var (
	ErrNoSession      = errors.New("no active session")
	ErrSessionExpired = errors.New("session expired")
	ErrMissingUserID  = errors.New("user id is required")
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

type Session struct {
	Token     string    `json:"-"`
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EventType names an auth state transition
type EventType string

const (
	EventSignedIn       EventType = "signed_in"
	EventSignedOut      EventType = "signed_out"
	EventTokenRefreshed EventType = "token_refreshed"
)

type Event struct {
	Type    EventType
	Session *Session
}

// Handler receives auth events. It is called synchronously by the gate and
// must not block.
type Handler func(Event)

// Subscription is the token returned by Subscribe
type Subscription uint64

// Gate is what the sync engine needs from the auth layer
type Gate interface {
	IsAuthenticated() bool
	CurrentUser() *User
	Session(ctx context.Context) (*Session, error)
	Subscribe(h Handler) Subscription
	Unsubscribe(s Subscription)
	// Backend returns nil when no handle can be obtained
	Backend() remote.Backend
}
