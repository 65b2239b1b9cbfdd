package service

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
)

// Status is a read-only snapshot for diagnostics
type Status struct {
	Online            bool       `json:"online"`
	Authenticated     bool       `json:"authenticated"`
	HasSession        bool       `json:"has_session"`
	User              string     `json:"user,omitempty"`
	PendingOperations int        `json:"pending_operations"`
	StuckOperations   int        `json:"stuck_operations"`
	SyncInProgress    bool       `json:"sync_in_progress"`
	ErrorCount        int        `json:"error_count"`
	LastSync          string     `json:"last_sync"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
}

// GetStatus has no side effects
func (e *Engine) GetStatus(ctx context.Context) Status {
	st := Status{
		Online:            e.online.Load(),
		Authenticated:     e.gate.IsAuthenticated(),
		PendingOperations: e.queue.Len(),
		StuckOperations:   e.queue.StuckCount(e.maxRetries),
		SyncInProgress:    e.syncing.Load(),
		ErrorCount:        e.history.Len(),
		LastSync:          "never",
	}

	if s, err := e.gate.Session(ctx); err == nil && s != nil {
		st.HasSession = true
	}
	if u := e.gate.CurrentUser(); u != nil {
		st.User = u.Email
		if st.User == "" {
			st.User = u.ID
		}
	}
	if last := e.LastSync(); !last.IsZero() {
		st.LastSync = humanize.RelTime(last, e.now(), "ago", "from now")
		st.LastSyncAt = &last
	}
	return st
}
