// Package remote talks to the relational backend that holds the
// authoritative copy of every user's daily records.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/models"
)

// Backend is the handle the sync engine drains the queue into
type Backend interface {
	Insert(ctx context.Context, row models.RemoteRecord) error
	Update(ctx context.Context, row models.RemoteRecord, id RowID) error
	Delete(ctx context.Context, id RowID) error
	// SelectAll returns every row owned by userID, newest date first
	SelectAll(ctx context.Context, userID string) ([]models.RemoteRecord, error)
}

// RowID identifies one row of weight_entries
type RowID struct {
	UserID string
	Date   string
}

func (id RowID) Validate() error {
	if id.UserID == "" {
		return ErrMissingUserID
	}
	return models.ValidateDateKey(id.Date)
}

var ErrMissingUserID = errors.New("row has no user id")

const (
	colUserID    = "user_id"
	colDate      = "date"
	colWeight    = "weight"
	colCalories  = "calories"
	colNotes     = "notes"
	colUpdatedAt = "updated_at"
)

var selectColumns = []string{colDate, colWeight, colCalories, colNotes, colUpdatedAt, colUserID}

var keyColumns = []string{colUserID, colDate}

func rowValues(r models.RemoteRecord, notes any) map[string]any {
	return map[string]any{
		colUserID:    r.UserID,
		colDate:      r.Date,
		colWeight:    r.Weight,
		colCalories:  r.Calories,
		colNotes:     notes,
		colUpdatedAt: r.UpdatedAt.UTC(),
	}
}

func rowFilter(id RowID) map[string]any {
	return map[string]any{colUserID: id.UserID, colDate: id.Date}
}

func dateKey(t time.Time) string {
	return t.Format(models.DateLayout)
}
