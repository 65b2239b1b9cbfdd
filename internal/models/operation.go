package models

import (
	"encoding/json"
	"time"
)

// OperationType is the kind of mutation a queued operation carries
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// TableWeightEntries is the only logical collection synced today
const TableWeightEntries = "weight_entries"

// TableRegistry whitelists the collections the drain loop may touch
var TableRegistry = map[string]struct{}{
	TableWeightEntries: {},
}

// IsValid reports whether t is one of the known operation types
func (t OperationType) IsValid() bool {
	return t == OpCreate || t == OpUpdate || t == OpDelete
}

// OperationData is the payload sent to the backend.
// Delete operations only carry Date and UserID.
type OperationData struct {
	Date      string    `json:"date"`
	Weight    NullFloat `json:"weight"`
	Calories  NullFloat `json:"calories"`
	Notes     string    `json:"notes,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
	UserID    string    `json:"user_id"`
}

// RemoteRecord converts the payload into a backend row
func (d OperationData) RemoteRecord() RemoteRecord {
	return RemoteRecord{
		Date:      d.Date,
		Weight:    d.Weight,
		Calories:  d.Calories,
		Notes:     d.Notes,
		UpdatedAt: d.UpdatedAt,
		UserID:    d.UserID,
	}
}

// QueuedOperation is a pending mutation waiting to reach the backend
type QueuedOperation struct {
	ID        string        `json:"id"`
	Type      OperationType `json:"type"`
	Table     string        `json:"table"`
	Data      OperationData `json:"data"`
	LocalID   string        `json:"localId,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Retries   int           `json:"retries"`
}

// EstimateBytes approximates the persisted size of the operation
func (o QueuedOperation) EstimateBytes() int {
	b, err := json.Marshal(o)
	if err != nil {
		return 0
	}
	return len(b)
}

// ErrorEntry is one failed sync attempt kept for diagnostics
type ErrorEntry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Operation string          `json:"operation"`
	Error     string          `json:"error"`
	Details   json.RawMessage `json:"details,omitempty"`
	Resolved  bool            `json:"resolved"`
}
