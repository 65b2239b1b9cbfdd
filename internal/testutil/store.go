package testutil

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/Guizzs26/tdee-sync/internal/models"
)

var ErrInjected = errors.New("injected failure")

// MemoryStore is an in-memory local store and state store with failure
// injection
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.DailyRecord
	state   map[string][]byte

	FailPut       bool
	FailSaveState bool
	SaveCalls     int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]models.DailyRecord),
		state:   make(map[string][]byte),
	}
}

func (m *MemoryStore) Put(_ context.Context, date string, rec models.DailyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut {
		return ErrInjected
	}
	rec.Date = date
	m.records[date] = rec
	return nil
}

func (m *MemoryStore) Get(_ context.Context, date string) (models.DailyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[date]
	return rec, ok, nil
}

func (m *MemoryStore) ListAll(context.Context) (map[string]models.DailyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.records), nil
}

func (m *MemoryStore) ListRange(_ context.Context, from, to string) ([]models.DailyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DailyRecord
	for _, d := range slices.Sorted(maps.Keys(m.records)) {
		if d >= from && d <= to {
			out = append(out, m.records[d])
		}
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut {
		return ErrInjected
	}
	delete(m.records, date)
	return nil
}

func (m *MemoryStore) LoadState(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state[key]
	return slices.Clone(v), ok, nil
}

func (m *MemoryStore) SaveState(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.FailSaveState {
		return ErrInjected
	}
	m.state[key] = slices.Clone(value)
	return nil
}

// SetFailSaveState toggles SaveState failures under the store lock
func (m *MemoryStore) SetFailSaveState(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailSaveState = fail
}

// RawState returns the persisted bytes for key
func (m *MemoryStore) RawState(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.state[key])
}
