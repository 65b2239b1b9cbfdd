package testutil

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/internal/remote"
)

// Call records one backend invocation
type Call struct {
	Method string
	Date   string
}

// Backend is a scriptable in-memory remote.Backend
type Backend struct {
	mu    sync.Mutex
	rows  map[remote.RowID]models.RemoteRecord
	calls []Call

	// FailDates makes every mutation for a date fail
	FailDates map[string]error
	// FailSelect makes SelectAll fail
	FailSelect error
	// Extra rows appended verbatim to SelectAll results, e.g. duplicates
	Extra []models.RemoteRecord
	// OnCall runs before each call with the backend unlocked
	OnCall func(Call)
}

var _ remote.Backend = (*Backend)(nil)

func NewBackend() *Backend {
	return &Backend{
		rows:      make(map[remote.RowID]models.RemoteRecord),
		FailDates: make(map[string]error),
	}
}

// Seed stores rows as if they already existed remotely
func (b *Backend) Seed(rows ...models.RemoteRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rows {
		b.rows[remote.RowID{UserID: r.UserID, Date: r.Date}] = r
	}
}

func (b *Backend) Fail(date string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FailDates[date] = err
}

func (b *Backend) Heal(date string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.FailDates, date)
}

func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

func (b *Backend) Row(userID, date string) (models.RemoteRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rows[remote.RowID{UserID: userID, Date: date}]
	return r, ok
}

func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

func (b *Backend) record(c Call) error {
	b.mu.Lock()
	hook := b.OnCall
	b.calls = append(b.calls, c)
	err := b.FailDates[c.Date]
	b.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return err
}

func (b *Backend) Insert(ctx context.Context, row models.RemoteRecord) error {
	if err := b.record(Call{Method: "insert", Date: row.Date}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.Seed(row)
	return nil
}

func (b *Backend) Update(ctx context.Context, row models.RemoteRecord, id remote.RowID) error {
	if err := b.record(Call{Method: "update", Date: id.Date}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	row.UserID, row.Date = id.UserID, id.Date
	b.Seed(row)
	return nil
}

func (b *Backend) Delete(ctx context.Context, id remote.RowID) error {
	if err := b.record(Call{Method: "delete", Date: id.Date}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.rows, id)
	b.mu.Unlock()
	return nil
}

func (b *Backend) SelectAll(ctx context.Context, userID string) ([]models.RemoteRecord, error) {
	b.mu.Lock()
	b.calls = append(b.calls, Call{Method: "select"})
	failErr := b.FailSelect
	var out []models.RemoteRecord
	for id, r := range b.rows {
		if id.UserID == userID {
			out = append(out, r)
		}
	}
	out = append(out, b.Extra...)
	b.mu.Unlock()

	if failErr != nil {
		return nil, failErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, c models.RemoteRecord) int {
		return cmp.Compare(c.Date, a.Date)
	})
	return out, nil
}
