package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/internal/queue"
	"github.com/Guizzs26/tdee-sync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncAll_EmptyQueueIsNoop(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	res := f.engine.SyncAll(ctx)
	assert.Equal(t, SkipNone, res.Skipped)
	assert.Zero(t, res.Attempted)

	res = f.engine.SyncAll(ctx)
	assert.Zero(t, res.Attempted)
	assert.Empty(t, f.engine.ListQueue())
	assert.Empty(t, f.engine.ListErrors())
	assert.Empty(t, f.backend.Calls())
}

func TestSyncAll_FIFO(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, _ = f.engine.SaveEntry(ctx, weightOn("2026-03-01", 80))
	_, _ = f.engine.UpdateEntry(ctx, weightOn("2026-03-02", 79))
	_, _ = f.engine.DeleteEntry(ctx, "2026-03-03")

	res := f.engine.SyncAll(ctx)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 3, res.Succeeded)
	assert.Empty(t, f.engine.ListQueue())

	assert.Equal(t, []testutil.Call{
		{Method: "insert", Date: "2026-03-01"},
		{Method: "update", Date: "2026-03-02"},
		{Method: "delete", Date: "2026-03-03"},
	}, f.backend.Calls())
}

func TestSyncAll_SameDateEditedTwiceKeepsOrder(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, _ = f.engine.SaveEntry(ctx, weightOn("2026-03-01", 80))
	f.clock.Advance(time.Second)
	_, _ = f.engine.UpdateEntry(ctx, weightOn("2026-03-01", 81.5))

	f.engine.SyncAll(ctx)
	row, ok := f.backend.Row("u-1", "2026-03-01")
	require.True(t, ok)
	assert.Equal(t, models.Float(81.5), row.Weight)
}

func TestSyncAll_FailureIsIsolated(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	a, _ := f.engine.SaveEntry(ctx, weightOn("2026-03-01", 80))
	_, _ = f.engine.SaveEntry(ctx, weightOn("2026-03-02", 81))
	f.backend.Fail("2026-03-01", errors.New("connection reset"))

	res := f.engine.SyncAll(ctx)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Succeeded)

	ops := f.engine.ListQueue()
	require.Len(t, ops, 1)
	assert.Equal(t, a.OperationID, ops[0].ID)
	assert.Equal(t, 1, ops[0].Retries)

	errs := f.engine.ListErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, "sync_create", errs[0].Operation)
	assert.Equal(t, "connection reset", errs[0].Error)

	var detail models.QueuedOperation
	require.NoError(t, json.Unmarshal(errs[0].Details, &detail))
	assert.Equal(t, a.OperationID, detail.ID)

	assert.Equal(t, t0, f.engine.LastSync(), "one success updates last sync")
}

func TestSyncAll_PassiveRetry(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, _ = f.engine.SaveEntry(ctx, weightOn("2026-03-01", 80))
	f.backend.Fail("2026-03-01", errors.New("timeout"))

	f.engine.SyncAll(ctx)
	f.engine.SyncAll(ctx)
	assert.Equal(t, 2, f.engine.ListQueue()[0].Retries)
	assert.True(t, f.engine.LastSync().IsZero(), "no success, no last sync")

	f.backend.Heal("2026-03-01")
	res := f.engine.SyncAll(ctx)
	assert.Equal(t, 1, res.Succeeded)
	assert.Empty(t, f.engine.ListQueue())
	assert.Len(t, f.engine.ListErrors(), 2)
}

func TestSyncAll_CannotSync(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{name: "signed out", setup: func(f *fixture) { f.gate.SignOut() }},
		{name: "session expired", setup: func(f *fixture) { f.clock.Advance(2 * time.Hour) }},
		{name: "no backend", setup: func(f *fixture) { f.gate.SetBackend(nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			ctx := context.Background()
			_, _ = f.engine.SaveEntry(ctx, weightOn("2026-03-01", 80))
			before := f.engine.ListQueue()

			tt.setup(f)
			res := f.engine.SyncAll(ctx)

			assert.Equal(t, SkipCannotSync, res.Skipped)
			assert.Equal(t, before, f.engine.ListQueue())
			assert.Empty(t, f.backend.Calls())
			assert.Empty(t, f.engine.ListErrors())
		})
	}
}

func TestSyncAll_ConcurrentCallsDrainOnce(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, _ = f.engine.SaveEntry(ctx, weightOn("2026-03-01", 80))
	_, _ = f.engine.SaveEntry(ctx, weightOn("2026-03-02", 80))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.backend.OnCall = func(testutil.Call) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	done := make(chan DrainResult)
	go func() { done <- f.engine.SyncAll(ctx) }()

	<-entered
	assert.True(t, f.engine.GetStatus(ctx).SyncInProgress)
	second := f.engine.SyncAll(ctx)
	assert.Equal(t, SkipInProgress, second.Skipped)
	close(release)

	first := <-done
	assert.Equal(t, 2, first.Succeeded)
	assert.Len(t, f.backend.Calls(), 2)
}

func TestSyncAll_WritesDuringDrainAreKept(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, _ = f.engine.SaveEntry(ctx, weightOn("2026-03-01", 80))

	var once sync.Once
	f.backend.OnCall = func(testutil.Call) {
		once.Do(func() {
			_, err := f.engine.SaveEntry(ctx, weightOn("2026-03-09", 78))
			assert.NoError(t, err)
		})
	}

	res := f.engine.SyncAll(ctx)
	assert.Equal(t, 1, res.Attempted)

	ops := f.engine.ListQueue()
	require.Len(t, ops, 1)
	assert.Equal(t, "2026-03-09", ops[0].Data.Date)
}

func TestSyncAll_InvalidOperationCountsAsFailure(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	raw, err := json.Marshal([]models.QueuedOperation{
		{ID: "bad", Type: "merge", Table: models.TableWeightEntries, Data: models.OperationData{Date: "2026-03-01", UserID: "u-1"}},
	})
	require.NoError(t, err)
	require.NoError(t, f.store.SaveState(ctx, "sync_queue", raw))
	e := f.newEngine(t, Options{})

	res := e.SyncAll(ctx)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, f.backend.Calls())
	require.Len(t, e.ListErrors(), 1)
	assert.Contains(t, e.ListErrors()[0].Error, "invalid queued operation")
}

func TestSyncAll_CancelledContextLeavesOperationsUntouched(t *testing.T) {
	f := newFixture(t, true)
	_, _ = f.engine.SaveEntry(context.Background(), weightOn("2026-03-01", 80))
	before := f.engine.ListQueue()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.engine.SyncAll(ctx)
	// the gate rejects a cancelled context before the queue is read
	assert.Equal(t, SkipCannotSync, res.Skipped)
	assert.Equal(t, before, f.engine.ListQueue())
}

func TestRemoveStuck(t *testing.T) {
	f := newFixture(t, true)
	pub := &fakePublisher{}
	e := f.newEngine(t, Options{MaxRetries: 2, Publisher: pub})
	ctx := context.Background()

	_, _ = e.SaveEntry(ctx, weightOn("2026-03-01", 80))
	_, _ = e.SaveEntry(ctx, weightOn("2026-03-02", 80))
	f.backend.Fail("2026-03-01", errors.New("422 check constraint"))
	f.backend.Fail("2026-03-02", errors.New("timeout"))

	e.SyncAll(ctx)
	f.backend.Heal("2026-03-02")
	e.SyncAll(ctx)
	_, _ = e.SaveEntry(ctx, weightOn("2026-03-03", 80))
	f.backend.Fail("2026-03-03", errors.New("timeout"))
	e.SyncAll(ctx)

	require.Len(t, e.ListQueue(), 2)
	assert.Equal(t, 1, e.GetStatus(ctx).StuckOperations)

	removed, err := e.RemoveStuck(ctx, 0)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "2026-03-01", removed[0].Data.Date)
	assert.GreaterOrEqual(t, removed[0].Retries, 2)

	left := e.ListQueue()
	require.Len(t, left, 1)
	assert.Equal(t, "2026-03-03", left[0].Data.Date)
	assert.Equal(t, 1, left[0].Retries)

	require.Len(t, pub.ops, 1)
	assert.Equal(t, removed[0].ID, pub.ops[0].ID)
}

func TestRemoveStuck_PublisherFailureStillRemoves(t *testing.T) {
	f := newFixture(t, true)
	pub := &fakePublisher{fail: errors.New("broker down")}
	e := f.newEngine(t, Options{MaxRetries: 1, Publisher: pub})
	ctx := context.Background()

	_, _ = e.SaveEntry(ctx, weightOn("2026-03-01", 80))
	f.backend.Fail("2026-03-01", errors.New("timeout"))
	e.SyncAll(ctx)

	removed, err := e.RemoveStuck(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, removed, 1)
	assert.Empty(t, e.ListQueue())
}

func TestMaintenancePassThroughs(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, _ = f.engine.SaveEntry(ctx, weightOn(fmt.Sprintf("2026-03-0%d", i), 80))
	}
	f.backend.Fail("2026-03-02", errors.New("boom"))
	f.engine.SyncAll(ctx)
	require.Len(t, f.engine.ListErrors(), 1)

	res, err := f.engine.FilterInvalid(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Filtered)
	assert.Equal(t, 1, res.Remaining)

	require.NoError(t, f.engine.ClearErrors(ctx))
	assert.Empty(t, f.engine.ListErrors())

	require.NoError(t, f.engine.ClearQueue(ctx))
	assert.Empty(t, f.engine.ListQueue())
	assert.Len(t, f.backend.Calls(), 3, "clearing never contacts the backend")

	entries, err := f.engine.Entries(ctx, "2026-03-01", "2026-03-02")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRequeue(t *testing.T) {
	ctx := context.Background()
	op := models.QueuedOperation{
		ID:      "dead-1",
		Type:    models.OpUpdate,
		Table:   models.TableWeightEntries,
		Data:    models.OperationData{Date: "2026-03-01", UserID: "u-1", Weight: models.Float(79)},
		Retries: 5,
	}

	t.Run("replays with fresh id and zero retries", func(t *testing.T) {
		f := newFixture(t, true)

		id, err := f.engine.Requeue(ctx, op)
		require.NoError(t, err)

		ops := f.engine.ListQueue()
		require.Len(t, ops, 1)
		assert.Equal(t, id, ops[0].ID)
		assert.NotEqual(t, "dead-1", id)
		assert.Equal(t, 0, ops[0].Retries)
		assert.Equal(t, t0, ops[0].Timestamp)

		res := f.engine.SyncAll(ctx)
		assert.Equal(t, 1, res.Succeeded)
		_, ok := f.backend.Row("u-1", "2026-03-01")
		assert.True(t, ok)
	})

	t.Run("rejects other users", func(t *testing.T) {
		f := newFixture(t, true)
		foreign := op
		foreign.Data.UserID = "u-2"

		_, err := f.engine.Requeue(ctx, foreign)
		assert.ErrorIs(t, err, ErrForeignOperation)
		assert.Empty(t, f.engine.ListQueue())
	})

	t.Run("rejects malformed operations", func(t *testing.T) {
		f := newFixture(t, true)
		bad := op
		bad.Data.Date = "yesterday"

		_, err := f.engine.Requeue(ctx, bad)
		assert.ErrorIs(t, err, queue.ErrInvalidOperation)
	})

	t.Run("requires a signed-in user", func(t *testing.T) {
		f := newFixture(t, false)

		_, err := f.engine.Requeue(ctx, op)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	})
}

func TestDispatch_RejectsUnknownOperations(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	base := models.QueuedOperation{
		ID:    "op-x",
		Type:  models.OpCreate,
		Table: models.TableWeightEntries,
		Data:  models.OperationData{Date: "2026-03-08", UserID: "u-1"},
	}

	badTable := base
	badTable.Table = "meals"
	err := f.engine.dispatch(ctx, f.backend, badTable)
	assert.ErrorIs(t, err, queue.ErrInvalidOperation)

	badType := base
	badType.Type = "upsert"
	err = f.engine.dispatch(ctx, f.backend, badType)
	assert.ErrorIs(t, err, queue.ErrInvalidOperation)

	assert.Equal(t, 0, f.backend.Len(), "nothing reaches the backend")
}
