package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t1 = time.Date(2026, 3, 8, 8, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
)

func localRec(date string, kg float64, at time.Time) models.DailyRecord {
	return models.DailyRecord{Date: date, Weight: models.Float(kg), UpdatedAt: at}
}

func remoteRow(date string, kg float64, at time.Time) models.RemoteRecord {
	return models.RemoteRecord{Date: date, Weight: models.Float(kg), UpdatedAt: at, UserID: "u-1"}
}

func dates(recs []models.DailyRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Date
	}
	return out
}

func TestMergeEntries_Rules(t *testing.T) {
	tests := []struct {
		name       string
		local      models.DailyRecord
		remote     models.RemoteRecord
		wantWeight float64
		wantRemote bool
	}{
		{
			name:       "remote newer wins",
			local:      localRec("2026-03-08", 80, t1),
			remote:     remoteRow("2026-03-08", 79, t2),
			wantWeight: 79,
			wantRemote: true,
		},
		{
			name:       "local newer wins",
			local:      localRec("2026-03-08", 80, t2),
			remote:     remoteRow("2026-03-08", 79, t1),
			wantWeight: 80,
		},
		{
			name:       "tie goes to remote",
			local:      localRec("2026-03-08", 80, t1),
			remote:     remoteRow("2026-03-08", 79, t1),
			wantWeight: 79,
			wantRemote: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := MergeEntries(
				map[string]models.DailyRecord{tt.local.Date: tt.local},
				[]models.RemoteRecord{tt.remote},
			)
			require.Len(t, res.Records, 1)
			assert.Equal(t, tt.wantWeight, res.Records[0].Weight.Float64)
			if tt.wantRemote {
				assert.Equal(t, 1, res.RemoteWins)
				assert.Len(t, res.Applied, 1)
			} else {
				assert.Equal(t, 1, res.LocalWins)
				assert.Empty(t, res.Applied)
			}
		})
	}
}

func TestMergeEntries_UnionOfKeys(t *testing.T) {
	res := MergeEntries(
		map[string]models.DailyRecord{
			"2026-03-01": localRec("2026-03-01", 81, t1),
			"2026-03-02": localRec("2026-03-02", 80, t2),
		},
		[]models.RemoteRecord{
			remoteRow("2026-03-02", 70, t1),
			remoteRow("2026-03-03", 79, t1),
		},
	)

	assert.Equal(t, []string{"2026-03-03", "2026-03-02", "2026-03-01"}, dates(res.Records))
	assert.Equal(t, 80.0, res.Records[1].Weight.Float64)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.LocalWins)
	assert.Equal(t, []string{"2026-03-03"}, dates(res.Applied))
}

func TestMergeEntries_DuplicateRemoteDatesCollapse(t *testing.T) {
	res := MergeEntries(
		map[string]models.DailyRecord{"2026-03-08": localRec("2026-03-08", 80, t1.Add(30*time.Minute))},
		[]models.RemoteRecord{
			remoteRow("2026-03-08", 78, t1),
			remoteRow("2026-03-08", 77, t2),
			remoteRow("2026-03-08", 76, t1.Add(10*time.Minute)),
		},
	)

	require.Len(t, res.Records, 1)
	assert.Equal(t, 77.0, res.Records[0].Weight.Float64)
	assert.Equal(t, 1, res.RemoteWins)
}

func TestMergeEntries_NullFieldsAndBadDates(t *testing.T) {
	res := MergeEntries(nil, []models.RemoteRecord{
		{Date: "2026-03-08", Calories: models.Float(2000), UpdatedAt: t1},
		{Date: "", UpdatedAt: t2},
		{Date: "March 9", UpdatedAt: t2},
	})

	require.Len(t, res.Records, 1)
	assert.False(t, res.Records[0].Weight.Valid)
	assert.Equal(t, models.Float(2000), res.Records[0].Calories)
	assert.Equal(t, 2, res.Skipped)
}

func TestMergeEntries_EmptyInputs(t *testing.T) {
	res := MergeEntries(nil, nil)
	assert.Empty(t, res.Records)
	assert.Empty(t, res.Applied)
}

func TestFetchAndMergeData_WritesWinnersLocally(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.store.Put(ctx, "2026-03-01", localRec("2026-03-01", 81, t2)))
	require.NoError(t, f.store.Put(ctx, "2026-03-02", localRec("2026-03-02", 80, t1)))
	f.backend.Seed(
		remoteRow("2026-03-01", 70, t1),
		remoteRow("2026-03-02", 79, t2),
		remoteRow("2026-03-03", 78, t1),
	)
	f.backend.Extra = []models.RemoteRecord{remoteRow("2026-03-03", 60, t1.Add(-time.Hour))}

	res, err := f.engine.FetchAndMergeData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-03", "2026-03-02", "2026-03-01"}, dates(res.Records))

	all, err := f.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 81.0, all["2026-03-01"].Weight.Float64, "local newer kept")
	assert.Equal(t, 79.0, all["2026-03-02"].Weight.Float64, "remote newer applied")
	assert.Equal(t, 78.0, all["2026-03-03"].Weight.Float64, "latest duplicate applied")
	assert.Empty(t, f.engine.ListQueue(), "pulling never enqueues")
}

func TestFetchAndMergeData_PendingDeleteShadowsRemote(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.backend.Seed(remoteRow("2026-03-05", 80, t0.Add(-time.Hour)))
	_, err := f.engine.DeleteEntry(ctx, "2026-03-05")
	require.NoError(t, err)

	res, err := f.engine.FetchAndMergeData(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Records)

	_, found, _ := f.store.Get(ctx, "2026-03-05")
	assert.False(t, found, "deleted entry must not come back")

	f.backend.Seed(remoteRow("2026-03-05", 82, t0.Add(time.Hour)))
	res, err = f.engine.FetchAndMergeData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added, "a newer remote edit beats the pending delete")
}

func TestFetchAndMergeData_Errors(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.engine.FetchAndMergeData(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	f = newFixture(t, true)
	f.backend.FailSelect = errors.New("503")
	_, err = f.engine.FetchAndMergeData(context.Background())
	assert.Error(t, err)

	f = newFixture(t, true)
	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.FetchAndMergeData(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

// listHookStore runs onList once, right after the snapshot a pull merges from
// has been read.
type listHookStore struct {
	*testutil.MemoryStore
	onList func()
}

func (s *listHookStore) ListAll(ctx context.Context) (map[string]models.DailyRecord, error) {
	out, err := s.MemoryStore.ListAll(ctx)
	if fn := s.onList; fn != nil {
		s.onList = nil
		fn()
	}
	return out, err
}

func newHookedEngine(t *testing.T, f *fixture) (*Engine, *listHookStore) {
	t.Helper()
	store := &listHookStore{MemoryStore: f.store}
	e, err := New(context.Background(), store, f.gate, Options{
		Logger:     discardLogger(),
		Now:        f.clock.Now,
		NewID:      testutil.Sequence("op"),
		MaxRetries: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, store
}

func TestFetchAndMergeData_KeepsWriteMadeDuringPull(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	e, store := newHookedEngine(t, f)

	f.backend.Seed(remoteRow("2026-03-08", 80, t0))
	store.onList = func() {
		f.clock.Advance(time.Minute)
		_, err := e.SaveEntry(ctx, weightOn("2026-03-08", 75))
		require.NoError(t, err)
	}

	res, err := e.FetchAndMergeData(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 1, res.LocalWins)
	require.Len(t, res.Records, 1)
	assert.Equal(t, 75.0, res.Records[0].Weight.Float64)

	got, found, err := f.store.Get(ctx, "2026-03-08")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 75.0, got.Weight.Float64, "pull must not overwrite the newer local write")
	assert.Len(t, e.ListQueue(), 1, "the local write is still queued for the backend")
}

func TestFetchAndMergeData_KeepsDeleteMadeDuringPull(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	e, store := newHookedEngine(t, f)

	require.NoError(t, f.store.Put(ctx, "2026-03-08", localRec("2026-03-08", 81, t0.Add(-time.Hour))))
	f.backend.Seed(remoteRow("2026-03-08", 80, t0.Add(-time.Minute)))
	store.onList = func() {
		_, err := e.DeleteEntry(ctx, "2026-03-08")
		require.NoError(t, err)
	}

	res, err := e.FetchAndMergeData(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.Equal(t, 0, res.RemoteWins)
	assert.Empty(t, res.Records)

	_, found, err := f.store.Get(ctx, "2026-03-08")
	require.NoError(t, err)
	assert.False(t, found, "deleted entry must not come back")
}
