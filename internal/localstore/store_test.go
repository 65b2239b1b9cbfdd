package localstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "tdee.db")
	s, err := Open(context.Background(), path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStore_PutGet(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 8, 7, 30, 0, 123, time.UTC)

	_, found, err := s.Get(ctx, "2026-03-08")
	require.NoError(t, err)
	assert.False(t, found)

	rec := models.DailyRecord{Date: "2026-03-08", Weight: models.Float(80.2), Notes: "jejum", UpdatedAt: at}
	require.NoError(t, s.Put(ctx, rec.Date, rec))

	got, found, err := s.Get(ctx, "2026-03-08")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.Float(80.2), got.Weight)
	assert.False(t, got.Calories.Valid)
	assert.Equal(t, "jejum", got.Notes)
	assert.True(t, at.Equal(got.UpdatedAt))

	rec.Calories = models.Float(1900)
	rec.Weight = models.NullFloat{}
	require.NoError(t, s.Put(ctx, rec.Date, rec))

	got, _, err = s.Get(ctx, "2026-03-08")
	require.NoError(t, err)
	assert.False(t, got.Weight.Valid)
	assert.Equal(t, models.Float(1900), got.Calories)
}

func TestStore_PutRejectsBadDate(t *testing.T) {
	s, _ := openTestStore(t)
	err := s.Put(context.Background(), "", models.DailyRecord{})
	assert.ErrorIs(t, err, models.ErrMissingDateKey)
}

func TestStore_ListAndDelete(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, d := range []string{"2026-03-01", "2026-03-05", "2026-03-09"} {
		require.NoError(t, s.Put(ctx, d, models.DailyRecord{Date: d, Weight: models.Float(80), UpdatedAt: now}))
	}

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Contains(t, all, "2026-03-05")

	ranged, err := s.ListRange(ctx, "2026-03-02", "2026-03-09")
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, "2026-03-05", ranged[0].Date)
	assert.Equal(t, "2026-03-09", ranged[1].Date)

	require.NoError(t, s.Delete(ctx, "2026-03-05"))
	require.NoError(t, s.Delete(ctx, "2026-03-05"))

	all, err = s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.NotContains(t, all, "2026-03-05")
}

func TestStore_StateSurvivesReopen(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.LoadState(ctx, "sync_queue")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SaveState(ctx, "sync_queue", []byte(`[{"id":"a"}]`)))
	require.NoError(t, s.SaveState(ctx, "sync_queue", []byte(`[]`)))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer reopened.Close()

	v, found, err := reopened.LoadState(ctx, "sync_queue")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "[]", string(v))
}
