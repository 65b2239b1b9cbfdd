package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/auth"
	"github.com/Guizzs26/tdee-sync/internal/httpapi"
	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/internal/service"
	"github.com/Guizzs26/tdee-sync/internal/testutil"
	"github.com/Guizzs26/tdee-sync/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 8, 7, 0, 0, 0, time.UTC)

func startDaemon(t *testing.T, signedIn bool) (*Client, *service.Engine, *testutil.Backend) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewClock(t0)
	backend := testutil.NewBackend()

	gate := auth.NewSessionGate(backend, auth.WithClock(clock.Now), auth.WithLogger(logger))
	if signedIn {
		_, err := gate.SignIn(auth.User{ID: "u-1", Email: "ana@example.com"}, time.Hour)
		require.NoError(t, err)
	}

	engine, err := service.New(context.Background(), testutil.NewMemoryStore(), gate, service.Options{
		Logger:     logger,
		Now:        clock.Now,
		NewID:      testutil.Sequence("op"),
		MaxRetries: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	srv := httptest.NewServer(httpapi.NewRouter(engine, logger))
	t.Cleanup(srv.Close)

	return New(srv.URL, 5*time.Second), engine, backend
}

func TestNew_Address(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", New(":8080", time.Second).base)
	assert.Equal(t, "http://10.0.0.2:9000", New("10.0.0.2:9000/", time.Second).base)
	assert.Equal(t, "https://sync.example.com", New("https://sync.example.com", time.Second).base)
}

func TestClient_EntriesAndSync(t *testing.T) {
	c, engine, backend := startDaemon(t, true)
	ctx := context.Background()

	res, err := c.SaveEntry(ctx, models.DailyRecord{Date: "2026-03-08", Weight: models.Float(80.2)})
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, "op-1", res.OperationID)
	assert.NoError(t, res.QueueErr)

	ops, err := c.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpCreate, ops[0].Type)

	drain, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, drain.Succeeded)
	assert.Empty(t, engine.ListQueue())

	row, ok := backend.Row("u-1", "2026-03-08")
	require.True(t, ok)
	assert.Equal(t, models.Float(80.2), row.Weight)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.PendingOperations)
	assert.NotEqual(t, "never", st.LastSync)
}

func TestClient_APIError(t *testing.T) {
	c, _, _ := startDaemon(t, false)
	ctx := context.Background()

	_, err := c.SaveEntry(ctx, models.DailyRecord{Date: "08/03/2026"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	_, err = c.Pull(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestClient_QueueMaintenance(t *testing.T) {
	c, engine, backend := startDaemon(t, true)
	ctx := context.Background()

	backend.Fail("2026-03-08", testutil.ErrInjected)
	_, err := c.SaveEntry(ctx, models.DailyRecord{Date: "2026-03-08", Weight: models.Float(80)})
	require.NoError(t, err)

	for range 2 {
		_, err := c.Sync(ctx)
		require.NoError(t, err)
	}

	errs, err := c.Errors(ctx)
	require.NoError(t, err)
	assert.Len(t, errs, 2)

	removed, err := c.PruneQueue(ctx, 0)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, 2, removed[0].Retries)
	assert.Empty(t, engine.ListQueue())

	filtered, err := c.FilterQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, filtered.Filtered)

	require.NoError(t, c.ClearErrors(ctx))
	errs, err = c.Errors(ctx)
	require.NoError(t, err)
	assert.Empty(t, errs)

	_, err = c.SaveEntry(ctx, models.DailyRecord{Date: "2026-03-09", Weight: models.Float(80)})
	require.NoError(t, err)
	require.NoError(t, c.ClearQueue(ctx))
	assert.Empty(t, engine.ListQueue())
}

func TestClient_Network(t *testing.T) {
	c, engine, _ := startDaemon(t, false)
	ctx := context.Background()

	require.NoError(t, c.SetOnline(ctx, false))
	assert.False(t, engine.Online())
	require.NoError(t, c.SetOnline(ctx, true))
	assert.True(t, engine.Online())
}

func TestClient_ExportImport(t *testing.T) {
	src, _, _ := startDaemon(t, false)
	dst, dstEngine, _ := startDaemon(t, true)
	ctx := context.Background()

	_, err := src.SaveEntry(ctx, models.DailyRecord{Date: "2026-03-07", Calories: models.Float(2300)})
	require.NoError(t, err)
	_, err = src.SaveEntry(ctx, models.DailyRecord{Date: "2026-03-08", Weight: models.Float(79.9), Notes: "após treino"})
	require.NoError(t, err)

	bundle, err := transfer.Export(ctx, src, transfer.Settings{WeightUnit: "kg", CalorieUnit: "kcal"}, t0)
	require.NoError(t, err)
	require.Len(t, bundle.Entries, 2)

	var buf bytes.Buffer
	require.NoError(t, bundle.Encode(&buf))
	decoded, err := transfer.Decode(&buf)
	require.NoError(t, err)

	res, err := transfer.Import(ctx, dst, decoded)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 2, res.Queued)
	assert.Len(t, dstEngine.ListQueue(), 2)

	recs, err := dst.Entries(ctx, "2026-03-08", "2026-03-08")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "após treino", recs[0].Notes)
}

func TestClient_ImportOverExistingDateQueuesUpdate(t *testing.T) {
	dst, engine, _ := startDaemon(t, true)
	ctx := context.Background()

	_, err := dst.SaveEntry(ctx, models.DailyRecord{Date: "2026-03-08", Weight: models.Float(81)})
	require.NoError(t, err)

	bundle := transfer.Bundle{
		Version: transfer.BundleVersion,
		Entries: map[string]transfer.Entry{
			"2026-03-07": {Calories: models.Float(2300)},
			"2026-03-08": {Weight: models.Float(79.9)},
		},
	}
	res, err := transfer.Import(ctx, dst, bundle)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)

	ops := engine.ListQueue()
	require.Len(t, ops, 3)
	assert.Equal(t, []models.OperationType{models.OpCreate, models.OpCreate, models.OpUpdate},
		[]models.OperationType{ops[0].Type, ops[1].Type, ops[2].Type})
	assert.Equal(t, "2026-03-08", ops[2].Data.Date)
	assert.Equal(t, models.Float(79.9), ops[2].Data.Weight)
}
