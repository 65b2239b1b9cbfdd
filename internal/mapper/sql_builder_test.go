package mapper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryRow() map[string]any {
	return map[string]any{
		"user_id":  "u-1",
		"date":     "2026-03-08",
		"weight":   80.5,
		"calories": 2100.0,
	}
}

func TestBuildInsert(t *testing.T) {
	t.Run("postgres numbers placeholders", func(t *testing.T) {
		b := NewSQLBuilder(Postgres)
		q, args, err := b.BuildInsert("weight_entries", entryRow())
		require.NoError(t, err)
		assert.Equal(t, "INSERT INTO weight_entries (calories, date, user_id, weight) VALUES ($1, $2, $3, $4)", q)
		assert.Equal(t, []any{2100.0, "2026-03-08", "u-1", 80.5}, args)
	})

	t.Run("firebird uppercases and applies aliases", func(t *testing.T) {
		b := NewSQLBuilder(Firebird, WithColumnAlias("date", "entry_date"))
		q, _, err := b.BuildInsert("weight_entries", entryRow())
		require.NoError(t, err)
		assert.Equal(t, "INSERT INTO WEIGHT_ENTRIES (CALORIES, ENTRY_DATE, USER_ID, WEIGHT) VALUES (?, ?, ?, ?)", q)
	})

	t.Run("empty data", func(t *testing.T) {
		_, _, err := NewSQLBuilder(Postgres).BuildInsert("weight_entries", nil)
		assert.ErrorIs(t, err, ErrNoData)
	})
}

func TestBuildUpsert(t *testing.T) {
	t.Run("postgres on conflict", func(t *testing.T) {
		b := NewSQLBuilder(Postgres)
		q, args, err := b.BuildUpsert("weight_entries", []string{"user_id", "date"}, entryRow())
		require.NoError(t, err)
		assert.Equal(t,
			"INSERT INTO weight_entries (calories, date, user_id, weight) VALUES ($1, $2, $3, $4)"+
				" ON CONFLICT (user_id, date) DO UPDATE SET calories = EXCLUDED.calories, weight = EXCLUDED.weight",
			q)
		assert.Len(t, args, 4)
	})

	t.Run("firebird matching", func(t *testing.T) {
		b := NewSQLBuilder(Firebird, WithColumnAlias("date", "entry_date"))
		q, _, err := b.BuildUpsert("weight_entries", []string{"user_id", "date"}, entryRow())
		require.NoError(t, err)
		assert.Equal(t,
			"UPDATE OR INSERT INTO WEIGHT_ENTRIES (CALORIES, ENTRY_DATE, USER_ID, WEIGHT) VALUES (?, ?, ?, ?)"+
				" MATCHING (USER_ID, ENTRY_DATE)",
			q)
	})

	t.Run("key missing from data", func(t *testing.T) {
		_, _, err := NewSQLBuilder(Postgres).BuildUpsert("weight_entries", []string{"id"}, entryRow())
		assert.Error(t, err)
	})

	t.Run("only keys", func(t *testing.T) {
		q, _, err := NewSQLBuilder(Postgres).BuildUpsert("weight_entries", []string{"user_id"}, map[string]any{"user_id": "u"})
		require.NoError(t, err)
		assert.Contains(t, q, "ON CONFLICT (user_id) DO NOTHING")
	})
}

func TestBuildUpdate(t *testing.T) {
	b := NewSQLBuilder(Postgres)
	where := map[string]any{"user_id": "u-1", "date": "2026-03-08"}

	q, args, err := b.BuildUpdate("weight_entries", where, entryRow())
	require.NoError(t, err)
	assert.Equal(t, "UPDATE weight_entries SET calories = $1, weight = $2 WHERE date = $3 AND user_id = $4", q)
	assert.Equal(t, []any{2100.0, 80.5, "2026-03-08", "u-1"}, args)

	_, _, err = b.BuildUpdate("weight_entries", nil, entryRow())
	assert.Error(t, err)

	_, _, err = b.BuildUpdate("weight_entries", where, map[string]any{"date": "2026-03-08"})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestBuildDeleteAndSelect(t *testing.T) {
	b := NewSQLBuilder(Firebird, WithColumnAlias("date", "entry_date"))
	where := map[string]any{"user_id": "u-1", "date": "2026-03-08"}

	q, args, err := b.BuildDelete("weight_entries", where)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM WEIGHT_ENTRIES WHERE ENTRY_DATE = ? AND USER_ID = ?", q)
	assert.Equal(t, []any{"2026-03-08", "u-1"}, args)

	q, args, err = b.BuildSelect("weight_entries", []string{"date", "weight"}, map[string]any{"user_id": "u-1"}, "date")
	require.NoError(t, err)
	assert.Equal(t, "SELECT ENTRY_DATE, WEIGHT FROM WEIGHT_ENTRIES WHERE USER_ID = ? ORDER BY ENTRY_DATE DESC", q)
	assert.Equal(t, []any{"u-1"}, args)
}

func TestFormatValue(t *testing.T) {
	fb := NewSQLBuilder(Firebird)
	pg := NewSQLBuilder(Postgres)

	assert.Equal(t, 1, fb.formatValue(true))
	assert.Equal(t, 0, fb.formatValue(false))
	assert.Equal(t, "2026-03-08 07:30:00", fb.formatValue("2026-03-08T07:30:00Z"))
	assert.Equal(t, "2026-03-08", fb.formatValue("2026-03-08"))

	local := time.Date(2026, 3, 8, 9, 30, 0, 0, time.FixedZone("CET", 2*3600))
	assert.Equal(t, time.UTC, fb.formatValue(local).(time.Time).Location())

	assert.Equal(t, true, pg.formatValue(true))
}
