// Package localstore is the on-device store: daily records keyed by date plus
// a small key/value table holding the sync engine's own state.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/models"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS daily_records (
	date       TEXT PRIMARY KEY,
	weight     REAL,
	calories   REAL,
	notes      TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_state (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TEXT NOT NULL
);`

// Store is a SQLite backed local store
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating when needed) the SQLite file at path
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create local schema: %w", err)
	}

	logger.Debug("Local store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Put creates or replaces the record for date
func (s *Store) Put(ctx context.Context, date string, rec models.DailyRecord) error {
	if err := models.ValidateDateKey(date); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_records (date, weight, calories, notes, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			weight = excluded.weight,
			calories = excluded.calories,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		date, rec.Weight, rec.Calories, rec.Notes, formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put record %s: %w", date, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, date string) (models.DailyRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT date, weight, calories, notes, updated_at FROM daily_records WHERE date = ?`, date)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DailyRecord{}, false, nil
	}
	if err != nil {
		return models.DailyRecord{}, false, fmt.Errorf("get record %s: %w", date, err)
	}
	return rec, true, nil
}

// ListAll returns every record keyed by date
func (s *Store) ListAll(ctx context.Context) (map[string]models.DailyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, weight, calories, notes, updated_at FROM daily_records`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.DailyRecord)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out[rec.Date] = rec
	}
	return out, rows.Err()
}

// ListRange returns records with from <= date <= to, oldest first
func (s *Store) ListRange(ctx context.Context, from, to string) ([]models.DailyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, weight, calories, notes, updated_at FROM daily_records
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list records %s..%s: %w", from, to, err)
	}
	defer rows.Close()

	var out []models.DailyRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes the record for date. Deleting a missing date is not an error.
func (s *Store) Delete(ctx context.Context, date string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM daily_records WHERE date = ?`, date); err != nil {
		return fmt.Errorf("delete record %s: %w", date, err)
	}
	return nil
}

func (s *Store) LoadState(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load state %q: %w", key, err)
	}
	return value, true, nil
}

// SaveState replaces the value stored under key in a single statement
func (s *Store) SaveState(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save state %q: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (models.DailyRecord, error) {
	var (
		rec       models.DailyRecord
		updatedAt string
	)
	if err := sc.Scan(&rec.Date, &rec.Weight, &rec.Calories, &rec.Notes, &updatedAt); err != nil {
		return models.DailyRecord{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return models.DailyRecord{}, fmt.Errorf("record %s has bad updated_at %q: %w", rec.Date, updatedAt, err)
	}
	rec.UpdatedAt = t
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
