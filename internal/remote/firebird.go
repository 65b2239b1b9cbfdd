package remote

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/mapper"
	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/pkg/encoding"

	_ "github.com/nakagami/firebirdsql"
)

// FirebirdSchema is the DDL expected on legacy installations. Firebird 2.5 has
// no CREATE TABLE IF NOT EXISTS so it is applied by the DBA.
const FirebirdSchema = `
CREATE TABLE WEIGHT_ENTRIES (
	USER_ID    VARCHAR(64) NOT NULL,
	ENTRY_DATE DATE        NOT NULL,
	WEIGHT     DOUBLE PRECISION,
	CALORIES   DOUBLE PRECISION,
	NOTES      BLOB SUB_TYPE TEXT CHARACTER SET WIN1252,
	UPDATED_AT TIMESTAMP   NOT NULL,
	CONSTRAINT PK_WEIGHT_ENTRIES PRIMARY KEY (USER_ID, ENTRY_DATE)
)`

const firebirdOpTimeout = 10 * time.Second

// FirebirdBackend stores weight entries in a legacy Firebird 2.5 database.
// Notes are kept in WIN1252 and timestamps are stored as UTC wall clock.
type FirebirdBackend struct {
	db      *sql.DB
	builder *mapper.SQLBuilder
	logger  *slog.Logger
}

// NewFirebirdBackend initializes a connection pool for Firebird 2.5
func NewFirebirdBackend(ctx context.Context, connString string, logger *slog.Logger) (*FirebirdBackend, error) {
	db, err := sql.Open("firebirdsql", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open firebird connection: %w", err)
	}

	// Connection pool settings optimized for legacy systems
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("firebird ping failed: %w", err)
	}

	logger.Info("Connected to Firebird successfully", "dialect", 3)

	return &FirebirdBackend{
		db:      db,
		builder: mapper.NewSQLBuilder(mapper.Firebird, mapper.WithColumnAlias(colDate, "entry_date")),
		logger:  logger,
	}, nil
}

func (b *FirebirdBackend) Insert(ctx context.Context, row models.RemoteRecord) error {
	if err := (RowID{UserID: row.UserID, Date: row.Date}).Validate(); err != nil {
		return fmt.Errorf("insert weight entry: %w", err)
	}

	query, args, err := b.builder.BuildUpsert(models.TableWeightEntries, keyColumns, rowValues(row, encoding.FromUTF8(row.Notes)))
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, firebirdOpTimeout)
	defer cancel()
	if _, err := b.db.ExecContext(opCtx, query, args...); err != nil {
		return fmt.Errorf("insert weight entry %s: %w", row.Date, err)
	}
	return nil
}

func (b *FirebirdBackend) Update(ctx context.Context, row models.RemoteRecord, id RowID) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("update weight entry: %w", err)
	}

	query, args, err := b.builder.BuildUpdate(models.TableWeightEntries, rowFilter(id), rowValues(row, encoding.FromUTF8(row.Notes)))
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, firebirdOpTimeout)
	defer cancel()
	res, err := b.db.ExecContext(opCtx, query, args...)
	if err != nil {
		return fmt.Errorf("update weight entry %s: %w", id.Date, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		b.logger.Debug("Update matched no row, inserting", "date", id.Date)
		row.UserID, row.Date = id.UserID, id.Date
		return b.Insert(ctx, row)
	}
	return nil
}

func (b *FirebirdBackend) Delete(ctx context.Context, id RowID) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("delete weight entry: %w", err)
	}

	query, args, err := b.builder.BuildDelete(models.TableWeightEntries, rowFilter(id))
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, firebirdOpTimeout)
	defer cancel()
	if _, err := b.db.ExecContext(opCtx, query, args...); err != nil {
		return fmt.Errorf("delete weight entry %s: %w", id.Date, err)
	}
	return nil
}

func (b *FirebirdBackend) SelectAll(ctx context.Context, userID string) ([]models.RemoteRecord, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	query, args, err := b.builder.BuildSelect(models.TableWeightEntries, selectColumns, map[string]any{colUserID: userID}, colDate)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, firebirdOpTimeout)
	defer cancel()

	rows, err := b.db.QueryContext(opCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select weight entries: %w", err)
	}
	defer rows.Close()

	var out []models.RemoteRecord
	for rows.Next() {
		var (
			rec       models.RemoteRecord
			date      time.Time
			notes     []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&date, &rec.Weight, &rec.Calories, &notes, &updatedAt, &rec.UserID); err != nil {
			return nil, fmt.Errorf("scan weight entry: %w", err)
		}
		rec.Date = dateKey(date)
		rec.Notes = encoding.ToUTF8(notes)
		rec.UpdatedAt = asUTC(updatedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate weight entries: %w", err)
	}

	return out, nil
}

// Close gracefully shuts down the database connection pool
func (b *FirebirdBackend) Close() error {
	b.logger.Info("Closing Firebird connection pool")
	return b.db.Close()
}

// asUTC reinterprets the wall clock of a zone-less TIMESTAMP as UTC
func asUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
