package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/mapper"
	"github.com/Guizzs26/tdee-sync/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS weight_entries (
	user_id    TEXT             NOT NULL,
	date       DATE             NOT NULL,
	weight     DOUBLE PRECISION,
	calories   DOUBLE PRECISION,
	notes      TEXT,
	updated_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, date)
)`

// PostgresBackend stores weight entries in a PostgreSQL table
type PostgresBackend struct {
	pool    *pgxpool.Pool
	builder *mapper.SQLBuilder
	logger  *slog.Logger
}

func NewPostgresBackend(ctx context.Context, connString string, logger *slog.Logger) (*PostgresBackend, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	logger.Info("Connected to Postgres successfully", "max_conns", config.MaxConns)

	return &PostgresBackend{
		pool:    p,
		builder: mapper.NewSQLBuilder(mapper.Postgres),
		logger:  logger,
	}, nil
}

// Migrate creates the weight_entries table when missing
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate weight_entries: %w", err)
	}
	return nil
}

// Insert writes the row, overwriting an existing row for the same user and
// date so a retried create is not rejected
func (b *PostgresBackend) Insert(ctx context.Context, row models.RemoteRecord) error {
	if err := (RowID{UserID: row.UserID, Date: row.Date}).Validate(); err != nil {
		return fmt.Errorf("insert weight entry: %w", err)
	}

	query, args, err := b.builder.BuildUpsert(models.TableWeightEntries, keyColumns, rowValues(row, row.Notes))
	if err != nil {
		return err
	}
	if _, err := b.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert weight entry %s: %w", row.Date, err)
	}
	return nil
}

func (b *PostgresBackend) Update(ctx context.Context, row models.RemoteRecord, id RowID) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("update weight entry: %w", err)
	}

	query, args, err := b.builder.BuildUpdate(models.TableWeightEntries, rowFilter(id), rowValues(row, row.Notes))
	if err != nil {
		return err
	}
	tag, err := b.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update weight entry %s: %w", id.Date, err)
	}

	if tag.RowsAffected() == 0 {
		b.logger.Debug("Update matched no row, inserting", "date", id.Date)
		row.UserID, row.Date = id.UserID, id.Date
		return b.Insert(ctx, row)
	}
	return nil
}

func (b *PostgresBackend) Delete(ctx context.Context, id RowID) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("delete weight entry: %w", err)
	}

	query, args, err := b.builder.BuildDelete(models.TableWeightEntries, rowFilter(id))
	if err != nil {
		return err
	}
	if _, err := b.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete weight entry %s: %w", id.Date, err)
	}
	return nil
}

func (b *PostgresBackend) SelectAll(ctx context.Context, userID string) ([]models.RemoteRecord, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	query, args, err := b.builder.BuildSelect(models.TableWeightEntries, selectColumns, map[string]any{colUserID: userID}, colDate)
	if err != nil {
		return nil, err
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select weight entries: %w", err)
	}
	defer rows.Close()

	var out []models.RemoteRecord
	for rows.Next() {
		var (
			rec   models.RemoteRecord
			date  time.Time
			notes *string
		)
		if err := rows.Scan(&date, &rec.Weight, &rec.Calories, &notes, &rec.UpdatedAt, &rec.UserID); err != nil {
			return nil, fmt.Errorf("scan weight entry: %w", err)
		}
		rec.Date = dateKey(date)
		if notes != nil {
			rec.Notes = *notes
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate weight entries: %w", err)
	}

	return out, nil
}

func (b *PostgresBackend) Close() {
	b.pool.Close()
}
