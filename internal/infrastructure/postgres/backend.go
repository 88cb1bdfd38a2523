package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ErlanBelekov/notify-scheduler/internal/infrastructure/postgres/migrations"
	"github.com/ErlanBelekov/notify-scheduler/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend stores the pending set in the schedule_requests table.
type Backend struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewBackend(pool *pgxpool.Pool, logger *slog.Logger) *Backend {
	return &Backend{pool: pool, logger: logger.With("component", "postgres_backend")}
}

// Migrate creates the table if it does not exist.
func (b *Backend) Migrate(ctx context.Context) error {
	ddl, err := migrations.FS.ReadFile("001_schedule_requests.up.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := b.pool.Exec(ctx, string(ddl)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *Backend) Load(ctx context.Context) ([]store.Record, error) {
	rows, err := b.pool.Query(ctx, `SELECT id, schema_version, data FROM schedule_requests ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query schedule requests: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Record, error) {
		var rec store.Record
		err := row.Scan(&rec.ID, &rec.SchemaVersion, &rec.Data)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan schedule requests: %w", err)
	}
	return recs, nil
}

// Save replaces the table contents inside one transaction.
func (b *Backend) Save(ctx context.Context, records []store.Record) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM schedule_requests`); err != nil {
		return fmt.Errorf("clear schedule requests: %w", err)
	}

	if len(records) > 0 {
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"schedule_requests"},
			[]string{"id", "schema_version", "data"},
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				return []any{r.ID, r.SchemaVersion, r.Data}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy schedule requests: %w", err)
		}
		if int(n) != len(records) {
			return fmt.Errorf("copy schedule requests: wrote %d of %d rows", n, len(records))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	b.logger.DebugContext(ctx, "saved schedule requests", "count", len(records))
	return nil
}
