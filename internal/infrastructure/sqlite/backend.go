// Package sqlite persists the pending set in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ErlanBelekov/notify-scheduler/internal/infrastructure/sqlite/migrations"
	"github.com/ErlanBelekov/notify-scheduler/internal/store"
)

type Backend struct {
	db   *sql.DB
	path string
}

// Open creates the database file if needed and applies pending migrations.
func Open(ctx context.Context, path string) (*Backend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; the store already serializes mutations.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	b := &Backend{db: db, path: path}
	if err := b.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return b, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) Path() string {
	return b.path
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *Backend) Load(ctx context.Context) ([]store.Record, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id, schema_version, data FROM schedule_requests ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query schedule requests: %w", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.ID, &rec.SchemaVersion, &rec.Data); err != nil {
			return nil, fmt.Errorf("scan schedule request: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule requests: %w", err)
	}
	return out, nil
}

// Save replaces the table contents in one transaction.
func (b *Backend) Save(ctx context.Context, records []store.Record) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_requests`); err != nil {
		return fmt.Errorf("clear schedule requests: %w", err)
	}

	if len(records) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO schedule_requests (id, schema_version, data) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx, rec.ID, rec.SchemaVersion, rec.Data); err != nil {
				return fmt.Errorf("insert schedule request %d: %w", rec.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := b.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := b.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := b.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}
