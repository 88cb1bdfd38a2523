// Package file persists the pending set as a single JSON snapshot file.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ErlanBelekov/notify-scheduler/internal/store"
	"github.com/goccy/go-json"
)

const snapshotVersion = 1

type snapshot struct {
	Version int      `json:"version"`
	Records []record `json:"records"`
}

type record struct {
	ID            int64  `json:"id"`
	SchemaVersion int    `json:"schemaVersion"`
	Data          []byte `json:"data"`
}

// Backend writes the whole set on every Save: tmp file, fsync, rename.
// A crash leaves either the old snapshot or the new one, never a torn file.
type Backend struct {
	mu   sync.Mutex
	path string
}

func New(path string) (*Backend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Backend{path: path}, nil
}

// Load returns no records when the snapshot does not exist yet.
func (b *Backend) Load(_ context.Context) ([]store.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", b.path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot %s: unsupported version %d", b.path, snap.Version)
	}

	out := make([]store.Record, len(snap.Records))
	for i, r := range snap.Records {
		out[i] = store.Record{ID: r.ID, SchemaVersion: r.SchemaVersion, Data: r.Data}
	}
	return out, nil
}

func (b *Backend) Save(_ context.Context, records []store.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := snapshot{Version: snapshotVersion, Records: make([]record, len(records))}
	for i, r := range records {
		snap.Records[i] = record{ID: r.ID, SchemaVersion: r.SchemaVersion, Data: r.Data}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := b.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open snapshot tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync snapshot tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot tmp: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Ping checks that the snapshot directory is still writable.
func (b *Backend) Ping(_ context.Context) error {
	dir := filepath.Dir(b.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat store dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store dir %s is not a directory", dir)
	}
	return nil
}
