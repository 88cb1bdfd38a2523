// Package store keeps the set of pending schedule requests.
//
// Every mutation goes through one read-modify-write critical section: load the
// full set from the backend, mutate it in memory, persist the full set. The
// pending set is bounded by what the application schedules, so whole-set
// writes stay small and each one is atomic at the backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ErlanBelekov/notify-scheduler/internal/codec"
	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
	"github.com/ErlanBelekov/notify-scheduler/internal/metrics"
)

// ErrUnchanged may be returned from a Mutate callback to skip the write.
var ErrUnchanged = errors.New("store: unchanged")

// Record is one encoded request as the backend sees it.
type Record struct {
	ID            int64
	SchemaVersion int
	Data          []byte
}

// Backend persists the whole record set. Save replaces everything atomically.
type Backend interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Set is the in-memory view handed to Mutate callbacks, keyed by request id.
type Set map[int64]*domain.ScheduleRequest

type Store struct {
	mu      sync.Mutex
	backend Backend
	codec   *codec.Codec
	logger  *slog.Logger
}

func New(backend Backend, c *codec.Codec, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		codec:   c,
		logger:  logger.With("component", "store"),
	}
}

// Mutate runs fn against the full pending set and persists the result before
// returning. If fn returns an error nothing is written; ErrUnchanged is
// swallowed.
func (s *Store) Mutate(ctx context.Context, fn func(set Set) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(set); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return nil
		}
		return err
	}
	return s.persist(ctx, set)
}

// Upsert replaces any request with the same id.
func (s *Store) Upsert(ctx context.Context, r *domain.ScheduleRequest) error {
	return s.Mutate(ctx, func(set Set) error {
		set[r.ID] = r.Clone()
		return nil
	})
}

// Remove deletes the request. Removing an absent id is a no-op.
func (s *Store) Remove(ctx context.Context, id int64) error {
	return s.Mutate(ctx, func(set Set) error {
		if _, ok := set[id]; !ok {
			return ErrUnchanged
		}
		delete(set, id)
		return nil
	})
}

// ReplaceAll swaps the whole pending set for rs.
func (s *Store) ReplaceAll(ctx context.Context, rs []*domain.ScheduleRequest) error {
	return s.Mutate(ctx, func(set Set) error {
		clear(set)
		for _, r := range rs {
			set[r.ID] = r.Clone()
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id int64) (*domain.ScheduleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	r, ok := set[id]
	if !ok {
		return nil, fmt.Errorf("get request %d: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

// ListAll returns every pending request that decodes, ordered by id.
func (s *Store) ListAll(ctx context.Context) ([]*domain.ScheduleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return sorted(set), nil
}

// Ping reports backend reachability. Backends without a Pinger are always up.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// load decodes every record. Records that fail to decode are logged and left
// out, so they disappear at the next persist.
func (s *Store) load(ctx context.Context) (Set, error) {
	records, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w: %w", domain.ErrStorage, err)
	}

	set := make(Set, len(records))
	for _, rec := range records {
		r, err := s.codec.Decode(rec.Data)
		if err == nil && r.ID != rec.ID {
			err = fmt.Errorf("%w: key %d holds request %d", domain.ErrCorruptRecord, rec.ID, r.ID)
		}
		if err != nil {
			metrics.CorruptRecordsTotal.Inc()
			s.logger.WarnContext(ctx, "dropping corrupt record", "schedule_id", rec.ID, "schema_version", rec.SchemaVersion, "error", err)
			continue
		}
		set[r.ID] = r
	}
	return set, nil
}

// persist writes the set at the codec's current version.
func (s *Store) persist(ctx context.Context, set Set) error {
	records := make([]Record, 0, len(set))
	for _, r := range sorted(set) {
		w := r.Clone()
		w.SchemaVersion = 0
		b, err := s.codec.Encode(w)
		if err != nil {
			return fmt.Errorf("persist request %d: %w", r.ID, err)
		}
		records = append(records, Record{ID: r.ID, SchemaVersion: domain.CurrentSchemaVersion, Data: b})
	}

	if err := s.backend.Save(ctx, records); err != nil {
		return fmt.Errorf("save records: %w: %w", domain.ErrStorage, err)
	}
	metrics.PendingRequests.Set(float64(len(records)))
	return nil
}

func sorted(set Set) []*domain.ScheduleRequest {
	out := make([]*domain.ScheduleRequest, 0, len(set))
	for _, r := range set {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *domain.ScheduleRequest) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
