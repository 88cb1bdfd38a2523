package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps records in process memory. Nothing survives a restart;
// it backs tests and STORE_DRIVER=memory.
type MemoryBackend struct {
	mu      sync.Mutex
	records []Record

	// LoadErr and SaveErr, when set, are returned instead of touching records.
	LoadErr error
	SaveErr error
}

func NewMemoryBackend(records ...Record) *MemoryBackend {
	return &MemoryBackend{records: copyRecords(records)}
}

func (m *MemoryBackend) Load(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return copyRecords(m.records), nil
}

func (m *MemoryBackend) Save(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.records = copyRecords(records)
	return nil
}

// Records returns a copy of what was last saved.
func (m *MemoryBackend) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRecords(m.records)
}

func copyRecords(in []Record) []Record {
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = Record{ID: r.ID, SchemaVersion: r.SchemaVersion, Data: append([]byte(nil), r.Data...)}
	}
	return out
}
