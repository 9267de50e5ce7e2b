package store

import (
	"context"
	"sync"
)

// memoryBackend keeps records in a process-local map. Used for tests and
// for deployments that accept losing schedules on restart.
type memoryBackend struct {
	mu   sync.Mutex
	rows map[string]Record
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{rows: make(map[string]Record)}
}

func (m *memoryBackend) UpsertJob(_ context.Context, r Record) error {
	m.mu.Lock()
	m.rows[r.ID] = r
	m.mu.Unlock()
	return nil
}

func (m *memoryBackend) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.rows, id)
	m.mu.Unlock()
	return nil
}

func (m *memoryBackend) LoadJobs(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memoryBackend) Close() error { return nil }
