// Package storage provides the places an exported file can live: process
// memory for files served back over the API, and S3-compatible object
// storage for durable external copies. Disk-located exports are plain
// files; their path travels on the task record.
package storage

import (
	"sync"

	"github.com/google/uuid"
)

// MemoryStore holds rendered export bytes keyed by task ID until they are
// served or the task is deleted.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[uuid.UUID][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[uuid.UUID][]byte)}
}

func (m *MemoryStore) Put(id uuid.UUID, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = data
}

func (m *MemoryStore) Get(id uuid.UUID) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[id]
	return data, ok
}

func (m *MemoryStore) Delete(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
}
