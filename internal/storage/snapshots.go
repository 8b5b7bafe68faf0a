package storage

import (
	"sync"

	"github.com/guetchou/bantudelice-tracking/internal/models"
)

// SnapshotStore persists the minimum state needed for crash recovery.
// The engine holds authoritative state in memory; this is write-behind.
type SnapshotStore interface {
	SaveRequest(r models.Request) error
	SaveActor(a models.Actor) error
}

// MemoryStore backs local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]models.Request
	actors   map[string]models.Actor
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]models.Request),
		actors:   make(map[string]models.Actor),
	}
}

func (m *MemoryStore) SaveRequest(r models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r
	return nil
}

func (m *MemoryStore) SaveActor(a models.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[a.ID] = a
	return nil
}

func (m *MemoryStore) GetRequest(id string) (models.Request, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	return r, ok
}

func (m *MemoryStore) GetActor(id string) (models.Actor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actors[id]
	return a, ok
}
