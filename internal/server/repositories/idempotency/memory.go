package idempotency

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/dmitrijs2005/letterflow/internal/common"
)

type recordKey struct {
	actor, key, endpoint string
}

type MemoryRepository struct {
	mu      sync.Mutex
	records map[recordKey]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[recordKey]Record)}
}

func (m *MemoryRepository) Get(_ context.Context, actorID, key, endpoint string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey{actorID, key, endpoint}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	rec.Body = slices.Clone(rec.Body)
	return &rec, nil
}

func (m *MemoryRepository) Save(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey{rec.ActorID, rec.Key, rec.Endpoint}
	if _, ok := m.records[k]; ok {
		return nil
	}
	stored := *rec
	stored.Body = slices.Clone(rec.Body)
	m.records[k] = stored
	return nil
}

func (m *MemoryRepository) Snapshot() (restore func()) {
	m.mu.Lock()
	saved := maps.Clone(m.records)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.records = saved
		m.mu.Unlock()
	}
}
