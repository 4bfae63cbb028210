package audit

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

// MemoryRepository keeps per-letter trails in slices.
type MemoryRepository struct {
	mu      sync.Mutex
	entries map[string][]models.AuditEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string][]models.AuditEntry)}
}

func (m *MemoryRepository) Append(_ context.Context, e *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	trail := m.entries[e.LetterID]
	e.Seq = int64(len(trail)) + 1
	stored := *e
	stored.Payload = maps.Clone(e.Payload)
	m.entries[e.LetterID] = append(trail, stored)
	return nil
}

func (m *MemoryRepository) List(_ context.Context, letterID string) ([]models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trail := m.entries[letterID]
	out := make([]models.AuditEntry, len(trail))
	for i, e := range trail {
		e.Payload = maps.Clone(e.Payload)
		out[i] = e
	}
	return out, nil
}

// Snapshot remembers trail lengths; restore truncates back to them.
func (m *MemoryRepository) Snapshot() (restore func()) {
	m.mu.Lock()
	lengths := make(map[string]int, len(m.entries))
	for k, v := range m.entries {
		lengths[k] = len(v)
	}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for k, v := range m.entries {
			n, ok := lengths[k]
			if !ok {
				delete(m.entries, k)
				continue
			}
			m.entries[k] = v[:n:n]
		}
	}
}
