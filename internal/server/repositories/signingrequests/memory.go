package signingrequests

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

// MemoryRepository keeps signing requests in a map.
type MemoryRepository struct {
	mu       sync.Mutex
	requests map[string]models.SigningRequest
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{requests: make(map[string]models.SigningRequest)}
}

func clone(r models.SigningRequest) *models.SigningRequest {
	if r.SignedAt != nil {
		t := *r.SignedAt
		r.SignedAt = &t
	}
	return &r
}

func (m *MemoryRepository) Create(_ context.Context, r *models.SigningRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return common.ErrVersionConflict
	}
	m.requests[r.ID] = *clone(*r)
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*models.SigningRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(r), nil
}

func (m *MemoryRepository) GetForUpdate(ctx context.Context, id string) (*models.SigningRequest, error) {
	return m.Get(ctx, id)
}

func (m *MemoryRepository) Resolve(_ context.Context, r *models.SigningRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[r.ID]
	if !ok || cur.Status != models.SigningPending {
		return ErrNotPending
	}
	cur.Status = r.Status
	cur.FailureReason = r.FailureReason
	cur.SignatureRef = r.SignatureRef
	cur.SignedAt = r.SignedAt
	cur.ExternalID = r.ExternalID
	cur.UpdatedAt = r.UpdatedAt
	m.requests[r.ID] = *clone(cur)
	return nil
}

func (m *MemoryRepository) ListByLetter(_ context.Context, letterID string) ([]*models.SigningRequest, error) {
	return m.filter(func(r models.SigningRequest) bool { return r.LetterID == letterID },
		func(a, b *models.SigningRequest) bool {
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.ID < b.ID
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}), nil
}

func (m *MemoryRepository) ListExpired(_ context.Context, now time.Time) ([]*models.SigningRequest, error) {
	return m.filter(func(r models.SigningRequest) bool {
		return r.Status == models.SigningPending && !r.ExpiresAt.After(now)
	}, func(a, b *models.SigningRequest) bool { return a.ExpiresAt.Before(b.ExpiresAt) }), nil
}

func (m *MemoryRepository) filter(keep func(models.SigningRequest) bool, less func(a, b *models.SigningRequest) bool) []*models.SigningRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SigningRequest
	for _, r := range m.requests {
		if keep(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Snapshot copies the current contents and returns a function restoring
// them.
func (m *MemoryRepository) Snapshot() (restore func()) {
	m.mu.Lock()
	saved := make(map[string]models.SigningRequest, len(m.requests))
	for k, v := range m.requests {
		saved[k] = *clone(v)
	}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.requests = saved
		m.mu.Unlock()
	}
}
