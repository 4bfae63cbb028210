package letters

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

// MemoryRepository keeps letters in a map. It backs tests and the
// database-less dev mode; transactions are provided by the repository
// manager through Snapshot.
type MemoryRepository struct {
	mu      sync.Mutex
	letters map[string]*models.Letter
	serial  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{letters: make(map[string]*models.Letter)}
}

// NextSerial is not rolled back by Snapshot, matching a database sequence.
func (m *MemoryRepository) NextSerial(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serial++
	return m.serial, nil
}

func (m *MemoryRepository) Create(_ context.Context, l *models.Letter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.letters[l.ID]; ok {
		return common.ErrVersionConflict
	}
	for _, other := range m.letters {
		if other.SerialNumber == l.SerialNumber {
			return common.ErrVersionConflict
		}
	}
	m.letters[l.ID] = l.Clone()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*models.Letter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.letters[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return l.Clone(), nil
}

func (m *MemoryRepository) GetForUpdate(ctx context.Context, id string) (*models.Letter, error) {
	return m.Get(ctx, id)
}

func (m *MemoryRepository) Update(_ context.Context, l *models.Letter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.letters[l.ID]
	if !ok || cur.Version != l.Version {
		return common.ErrVersionConflict
	}
	l.Version++
	m.letters[l.ID] = l.Clone()
	return nil
}

func (m *MemoryRepository) ListByState(_ context.Context, state models.LetterState, before time.Time) ([]*models.Letter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Letter
	for _, l := range m.letters {
		if l.State == state && !l.UpdatedAt.After(before) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// Snapshot copies the current contents and returns a function restoring
// them.
func (m *MemoryRepository) Snapshot() (restore func()) {
	m.mu.Lock()
	saved := make(map[string]*models.Letter, len(m.letters))
	for k, v := range m.letters {
		saved[k] = v.Clone()
	}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.letters = saved
		m.mu.Unlock()
	}
}
