package repomanager

import (
	"context"
	"database/sql"
	"sync"

	"github.com/dmitrijs2005/letterflow/internal/dbx"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/audit"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/idempotency"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/letters"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/signingrequests"
)

// MemoryRepositoryManager holds one in-memory instance of every repository.
// The db handle passed to the factories is ignored.
type MemoryRepositoryManager struct {
	letters         *letters.MemoryRepository
	signingRequests *signingrequests.MemoryRepository
	audit           *audit.MemoryRepository
	idempotency     *idempotency.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		letters:         letters.NewMemoryRepository(),
		signingRequests: signingrequests.NewMemoryRepository(),
		audit:           audit.NewMemoryRepository(),
		idempotency:     idempotency.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *MemoryRepositoryManager) Letters(dbx.DBTX) letters.Repository { return m.letters }

func (m *MemoryRepositoryManager) SigningRequests(dbx.DBTX) signingrequests.Repository {
	return m.signingRequests
}

func (m *MemoryRepositoryManager) Audit(dbx.DBTX) audit.Repository { return m.audit }

func (m *MemoryRepositoryManager) Idempotency(dbx.DBTX) idempotency.Repository {
	return m.idempotency
}

func (m *MemoryRepositoryManager) snapshot() (restore func()) {
	restores := []func(){
		m.letters.Snapshot(),
		m.signingRequests.Snapshot(),
		m.audit.Snapshot(),
		m.idempotency.Snapshot(),
	}
	return func() {
		for _, r := range restores {
			r()
		}
	}
}

// MemoryTransactor serializes write units over a MemoryRepositoryManager and
// rolls every store back when a unit fails. Units must not nest.
type MemoryTransactor struct {
	mu sync.Mutex
	m  *MemoryRepositoryManager
}

func NewMemoryTransactor(m *MemoryRepositoryManager) *MemoryTransactor {
	return &MemoryTransactor{m: m}
}

func (t *MemoryTransactor) Conn() dbx.DBTX { return nil }

func (t *MemoryTransactor) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	restore := t.m.snapshot()
	defer func() {
		if p := recover(); p != nil {
			restore()
			panic(p)
		}
		if err != nil {
			restore()
		}
	}()

	return fn(ctx, nil)
}
