// Package repomanager provides the RepositoryManager implementations for
// PostgreSQL and for the in-memory store, together with schema migrations
// (via goose).
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/letterflow/internal/dbx"
	"github.com/dmitrijs2005/letterflow/internal/server/migrations"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/audit"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/idempotency"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/letters"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/signingrequests"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Letters(db dbx.DBTX) letters.Repository {
	return letters.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) SigningRequests(db dbx.DBTX) signingrequests.Repository {
	return signingrequests.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Audit(db dbx.DBTX) audit.Repository {
	return audit.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Idempotency(db dbx.DBTX) idempotency.Repository {
	return idempotency.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// Open picks the backend for dsn. An empty dsn selects the in-memory store;
// otherwise a pgx connection is opened, pinged and migrated. The returned
// close func releases the connection.
func Open(ctx context.Context, dsn string) (RepositoryManager, dbx.Transactor, func() error, error) {
	if dsn == "" {
		m := NewMemoryRepositoryManager()
		return m, NewMemoryTransactor(m), func() error { return nil }, nil
	}

	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("db ping error: %w", err)
	}

	m := NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("migration error: %w", err)
	}

	tr := dbx.NewSQLTransactor(db, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	return m, tr, db.Close, nil
}
