package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/letterflow/internal/dbx"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/audit"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/idempotency"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/letters"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/signingrequests"
)

// RepositoryManager vends repositories bound to a handle obtained from a
// dbx.Transactor, either the plain connection or a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Letters(db dbx.DBTX) letters.Repository
	SigningRequests(db dbx.DBTX) signingrequests.Repository
	Audit(db dbx.DBTX) audit.Repository
	Idempotency(db dbx.DBTX) idempotency.Repository
}
