package audit

import (
	"context"

	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

// Repository is append-only: entries are never updated or deleted.
type Repository interface {
	// Append stores e, assigning its ID when empty and the next per-letter
	// sequence number.
	Append(ctx context.Context, e *models.AuditEntry) error
	// List returns the trail of a letter in sequence order.
	List(ctx context.Context, letterID string) ([]models.AuditEntry, error)
}
