package signingrequests

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

// ErrNotPending is returned by Resolve when the request already reached a
// terminal status.
var ErrNotPending = errors.New("signing request is not pending")

type Repository interface {
	Create(ctx context.Context, r *models.SigningRequest) error
	Get(ctx context.Context, id string) (*models.SigningRequest, error)
	// GetForUpdate reads the request and locks its row for the rest of the
	// transaction.
	GetForUpdate(ctx context.Context, id string) (*models.SigningRequest, error)
	// Resolve moves a PENDING request to r.Status. Requests never return to
	// PENDING; a non-pending row yields ErrNotPending.
	Resolve(ctx context.Context, r *models.SigningRequest) error
	ListByLetter(ctx context.Context, letterID string) ([]*models.SigningRequest, error)
	// ListExpired returns PENDING requests whose expiry is not after now.
	ListExpired(ctx context.Context, now time.Time) ([]*models.SigningRequest, error)
}
