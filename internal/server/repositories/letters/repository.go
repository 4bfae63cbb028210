package letters

import (
	"context"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

type Repository interface {
	// NextSerial draws the next value of the serial sequence. Values are
	// never reused; gaps are allowed.
	NextSerial(ctx context.Context) (int64, error)
	Create(ctx context.Context, l *models.Letter) error
	Get(ctx context.Context, id string) (*models.Letter, error)
	// GetForUpdate reads the letter and locks its row for the rest of the
	// transaction.
	GetForUpdate(ctx context.Context, id string) (*models.Letter, error)
	// Update writes l if its version still matches and bumps l.Version.
	Update(ctx context.Context, l *models.Letter) error
	// ListByState returns letters in state whose updated_at is not after
	// before, oldest first.
	ListByState(ctx context.Context, state models.LetterState, before time.Time) ([]*models.Letter, error)
}
