package signingrequests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRepository()

	r1 := &models.SigningRequest{ID: "r1", LetterID: "l1", Status: models.SigningPending, CreatedAt: created, ExpiresAt: expires}
	r2 := &models.SigningRequest{ID: "r2", LetterID: "l1", Status: models.SigningPending, CreatedAt: created.Add(time.Minute), ExpiresAt: expires.Add(time.Hour)}
	require.NoError(t, m.Create(ctx, r1))
	require.NoError(t, m.Create(ctx, r2))
	assert.ErrorIs(t, m.Create(ctx, r1), common.ErrVersionConflict)

	list, err := m.ListByLetter(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r1", list[0].ID)

	expired, err := m.ListExpired(ctx, expires)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "r1", expired[0].ID)

	done := *r1
	done.Status = models.SigningFailed
	done.FailureReason = models.FailureExpired
	require.NoError(t, m.Resolve(ctx, &done))
	assert.ErrorIs(t, m.Resolve(ctx, &done), ErrNotPending)

	got, err := m.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.SigningFailed, got.Status)
	assert.Equal(t, models.FailureExpired, got.FailureReason)

	expired, _ = m.ListExpired(ctx, expires.Add(2*time.Hour))
	require.Len(t, expired, 1)
	assert.Equal(t, "r2", expired[0].ID)

	_, err = m.Get(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMemoryRepository_Snapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRepository()
	require.NoError(t, m.Create(ctx, &models.SigningRequest{ID: "r1", Status: models.SigningPending}))

	restore := m.Snapshot()
	require.NoError(t, m.Resolve(ctx, &models.SigningRequest{ID: "r1", Status: models.SigningCancelled}))
	restore()

	got, err := m.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.SigningPending, got.Status)
}
