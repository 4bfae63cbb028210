// Package idempotency stores the first response produced for an
// Idempotency-Key so retried requests replay it.
package idempotency

import (
	"context"
	"time"
)

// Record is the stored response for one (actor, key, endpoint).
type Record struct {
	ActorID     string
	Key         string
	Endpoint    string
	RequestHash string
	StatusCode  int
	Body        []byte
	CreatedAt   time.Time
}

type Repository interface {
	// Get returns common.ErrorNotFound when no record exists.
	Get(ctx context.Context, actorID, key, endpoint string) (*Record, error)
	// Save keeps the first record written for a key; later saves are ignored.
	Save(ctx context.Context, r *Record) error
}
