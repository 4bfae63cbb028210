package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, actorID, key, endpoint string) (*Record, error) {
	query := `
		SELECT actor_id, key, endpoint, request_hash, status_code, body, created_at
		FROM idempotency_records WHERE actor_id = $1 AND key = $2 AND endpoint = $3
	`
	rec := &Record{}
	err := r.db.QueryRowContext(ctx, query, actorID, key, endpoint).Scan(
		&rec.ActorID, &rec.Key, &rec.Endpoint, &rec.RequestHash, &rec.StatusCode, &rec.Body, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Save(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO idempotency_records (actor_id, key, endpoint, request_hash, status_code, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (actor_id, key, endpoint) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ActorID, rec.Key, rec.Endpoint, rec.RequestHash, rec.StatusCode, rec.Body, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
