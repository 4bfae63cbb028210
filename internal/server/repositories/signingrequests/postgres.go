// Package signingrequests persists signing request attempts.
package signingrequests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/dbx"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

// PostgresRepository implements signing request storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, letter_id, signatory_index, provider, external_id, token, signing_url, provider_url,
	status, failure_reason, signature_ref, signed_at, created_at, expires_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, req *models.SigningRequest) error {
	query := `
		INSERT INTO signing_requests (id, letter_id, signatory_index, provider, external_id, token, signing_url,
			provider_url, status, failure_reason, signature_ref, signed_at, created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.LetterID, req.SignatoryIndex, req.Provider, req.ExternalID, req.Token, req.SigningURL,
		req.ProviderURL, string(req.Status), req.FailureReason, req.SignatureRef, req.SignedAt,
		req.CreatedAt, req.ExpiresAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.SigningRequest, error) {
	return r.get(ctx, `SELECT `+selectColumns+` FROM signing_requests WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.SigningRequest, error) {
	return r.get(ctx, `SELECT `+selectColumns+` FROM signing_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*models.SigningRequest, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select signing request: %w", err)
	}
	return req, nil
}

func (r *PostgresRepository) Resolve(ctx context.Context, req *models.SigningRequest) error {
	query := `
		UPDATE signing_requests SET
			status = $2, failure_reason = $3, signature_ref = $4, signed_at = $5, external_id = $6, updated_at = $7
		WHERE id = $1 AND status = 'PENDING'
	`
	res, err := r.db.ExecContext(ctx, query,
		req.ID, string(req.Status), req.FailureReason, req.SignatureRef, req.SignedAt, req.ExternalID, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return ErrNotPending
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) ListByLetter(ctx context.Context, letterID string) ([]*models.SigningRequest, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM signing_requests WHERE letter_id = $1 ORDER BY created_at, id`, letterID)
}

func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.SigningRequest, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM signing_requests WHERE status = 'PENDING' AND expires_at <= $1 ORDER BY expires_at`, now)
}

func (r *PostgresRepository) list(ctx context.Context, query string, arg any) ([]*models.SigningRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to select signing requests: %w", err)
	}
	defer rows.Close()

	var result []*models.SigningRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*models.SigningRequest, error) {
	var (
		req      models.SigningRequest
		status   string
		signedAt sql.NullTime
	)
	err := s.Scan(&req.ID, &req.LetterID, &req.SignatoryIndex, &req.Provider, &req.ExternalID, &req.Token,
		&req.SigningURL, &req.ProviderURL, &status, &req.FailureReason, &req.SignatureRef, &signedAt,
		&req.CreatedAt, &req.ExpiresAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	req.Status = models.SigningStatus(status)
	if signedAt.Valid {
		t := signedAt.Time
		req.SignedAt = &t
	}
	return &req, nil
}
