// Package audit stores the append-only audit trail of letters.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/letterflow/internal/dbx"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

// PostgresRepository implements the audit trail over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// lockSeqQuery serializes seq allocation per letter until the surrounding
// transaction ends. Append must run inside a transaction.
const lockSeqQuery = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

func (r *PostgresRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	origin, err := json.Marshal(e.Origin)
	if err != nil {
		return fmt.Errorf("encode origin: %w", err)
	}
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, lockSeqQuery, e.LetterID); err != nil {
		return fmt.Errorf("db error: lock audit seq: %w", err)
	}

	query := `
		INSERT INTO audit_entries (id, letter_id, seq, action, actor, at, origin, from_state, to_state, payload)
		VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_entries WHERE letter_id = $2),
			$3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`
	err = r.db.QueryRowContext(ctx, query,
		e.ID, e.LetterID, e.Action, e.Actor, e.At, origin, string(e.FromState), string(e.ToState), rawPayload,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, letterID string) ([]models.AuditEntry, error) {
	query := `
		SELECT id, letter_id, seq, action, actor, at, origin, from_state, to_state, payload
		FROM audit_entries WHERE letter_id = $1 ORDER BY seq
	`
	rows, err := r.db.QueryContext(ctx, query, letterID)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit entries: %w", err)
	}
	defer rows.Close()

	var result []models.AuditEntry
	for rows.Next() {
		var (
			e               models.AuditEntry
			origin, payload []byte
			from, to        string
		)
		if err := rows.Scan(&e.ID, &e.LetterID, &e.Seq, &e.Action, &e.Actor, &e.At, &origin, &from, &to, &payload); err != nil {
			return nil, err
		}
		e.FromState = models.LetterState(from)
		e.ToState = models.LetterState(to)
		if err := json.Unmarshal(origin, &e.Origin); err != nil {
			return nil, fmt.Errorf("decode origin: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if len(e.Payload) == 0 {
			e.Payload = nil
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
