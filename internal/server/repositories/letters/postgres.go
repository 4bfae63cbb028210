// Package letters persists letters with their embedded workflow,
// signatories and files.
package letters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/dbx"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

// PostgresRepository implements letter storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, serial_number, letter_type, locale, template_id, template_version, data,
	issue_date, effective_date, state, signatories, workflow, files, recipients, delivery,
	void_reason, created_by, created_at, updated_at, version`

func (r *PostgresRepository) NextSerial(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT nextval('letter_serials')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// jsonColumns holds the encoded JSONB columns of a letter.
type jsonColumns struct {
	data, signatories, workflow, files, recipients, delivery []byte
}

func encode(l *models.Letter) (jsonColumns, error) {
	var (
		c   jsonColumns
		err error
	)
	data := l.Data
	if data == nil {
		data = map[string]any{}
	}
	if c.data, err = json.Marshal(data); err != nil {
		return c, fmt.Errorf("encode data: %w", err)
	}
	signatories := l.Signatories
	if signatories == nil {
		signatories = []models.Signatory{}
	}
	if c.signatories, err = json.Marshal(signatories); err != nil {
		return c, fmt.Errorf("encode signatories: %w", err)
	}
	if c.workflow, err = json.Marshal(l.Workflow); err != nil {
		return c, fmt.Errorf("encode workflow: %w", err)
	}
	files := l.Files
	if files == nil {
		files = []models.FileRef{}
	}
	if c.files, err = json.Marshal(files); err != nil {
		return c, fmt.Errorf("encode files: %w", err)
	}
	recipients := l.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	if c.recipients, err = json.Marshal(recipients); err != nil {
		return c, fmt.Errorf("encode recipients: %w", err)
	}
	if l.Delivery != nil {
		if c.delivery, err = json.Marshal(l.Delivery); err != nil {
			return c, fmt.Errorf("encode delivery: %w", err)
		}
	}
	return c, nil
}

func (r *PostgresRepository) Create(ctx context.Context, l *models.Letter) error {
	c, err := encode(l)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO letters (id, serial_number, letter_type, locale, template_id, template_version, data,
			issue_date, effective_date, state, signatories, workflow, files, recipients, delivery,
			void_reason, created_by, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err = r.db.ExecContext(ctx, query,
		l.ID, l.SerialNumber, string(l.Type), l.Locale, l.TemplateID, l.TemplateVersion, c.data,
		l.IssueDate, l.EffectiveDate, string(l.State), c.signatories, c.workflow, c.files, c.recipients, c.delivery,
		l.VoidReason, l.CreatedBy, l.CreatedAt, l.UpdatedAt, l.Version)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Letter, error) {
	return r.get(ctx, `SELECT `+selectColumns+` FROM letters WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Letter, error) {
	return r.get(ctx, `SELECT `+selectColumns+` FROM letters WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*models.Letter, error) {
	l, err := scanLetter(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select letter: %w", err)
	}
	return l, nil
}

func (r *PostgresRepository) Update(ctx context.Context, l *models.Letter) error {
	c, err := encode(l)
	if err != nil {
		return err
	}

	query := `
		UPDATE letters SET
			locale = $3, template_id = $4, template_version = $5, data = $6,
			issue_date = $7, effective_date = $8, state = $9, signatories = $10, workflow = $11,
			files = $12, recipients = $13, delivery = $14, void_reason = $15, updated_at = $16,
			version = version + 1
		WHERE id = $1 AND version = $2
	`
	res, err := r.db.ExecContext(ctx, query,
		l.ID, l.Version, l.Locale, l.TemplateID, l.TemplateVersion, c.data,
		l.IssueDate, l.EffectiveDate, string(l.State), c.signatories, c.workflow,
		c.files, c.recipients, c.delivery, l.VoidReason, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		l.Version++
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) ListByState(ctx context.Context, state models.LetterState, before time.Time) ([]*models.Letter, error) {
	query := `SELECT ` + selectColumns + ` FROM letters WHERE state = $1 AND updated_at <= $2 ORDER BY updated_at`

	rows, err := r.db.QueryContext(ctx, query, string(state), before)
	if err != nil {
		return nil, fmt.Errorf("failed to select letters: %w", err)
	}
	defer rows.Close()

	var result []*models.Letter
	for rows.Next() {
		l, err := scanLetter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLetter(s scanner) (*models.Letter, error) {
	var (
		l                                              models.Letter
		letterType, state                              string
		data, signatories, workflow, files, recipients []byte
		delivery                                       []byte
		issueDate, effectiveDate                       sql.NullTime
	)
	err := s.Scan(&l.ID, &l.SerialNumber, &letterType, &l.Locale, &l.TemplateID, &l.TemplateVersion, &data,
		&issueDate, &effectiveDate, &state, &signatories, &workflow, &files, &recipients, &delivery,
		&l.VoidReason, &l.CreatedBy, &l.CreatedAt, &l.UpdatedAt, &l.Version)
	if err != nil {
		return nil, err
	}

	l.Type = models.LetterType(letterType)
	l.State = models.LetterState(state)
	if issueDate.Valid {
		t := issueDate.Time
		l.IssueDate = &t
	}
	if effectiveDate.Valid {
		t := effectiveDate.Time
		l.EffectiveDate = &t
	}

	decode := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"data", data, &l.Data},
		{"signatories", signatories, &l.Signatories},
		{"workflow", workflow, &l.Workflow},
		{"files", files, &l.Files},
		{"recipients", recipients, &l.Recipients},
		{"delivery", delivery, &l.Delivery},
	}
	for _, d := range decode {
		if len(d.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(d.raw, d.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.name, err)
		}
	}
	return &l, nil
}
