package audit

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var at = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestAppend_AssignsIDAndSeq(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtextextended\(\$1, 0\)\)`).
		WithArgs("l1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	q := `INSERT INTO audit_entries .* VALUES \(\$1, \$2, \(SELECT COALESCE\(MAX\(seq\), 0\) \+ 1 FROM audit_entries WHERE letter_id = \$2\), .* RETURNING seq`
	mock.ExpectQuery(q).
		WithArgs(sqlmock.AnyArg(), "l1", models.ActionTransition, "author", at,
			[]byte(`{"channel":"http","request_id":"req_1"}`), "DRAFT", "PENDING_APPROVAL", []byte(`{"trigger":"submit"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(3)))

	e := &models.AuditEntry{
		LetterID: "l1", Action: models.ActionTransition, Actor: "author", At: at,
		Origin:    models.Origin{Channel: models.ChannelHTTP, RequestID: "req_1"},
		FromState: models.StateDraft, ToState: models.StatePendingApproval,
		Payload: map[string]any{"trigger": "submit"},
	}
	if err := repo.Append(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID == "" || e.Seq != 3 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppend_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO audit_entries`).WillReturnError(errors.New("audit_entries is append-only"))

	err := repo.Append(context.Background(), &models.AuditEntry{ID: "a1", LetterID: "l1"})
	if err == nil || !regexp.MustCompile(`db error: .*append-only`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestAppend_LocksLetterSeqBeforeInsert(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("l1").WillReturnError(errors.New("lock timeout"))

	err := repo.Append(context.Background(), &models.AuditEntry{ID: "a1", LetterID: "l1"})
	if err == nil || !regexp.MustCompile(`lock audit seq: lock timeout`).MatchString(err.Error()) {
		t.Fatalf("expected lock error, got %v", err)
	}
	// the insert must not run without the lock
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestList(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	cols := []string{"id", "letter_id", "seq", "action", "actor", "at", "origin", "from_state", "to_state", "payload"}
	mock.ExpectQuery(`SELECT id, letter_id, seq, .* FROM audit_entries WHERE letter_id = \$1 ORDER BY seq`).
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a1", "l1", int64(1), models.ActionCreated, "author", at, []byte(`{"channel":"http"}`), "", "DRAFT", []byte(`{}`)).
			AddRow("a2", "l1", int64(2), models.ActionTransition, "author", at, []byte(`{"channel":"grpc"}`), "DRAFT", "PENDING_APPROVAL", []byte(`{"round":1}`)))

	got, err := repo.List(context.Background(), "l1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 entries, got %d", len(got))
	}
	if got[0].Seq != 1 || got[0].Payload != nil || got[0].ToState != models.StateDraft {
		t.Fatalf("unexpected first entry: %+v", got[0])
	}
	if got[1].Origin.Channel != models.ChannelGRPC || got[1].Payload["round"] != float64(1) {
		t.Fatalf("unexpected second entry: %+v", got[1])
	}
}

func TestList_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM audit_entries`).WillReturnError(errors.New("db err"))

	_, err := repo.List(context.Background(), "l1")
	if err == nil || !regexp.MustCompile(`failed to select audit entries: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped select error, got %v", err)
	}
}
