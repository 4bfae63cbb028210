package letters

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmitrijs2005/letterflow/internal/common"
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

var (
	created = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	letterColumns = []string{
		"id", "serial_number", "letter_type", "locale", "template_id", "template_version", "data",
		"issue_date", "effective_date", "state", "signatories", "workflow", "files", "recipients", "delivery",
		"void_reason", "created_by", "created_at", "updated_at", "version",
	}
)

func sampleRow() []driver.Value {
	return []driver.Value{
		"l1", "HR-2026-000001", "OFFER", "en", "offer-default", 2, []byte(`{"name":"Ada"}`),
		nil, created, "PENDING_APPROVAL",
		[]byte(`[{"name":"Grace","title":"CEO","provider":"docsign","signing_request_id":"r1"}]`),
		[]byte(`{"round":1,"steps":[{"number":1,"approver":"mgr","sla":"48h0m0s","status":"PENDING","escalated":false}]}`),
		[]byte(`[]`), []byte(`["ada@example.com"]`), nil,
		"", "author", created, created, int64(4),
	}
}

func TestNextSerial(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT nextval('letter_serials')`)).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(17)))

	n, err := repo.NextSerial(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 17 {
		t.Fatalf("want 17, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	l := &models.Letter{
		ID: "l1", SerialNumber: "HR-2026-000001", Type: models.LetterOffer, Locale: "en",
		State: models.StateDraft, CreatedBy: "author", CreatedAt: created, UpdatedAt: created, Version: 1,
	}

	mock.ExpectExec(`INSERT INTO letters \(id, serial_number, .*\)\s+VALUES \(\$1, .*\$20\)`).
		WithArgs("l1", "HR-2026-000001", "OFFER", "en", "", 0, []byte(`{}`),
			nil, nil, "DRAFT", []byte(`[]`), sqlmock.AnyArg(), []byte(`[]`), []byte(`[]`), []byte(nil),
			"", "author", created, created, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), l); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO letters`).WillReturnError(errors.New("duplicate key"))

	err := repo.Create(context.Background(), &models.Letter{ID: "l1"})
	if err == nil || !regexp.MustCompile(`db error: .*duplicate key`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetForUpdate_DecodesRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, serial_number, .* FROM letters WHERE id = \$1 FOR UPDATE`).
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows(letterColumns).AddRow(sampleRow()...))

	l, err := repo.GetForUpdate(context.Background(), "l1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.SerialNumber != "HR-2026-000001" || l.Type != models.LetterOffer || l.State != models.StatePendingApproval {
		t.Fatalf("unexpected letter: %+v", l)
	}
	if l.IssueDate != nil || l.EffectiveDate == nil || !l.EffectiveDate.Equal(created) {
		t.Fatalf("unexpected dates: %v %v", l.IssueDate, l.EffectiveDate)
	}
	if len(l.Signatories) != 1 || l.Signatories[0].SigningRequestID != "r1" {
		t.Fatalf("unexpected signatories: %+v", l.Signatories)
	}
	if l.Workflow.Round != 1 || len(l.Workflow.Steps) != 1 || l.Workflow.Steps[0].SLA.Duration != 48*time.Hour {
		t.Fatalf("unexpected workflow: %+v", l.Workflow)
	}
	if l.Data["name"] != "Ada" || l.Delivery != nil || l.Version != 4 {
		t.Fatalf("unexpected fields: %+v", l)
	}
	if len(l.Recipients) != 1 || l.Recipients[0] != "ada@example.com" {
		t.Fatalf("unexpected recipients: %v", l.Recipients)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM letters WHERE id = \$1$`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestGet_BadJSON(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	row := sampleRow()
	row[11] = []byte(`{not json`)
	mock.ExpectQuery(`SELECT .* FROM letters`).
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows(letterColumns).AddRow(row...))

	_, err := repo.Get(context.Background(), "l1")
	if err == nil || !regexp.MustCompile(`decode workflow`).MatchString(err.Error()) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestUpdate_BumpsVersion(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	l := &models.Letter{ID: "l1", State: models.StateApproved, UpdatedAt: created, Version: 4}

	mock.ExpectExec(`UPDATE letters SET .* version = version \+ 1\s+WHERE id = \$1 AND version = \$2`).
		WithArgs("l1", int64(4), "", "", 0, []byte(`{}`), nil, nil, "APPROVED",
			[]byte(`[]`), sqlmock.AnyArg(), []byte(`[]`), []byte(`[]`), []byte(nil), "", created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Update(context.Background(), l); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Version != 5 {
		t.Fatalf("want version 5, got %d", l.Version)
	}
}

func TestUpdate_VersionConflict(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE letters SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	l := &models.Letter{ID: "l1", Version: 3}
	err := repo.Update(context.Background(), l)
	if !errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}
	if l.Version != 3 {
		t.Fatalf("version must not change on conflict, got %d", l.Version)
	}
}

func TestUpdate_RowsAffectedError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE letters SET`).WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))

	err := repo.Update(context.Background(), &models.Letter{ID: "l1"})
	if err == nil || !regexp.MustCompile(`rows affected error: .*rows-err`).MatchString(err.Error()) {
		t.Fatalf("expected rows affected error, got %v", err)
	}
}

func TestListByState(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	before := created.Add(time.Hour)
	second := sampleRow()
	second[0] = "l2"
	second[1] = "HR-2026-000002"

	mock.ExpectQuery(`SELECT .* FROM letters WHERE state = \$1 AND updated_at <= \$2 ORDER BY updated_at`).
		WithArgs("PENDING_APPROVAL", before).
		WillReturnRows(sqlmock.NewRows(letterColumns).AddRow(sampleRow()...).AddRow(second...))

	got, err := repo.ListByState(context.Background(), models.StatePendingApproval, before)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "l1" || got[1].ID != "l2" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestListByState_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM letters WHERE state`).WillReturnError(errors.New("db err"))

	_, err := repo.ListByState(context.Background(), models.StateDraft, created)
	if err == nil || !regexp.MustCompile(`failed to select letters: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped select error, got %v", err)
	}
}
