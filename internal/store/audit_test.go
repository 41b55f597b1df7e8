package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T) (*PostgresAuditLog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresAuditLog(db), mock
}

func TestRecordApproval(t *testing.T) {
	audit, mock := newMock(t)
	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO note_approvals`).
		WithArgs("Ship it", "alice", "octo/notes", "j.json", "", "abc123", 2, at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := audit.RecordApproval(context.Background(), Approval{
		Title:      "Ship it",
		Approver:   "alice",
		Repo:       "octo/notes",
		Path:       "j.json",
		Version:    "abc123",
		Attempts:   2,
		ApprovedAt: at,
	})
	if err != nil {
		t.Fatalf("RecordApproval() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordApprovalDefaults(t *testing.T) {
	audit, mock := newMock(t)

	mock.ExpectExec(`INSERT INTO note_approvals`).
		WithArgs("A", "bob", "octo/notes", "j.json", "main", "v1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := audit.RecordApproval(context.Background(), Approval{Title: "A", Approver: "bob", Repo: "octo/notes", Path: "j.json", Branch: "main", Version: "v1"})
	if err != nil {
		t.Fatalf("RecordApproval() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordApprovalRejectsEmptyTitle(t *testing.T) {
	audit, mock := newMock(t)

	if err := audit.RecordApproval(context.Background(), Approval{Title: "  "}); err == nil {
		t.Fatal("expected error for empty title")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no query expected: %v", err)
	}
}

func TestRecordApprovalWrapsDriverError(t *testing.T) {
	audit, mock := newMock(t)
	boom := errors.New("connection reset")

	mock.ExpectExec(`INSERT INTO note_approvals`).WillReturnError(boom)

	err := audit.RecordApproval(context.Background(), Approval{Title: "A", Approver: "bob"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

func TestApplyMigrationsSkipsRecordedVersions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "0001_first.up.sql"), "CREATE TABLE first (id INT);")
	writeFile(t, filepath.Join(dir, "0001_first.down.sql"), "DROP TABLE first;")
	writeFile(t, filepath.Join(dir, "0002_second.up.sql"), "CREATE TABLE second (id INT);")
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM schema_migrations WHERE version`).WithArgs("0001_first.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`FROM schema_migrations WHERE version`).WithArgs("0002_second.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE second`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("0002_second.up.sql").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := ApplyMigrations(context.Background(), db, dir); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyMigrationsRollsBackFailedScript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "0001_broken.up.sql"), "CREATE TABL oops;")

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM schema_migrations WHERE version`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABL oops`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	if err := ApplyMigrations(context.Background(), db, dir); err == nil {
		t.Fatal("expected migration failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyMigrationsMissingDir(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := ApplyMigrations(context.Background(), db, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing migrations dir")
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
