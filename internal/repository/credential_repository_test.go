package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/internal/infrastructure/logger"
)

var credentialCols = []string{"id", "username", "email", "password_hash", "status", "role"}

func newCredentialRepo(t *testing.T) (*PostgresCredentialRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresCredentialRepository(db, logger.Discard()), mock
}

func TestGetByUsername(t *testing.T) {
	repo, mock := newCredentialRepo(t)

	mock.ExpectQuery("SELECT id, username, email, password_hash, status, role\\s+FROM users\\s+WHERE username = \\$1").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(credentialCols).AddRow(7, "alice", "alice@example.com", "$2a$12$hash", "active", "admin"))

	cred, err := repo.GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if cred.UserID != 7 || cred.Role != domain.RoleAdmin || cred.Status != domain.StatusActive {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetByEmailIsCaseInsensitive(t *testing.T) {
	repo, mock := newCredentialRepo(t)

	mock.ExpectQuery("WHERE lower\\(email\\) = lower\\(\\$1\\)").
		WithArgs("Alice@Example.com").
		WillReturnRows(sqlmock.NewRows(credentialCols).AddRow(7, "alice", "alice@example.com", "h", "active", "user"))

	cred, err := repo.GetByEmail(context.Background(), "Alice@Example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if cred.Username != "alice" {
		t.Fatalf("unexpected username %q", cred.Username)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newCredentialRepo(t)

	mock.ExpectQuery("WHERE id = \\$1").WithArgs(int64(99)).WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetByID(context.Background(), 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetByUsernameStorageFailure(t *testing.T) {
	repo, mock := newCredentialRepo(t)

	mock.ExpectQuery("FROM users").WillReturnError(errors.New("connection refused"))

	_, err := repo.GetByUsername(context.Background(), "alice")
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestUpdateRole(t *testing.T) {
	repo, mock := newCredentialRepo(t)

	mock.ExpectExec("UPDATE users\\s+SET role = \\$1").
		WithArgs("admin", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users\\s+SET role = \\$1").
		WithArgs("admin", int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.UpdateRole(context.Background(), 7, domain.RoleAdmin); err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if err := repo.UpdateRole(context.Background(), 8, domain.RoleAdmin); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing row, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdatePasswordHashAndStatus(t *testing.T) {
	repo, mock := newCredentialRepo(t)

	mock.ExpectExec("SET password_hash = \\$1").WithArgs("newhash", int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET status = \\$1").WithArgs("suspended", int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdatePasswordHash(context.Background(), 7, "newhash"); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
	if err := repo.UpdateStatus(context.Background(), 7, domain.StatusSuspended); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
