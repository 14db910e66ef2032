package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
)

const credentialColumns = `id, username, email, password_hash, status, role`

// PostgresCredentialRepository implements domain.CredentialRepository using PostgreSQL
type PostgresCredentialRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresCredentialRepository creates a new credential repository
func NewPostgresCredentialRepository(db *sql.DB, logger *slog.Logger) *PostgresCredentialRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresCredentialRepository{
		db:     db,
		logger: logger,
	}
}

// GetByUsername matches the username exactly (case-sensitive)
func (r *PostgresCredentialRepository) GetByUsername(ctx context.Context, username string) (*domain.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM users
		WHERE username = $1
	`
	return r.getOne(ctx, "get credential by username", query, username)
}

// GetByEmail matches the email case-insensitively
func (r *PostgresCredentialRepository) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM users
		WHERE lower(email) = lower($1)
	`
	return r.getOne(ctx, "get credential by email", query, email)
}

// GetByID retrieves a credential by user id
func (r *PostgresCredentialRepository) GetByID(ctx context.Context, id int64) (*domain.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM users
		WHERE id = $1
	`
	return r.getOne(ctx, "get credential by id", query, id)
}

// UpdatePasswordHash stores a new bcrypt hash
func (r *PostgresCredentialRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	query := `
		UPDATE users
		SET password_hash = $1, updated_at = now()
		WHERE id = $2
	`
	return r.exec(ctx, "update password hash", query, hash, id)
}

// UpdateRole changes the account role
func (r *PostgresCredentialRepository) UpdateRole(ctx context.Context, id int64, role domain.Role) error {
	query := `
		UPDATE users
		SET role = $1, updated_at = now()
		WHERE id = $2
	`
	return r.exec(ctx, "update role", query, string(role), id)
}

// UpdateStatus changes the account status
func (r *PostgresCredentialRepository) UpdateStatus(ctx context.Context, id int64, status domain.Status) error {
	query := `
		UPDATE users
		SET status = $1, updated_at = now()
		WHERE id = $2
	`
	return r.exec(ctx, "update status", query, string(status), id)
}

func (r *PostgresCredentialRepository) getOne(ctx context.Context, op, query string, arg any) (*domain.Credential, error) {
	var (
		cred   domain.Credential
		status string
		role   string
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&cred.UserID,
		&cred.Username,
		&cred.Email,
		&cred.PasswordHash,
		&status,
		&role,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error("credential query failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return nil, domain.Unavailable(op, err)
	}

	cred.Status = domain.Status(status)
	cred.Role = domain.Role(role)
	return &cred, nil
}

func (r *PostgresCredentialRepository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("credential update failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return domain.Unavailable(op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
