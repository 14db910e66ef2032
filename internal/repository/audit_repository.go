package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
)

// PostgresAuditRepository appends to the audit_logs table
type PostgresAuditRepository struct {
	db *sql.DB
}

// NewPostgresAuditRepository creates a new audit repository
func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// Append inserts one event. It does not log: the emitter owns failure reporting.
func (r *PostgresAuditRepository) Append(ctx context.Context, event *domain.AuditEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	var actor sql.NullInt64
	if event.ActorUserID != nil {
		actor = sql.NullInt64{Int64: *event.ActorUserID, Valid: true}
	}

	query := `
		INSERT INTO audit_logs (id, user_id, action, description, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := r.db.ExecContext(ctx, query,
		event.ID,
		actor,
		event.Action,
		event.Description,
		event.IPAddress,
		event.UserAgent,
		meta,
		event.Timestamp,
	); err != nil {
		return domain.Unavailable("append audit event", err)
	}
	return nil
}
