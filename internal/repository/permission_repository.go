package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
)

// PostgresPermissionRepository reads groups and permissions through the
// user_groups and group_permissions junction tables
type PostgresPermissionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresPermissionRepository creates a new permission repository
func NewPostgresPermissionRepository(db *sql.DB, logger *slog.Logger) *PostgresPermissionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresPermissionRepository{db: db, logger: logger}
}

// GroupsForUser lists the groups a user belongs to
func (r *PostgresPermissionRepository) GroupsForUser(ctx context.Context, userID int64) ([]domain.Group, error) {
	query := `
		SELECT g.id, g.name, g.description, g.created_at
		FROM groups g
		JOIN user_groups ug ON ug.group_id = g.id
		WHERE ug.user_id = $1
		ORDER BY g.id
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		r.logger.Error("failed to list groups for user",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, domain.Unavailable("list groups", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var (
			g    domain.Group
			desc sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.Name, &desc, &g.CreatedAt); err != nil {
			return nil, domain.Unavailable("scan group", err)
		}
		g.Description = desc.String
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list groups", err)
	}
	return groups, nil
}

// PermissionsForGroup lists the permissions granted to a group
func (r *PostgresPermissionRepository) PermissionsForGroup(ctx context.Context, groupID int64) ([]domain.Permission, error) {
	query := `
		SELECT p.id, p.name, p.description
		FROM permissions p
		JOIN group_permissions gp ON gp.permission_id = p.id
		WHERE gp.group_id = $1
		ORDER BY p.name
	`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		r.logger.Error("failed to list permissions for group",
			slog.Int64("group_id", groupID),
			slog.String("error", err.Error()),
		)
		return nil, domain.Unavailable("list permissions", err)
	}
	defer rows.Close()

	var perms []domain.Permission
	for rows.Next() {
		var (
			p    domain.Permission
			desc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &desc); err != nil {
			return nil, domain.Unavailable("scan permission", err)
		}
		p.Description = desc.String
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list permissions", err)
	}
	return perms, nil
}
