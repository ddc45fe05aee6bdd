package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

// DirectoryRepository resolves staff users holding a role, optionally
// scoped to a department. Serves notification targeting; the user table
// itself is owned by the identity service.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs a new repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// ListUserIDsByRole returns active user ids with the given role.
func (r *DirectoryRepository) ListUserIDsByRole(ctx context.Context, role models.Role, departmentID string) ([]string, error) {
	query := `SELECT id FROM users WHERE role = $1 AND active = TRUE`
	args := []interface{}{role}
	if departmentID != "" {
		query += ` AND department_id = $2`
		args = append(args, departmentID)
	}
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	return ids, nil
}
