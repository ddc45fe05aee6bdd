package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

// StudentRepository reads students and maintains their discipline status.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a new repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID fetches a single student.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, nis, full_name, class_id, department_id, status, created_at, updated_at
FROM students WHERE id = $1`
	var s models.Student
	if err := r.db.GetContext(ctx, &s, query, id); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateStatus sets the student's discipline status.
func (r *StudentRepository) UpdateStatus(ctx context.Context, id string, status models.StudentStatus) error {
	const query = `UPDATE students SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update student status: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
