package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

// ViolationRepository manages persistence for violation records.
type ViolationRepository struct {
	db *sqlx.DB
}

// NewViolationRepository constructs a new repository.
func NewViolationRepository(db *sqlx.DB) *ViolationRepository {
	return &ViolationRepository{db: db}
}

const violationRecordColumns = `id, student_id, violation_type_id, recorded_by, occurred_at, note, evidence_path, created_at, updated_at, deleted_at`

// FindByID fetches a single non-deleted record.
func (r *ViolationRepository) FindByID(ctx context.Context, id string) (*models.ViolationRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM violation_records WHERE id = $1 AND deleted_at IS NULL`, violationRecordColumns)
	var rec models.ViolationRecord
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns violation records per provided filter.
func (r *ViolationRepository) List(ctx context.Context, filter models.ViolationRecordFilter) ([]models.ViolationRecord, int, error) {
	base := "FROM violation_records"
	where := []string{"deleted_at IS NULL"}
	args := []interface{}{}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.ViolationTypeID != "" {
		args = append(args, filter.ViolationTypeID)
		where = append(where, fmt.Sprintf("violation_type_id = $%d", len(args)))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		where = append(where, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		where = append(where, fmt.Sprintf("occurred_at <= $%d", len(args)))
	}
	whereClause := strings.Join(where, " AND ")
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size
	query := fmt.Sprintf(`SELECT %s %s WHERE %s ORDER BY occurred_at DESC, id DESC LIMIT %d OFFSET %d`,
		violationRecordColumns, base, whereClause, size, offset)
	var records []models.ViolationRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list violation records: %w", err)
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count violation records: %w", err)
	}
	return records, total, nil
}

// ListActiveByStudent returns all non-deleted records for a student,
// ordered deterministically by occurrence time then identifier so ordinal
// computation is stable even for same-timestamp entries.
func (r *ViolationRepository) ListActiveByStudent(ctx context.Context, studentID string) ([]models.ViolationRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM violation_records WHERE student_id = $1 AND deleted_at IS NULL ORDER BY occurred_at ASC, id ASC`, violationRecordColumns)
	var records []models.ViolationRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list student violations: %w", err)
	}
	return records, nil
}

// OrdinalOf computes the record's 1-based occurrence ordinal among
// committed records of the same (student, type) pair. The count is always
// recomputed from committed state, never cached, so concurrent inserts
// converge once visible.
func (r *ViolationRepository) OrdinalOf(ctx context.Context, rec *models.ViolationRecord) (int, error) {
	const query = `SELECT COUNT(*) FROM violation_records
WHERE student_id = $1 AND violation_type_id = $2 AND deleted_at IS NULL
  AND (occurred_at < $3 OR (occurred_at = $3 AND id <= $4))`
	var ordinal int
	if err := r.db.GetContext(ctx, &ordinal, query, rec.StudentID, rec.ViolationTypeID, rec.OccurredAt, rec.ID); err != nil {
		return 0, fmt.Errorf("compute violation ordinal: %w", err)
	}
	return ordinal, nil
}

// Create inserts a new violation record.
func (r *ViolationRepository) Create(ctx context.Context, rec *models.ViolationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	const query = `INSERT INTO violation_records (id, student_id, violation_type_id, recorded_by, occurred_at, note, evidence_path, created_at, updated_at)
VALUES (:id, :student_id, :violation_type_id, :recorded_by, :occurred_at, :note, :evidence_path, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("create violation record: %w", err)
	}
	return nil
}

// Update modifies an existing violation record.
func (r *ViolationRepository) Update(ctx context.Context, rec *models.ViolationRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	const query = `UPDATE violation_records SET occurred_at = :occurred_at, note = :note, evidence_path = :evidence_path, updated_at = :updated_at
WHERE id = :id AND deleted_at IS NULL`
	res, err := r.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		return fmt.Errorf("update violation record: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SoftDelete marks a record deleted. Points for the student must be
// recomputed by the caller afterwards.
func (r *ViolationRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE violation_records SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete violation record: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SoftDeleteByStudent cascades a student removal over their violation
// records. Invoked explicitly by the owning use-case, never by a
// persistence hook.
func (r *ViolationRepository) SoftDeleteByStudent(ctx context.Context, studentID string) (int64, error) {
	const query = `UPDATE violation_records SET deleted_at = $2, updated_at = $2 WHERE student_id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, studentID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cascade delete violations: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
