package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

// CaseRepository manages persistence for follow-up cases. Every status
// transition is a guarded single-row update: the WHERE clause pins the
// expected source status, so a concurrent transition loses cleanly with
// sql.ErrNoRows instead of clobbering state.
type CaseRepository struct {
	db *sqlx.DB
}

// NewCaseRepository constructs a new repository.
func NewCaseRepository(db *sqlx.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

const caseColumns = `id, student_id, trigger_description, sanction, fine, status, meeting_date, approved_by, rejection_reason, started_by, started_at, completed_by, completed_at, created_by, created_at, updated_at, deleted_at`

// FindByID fetches a single non-deleted case.
func (r *CaseRepository) FindByID(ctx context.Context, id string) (*models.FollowUpCase, error) {
	query := fmt.Sprintf(`SELECT %s FROM follow_up_cases WHERE id = $1 AND deleted_at IS NULL`, caseColumns)
	var fc models.FollowUpCase
	if err := r.db.GetContext(ctx, &fc, query, id); err != nil {
		return nil, err
	}
	return &fc, nil
}

// List returns cases per provided filter.
func (r *CaseRepository) List(ctx context.Context, filter models.FollowUpCaseFilter) ([]models.FollowUpCase, int, error) {
	base := "FROM follow_up_cases"
	where := []string{"deleted_at IS NULL"}
	args := []interface{}{}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
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
	query := fmt.Sprintf(`SELECT %s %s WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		caseColumns, base, whereClause, size, offset)
	var cases []models.FollowUpCase
	if err := r.db.SelectContext(ctx, &cases, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}
	return cases, total, nil
}

// Create inserts a new case.
func (r *CaseRepository) Create(ctx context.Context, fc *models.FollowUpCase) error {
	if fc.ID == "" {
		fc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	fc.CreatedAt = now
	fc.UpdatedAt = now
	const query = `INSERT INTO follow_up_cases (id, student_id, trigger_description, sanction, fine, status, meeting_date, created_by, created_at, updated_at)
VALUES (:id, :student_id, :trigger_description, :sanction, :fine, :status, :meeting_date, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, fc); err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	return nil
}

// UpdateFields modifies editable case fields without touching lifecycle
// stamps.
func (r *CaseRepository) UpdateFields(ctx context.Context, fc *models.FollowUpCase) error {
	fc.UpdatedAt = time.Now().UTC()
	const query = `UPDATE follow_up_cases SET trigger_description = :trigger_description, sanction = :sanction, fine = :fine, status = :status, meeting_date = :meeting_date, updated_at = :updated_at
WHERE id = :id AND deleted_at IS NULL`
	res, err := r.db.NamedExecContext(ctx, query, fc)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Approve transitions PENDING_APPROVAL → APPROVED recording the approver.
func (r *CaseRepository) Approve(ctx context.Context, id, approvedBy string) error {
	const query = `UPDATE follow_up_cases SET status = $2, approved_by = $3, updated_at = $4
WHERE id = $1 AND status = $5 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, models.CaseStatusApproved, approvedBy, time.Now().UTC(), models.CaseStatusPendingApproval)
	if err != nil {
		return fmt.Errorf("approve case: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Reject transitions PENDING_APPROVAL → REJECTED recording the approver
// and reason.
func (r *CaseRepository) Reject(ctx context.Context, id, approvedBy, reason string) error {
	const query = `UPDATE follow_up_cases SET status = $2, approved_by = $3, rejection_reason = $4, updated_at = $5
WHERE id = $1 AND status = $6 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, models.CaseStatusRejected, approvedBy, reason, time.Now().UTC(), models.CaseStatusPendingApproval)
	if err != nil {
		return fmt.Errorf("reject case: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkInProgress transitions NEW or APPROVED → IN_PROGRESS, stamping the
// handler and defaulting the meeting date to now when unset.
func (r *CaseRepository) MarkInProgress(ctx context.Context, id, startedBy string) error {
	const query = `UPDATE follow_up_cases SET status = $2, started_by = $3, started_at = $4, meeting_date = COALESCE(meeting_date, $4), updated_at = $4
WHERE id = $1 AND status = ANY($5) AND deleted_at IS NULL`
	now := time.Now().UTC()
	from := []string{string(models.CaseStatusNew), string(models.CaseStatusApproved)}
	res, err := r.db.ExecContext(ctx, query, id, models.CaseStatusInProgress, startedBy, now, pq.Array(from))
	if err != nil {
		return fmt.Errorf("start case: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkCompleted transitions IN_PROGRESS → COMPLETED stamping the completer.
func (r *CaseRepository) MarkCompleted(ctx context.Context, id, completedBy string) error {
	const query = `UPDATE follow_up_cases SET status = $2, completed_by = $3, completed_at = $4, updated_at = $4
WHERE id = $1 AND status = $5 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, models.CaseStatusCompleted, completedBy, time.Now().UTC(), models.CaseStatusInProgress)
	if err != nil {
		return fmt.Errorf("complete case: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SoftDelete marks a case deleted.
func (r *CaseRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE follow_up_cases SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountActiveByStudent returns how many open cases the student has,
// excluding the given case id. Drives the restoration side effect.
func (r *CaseRepository) CountActiveByStudent(ctx context.Context, studentID, excludeCaseID string) (int, error) {
	statuses := models.ActiveCaseStatuses()
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	const query = `SELECT COUNT(*) FROM follow_up_cases
WHERE student_id = $1 AND id <> $2 AND status = ANY($3) AND deleted_at IS NULL`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, excludeCaseID, pq.Array(values)); err != nil {
		return 0, fmt.Errorf("count active cases: %w", err)
	}
	return count, nil
}
