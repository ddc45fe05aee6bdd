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

// CoachingRepository manages persistence for coaching tracking records.
//
// The coaching_statuses table carries a partial unique index on
// (student_id, range_id) WHERE state <> 'COMPLETED', so concurrent callers
// racing to create the same pairing produce exactly one active row.
type CoachingRepository struct {
	db *sqlx.DB
}

// NewCoachingRepository constructs a new repository.
func NewCoachingRepository(db *sqlx.DB) *CoachingRepository {
	return &CoachingRepository{db: db}
}

const coachingColumns = `id, student_id, range_id, points_snapshot, recommendation, state, started_by, started_at, completed_by, completed_at, outcome, created_at, updated_at`

// FindByID fetches a single coaching record.
func (r *CoachingRepository) FindByID(ctx context.Context, id string) (*models.CoachingStatus, error) {
	query := fmt.Sprintf(`SELECT %s FROM coaching_statuses WHERE id = $1`, coachingColumns)
	var cs models.CoachingStatus
	if err := r.db.GetContext(ctx, &cs, query, id); err != nil {
		return nil, err
	}
	return &cs, nil
}

// List returns coaching records per provided filter.
func (r *CoachingRepository) List(ctx context.Context, filter models.CoachingStatusFilter) ([]models.CoachingStatus, int, error) {
	base := "FROM coaching_statuses"
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
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
		coachingColumns, base, whereClause, size, offset)
	var records []models.CoachingStatus
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list coaching statuses: %w", err)
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count coaching statuses: %w", err)
	}
	return records, total, nil
}

// CreateIfAbsent inserts a coaching record unless a non-completed one
// already exists for the (student, range) pair. Returns true when a row
// was created. The ON CONFLICT clause rides the partial unique index so
// the race between two simultaneous callers resolves to a single row.
func (r *CoachingRepository) CreateIfAbsent(ctx context.Context, cs *models.CoachingStatus) (bool, error) {
	if cs.ID == "" {
		cs.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cs.CreatedAt = now
	cs.UpdatedAt = now
	cs.State = models.CoachingNeeded
	const query = `INSERT INTO coaching_statuses (id, student_id, range_id, points_snapshot, recommendation, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (student_id, range_id) WHERE state <> 'COMPLETED' DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, cs.ID, cs.StudentID, cs.RangeID,
		cs.PointsSnapshot, cs.Recommendation, cs.State, cs.CreatedAt, cs.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("create coaching status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create coaching status: %w", err)
	}
	return affected == 1, nil
}

// MarkInProgress transitions a record from NEEDS_COACHING, recording who
// started it. Returns sql.ErrNoRows when the record is no longer in the
// expected state, leaving it untouched.
func (r *CoachingRepository) MarkInProgress(ctx context.Context, id, startedBy string) error {
	const query = `UPDATE coaching_statuses SET state = $2, started_by = $3, started_at = $4, updated_at = $4
WHERE id = $1 AND state = $5`
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query, id, models.CoachingInProgress, startedBy, now, models.CoachingNeeded)
	if err != nil {
		return fmt.Errorf("start coaching: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkCompleted transitions a record from IN_PROGRESS, recording the
// outcome and completer. Returns sql.ErrNoRows when the record is no
// longer in the expected state.
func (r *CoachingRepository) MarkCompleted(ctx context.Context, id, completedBy, outcome string) error {
	const query = `UPDATE coaching_statuses SET state = $2, completed_by = $3, completed_at = $4, outcome = $5, updated_at = $4
WHERE id = $1 AND state = $6`
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query, id, models.CoachingCompleted, completedBy, now, outcome, models.CoachingInProgress)
	if err != nil {
		return fmt.Errorf("complete coaching: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
