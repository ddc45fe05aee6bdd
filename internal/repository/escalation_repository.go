package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

// EscalationRepository reads the configured escalation ranges.
type EscalationRepository struct {
	db *sqlx.DB
}

// NewEscalationRepository constructs a new repository.
func NewEscalationRepository(db *sqlx.DB) *EscalationRepository {
	return &EscalationRepository{db: db}
}

type escalationRangeRow struct {
	models.EscalationRange
	RolesRaw pq.StringArray `db:"roles"`
}

const escalationRangeColumns = `id, label, min_points, max_points, roles, guidance, display_order, active, created_at, updated_at`

// ListActive returns active ranges ordered by display order. Ranges are
// seeded non-overlapping; overlap is not re-validated on read.
func (r *EscalationRepository) ListActive(ctx context.Context) ([]models.EscalationRange, error) {
	query := fmt.Sprintf(`SELECT %s FROM escalation_ranges WHERE active = TRUE ORDER BY display_order ASC, min_points ASC`, escalationRangeColumns)
	var rows []escalationRangeRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list escalation ranges: %w", err)
	}
	ranges := make([]models.EscalationRange, 0, len(rows))
	for _, row := range rows {
		er := row.EscalationRange
		er.Roles = models.RolesFromStrings(row.RolesRaw)
		ranges = append(ranges, er)
	}
	return ranges, nil
}

// FindByID fetches a single range.
func (r *EscalationRepository) FindByID(ctx context.Context, id string) (*models.EscalationRange, error) {
	query := fmt.Sprintf(`SELECT %s FROM escalation_ranges WHERE id = $1`, escalationRangeColumns)
	var row escalationRangeRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	er := row.EscalationRange
	er.Roles = models.RolesFromStrings(row.RolesRaw)
	return &er, nil
}
