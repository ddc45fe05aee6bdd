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

// ViolationTypeRepository manages persistence for the violation catalog
// and its frequency rules.
type ViolationTypeRepository struct {
	db *sqlx.DB
}

// NewViolationTypeRepository constructs a new repository.
func NewViolationTypeRepository(db *sqlx.DB) *ViolationTypeRepository {
	return &ViolationTypeRepository{db: db}
}

type violationTypeRow struct {
	models.ViolationType
	KeywordsRaw pq.StringArray `db:"keywords"`
}

type frequencyRuleRow struct {
	models.FrequencyRule
	RolesRaw pq.StringArray `db:"roles"`
}

const violationTypeColumns = `id, name, category, points, uses_frequency_rules, active, keywords, created_at, updated_at`

// FindByID fetches a single violation type.
func (r *ViolationTypeRepository) FindByID(ctx context.Context, id string) (*models.ViolationType, error) {
	query := fmt.Sprintf(`SELECT %s FROM violation_types WHERE id = $1`, violationTypeColumns)
	var row violationTypeRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	vt := row.ViolationType
	vt.Keywords = []string(row.KeywordsRaw)
	return &vt, nil
}

// FindWithRules fetches a violation type with its active frequency rules
// ordered by display order.
func (r *ViolationTypeRepository) FindWithRules(ctx context.Context, id string) (*models.ViolationType, error) {
	vt, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rules, err := r.ListRules(ctx, id, true)
	if err != nil {
		return nil, err
	}
	vt.Rules = rules
	return vt, nil
}

// ListWithRulesByIDs loads multiple types with active rules keyed by id.
func (r *ViolationTypeRepository) ListWithRulesByIDs(ctx context.Context, ids []string) (map[string]models.ViolationType, error) {
	result := make(map[string]models.ViolationType, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM violation_types WHERE id = ANY($1)`, violationTypeColumns)
	var rows []violationTypeRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list violation types: %w", err)
	}
	for _, row := range rows {
		vt := row.ViolationType
		vt.Keywords = []string(row.KeywordsRaw)
		result[vt.ID] = vt
	}

	const ruleQuery = `SELECT id, violation_type_id, min_count, max_count, points, sanction, triggers_letter, roles, display_order, active, created_at, updated_at
FROM frequency_rules WHERE violation_type_id = ANY($1) AND active = TRUE ORDER BY violation_type_id, display_order ASC, min_count ASC`
	var ruleRows []frequencyRuleRow
	if err := r.db.SelectContext(ctx, &ruleRows, ruleQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list frequency rules: %w", err)
	}
	for _, row := range ruleRows {
		rule := row.FrequencyRule
		rule.Roles = models.RolesFromStrings(row.RolesRaw)
		vt := result[rule.ViolationTypeID]
		vt.Rules = append(vt.Rules, rule)
		result[rule.ViolationTypeID] = vt
	}
	return result, nil
}

// List returns catalog entries, optionally matching the search term against
// name and keyword aliases.
func (r *ViolationTypeRepository) List(ctx context.Context, search string, activeOnly bool) ([]models.ViolationType, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if activeOnly {
		where = append(where, "active = TRUE")
	}
	if search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%", strings.ToLower(search))
		where = append(where, fmt.Sprintf("(LOWER(name) LIKE $%d OR $%d = ANY(SELECT LOWER(k) FROM UNNEST(keywords) AS k))", len(args)-1, len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM violation_types WHERE %s ORDER BY category ASC, name ASC`,
		violationTypeColumns, strings.Join(where, " AND "))
	var rows []violationTypeRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list violation types: %w", err)
	}
	types := make([]models.ViolationType, 0, len(rows))
	for _, row := range rows {
		vt := row.ViolationType
		vt.Keywords = []string(row.KeywordsRaw)
		types = append(types, vt)
	}
	return types, nil
}

// Create inserts a new violation type.
func (r *ViolationTypeRepository) Create(ctx context.Context, vt *models.ViolationType) error {
	if vt.ID == "" {
		vt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	vt.CreatedAt = now
	vt.UpdatedAt = now
	const query = `INSERT INTO violation_types (id, name, category, points, uses_frequency_rules, active, keywords, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.ExecContext(ctx, query, vt.ID, vt.Name, vt.Category, vt.Points,
		vt.UsesFrequencyRules, vt.Active, pq.Array(vt.Keywords), vt.CreatedAt, vt.UpdatedAt); err != nil {
		return fmt.Errorf("create violation type: %w", err)
	}
	return nil
}

// Update modifies an existing violation type.
func (r *ViolationTypeRepository) Update(ctx context.Context, vt *models.ViolationType) error {
	vt.UpdatedAt = time.Now().UTC()
	const query = `UPDATE violation_types SET name = $2, category = $3, points = $4, uses_frequency_rules = $5, active = $6, keywords = $7, updated_at = $8
WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, vt.ID, vt.Name, vt.Category, vt.Points,
		vt.UsesFrequencyRules, vt.Active, pq.Array(vt.Keywords), vt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update violation type: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetUsesFrequencyRules flips the frequency flag.
func (r *ViolationTypeRepository) SetUsesFrequencyRules(ctx context.Context, id string, uses bool) error {
	const query = `UPDATE violation_types SET uses_frequency_rules = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, uses, time.Now().UTC()); err != nil {
		return fmt.Errorf("set uses_frequency_rules: %w", err)
	}
	return nil
}

// ListRules returns frequency rules for a type ordered by display order.
// Overlap between rule bands is not re-validated here; the catalog is
// maintained non-overlapping at configuration time.
func (r *ViolationTypeRepository) ListRules(ctx context.Context, typeID string, activeOnly bool) ([]models.FrequencyRule, error) {
	query := `SELECT id, violation_type_id, min_count, max_count, points, sanction, triggers_letter, roles, display_order, active, created_at, updated_at
FROM frequency_rules WHERE violation_type_id = $1`
	if activeOnly {
		query += " AND active = TRUE"
	}
	query += " ORDER BY display_order ASC, min_count ASC"
	var rows []frequencyRuleRow
	if err := r.db.SelectContext(ctx, &rows, query, typeID); err != nil {
		return nil, fmt.Errorf("list frequency rules: %w", err)
	}
	rules := make([]models.FrequencyRule, 0, len(rows))
	for _, row := range rows {
		rule := row.FrequencyRule
		rule.Roles = models.RolesFromStrings(row.RolesRaw)
		rules = append(rules, rule)
	}
	return rules, nil
}

// CountActiveRules returns the number of active rules for a type.
func (r *ViolationTypeRepository) CountActiveRules(ctx context.Context, typeID string) (int, error) {
	var count int
	const query = `SELECT COUNT(*) FROM frequency_rules WHERE violation_type_id = $1 AND active = TRUE`
	if err := r.db.GetContext(ctx, &count, query, typeID); err != nil {
		return 0, fmt.Errorf("count frequency rules: %w", err)
	}
	return count, nil
}

// CreateRule inserts a new frequency rule.
func (r *ViolationTypeRepository) CreateRule(ctx context.Context, rule *models.FrequencyRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	const query = `INSERT INTO frequency_rules (id, violation_type_id, min_count, max_count, points, sanction, triggers_letter, roles, display_order, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := r.db.ExecContext(ctx, query, rule.ID, rule.ViolationTypeID, rule.MinCount, rule.MaxCount,
		rule.Points, rule.Sanction, rule.TriggersLetter, pq.Array(models.RoleStrings(rule.Roles)),
		rule.DisplayOrder, rule.Active, rule.CreatedAt, rule.UpdatedAt); err != nil {
		return fmt.Errorf("create frequency rule: %w", err)
	}
	return nil
}

// UpdateRule modifies an existing frequency rule.
func (r *ViolationTypeRepository) UpdateRule(ctx context.Context, rule *models.FrequencyRule) error {
	rule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE frequency_rules SET min_count = $2, max_count = $3, points = $4, sanction = $5, triggers_letter = $6, roles = $7, display_order = $8, active = $9, updated_at = $10
WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, rule.ID, rule.MinCount, rule.MaxCount, rule.Points,
		rule.Sanction, rule.TriggersLetter, pq.Array(models.RoleStrings(rule.Roles)),
		rule.DisplayOrder, rule.Active, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update frequency rule: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindRule fetches a single frequency rule.
func (r *ViolationTypeRepository) FindRule(ctx context.Context, id string) (*models.FrequencyRule, error) {
	const query = `SELECT id, violation_type_id, min_count, max_count, points, sanction, triggers_letter, roles, display_order, active, created_at, updated_at
FROM frequency_rules WHERE id = $1`
	var row frequencyRuleRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	rule := row.FrequencyRule
	rule.Roles = models.RolesFromStrings(row.RolesRaw)
	return &rule, nil
}
