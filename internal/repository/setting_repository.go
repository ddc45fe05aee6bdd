package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-tatib-api/internal/models"
)

// SettingRepository persists discipline settings and their append-only
// change history.
type SettingRepository struct {
	db *sqlx.DB
}

// NewSettingRepository constructs the repository.
func NewSettingRepository(db *sqlx.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

const settingColumns = `key, value, category, rule, label, updated_by, updated_at`

// Get fetches a single setting by key.
func (r *SettingRepository) Get(ctx context.Context, key string) (*models.Setting, error) {
	query := fmt.Sprintf(`SELECT %s FROM settings WHERE key = $1`, settingColumns)
	var s models.Setting
	if err := r.db.GetContext(ctx, &s, query, key); err != nil {
		return nil, err
	}
	return &s, nil
}

// List returns all settings ordered by category then key.
func (r *SettingRepository) List(ctx context.Context) ([]models.Setting, error) {
	query := fmt.Sprintf(`SELECT %s FROM settings ORDER BY category ASC, key ASC`, settingColumns)
	var settings []models.Setting
	if err := r.db.SelectContext(ctx, &settings, query); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return settings, nil
}

// ListByKeys returns settings whose key is in the provided slice.
func (r *SettingRepository) ListByKeys(ctx context.Context, keys []string) ([]models.Setting, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM settings WHERE key IN (%s) ORDER BY key ASC`, settingColumns, placeholders(len(keys)))
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	var settings []models.Setting
	if err := r.db.SelectContext(ctx, &settings, query, args...); err != nil {
		return nil, fmt.Errorf("list settings by keys: %w", err)
	}
	return settings, nil
}

// UpdateWithHistory writes a new value and appends the history row inside
// one transaction. The old value is read under FOR UPDATE so the history
// row always reflects the value actually replaced.
func (r *SettingRepository) UpdateWithHistory(ctx context.Context, s *models.Setting, changedBy string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin setting tx: %w", err)
	}
	if err := updateSettingInTx(ctx, tx, s, changedBy); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit setting tx: %w", err)
	}
	return nil
}

// BulkUpdateWithHistory applies several writes and their history rows in
// a single transaction, all or nothing.
func (r *SettingRepository) BulkUpdateWithHistory(ctx context.Context, settings []models.Setting, changedBy string) error {
	if len(settings) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk setting tx: %w", err)
	}
	for i := range settings {
		if err := updateSettingInTx(ctx, tx, &settings[i], changedBy); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk setting tx: %w", err)
	}
	return nil
}

func updateSettingInTx(ctx context.Context, tx *sqlx.Tx, s *models.Setting, changedBy string) error {
	// A missing row means the key still held its hard-coded default; the
	// history entry records an empty old value in that case.
	var oldValue string
	err := tx.GetContext(ctx, &oldValue, `SELECT value FROM settings WHERE key = $1 FOR UPDATE`, s.Key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lock setting %s: %w", s.Key, err)
	}

	s.UpdatedAt = time.Now().UTC()
	s.UpdatedBy = &changedBy
	const upsert = `INSERT INTO settings (key, value, category, rule, label, updated_by, updated_at)
VALUES (:key, :value, :category, :rule, :label, :updated_by, :updated_at)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	if _, err := tx.NamedExecContext(ctx, upsert, s); err != nil {
		return fmt.Errorf("update setting %s: %w", s.Key, err)
	}

	history := models.SettingHistory{
		ID:        uuid.NewString(),
		Key:       s.Key,
		OldValue:  oldValue,
		NewValue:  s.Value,
		ChangedBy: changedBy,
		ChangedAt: s.UpdatedAt,
	}
	const insert = `INSERT INTO setting_histories (id, key, old_value, new_value, changed_by, changed_at)
VALUES (:id, :key, :old_value, :new_value, :changed_by, :changed_at)`
	if _, err := tx.NamedExecContext(ctx, insert, history); err != nil {
		return fmt.Errorf("append setting history %s: %w", s.Key, err)
	}
	return nil
}

// History lists change entries for one key, newest first.
func (r *SettingRepository) History(ctx context.Context, key string, limit int) ([]models.SettingHistory, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id, key, old_value, new_value, changed_by, changed_at
FROM setting_histories WHERE key = $1 ORDER BY changed_at DESC LIMIT %d`, limit)
	var entries []models.SettingHistory
	if err := r.db.SelectContext(ctx, &entries, query, key); err != nil {
		return nil, fmt.Errorf("list setting history: %w", err)
	}
	return entries, nil
}

func placeholders(n int) string {
	values := make([]string, n)
	for i := 1; i <= n; i++ {
		values[i-1] = fmt.Sprintf("$%d", i)
	}
	return strings.Join(values, ",")
}
