package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

type settingRepository interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
	List(ctx context.Context) ([]models.Setting, error)
	ListByKeys(ctx context.Context, keys []string) ([]models.Setting, error)
	UpdateWithHistory(ctx context.Context, s *models.Setting, changedBy string) error
	BulkUpdateWithHistory(ctx context.Context, settings []models.Setting, changedBy string) error
	History(ctx context.Context, key string, limit int) ([]models.SettingHistory, error)
}

type knownSetting struct {
	Key      string
	Default  string
	Category string
	Rule     string
	Label    string
}

// knownSettings is the closed registry of discipline parameters. Rules use
// the form "int:<min>:<max>" and are applied on every write.
var knownSettings = map[string]knownSetting{
	"surat2_min_points": {
		Key: "surat2_min_points", Default: "25", Category: "surat",
		Rule: "int:1:1000", Label: "Batas bawah poin surat peringatan 2",
	},
	"surat2_max_points": {
		Key: "surat2_max_points", Default: "50", Category: "surat",
		Rule: "int:1:1000", Label: "Batas atas poin surat peringatan 2",
	},
	"surat3_min_points": {
		Key: "surat3_min_points", Default: "75", Category: "surat",
		Rule: "int:1:1000", Label: "Batas bawah poin surat peringatan 3",
	},
	"pembinaan_min_points": {
		Key: "pembinaan_min_points", Default: "10", Category: "pembinaan",
		Rule: "int:1:1000", Label: "Batas bawah poin pembinaan",
	},
	"pembinaan_max_points": {
		Key: "pembinaan_max_points", Default: "60", Category: "pembinaan",
		Rule: "int:1:1000", Label: "Batas atas poin pembinaan",
	},
	"pembinaan_critical_points": {
		Key: "pembinaan_critical_points", Default: "100", Category: "pembinaan",
		Rule: "int:1:1000", Label: "Ambang kritis poin pembinaan",
	},
	"settings_cache_ttl_seconds": {
		Key: "settings_cache_ttl_seconds", Default: "300", Category: "system",
		Rule: "int:0:86400", Label: "Masa berlaku cache pengaturan (detik)",
	},
}

// settingKeys returns the registry keys in stable order.
func settingKeys() []string {
	keys := make([]string, 0, len(knownSettings))
	for key := range knownSettings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

const (
	settingCachePrefix = "settings:"
	settingCacheAll    = "settings:all"
)

// ConsistencyError carries the per-field findings of the cross-field
// consistency check.
type ConsistencyError struct {
	Fields map[string]string
}

func (e *ConsistencyError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return "inconsistent settings: " + strings.Join(parts, "; ")
}

// SettingService is the settings store: validated writes, an append-only
// change history, and cached reads invalidated on every write. Missing
// rows resolve to hard-coded defaults, so a fresh database behaves as if
// fully seeded.
type SettingService struct {
	repo     settingRepository
	cache    *CacheService
	logger   *zap.Logger
	ttlNanos int64
}

// NewSettingService constructs the service. defaultTTL bounds cached reads
// until the stored TTL setting overrides it.
func NewSettingService(repo settingRepository, cache *CacheService, defaultTTL time.Duration, logger *zap.Logger) *SettingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &SettingService{repo: repo, cache: cache, logger: logger, ttlNanos: int64(defaultTTL)}
}

// Get returns a single setting, falling back to its default when unset.
func (s *SettingService) Get(ctx context.Context, key string) (*models.Setting, error) {
	meta, ok := knownSettings[key]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown setting key %q", key))
	}
	if s.cache.Enabled() {
		var cached models.Setting
		if hit, _ := s.cache.Get(ctx, settingCachePrefix+key, &cached); hit {
			return &cached, nil
		}
	}
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if !IsNotFound(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load setting")
		}
		setting = defaultSetting(meta)
	}
	s.rememberTTL(key, setting.Value)
	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, settingCachePrefix+key, setting, s.ttl())
	}
	return setting, nil
}

// List returns every known setting, stored or defaulted.
func (s *SettingService) List(ctx context.Context) ([]models.Setting, error) {
	if s.cache.Enabled() {
		var cached []models.Setting
		if hit, _ := s.cache.Get(ctx, settingCacheAll, &cached); hit {
			return cached, nil
		}
	}
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list settings")
	}
	stored := make(map[string]models.Setting, len(rows))
	for _, row := range rows {
		stored[row.Key] = row
	}
	settings := make([]models.Setting, 0, len(knownSettings))
	for _, key := range settingKeys() {
		if row, ok := stored[key]; ok {
			settings = append(settings, row)
		} else {
			settings = append(settings, *defaultSetting(knownSettings[key]))
		}
	}
	if ttlRow, ok := stored["settings_cache_ttl_seconds"]; ok {
		s.rememberTTL(ttlRow.Key, ttlRow.Value)
	}
	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, settingCacheAll, settings, s.ttl())
	}
	return settings, nil
}

// Update writes a single key after per-key rule validation. Single-key
// writes skip the cross-field consistency check; use BulkUpdate for
// coordinated threshold changes.
func (s *SettingService) Update(ctx context.Context, key, value string, actor models.Actor) (*models.Setting, error) {
	meta, ok := knownSettings[key]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown setting key %q", key))
	}
	value = strings.TrimSpace(value)
	if err := validateSettingValue(meta, value); err != nil {
		return nil, err
	}
	setting := &models.Setting{
		Key:      key,
		Value:    value,
		Category: meta.Category,
		Rule:     meta.Rule,
		Label:    meta.Label,
	}
	if err := s.repo.UpdateWithHistory(ctx, setting, actor.UserID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update setting")
	}
	s.rememberTTL(key, value)
	s.invalidate(ctx)
	s.logger.Info("setting updated",
		zap.String("key", key),
		zap.String("changed_by", actor.UserID))
	return setting, nil
}

// BulkUpdate validates every value, runs the consistency check over the
// batch merged with current values, and applies all-or-nothing.
func (s *SettingService) BulkUpdate(ctx context.Context, changes map[string]string, actor models.Actor) ([]models.Setting, error) {
	if len(changes) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no settings provided")
	}
	for key, value := range changes {
		meta, ok := knownSettings[key]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown setting key %q", key))
		}
		if err := validateSettingValue(meta, strings.TrimSpace(value)); err != nil {
			return nil, err
		}
	}
	current, err := s.currentValues(ctx)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(current))
	for key, value := range current {
		merged[key] = value
	}
	for key, value := range changes {
		merged[key] = strings.TrimSpace(value)
	}
	if fields := CheckConsistency(merged); len(fields) > 0 {
		consErr := &ConsistencyError{Fields: fields}
		return nil, appErrors.Wrap(consErr, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, consErr.Error())
	}

	settings := make([]models.Setting, 0, len(changes))
	for _, key := range settingKeys() {
		value, ok := changes[key]
		if !ok {
			continue
		}
		meta := knownSettings[key]
		settings = append(settings, models.Setting{
			Key:      key,
			Value:    strings.TrimSpace(value),
			Category: meta.Category,
			Rule:     meta.Rule,
			Label:    meta.Label,
		})
	}
	if err := s.repo.BulkUpdateWithHistory(ctx, settings, actor.UserID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update settings")
	}
	for _, setting := range settings {
		s.rememberTTL(setting.Key, setting.Value)
	}
	s.invalidate(ctx)
	s.logger.Info("settings bulk updated",
		zap.Int("count", len(settings)),
		zap.String("changed_by", actor.UserID))
	return settings, nil
}

// Reset restores one key, or every key when key is empty, to hard-coded
// defaults. Each restored key appends a history entry.
func (s *SettingService) Reset(ctx context.Context, key string, actor models.Actor) ([]models.Setting, error) {
	var keys []string
	if key == "" {
		keys = settingKeys()
	} else {
		if _, ok := knownSettings[key]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown setting key %q", key))
		}
		keys = []string{key}
	}
	settings := make([]models.Setting, 0, len(keys))
	for _, k := range keys {
		meta := knownSettings[k]
		settings = append(settings, *defaultSetting(meta))
	}
	if err := s.repo.BulkUpdateWithHistory(ctx, settings, actor.UserID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset settings")
	}
	for _, setting := range settings {
		s.rememberTTL(setting.Key, setting.Value)
	}
	s.invalidate(ctx)
	s.logger.Info("settings reset",
		zap.Strings("keys", keys),
		zap.String("changed_by", actor.UserID))
	return settings, nil
}

// History returns the audit trail for a key, newest first.
func (s *SettingService) History(ctx context.Context, key string, limit int) ([]models.SettingHistory, error) {
	if _, ok := knownSettings[key]; !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown setting key %q", key))
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	history, err := s.repo.History(ctx, key, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load setting history")
	}
	return history, nil
}

// IntValue returns a setting parsed as an integer.
func (s *SettingService) IntValue(ctx context.Context, key string) (int, error) {
	setting, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(setting.Value)
	if err != nil {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("setting %s is not an integer", key))
	}
	return value, nil
}

// CheckConsistency verifies the cross-field threshold orderings over a
// complete key→value view:
//
//	surat2_min < surat2_max < surat3_min
//	pembinaan_min < pembinaan_max < pembinaan_critical
//
// The result maps offending fields to human-readable messages; an empty
// map means the batch is consistent. Non-integer values are reported
// rather than skipped.
func CheckConsistency(values map[string]string) map[string]string {
	fields := make(map[string]string)
	intOf := func(key string) (int, bool) {
		raw, ok := values[key]
		if !ok {
			raw = knownSettings[key].Default
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			fields[key] = "nilai harus berupa angka"
			return 0, false
		}
		return n, true
	}
	surat2Min, ok1 := intOf("surat2_min_points")
	surat2Max, ok2 := intOf("surat2_max_points")
	surat3Min, ok3 := intOf("surat3_min_points")
	if ok1 && ok2 && surat2Min >= surat2Max {
		fields["surat2_min_points"] = "harus lebih kecil dari batas atas surat peringatan 2"
	}
	if ok2 && ok3 && surat2Max >= surat3Min {
		fields["surat2_max_points"] = "harus lebih kecil dari batas bawah surat peringatan 3"
	}
	pembMin, ok4 := intOf("pembinaan_min_points")
	pembMax, ok5 := intOf("pembinaan_max_points")
	pembCritical, ok6 := intOf("pembinaan_critical_points")
	if ok4 && ok5 && pembMin >= pembMax {
		fields["pembinaan_min_points"] = "harus lebih kecil dari batas atas pembinaan"
	}
	if ok5 && ok6 && pembMax >= pembCritical {
		fields["pembinaan_max_points"] = "harus lebih kecil dari ambang kritis pembinaan"
	}
	return fields
}

// validateSettingValue applies the per-key rule. Failures name the key.
func validateSettingValue(meta knownSetting, value string) error {
	if value == "" {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s: nilai wajib diisi", meta.Key))
	}
	if meta.Rule == "" {
		return nil
	}
	parts := strings.Split(meta.Rule, ":")
	if len(parts) != 3 || parts[0] != "int" {
		return appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("setting %s has malformed rule", meta.Key))
	}
	min, errMin := strconv.Atoi(parts[1])
	max, errMax := strconv.Atoi(parts[2])
	if errMin != nil || errMax != nil {
		return appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("setting %s has malformed rule", meta.Key))
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s: nilai harus berupa angka", meta.Key))
	}
	if n < min || n > max {
		return appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("%s: nilai harus di antara %d dan %d", meta.Key, min, max))
	}
	return nil
}

func defaultSetting(meta knownSetting) *models.Setting {
	return &models.Setting{
		Key:      meta.Key,
		Value:    meta.Default,
		Category: meta.Category,
		Rule:     meta.Rule,
		Label:    meta.Label,
	}
}

func (s *SettingService) currentValues(ctx context.Context) (map[string]string, error) {
	rows, err := s.repo.ListByKeys(ctx, settingKeys())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current settings")
	}
	values := make(map[string]string, len(knownSettings))
	for _, key := range settingKeys() {
		values[key] = knownSettings[key].Default
	}
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return values, nil
}

func (s *SettingService) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, settingCachePrefix+"*"); err != nil {
		s.logger.Warn("settings cache invalidation failed", zap.Error(err))
	}
}

func (s *SettingService) ttl() time.Duration {
	return time.Duration(atomic.LoadInt64(&s.ttlNanos))
}

func (s *SettingService) rememberTTL(key, value string) {
	if key != "settings_cache_ttl_seconds" {
		return
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return
	}
	atomic.StoreInt64(&s.ttlNanos, int64(time.Duration(seconds)*time.Second))
}
