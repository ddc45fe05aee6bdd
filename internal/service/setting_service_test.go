package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

type settingRepositoryStub struct {
	items   map[string]models.Setting
	history []models.SettingHistory
	err     error
}

func newSettingRepositoryStub() *settingRepositoryStub {
	return &settingRepositoryStub{items: map[string]models.Setting{}}
}

func (s *settingRepositoryStub) Get(ctx context.Context, key string) (*models.Setting, error) {
	if s.err != nil {
		return nil, s.err
	}
	setting, ok := s.items[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &setting, nil
}

func (s *settingRepositoryStub) List(ctx context.Context) ([]models.Setting, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := []models.Setting{}
	for _, setting := range s.items {
		result = append(result, setting)
	}
	return result, nil
}

func (s *settingRepositoryStub) ListByKeys(ctx context.Context, keys []string) ([]models.Setting, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := []models.Setting{}
	for _, key := range keys {
		if setting, ok := s.items[key]; ok {
			result = append(result, setting)
		}
	}
	return result, nil
}

func (s *settingRepositoryStub) UpdateWithHistory(ctx context.Context, setting *models.Setting, changedBy string) error {
	if s.err != nil {
		return s.err
	}
	s.appendHistory(*setting, changedBy)
	s.items[setting.Key] = *setting
	return nil
}

func (s *settingRepositoryStub) BulkUpdateWithHistory(ctx context.Context, settings []models.Setting, changedBy string) error {
	if s.err != nil {
		return s.err
	}
	for _, setting := range settings {
		s.appendHistory(setting, changedBy)
		s.items[setting.Key] = setting
	}
	return nil
}

func (s *settingRepositoryStub) History(ctx context.Context, key string, limit int) ([]models.SettingHistory, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := []models.SettingHistory{}
	for i := len(s.history) - 1; i >= 0 && len(result) < limit; i-- {
		if s.history[i].Key == key {
			result = append(result, s.history[i])
		}
	}
	return result, nil
}

func (s *settingRepositoryStub) appendHistory(setting models.Setting, changedBy string) {
	old := ""
	if existing, ok := s.items[setting.Key]; ok {
		old = existing.Value
	}
	s.history = append(s.history, models.SettingHistory{
		Key: setting.Key, OldValue: old, NewValue: setting.Value, ChangedBy: changedBy,
	})
}

func (s *settingRepositoryStub) historyFor(key string) []models.SettingHistory {
	result := []models.SettingHistory{}
	for _, entry := range s.history {
		if entry.Key == key {
			result = append(result, entry)
		}
	}
	return result
}

func newSettingServiceForTest(repo settingRepository) *SettingService {
	return NewSettingService(repo, nil, 5*time.Minute, nil)
}

var settingActor = models.Actor{UserID: "u-admin", Role: models.RoleAdmin}

func TestGetSettingFallsBackToDefault(t *testing.T) {
	svc := newSettingServiceForTest(newSettingRepositoryStub())

	setting, err := svc.Get(context.Background(), "surat2_min_points")
	require.NoError(t, err)
	assert.Equal(t, "25", setting.Value)
	assert.Equal(t, "surat", setting.Category)
}

func TestGetSettingUnknownKey(t *testing.T) {
	svc := newSettingServiceForTest(newSettingRepositoryStub())

	_, err := svc.Get(context.Background(), "unknown_key")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestListSettingsMergesStoredOverDefaults(t *testing.T) {
	repo := newSettingRepositoryStub()
	repo.items["surat3_min_points"] = models.Setting{Key: "surat3_min_points", Value: "80"}
	svc := newSettingServiceForTest(repo)

	settings, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, settings, 7)

	values := map[string]string{}
	for _, setting := range settings {
		values[setting.Key] = setting.Value
	}
	assert.Equal(t, "80", values["surat3_min_points"])
	assert.Equal(t, "25", values["surat2_min_points"])
	assert.Equal(t, "300", values["settings_cache_ttl_seconds"])
}

func TestUpdateSettingValidatesRule(t *testing.T) {
	svc := newSettingServiceForTest(newSettingRepositoryStub())

	_, err := svc.Update(context.Background(), "surat2_min_points", "0", settingActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Update(context.Background(), "surat2_min_points", "abc", settingActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUpdateSettingWritesExactlyOneHistoryEntry(t *testing.T) {
	repo := newSettingRepositoryStub()
	svc := newSettingServiceForTest(repo)

	setting, err := svc.Update(context.Background(), "surat2_min_points", "30", settingActor)
	require.NoError(t, err)
	assert.Equal(t, "30", setting.Value)

	entries := repo.historyFor("surat2_min_points")
	require.Len(t, entries, 1)
	assert.Equal(t, "30", entries[0].NewValue)
	assert.Equal(t, "u-admin", entries[0].ChangedBy)
}

func TestBulkUpdateRejectsInconsistentBatch(t *testing.T) {
	repo := newSettingRepositoryStub()
	svc := newSettingServiceForTest(repo)

	// 60 collides with the stored surat2_max default of 50.
	_, err := svc.BulkUpdate(context.Background(), map[string]string{
		"surat2_min_points": "60",
	}, settingActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.history)
}

func TestBulkUpdateConsistentBatchAppliesAll(t *testing.T) {
	repo := newSettingRepositoryStub()
	svc := newSettingServiceForTest(repo)

	settings, err := svc.BulkUpdate(context.Background(), map[string]string{
		"surat2_min_points": "30",
		"surat2_max_points": "55",
		"surat3_min_points": "80",
	}, settingActor)
	require.NoError(t, err)
	assert.Len(t, settings, 3)
	assert.Len(t, repo.history, 3)
	assert.Equal(t, "55", repo.items["surat2_max_points"].Value)
}

func TestBulkUpdateUnknownKey(t *testing.T) {
	svc := newSettingServiceForTest(newSettingRepositoryStub())

	_, err := svc.BulkUpdate(context.Background(), map[string]string{"bogus": "1"}, settingActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestResetSingleKey(t *testing.T) {
	repo := newSettingRepositoryStub()
	repo.items["surat2_min_points"] = models.Setting{Key: "surat2_min_points", Value: "40"}
	svc := newSettingServiceForTest(repo)

	settings, err := svc.Reset(context.Background(), "surat2_min_points", settingActor)
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.Equal(t, "25", settings[0].Value)
	assert.Len(t, repo.historyFor("surat2_min_points"), 1)
}

func TestResetAllKeys(t *testing.T) {
	repo := newSettingRepositoryStub()
	svc := newSettingServiceForTest(repo)

	settings, err := svc.Reset(context.Background(), "", settingActor)
	require.NoError(t, err)
	assert.Len(t, settings, 7)
	assert.Len(t, repo.history, 7)
}

func TestHistoryNewestFirst(t *testing.T) {
	repo := newSettingRepositoryStub()
	svc := newSettingServiceForTest(repo)

	_, err := svc.Update(context.Background(), "surat2_min_points", "30", settingActor)
	require.NoError(t, err)
	_, err = svc.Update(context.Background(), "surat2_min_points", "35", settingActor)
	require.NoError(t, err)

	history, err := svc.History(context.Background(), "surat2_min_points", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "35", history[0].NewValue)
	assert.Equal(t, "30", history[0].OldValue)
	assert.Equal(t, "30", history[1].NewValue)
	assert.Equal(t, "", history[1].OldValue)
}

func TestIntValue(t *testing.T) {
	svc := newSettingServiceForTest(newSettingRepositoryStub())

	value, err := svc.IntValue(context.Background(), "pembinaan_min_points")
	require.NoError(t, err)
	assert.Equal(t, 10, value)
}

func TestCheckConsistency(t *testing.T) {
	ok := CheckConsistency(map[string]string{
		"surat2_min_points": "25", "surat2_max_points": "50", "surat3_min_points": "75",
		"pembinaan_min_points": "10", "pembinaan_max_points": "60", "pembinaan_critical_points": "100",
	})
	assert.Empty(t, ok)

	bad := CheckConsistency(map[string]string{
		"surat2_min_points": "50", "surat2_max_points": "50", "surat3_min_points": "40",
		"pembinaan_min_points": "70", "pembinaan_max_points": "60", "pembinaan_critical_points": "60",
	})
	assert.Contains(t, bad, "surat2_min_points")
	assert.Contains(t, bad, "surat2_max_points")
	assert.Contains(t, bad, "pembinaan_min_points")
	assert.Contains(t, bad, "pembinaan_max_points")
}

func TestCheckConsistencyFillsMissingFromDefaults(t *testing.T) {
	// Only the one override; the rest resolves to defaults, so 60 breaks
	// the surat2 ordering against the default max of 50.
	bad := CheckConsistency(map[string]string{"surat2_min_points": "60"})
	assert.Contains(t, bad, "surat2_min_points")
}

func TestCheckConsistencyReportsNonInteger(t *testing.T) {
	bad := CheckConsistency(map[string]string{"surat2_min_points": "abc"})
	assert.Equal(t, "nilai harus berupa angka", bad["surat2_min_points"])
}

func TestConsistencyErrorMessageIsStable(t *testing.T) {
	err := &ConsistencyError{Fields: map[string]string{
		"b_key": "second", "a_key": "first",
	}}
	assert.Equal(t, "inconsistent settings: a_key: first; b_key: second", err.Error())
}
