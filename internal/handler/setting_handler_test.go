package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-tatib-api/internal/middleware"
	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

type settingServiceMock struct {
	settings   []models.Setting
	updated    map[string]string
	bulkErr    error
	updateErr  error
	resetKeys  []string
	historyLen int
}

func (m *settingServiceMock) Get(ctx context.Context, key string) (*models.Setting, error) {
	for _, s := range m.settings {
		if s.Key == key {
			return &s, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, "unknown setting key")
}

func (m *settingServiceMock) List(ctx context.Context) ([]models.Setting, error) {
	return m.settings, nil
}

func (m *settingServiceMock) Update(ctx context.Context, key, value string, actor models.Actor) (*models.Setting, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	if m.updated == nil {
		m.updated = map[string]string{}
	}
	m.updated[key] = value
	return &models.Setting{Key: key, Value: value}, nil
}

func (m *settingServiceMock) BulkUpdate(ctx context.Context, changes map[string]string, actor models.Actor) ([]models.Setting, error) {
	if m.bulkErr != nil {
		return nil, m.bulkErr
	}
	result := []models.Setting{}
	for key, value := range changes {
		result = append(result, models.Setting{Key: key, Value: value})
	}
	return result, nil
}

func (m *settingServiceMock) Reset(ctx context.Context, key string, actor models.Actor) ([]models.Setting, error) {
	m.resetKeys = append(m.resetKeys, key)
	return []models.Setting{}, nil
}

func (m *settingServiceMock) History(ctx context.Context, key string, limit int) ([]models.SettingHistory, error) {
	entries := make([]models.SettingHistory, m.historyLen)
	return entries, nil
}

func adminContext(t *testing.T, w *httptest.ResponseRecorder) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin})
	return c
}

func TestSettingHandlerUpdate(t *testing.T) {
	mock := &settingServiceMock{}
	handler := NewSettingHandler(mock)
	w := httptest.NewRecorder()
	c := adminContext(t, w)
	body, _ := json.Marshal(updateSettingRequest{Value: "30"})
	req, _ := http.NewRequest(http.MethodPut, "/settings/surat2_min_points", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "key", Value: "surat2_min_points"}}

	handler.Update(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "30", mock.updated["surat2_min_points"])
}

func TestSettingHandlerUpdateInvalidBody(t *testing.T) {
	handler := NewSettingHandler(&settingServiceMock{})
	w := httptest.NewRecorder()
	c := adminContext(t, w)
	req, _ := http.NewRequest(http.MethodPut, "/settings/surat2_min_points", bytes.NewReader([]byte(`not-json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "key", Value: "surat2_min_points"}}

	handler.Update(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettingHandlerBulkUpdateValidationFailure(t *testing.T) {
	mock := &settingServiceMock{bulkErr: appErrors.Clone(appErrors.ErrValidation, "inconsistent settings")}
	handler := NewSettingHandler(mock)
	w := httptest.NewRecorder()
	c := adminContext(t, w)
	body, _ := json.Marshal(bulkUpdateSettingsRequest{Settings: map[string]string{"surat2_min_points": "60"}})
	req, _ := http.NewRequest(http.MethodPut, "/settings/bulk", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.BulkUpdate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettingHandlerResetAll(t *testing.T) {
	mock := &settingServiceMock{}
	handler := NewSettingHandler(mock)
	w := httptest.NewRecorder()
	c := adminContext(t, w)
	req, _ := http.NewRequest(http.MethodPost, "/settings/reset", nil)
	c.Request = req

	handler.Reset(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{""}, mock.resetKeys)
}

func TestSettingHandlerList(t *testing.T) {
	mock := &settingServiceMock{settings: []models.Setting{{Key: "surat2_min_points", Value: "25"}}}
	handler := NewSettingHandler(mock)
	w := httptest.NewRecorder()
	c := adminContext(t, w)
	req, _ := http.NewRequest(http.MethodGet, "/settings", nil)
	c.Request = req

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "surat2_min_points")
}
