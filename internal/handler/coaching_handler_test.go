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
	"github.com/noah-isme/sma-tatib-api/internal/service"
)

type escalationServiceMock struct {
	rec *models.Recommendation
	cs  *models.CoachingStatus
}

func (m *escalationServiceMock) Evaluate(ctx context.Context, studentID string) (*models.Recommendation, error) {
	return m.rec, nil
}

func (m *escalationServiceMock) SyncCoaching(ctx context.Context, studentID string, rec *models.Recommendation) (*models.CoachingStatus, error) {
	return m.cs, nil
}

func (m *escalationServiceMock) List(ctx context.Context, filter models.CoachingStatusFilter) ([]models.CoachingStatus, *models.Pagination, error) {
	return nil, &models.Pagination{Page: 1, PageSize: 50}, nil
}

func (m *escalationServiceMock) Start(ctx context.Context, id string, actor models.Actor) (*models.CoachingStatus, error) {
	return m.cs, nil
}

func (m *escalationServiceMock) Complete(ctx context.Context, id, outcome string, actor models.Actor) (*models.CoachingStatus, error) {
	return m.cs, nil
}

func counselorContext(t *testing.T, w *httptest.ResponseRecorder) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-bk", Role: models.RoleCounselor})
	return c
}

func scrapeMetrics(t *testing.T, metrics *service.MetricsService) string {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	metrics.Handler().ServeHTTP(w, req)
	return w.Body.String()
}

func TestCoachingHandlerStartCountsTransition(t *testing.T) {
	mock := &escalationServiceMock{cs: &models.CoachingStatus{
		ID: "cs-1", StudentID: "st-1", RangeID: "er-2", State: models.CoachingInProgress}}
	metrics := service.NewMetricsService()
	handler := NewCoachingHandler(mock, metrics)
	w := httptest.NewRecorder()
	c := counselorContext(t, w)
	req, _ := http.NewRequest(http.MethodPost, "/coaching/cs-1/start", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "cs-1"}}

	handler.Start(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, scrapeMetrics(t, metrics), `coaching_transitions_total{to="IN_PROGRESS"} 1`)
}

func TestCoachingHandlerCompleteCountsTransition(t *testing.T) {
	mock := &escalationServiceMock{cs: &models.CoachingStatus{
		ID: "cs-1", StudentID: "st-1", RangeID: "er-2", State: models.CoachingCompleted}}
	metrics := service.NewMetricsService()
	handler := NewCoachingHandler(mock, metrics)
	w := httptest.NewRecorder()
	c := counselorContext(t, w)
	body, _ := json.Marshal(completeCoachingRequest{Outcome: "Pembinaan selesai"})
	req, _ := http.NewRequest(http.MethodPost, "/coaching/cs-1/complete", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "cs-1"}}

	handler.Complete(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, scrapeMetrics(t, metrics), `coaching_transitions_total{to="COMPLETED"} 1`)
}

func TestCoachingHandlerSyncCountsCreationOnly(t *testing.T) {
	metrics := service.NewMetricsService()

	// A sync that creates a record counts it entering NEEDS_COACHING.
	created := &escalationServiceMock{
		rec: &models.Recommendation{RangeID: "er-2", Label: "Pembinaan BK", TotalPoints: 45},
		cs:  &models.CoachingStatus{ID: "cs-1", StudentID: "st-1", RangeID: "er-2", State: models.CoachingNeeded},
	}
	handler := NewCoachingHandler(created, metrics)
	w := httptest.NewRecorder()
	c := counselorContext(t, w)
	req, _ := http.NewRequest(http.MethodPost, "/students/st-1/escalation/sync", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "st-1"}}
	handler.Sync(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, scrapeMetrics(t, metrics), `coaching_transitions_total{to="NEEDS_COACHING"} 1`)

	// A sync that finds an open record creates nothing and counts nothing.
	idle := &escalationServiceMock{rec: created.rec}
	handler = NewCoachingHandler(idle, metrics)
	w = httptest.NewRecorder()
	c = counselorContext(t, w)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "st-1"}}
	handler.Sync(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, scrapeMetrics(t, metrics), `coaching_transitions_total{to="NEEDS_COACHING"} 1`)
}
