package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	"github.com/noah-isme/sma-tatib-api/internal/service"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
	"github.com/noah-isme/sma-tatib-api/pkg/response"
)

type escalationService interface {
	Evaluate(ctx context.Context, studentID string) (*models.Recommendation, error)
	SyncCoaching(ctx context.Context, studentID string, rec *models.Recommendation) (*models.CoachingStatus, error)
	List(ctx context.Context, filter models.CoachingStatusFilter) ([]models.CoachingStatus, *models.Pagination, error)
	Start(ctx context.Context, id string, actor models.Actor) (*models.CoachingStatus, error)
	Complete(ctx context.Context, id, outcome string, actor models.Actor) (*models.CoachingStatus, error)
}

// CoachingHandler exposes escalation evaluation and coaching lifecycle
// endpoints.
type CoachingHandler struct {
	service escalationService
	metrics *service.MetricsService
}

// NewCoachingHandler builds a new handler.
func NewCoachingHandler(svc escalationService, metrics *service.MetricsService) *CoachingHandler {
	return &CoachingHandler{service: svc, metrics: metrics}
}

func (h *CoachingHandler) recordTransition(to models.CoachingState) {
	if h.metrics != nil {
		h.metrics.RecordCoachingTransition(to)
	}
}

// Evaluate godoc
// @Summary Evaluate a student's escalation recommendation
// @Tags Coaching
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/escalation [get]
func (h *CoachingHandler) Evaluate(c *gin.Context) {
	rec, err := h.service.Evaluate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Sync godoc
// @Summary Re-evaluate and ensure a coaching record for a student
// @Tags Coaching
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/escalation/sync [post]
func (h *CoachingHandler) Sync(c *gin.Context) {
	studentID := c.Param("id")
	rec, err := h.service.Evaluate(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	cs, err := h.service.SyncCoaching(c.Request.Context(), studentID, rec)
	if err != nil {
		response.Error(c, err)
		return
	}
	if cs != nil {
		h.recordTransition(cs.State)
	}
	response.JSON(c, http.StatusOK, gin.H{
		"recommendation": rec,
		"created":        cs,
	}, nil)
}

// List godoc
// @Summary List coaching statuses
// @Tags Coaching
// @Produce json
// @Param student_id query string false "Student ID"
// @Param state query string false "Coaching state"
// @Success 200 {object} response.Envelope
// @Router /coaching [get]
func (h *CoachingHandler) List(c *gin.Context) {
	filter := models.CoachingStatusFilter{
		StudentID: c.Query("student_id"),
		State:     models.CoachingState(c.Query("state")),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 50),
	}
	records, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// Start godoc
// @Summary Start a coaching session
// @Tags Coaching
// @Produce json
// @Param id path string true "Coaching status ID"
// @Success 200 {object} response.Envelope
// @Router /coaching/{id}/start [post]
func (h *CoachingHandler) Start(c *gin.Context) {
	cs, err := h.service.Start(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.recordTransition(cs.State)
	response.JSON(c, http.StatusOK, cs, nil)
}

type completeCoachingRequest struct {
	Outcome string `json:"outcome"`
}

// Complete godoc
// @Summary Complete a coaching session
// @Tags Coaching
// @Accept json
// @Produce json
// @Param id path string true "Coaching status ID"
// @Param payload body completeCoachingRequest true "Outcome"
// @Success 200 {object} response.Envelope
// @Router /coaching/{id}/complete [post]
func (h *CoachingHandler) Complete(c *gin.Context) {
	var req completeCoachingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid outcome payload"))
		return
	}
	cs, err := h.service.Complete(c.Request.Context(), c.Param("id"), req.Outcome, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.recordTransition(cs.State)
	response.JSON(c, http.StatusOK, cs, nil)
}
