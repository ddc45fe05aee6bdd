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

type caseService interface {
	Create(ctx context.Context, req service.CreateCaseRequest, actor models.Actor) (*models.FollowUpCase, error)
	Update(ctx context.Context, id string, req service.UpdateCaseRequest, actor models.Actor) (*models.FollowUpCase, error)
	Approve(ctx context.Context, id string, actor models.Actor) (*models.FollowUpCase, error)
	Reject(ctx context.Context, id, reason string, actor models.Actor) (*models.FollowUpCase, error)
	Start(ctx context.Context, id string, actor models.Actor) (*models.FollowUpCase, error)
	Complete(ctx context.Context, id string, actor models.Actor) (*models.FollowUpCase, error)
	Delete(ctx context.Context, id string, actor models.Actor) error
	Get(ctx context.Context, id string) (*models.FollowUpCase, error)
	List(ctx context.Context, filter models.FollowUpCaseFilter) ([]models.FollowUpCase, *models.Pagination, error)
}

// CaseHandler exposes the follow-up case workflow endpoints.
type CaseHandler struct {
	service caseService
	metrics *service.MetricsService
}

// NewCaseHandler builds a new handler.
func NewCaseHandler(svc caseService, metrics *service.MetricsService) *CaseHandler {
	return &CaseHandler{service: svc, metrics: metrics}
}

// List godoc
// @Summary List follow-up cases
// @Tags Cases
// @Produce json
// @Param student_id query string false "Student ID"
// @Param status query string false "Case status"
// @Success 200 {object} response.Envelope
// @Router /cases [get]
func (h *CaseHandler) List(c *gin.Context) {
	filter := models.FollowUpCaseFilter{
		StudentID: c.Query("student_id"),
		Status:    models.CaseStatus(c.Query("status")),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 50),
	}
	cases, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cases, pagination)
}

// Get godoc
// @Summary Get a follow-up case
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id} [get]
func (h *CaseHandler) Get(c *gin.Context) {
	fc, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fc, nil)
}

// Create godoc
// @Summary Create a follow-up case
// @Tags Cases
// @Accept json
// @Produce json
// @Param payload body service.CreateCaseRequest true "Case payload"
// @Success 201 {object} response.Envelope
// @Router /cases [post]
func (h *CaseHandler) Create(c *gin.Context) {
	var req service.CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid case payload"))
		return
	}
	fc, err := h.service.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.recordTransition(fc.Status)
	response.Created(c, fc)
}

// Update godoc
// @Summary Update a follow-up case
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body service.UpdateCaseRequest true "Case payload"
// @Success 200 {object} response.Envelope
// @Router /cases/{id} [put]
func (h *CaseHandler) Update(c *gin.Context) {
	var req service.UpdateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid case payload"))
		return
	}
	fc, err := h.service.Update(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fc, nil)
}

// Approve godoc
// @Summary Approve a pending case
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/approve [post]
func (h *CaseHandler) Approve(c *gin.Context) {
	fc, err := h.service.Approve(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.recordTransition(fc.Status)
	response.JSON(c, http.StatusOK, fc, nil)
}

type rejectCaseRequest struct {
	Reason string `json:"reason"`
}

// Reject godoc
// @Summary Reject a pending case
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body rejectCaseRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/reject [post]
func (h *CaseHandler) Reject(c *gin.Context) {
	var req rejectCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rejection payload"))
		return
	}
	fc, err := h.service.Reject(c.Request.Context(), c.Param("id"), req.Reason, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.recordTransition(fc.Status)
	response.JSON(c, http.StatusOK, fc, nil)
}

// Start godoc
// @Summary Start handling a case
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/start [post]
func (h *CaseHandler) Start(c *gin.Context) {
	fc, err := h.service.Start(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.recordTransition(fc.Status)
	response.JSON(c, http.StatusOK, fc, nil)
}

// Complete godoc
// @Summary Complete a case
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/complete [post]
func (h *CaseHandler) Complete(c *gin.Context) {
	fc, err := h.service.Complete(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.recordTransition(fc.Status)
	response.JSON(c, http.StatusOK, fc, nil)
}

// Delete godoc
// @Summary Delete a case
// @Tags Cases
// @Param id path string true "Case ID"
// @Success 204
// @Router /cases/{id} [delete]
func (h *CaseHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), actorFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *CaseHandler) recordTransition(to models.CaseStatus) {
	if h.metrics != nil {
		h.metrics.RecordCaseTransition(to)
	}
}
