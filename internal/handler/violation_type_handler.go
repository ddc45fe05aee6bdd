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

type violationTypeService interface {
	Create(ctx context.Context, req service.CreateViolationTypeRequest) (*models.ViolationType, error)
	Update(ctx context.Context, id string, req service.UpdateViolationTypeRequest) (*models.ViolationType, error)
	Get(ctx context.Context, id string) (*models.ViolationType, error)
	List(ctx context.Context, search string, activeOnly bool) ([]models.ViolationType, error)
	AddRule(ctx context.Context, typeID string, req service.FrequencyRuleRequest) (*models.FrequencyRule, error)
	UpdateRule(ctx context.Context, ruleID string, req service.FrequencyRuleRequest) (*models.FrequencyRule, error)
	ListRules(ctx context.Context, typeID string, activeOnly bool) ([]models.FrequencyRule, error)
}

// ViolationTypeHandler exposes the violation catalog endpoints.
type ViolationTypeHandler struct {
	service violationTypeService
}

// NewViolationTypeHandler builds a new handler.
func NewViolationTypeHandler(svc violationTypeService) *ViolationTypeHandler {
	return &ViolationTypeHandler{service: svc}
}

// List godoc
// @Summary List violation types
// @Tags Catalog
// @Produce json
// @Param search query string false "Keyword search"
// @Param active query bool false "Active only"
// @Success 200 {object} response.Envelope
// @Router /violation-types [get]
func (h *ViolationTypeHandler) List(c *gin.Context) {
	types, err := h.service.List(c.Request.Context(), c.Query("search"), c.Query("active") == "true")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, types, nil)
}

// Get godoc
// @Summary Get a violation type with its frequency rules
// @Tags Catalog
// @Produce json
// @Param id path string true "Type ID"
// @Success 200 {object} response.Envelope
// @Router /violation-types/{id} [get]
func (h *ViolationTypeHandler) Get(c *gin.Context) {
	vt, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, vt, nil)
}

// Create godoc
// @Summary Create a violation type
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body service.CreateViolationTypeRequest true "Type payload"
// @Success 201 {object} response.Envelope
// @Router /violation-types [post]
func (h *ViolationTypeHandler) Create(c *gin.Context) {
	var req service.CreateViolationTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid type payload"))
		return
	}
	vt, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, vt)
}

// Update godoc
// @Summary Update a violation type
// @Tags Catalog
// @Accept json
// @Produce json
// @Param id path string true "Type ID"
// @Param payload body service.UpdateViolationTypeRequest true "Type payload"
// @Success 200 {object} response.Envelope
// @Router /violation-types/{id} [put]
func (h *ViolationTypeHandler) Update(c *gin.Context) {
	var req service.UpdateViolationTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid type payload"))
		return
	}
	vt, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, vt, nil)
}

// ListRules godoc
// @Summary List frequency rules for a type
// @Tags Catalog
// @Produce json
// @Param id path string true "Type ID"
// @Success 200 {object} response.Envelope
// @Router /violation-types/{id}/rules [get]
func (h *ViolationTypeHandler) ListRules(c *gin.Context) {
	rules, err := h.service.ListRules(c.Request.Context(), c.Param("id"), c.Query("active") == "true")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules, nil)
}

// AddRule godoc
// @Summary Add a frequency rule
// @Tags Catalog
// @Accept json
// @Produce json
// @Param id path string true "Type ID"
// @Param payload body service.FrequencyRuleRequest true "Rule payload"
// @Success 201 {object} response.Envelope
// @Router /violation-types/{id}/rules [post]
func (h *ViolationTypeHandler) AddRule(c *gin.Context) {
	var req service.FrequencyRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rule payload"))
		return
	}
	rule, err := h.service.AddRule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// UpdateRule godoc
// @Summary Update a frequency rule
// @Tags Catalog
// @Accept json
// @Produce json
// @Param ruleId path string true "Rule ID"
// @Param payload body service.FrequencyRuleRequest true "Rule payload"
// @Success 200 {object} response.Envelope
// @Router /frequency-rules/{ruleId} [put]
func (h *ViolationTypeHandler) UpdateRule(c *gin.Context) {
	var req service.FrequencyRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rule payload"))
		return
	}
	rule, err := h.service.UpdateRule(c.Request.Context(), c.Param("ruleId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}
