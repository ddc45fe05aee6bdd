package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
	"github.com/noah-isme/sma-tatib-api/pkg/response"
)

type settingService interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
	List(ctx context.Context) ([]models.Setting, error)
	Update(ctx context.Context, key, value string, actor models.Actor) (*models.Setting, error)
	BulkUpdate(ctx context.Context, changes map[string]string, actor models.Actor) ([]models.Setting, error)
	Reset(ctx context.Context, key string, actor models.Actor) ([]models.Setting, error)
	History(ctx context.Context, key string, limit int) ([]models.SettingHistory, error)
}

// SettingHandler exposes the discipline settings endpoints.
type SettingHandler struct {
	service settingService
}

// NewSettingHandler builds a new handler.
func NewSettingHandler(svc settingService) *SettingHandler {
	return &SettingHandler{service: svc}
}

// List godoc
// @Summary List settings
// @Tags Settings
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /settings [get]
func (h *SettingHandler) List(c *gin.Context) {
	settings, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, settings, nil)
}

// Get godoc
// @Summary Get a setting by key
// @Tags Settings
// @Produce json
// @Param key path string true "Setting key"
// @Success 200 {object} response.Envelope
// @Router /settings/{key} [get]
func (h *SettingHandler) Get(c *gin.Context) {
	setting, err := h.service.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, setting, nil)
}

type updateSettingRequest struct {
	Value string `json:"value"`
}

// Update godoc
// @Summary Update a setting
// @Tags Settings
// @Accept json
// @Produce json
// @Param key path string true "Setting key"
// @Param payload body updateSettingRequest true "New value"
// @Success 200 {object} response.Envelope
// @Router /settings/{key} [put]
func (h *SettingHandler) Update(c *gin.Context) {
	var req updateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid setting payload"))
		return
	}
	setting, err := h.service.Update(c.Request.Context(), c.Param("key"), req.Value, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, setting, nil)
}

type bulkUpdateSettingsRequest struct {
	Settings map[string]string `json:"settings"`
}

// BulkUpdate godoc
// @Summary Bulk update settings with consistency validation
// @Tags Settings
// @Accept json
// @Produce json
// @Param payload body bulkUpdateSettingsRequest true "Key to value map"
// @Success 200 {object} response.Envelope
// @Router /settings/bulk [put]
func (h *SettingHandler) BulkUpdate(c *gin.Context) {
	var req bulkUpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bulk payload"))
		return
	}
	settings, err := h.service.BulkUpdate(c.Request.Context(), req.Settings, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, settings, nil)
}

// Reset godoc
// @Summary Reset settings to defaults
// @Tags Settings
// @Produce json
// @Param key query string false "Setting key, empty for all"
// @Success 200 {object} response.Envelope
// @Router /settings/reset [post]
func (h *SettingHandler) Reset(c *gin.Context) {
	settings, err := h.service.Reset(c.Request.Context(), c.Query("key"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, settings, nil)
}

// History godoc
// @Summary Get the change history of a setting
// @Tags Settings
// @Produce json
// @Param key path string true "Setting key"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /settings/{key}/history [get]
func (h *SettingHandler) History(c *gin.Context) {
	history, err := h.service.History(c.Request.Context(), c.Param("key"), queryInt(c, "limit", 100))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}
