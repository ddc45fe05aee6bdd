package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	"github.com/noah-isme/sma-tatib-api/internal/service"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
	"github.com/noah-isme/sma-tatib-api/pkg/response"
	"github.com/noah-isme/sma-tatib-api/pkg/storage"
)

type violationService interface {
	Record(ctx context.Context, req service.RecordViolationRequest, actor models.Actor) (*service.RecordedViolation, error)
	Update(ctx context.Context, id string, req service.UpdateViolationRequest, actor models.Actor) (*models.ViolationRecord, error)
	Delete(ctx context.Context, id string, actor models.Actor) error
	Get(ctx context.Context, id string) (*models.ViolationRecord, error)
	List(ctx context.Context, filter models.ViolationRecordFilter) ([]models.ViolationRecord, *models.Pagination, error)
	StudentPoints(ctx context.Context, studentID string) (*models.StudentPoints, error)
}

// ViolationHandler exposes violation record endpoints including evidence
// upload and signed-URL download.
type ViolationHandler struct {
	service     violationService
	metrics     *service.MetricsService
	storage     *storage.LocalStorage
	signer      *storage.SignedURLSigner
	maxFileSize int64
}

// NewViolationHandler builds a new handler.
func NewViolationHandler(svc violationService, metrics *service.MetricsService, store *storage.LocalStorage, signer *storage.SignedURLSigner, maxFileSize int64) *ViolationHandler {
	if maxFileSize <= 0 {
		maxFileSize = 10 << 20
	}
	return &ViolationHandler{service: svc, metrics: metrics, storage: store, signer: signer, maxFileSize: maxFileSize}
}

// Record godoc
// @Summary Record a violation
// @Tags Violations
// @Accept json
// @Produce json
// @Param payload body service.RecordViolationRequest true "Violation payload"
// @Success 201 {object} response.Envelope
// @Router /violations [post]
func (h *ViolationHandler) Record(c *gin.Context) {
	var req service.RecordViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid violation payload"))
		return
	}
	result, err := h.service.Record(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		points := 0
		if result.Result != nil {
			points = result.Result.Points
		}
		h.metrics.RecordViolation(points)
	}
	response.Created(c, result)
}

// Update godoc
// @Summary Update a violation record
// @Tags Violations
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body service.UpdateViolationRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Router /violations/{id} [put]
func (h *ViolationHandler) Update(c *gin.Context) {
	var req service.UpdateViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid update payload"))
		return
	}
	rec, err := h.service.Update(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Delete godoc
// @Summary Delete a violation record
// @Tags Violations
// @Param id path string true "Record ID"
// @Success 204
// @Router /violations/{id} [delete]
func (h *ViolationHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), actorFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Get godoc
// @Summary Get a violation record
// @Tags Violations
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Router /violations/{id} [get]
func (h *ViolationHandler) Get(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// List godoc
// @Summary List violation records
// @Tags Violations
// @Produce json
// @Param student_id query string false "Student ID"
// @Param violation_type_id query string false "Violation type ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /violations [get]
func (h *ViolationHandler) List(c *gin.Context) {
	filter := models.ViolationRecordFilter{
		StudentID:       c.Query("student_id"),
		ViolationTypeID: c.Query("violation_type_id"),
		Page:            queryInt(c, "page", 1),
		PageSize:        queryInt(c, "page_size", 50),
	}
	if from := c.Query("date_from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.DateFrom = &t
		}
	}
	if to := c.Query("date_to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.DateTo = &t
		}
	}
	records, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// StudentPoints godoc
// @Summary Get a student's recomputed point total
// @Tags Violations
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/points [get]
func (h *ViolationHandler) StudentPoints(c *gin.Context) {
	points, err := h.service.StudentPoints(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, points, nil)
}

// UploadEvidence godoc
// @Summary Attach an evidence file to a violation record
// @Tags Violations
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Record ID"
// @Param file formData file true "Evidence file"
// @Success 200 {object} response.Envelope
// @Router /violations/{id}/evidence [post]
func (h *ViolationHandler) UploadEvidence(c *gin.Context) {
	if h.storage == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "evidence storage not configured"))
		return
	}
	id := c.Param("id")
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "evidence file required"))
		return
	}
	if fileHeader.Size > h.maxFileSize {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("evidence file exceeds %d bytes", h.maxFileSize)))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read evidence file"))
		return
	}
	defer file.Close() //nolint:errcheck

	relPath := filepath.Join(id, uuid.NewString()+filepath.Ext(fileHeader.Filename))
	stored, err := h.storage.SaveStream(relPath, io.LimitReader(file, h.maxFileSize))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store evidence file"))
		return
	}
	rec, err := h.service.Update(c.Request.Context(), id,
		service.UpdateViolationRequest{EvidencePath: &stored}, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// EvidenceURL godoc
// @Summary Generate a signed evidence download URL
// @Tags Violations
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Router /violations/{id}/evidence-url [get]
func (h *ViolationHandler) EvidenceURL(c *gin.Context) {
	if h.signer == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "evidence signing not configured"))
		return
	}
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if rec.EvidencePath == nil || *rec.EvidencePath == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "record has no evidence file"))
		return
	}
	token, expiresAt, err := h.signer.Generate(rec.ID, *rec.EvidencePath)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign evidence url"))
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
	}, nil)
}

// DownloadEvidence godoc
// @Summary Download evidence via a signed token
// @Tags Violations
// @Param token query string true "Signed token"
// @Success 200
// @Router /evidence [get]
func (h *ViolationHandler) DownloadEvidence(c *gin.Context) {
	if h.signer == nil || h.storage == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "evidence storage not configured"))
		return
	}
	_, relPath, _, err := h.signer.Parse(c.Query("token"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid evidence token"))
		return
	}
	file, err := h.storage.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "evidence file not found"))
		return
	}
	defer file.Close() //nolint:errcheck
	c.Header("Content-Disposition", "attachment; filename="+filepath.Base(relPath))
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", file, nil)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
