package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/change-desk-api/internal/dto"
	"github.com/noah-isme/change-desk-api/internal/models"
	"github.com/noah-isme/change-desk-api/internal/service"
	appErrors "github.com/noah-isme/change-desk-api/pkg/errors"
	"github.com/noah-isme/change-desk-api/pkg/response"
)

type requestService interface {
	Create(ctx context.Context, req dto.CreateChangeRequestRequest, actor *models.JWTClaims) (*models.ChangeRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error)
	List(ctx context.Context, query dto.ChangeRequestQuery, actor *models.JWTClaims) ([]models.ChangeRequest, error)
	Transition(ctx context.Context, id, target string, actor *models.JWTClaims) (*models.ChangeRequest, models.RequestStatus, error)
	Update(ctx context.Context, id string, req dto.UpdateChangeRequestRequest, actor *models.JWTClaims) (*models.ChangeRequest, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
}

type exportService interface {
	Export(ctx context.Context, id string, actor *models.JWTClaims) (*service.ExportResult, error)
}

type approverNotifier interface {
	Dispatch(request *models.ChangeRequest)
}

type transitionRecorder interface {
	RecordTransition(from, to string)
	RecordExport()
}

// ChangeRequestHandler manages change request HTTP endpoints.
type ChangeRequestHandler struct {
	service  requestService
	exporter exportService
	notifier approverNotifier
	metrics  transitionRecorder
}

// NewChangeRequestHandler constructs the handler.
func NewChangeRequestHandler(service requestService, exporter exportService, notifier approverNotifier, metrics transitionRecorder) *ChangeRequestHandler {
	return &ChangeRequestHandler{service: service, exporter: exporter, notifier: notifier, metrics: metrics}
}

// Create godoc
// @Summary Submit a new change request
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param payload body dto.CreateChangeRequestRequest true "Change request"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /change-requests [post]
func (h *ChangeRequestHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateChangeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid change request payload"))
		return
	}
	created, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.notifier != nil {
		h.notifier.Dispatch(created)
	}
	response.JSON(c, http.StatusCreated, created, nil)
}

// List godoc
// @Summary List change requests newest first
// @Tags ChangeRequests
// @Produce json
// @Param status query string false "Comma separated status filter"
// @Param changeType query string false "Change type filter"
// @Param mine query bool false "Only requests submitted by the caller"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} response.Envelope
// @Router /change-requests [get]
func (h *ChangeRequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.ChangeRequestQuery{
		ChangeType: strings.TrimSpace(c.Query("changeType")),
		Mine:       c.Query("mine") == "true",
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := models.RequestStatus(strings.ToUpper(strings.TrimSpace(part)))
			if !status.Valid() {
				response.Error(c, appErrors.Clone(appErrors.ErrValidation,
					fmt.Sprintf("unknown status %q", part)))
				return
			}
			query.Status = append(query.Status, status)
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a non-negative integer"))
			return
		}
		query.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "offset must be a non-negative integer"))
			return
		}
		query.Offset = offset
	}

	requests, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Get godoc
// @Summary Get one change request with attachments
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /change-requests/{id} [get]
func (h *ChangeRequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Update godoc
// @Summary Edit a pending change request
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.UpdateChangeRequestRequest true "Edited fields"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /change-requests/{id} [put]
func (h *ChangeRequestHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpdateChangeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid change request payload"))
		return
	}
	updated, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// Transition godoc
// @Summary Move a change request along the approval lifecycle
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.TransitionRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /change-requests/{id}/transition [post]
func (h *ChangeRequestHandler) Transition(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
		return
	}
	updated, previous, err := h.service.Transition(c.Request.Context(), c.Param("id"), req.Status, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordTransition(string(previous), string(updated.Status))
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// Delete godoc
// @Summary Delete a change request and its attachments
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Request ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /change-requests/{id} [delete]
func (h *ChangeRequestHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Export a change request as a PDF document
// @Tags ChangeRequests
// @Produce application/pdf
// @Param id path string true "Request ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /change-requests/{id}/export [get]
func (h *ChangeRequestHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.exporter.Export(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordExport()
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, result.ContentType, result.Content)
}
