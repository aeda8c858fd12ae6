package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailkeeper/internal/database/models"
	"github.com/luo-one/mailkeeper/internal/services"
)

// FilterHandler manages acceptance rules
type FilterHandler struct {
	filterService *services.FilterService
	logService    *services.LogService
	logger        *slog.Logger
}

// NewFilterHandler creates a new FilterHandler instance
func NewFilterHandler(filterService *services.FilterService, logService *services.LogService, logger *slog.Logger) *FilterHandler {
	return &FilterHandler{
		filterService: filterService,
		logService:    logService,
		logger:        logger.With("component", "filter_handler"),
	}
}

// ListFilters returns every rule, enabled or not
// GET /api/filters
func (h *FilterHandler) ListFilters(c *gin.Context) {
	filters, err := h.filterService.List(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if filters == nil {
		filters = []models.EmailFilter{}
	}
	respondOK(c, http.StatusOK, filters)
}

// CreateFilter adds a rule
// POST /api/filters
func (h *FilterHandler) CreateFilter(c *gin.Context) {
	var req services.CreateFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid request body: "+err.Error())
		return
	}

	f, err := h.filterService.Create(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	recordActivity(h.logger, h.logService.LogInfo(0, models.LogModuleFilter, "create", "Filter created", f))
	respondOK(c, http.StatusCreated, f)
}

// UpdateFilter applies a partial update
// PUT /api/filters/:id
func (h *FilterHandler) UpdateFilter(c *gin.Context) {
	id, ok := parseID(c, "id", "filter")
	if !ok {
		return
	}

	var req services.UpdateFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid request body: "+err.Error())
		return
	}

	f, err := h.filterService.Update(c.Request.Context(), id, req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	recordActivity(h.logger, h.logService.LogInfo(0, models.LogModuleFilter, "update", "Filter updated", f))
	respondOK(c, http.StatusOK, f)
}

// DeleteFilter removes a rule
// DELETE /api/filters/:id
func (h *FilterHandler) DeleteFilter(c *gin.Context) {
	id, ok := parseID(c, "id", "filter")
	if !ok {
		return
	}

	if err := h.filterService.Delete(c.Request.Context(), id); err != nil {
		h.respondServiceError(c, err)
		return
	}

	recordActivity(h.logger, h.logService.LogInfo(0, models.LogModuleFilter, "delete", "Filter deleted", gin.H{"id": id}))
	respondOK(c, http.StatusOK, gin.H{"id": id})
}

func (h *FilterHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrFilterNotFound):
		respondError(c, http.StatusNotFound, CodeNotFound, "Filter not found")
	case errors.Is(err, services.ErrDuplicateFilterName):
		respondError(c, http.StatusConflict, CodeConflict, "A filter with this name already exists")
	case errors.Is(err, services.ErrInvalidFilter):
		respondError(c, http.StatusBadRequest, CodeValidation, "Filter name is required")
	default:
		h.logger.Error("filter request failed", "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}
