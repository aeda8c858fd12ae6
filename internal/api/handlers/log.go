package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailkeeper/internal/services"
)

// LogHandler serves the persisted activity log
type LogHandler struct {
	logService *services.LogService
}

// NewLogHandler creates a new LogHandler instance
func NewLogHandler(logService *services.LogService) *LogHandler {
	return &LogHandler{logService: logService}
}

// ListLogs returns log entries, newest first
// GET /api/logs
func (h *LogHandler) ListLogs(c *gin.Context) {
	page, limit, ok := parsePaging(c, 50)
	if !ok {
		return
	}

	query := services.LogQuery{
		Level:  c.Query("level"),
		Module: c.Query("module"),
		Action: c.Query("action"),
		Page:   page,
		Limit:  limit,
	}

	if raw := c.Query("run_id"); raw != "" {
		runID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			respondError(c, http.StatusBadRequest, CodeValidation, "Invalid run_id")
			return
		}
		query.RunID = uint(runID)
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"start_time", &query.StartTime},
		{"end_time", &query.EndTime},
	} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, CodeValidation, p.name+" must be RFC3339")
			return
		}
		*p.dst = &ts
	}

	result, err := h.logService.QueryLogs(c.Request.Context(), query)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "Failed to query logs")
		return
	}

	respondOK(c, http.StatusOK, gin.H{
		"total":     result.Total,
		"page":      page,
		"page_size": limit,
		"logs":      result.Logs,
	})
}
