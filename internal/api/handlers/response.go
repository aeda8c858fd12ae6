package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Error codes carried in the error envelope
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeRunInProgress = "RUN_IN_PROGRESS"
	CodeInternal      = "INTERNAL_ERROR"
)

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// parseID reads a positive integer path parameter, answering 400 when it is malformed
func parseID(c *gin.Context, name, label string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid "+label+" ID")
		return 0, false
	}
	return uint(id), true
}

// parsePaging reads page and page_size, rejecting values below 1
func parsePaging(c *gin.Context, defaultSize int) (int, int, bool) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		respondError(c, http.StatusBadRequest, CodeValidation, "page must be an integer >= 1")
		return 0, 0, false
	}
	size, err := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultSize)))
	if err != nil || size < 1 {
		respondError(c, http.StatusBadRequest, CodeValidation, "page_size must be an integer >= 1")
		return 0, 0, false
	}
	return page, size, true
}

// parseOptionalBool returns nil when the query parameter is absent
func parseOptionalBool(c *gin.Context, name string) (*bool, bool) {
	raw, present := c.GetQuery(name)
	if !present || raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, name+" must be true or false")
		return nil, false
	}
	return &v, true
}

// recordActivity reports a failed activity log write without failing the request
func recordActivity(logger *slog.Logger, err error) {
	if err != nil {
		logger.Debug("failed to write activity log", "error", err)
	}
}
