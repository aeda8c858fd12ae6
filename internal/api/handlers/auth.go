package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailkeeper/internal/api/middleware"
	"github.com/luo-one/mailkeeper/internal/database/models"
	"github.com/luo-one/mailkeeper/internal/services"
)

// DefaultOperator names tokens issued without an explicit operator
const DefaultOperator = "operator"

// TokenRequest represents the token request body
type TokenRequest struct {
	Operator string `json:"operator"`
}

// TokenResponse represents the issued token
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// AuthHandler issues operator tokens
type AuthHandler struct {
	jwtManager *middleware.JWTManager
	logService *services.LogService
	logger     *slog.Logger
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(jwtManager *middleware.JWTManager, logService *services.LogService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		jwtManager: jwtManager,
		logService: logService,
		logger:     logger.With("component", "auth_handler"),
	}
}

// IssueToken exchanges a valid API key for a bearer token
// POST /api/auth/token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}
	operator := strings.TrimSpace(req.Operator)
	if operator == "" {
		operator = DefaultOperator
	}

	token, expiresAt, err := h.jwtManager.GenerateToken(operator)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "Failed to generate token")
		return
	}

	recordActivity(h.logger, h.logService.LogInfo(0, models.LogModuleAPI, "token", "Operator token issued", map[string]interface{}{
		"operator":  operator,
		"client_ip": c.ClientIP(),
	}))

	respondOK(c, http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
