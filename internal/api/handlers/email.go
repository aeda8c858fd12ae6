package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailkeeper/internal/database/models"
	"github.com/luo-one/mailkeeper/internal/services"
)

// EmailHandler handles stored email and attachment requests
type EmailHandler struct {
	emailService *services.EmailService
	logger       *slog.Logger
}

// NewEmailHandler creates a new EmailHandler instance
func NewEmailHandler(emailService *services.EmailService, logger *slog.Logger) *EmailHandler {
	return &EmailHandler{
		emailService: emailService,
		logger:       logger.With("component", "email_handler"),
	}
}

// EmailPage is one page of the email listing
type EmailPage struct {
	Items       []models.Email `json:"items"`
	Total       int64          `json:"total"`
	Page        int            `json:"page"`
	PageSize    int            `json:"page_size"`
	HasNext     bool           `json:"has_next"`
	HasPrevious bool           `json:"has_previous"`
}

// ListEmails returns a page of emails, newest first
// GET /api/emails
func (h *EmailHandler) ListEmails(c *gin.Context) {
	page, size, ok := parsePaging(c, 10)
	if !ok {
		return
	}
	hasAttachments, ok := parseOptionalBool(c, "has_attachments")
	if !ok {
		return
	}
	includeDeleted, ok := parseOptionalBool(c, "include_deleted")
	if !ok {
		return
	}

	opts := services.EmailListOptions{
		Page:           page,
		PageSize:       size,
		Sender:         c.Query("sender"),
		Subject:        c.Query("subject"),
		HasAttachments: hasAttachments,
		IncludeDeleted: includeDeleted != nil && *includeDeleted,
	}

	result, err := h.emailService.ListEmails(c.Request.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list emails", "error", err)
		respondError(c, http.StatusInternalServerError, CodeInternal, "Failed to retrieve emails")
		return
	}

	items := result.Items
	if items == nil {
		items = []models.Email{}
	}
	respondOK(c, http.StatusOK, EmailPage{
		Items:       items,
		Total:       result.Total,
		Page:        result.Page,
		PageSize:    result.PageSize,
		HasNext:     int64(result.Page*result.PageSize) < result.Total,
		HasPrevious: result.Page > 1,
	})
}

// GetEmail returns one email with its attachments
// GET /api/emails/:id
func (h *EmailHandler) GetEmail(c *gin.Context) {
	id, ok := parseID(c, "id", "email")
	if !ok {
		return
	}

	email, err := h.emailService.GetEmailByID(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, email)
}

// DeleteEmail soft deletes an email, or removes it with its attachments when hard_delete=true
// DELETE /api/emails/:id
func (h *EmailHandler) DeleteEmail(c *gin.Context) {
	id, ok := parseID(c, "id", "email")
	if !ok {
		return
	}
	hard, ok := parseOptionalBool(c, "hard_delete")
	if !ok {
		return
	}

	if err := h.emailService.DeleteEmail(c.Request.Context(), id, hard != nil && *hard); err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"id":          id,
		"hard_delete": hard != nil && *hard,
	})
}

// DownloadAttachment streams an attachment under its original filename
// GET /api/attachments/:id/download
func (h *EmailHandler) DownloadAttachment(c *gin.Context) {
	id, ok := parseID(c, "id", "attachment")
	if !ok {
		return
	}

	att, path, err := h.emailService.GetAttachment(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	name := att.FilenameOriginal
	if name == "" {
		name = "attachment"
	}
	c.Header("Content-Type", mimeType)
	c.FileAttachment(path, name)
}

// DeleteAttachment removes an attachment row and its blob
// DELETE /api/attachments/:id
func (h *EmailHandler) DeleteAttachment(c *gin.Context) {
	id, ok := parseID(c, "id", "attachment")
	if !ok {
		return
	}

	if err := h.emailService.DeleteAttachment(c.Request.Context(), id); err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"id": id})
}

func (h *EmailHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrEmailNotFound):
		respondError(c, http.StatusNotFound, CodeNotFound, "Email not found")
	case errors.Is(err, services.ErrAttachmentNotFound):
		respondError(c, http.StatusNotFound, CodeNotFound, "Attachment not found")
	default:
		h.logger.Error("email request failed", "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}
