package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/luo-one/mailkeeper/internal/database/models"
	"gorm.io/gorm"
)

// EmailService is the read and delete facade over ingested emails
type EmailService struct {
	db         *gorm.DB
	writer     *AttachmentWriter
	logService *LogService
	logger     *slog.Logger
}

// NewEmailService creates a new EmailService
func NewEmailService(db *gorm.DB, writer *AttachmentWriter, logService *LogService, logger *slog.Logger) *EmailService {
	return &EmailService{
		db:         db,
		writer:     writer,
		logService: logService,
		logger:     logger.With("component", "email_service"),
	}
}

// EmailListOptions represents options for listing emails
type EmailListOptions struct {
	Page           int
	PageSize       int
	Sender         string
	Subject        string
	HasAttachments *bool
	IncludeDeleted bool
}

// EmailListResult represents one page of emails
type EmailListResult struct {
	Items    []models.Email `json:"items"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// ListEmails lists emails newest first; emails without a date sort last
func (s *EmailService) ListEmails(ctx context.Context, opts EmailListOptions) (*EmailListResult, error) {
	opts.Page, opts.PageSize = normalizePage(opts.Page, opts.PageSize)

	query := s.db.WithContext(ctx).Model(&models.Email{})

	if !opts.IncludeDeleted {
		query = query.Where("is_deleted = ?", false)
	}
	if sender := strings.TrimSpace(opts.Sender); sender != "" {
		query = query.Where("LOWER(sender) LIKE ?", "%"+strings.ToLower(sender)+"%")
	}
	if subject := strings.TrimSpace(opts.Subject); subject != "" {
		query = query.Where("LOWER(subject) LIKE ?", "%"+strings.ToLower(subject)+"%")
	}
	if opts.HasAttachments != nil {
		exists := "EXISTS (SELECT 1 FROM attachments WHERE attachments.email_id = emails.id)"
		if *opts.HasAttachments {
			query = query.Where(exists)
		} else {
			query = query.Where("NOT " + exists)
		}
	}

	// Count and Find each start from a copy of the filtered statement
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var emails []models.Email
	err := query.
		Preload("Attachments").
		Order("received_at IS NULL, received_at DESC, id DESC").
		Offset((opts.Page - 1) * opts.PageSize).
		Limit(opts.PageSize).
		Find(&emails).Error
	if err != nil {
		return nil, err
	}

	return &EmailListResult{
		Items:    emails,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.PageSize,
	}, nil
}

// GetEmailByID returns an email with its attachments, soft-deleted or not
func (s *EmailService) GetEmailByID(ctx context.Context, id uint) (*models.Email, error) {
	var email models.Email
	if err := s.db.WithContext(ctx).Preload("Attachments").First(&email, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// DeleteEmail soft deletes by default. A hard delete removes the email and its
// attachment rows, then their blobs on a best-effort basis.
func (s *EmailService) DeleteEmail(ctx context.Context, id uint, hard bool) error {
	email, err := s.GetEmailByID(ctx, id)
	if err != nil {
		return err
	}

	if !hard {
		if err := s.db.WithContext(ctx).Model(email).Update("is_deleted", true).Error; err != nil {
			return err
		}
		if err := s.logService.LogInfo(0, models.LogModuleAPI, "soft_delete", "Email soft deleted", MessageDetails{
			EmailID:   email.ID,
			MessageID: email.MessageID,
		}); err != nil {
			s.logger.Debug("failed to write activity log", "error", err)
		}
		return nil
	}

	var blobs []string
	for _, att := range email.Attachments {
		blobs = append(blobs, att.FilenameStored)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email_id = ?", email.ID).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Email{}, email.ID).Error
	})
	if err != nil {
		return fmt.Errorf("hard delete email %d: %w", email.ID, err)
	}

	s.writer.deleteBlobs(blobs)
	if err := s.logService.LogInfo(0, models.LogModuleAPI, "hard_delete", "Email deleted", MessageDetails{
		EmailID:   email.ID,
		MessageID: email.MessageID,
	}); err != nil {
		s.logger.Debug("failed to write activity log", "error", err)
	}
	return nil
}

// GetAttachment returns the attachment row and the path of its blob. A row
// whose blob is missing on disk is reported as not found.
func (s *EmailService) GetAttachment(ctx context.Context, id uint) (*models.Attachment, string, error) {
	var att models.Attachment
	if err := s.db.WithContext(ctx).First(&att, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrAttachmentNotFound
		}
		return nil, "", err
	}

	blobs := s.writer.Blobs()
	if !blobs.Exists(att.FilenameStored) {
		return nil, "", fmt.Errorf("%w: blob %s missing", ErrAttachmentNotFound, att.FilenameStored)
	}
	return &att, blobs.Path(att.FilenameStored), nil
}

// DeleteAttachment removes one attachment
func (s *EmailService) DeleteAttachment(ctx context.Context, id uint) error {
	return s.writer.Delete(ctx, id)
}
