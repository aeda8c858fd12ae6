package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/luo-one/mailkeeper/internal/database/models"
	"github.com/luo-one/mailkeeper/internal/storage"
	"gorm.io/gorm"
)

// placeholderPrefix marks an attachment row whose final stored name is not yet derived
const placeholderPrefix = "PENDING-"

// PlaceholderName returns a unique temporary stored name
func PlaceholderName() string {
	return placeholderPrefix + uuid.NewString()
}

// StoredName derives the blob name for an attachment. It embeds both
// identifiers, which makes it globally unique.
func StoredName(emailID, attachmentID uint, original string) string {
	return fmt.Sprintf("ID%08d-%08d_%s", emailID, attachmentID, storage.SanitizeFilename(original))
}

// AttachmentHandle identifies a persisted attachment
type AttachmentHandle struct {
	ID         uint
	EmailID    uint
	StoredName string
	Size       int64
}

// WriteSet tracks the blobs written within one unit of work so they can be
// removed if the unit rolls back.
type WriteSet struct {
	names []string
}

// Names returns the stored names written so far
func (s *WriteSet) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.names...)
}

func (s *WriteSet) add(name string) {
	if s != nil {
		s.names = append(s.names, name)
	}
}

// AttachmentWriter persists attachment metadata and bytes across the record
// store and the blob store.
type AttachmentWriter struct {
	db         *gorm.DB
	blobs      storage.BlobStore
	logService *LogService
	logger     *slog.Logger
}

// NewAttachmentWriter creates a new AttachmentWriter
func NewAttachmentWriter(db *gorm.DB, blobs storage.BlobStore, logService *LogService, logger *slog.Logger) *AttachmentWriter {
	return &AttachmentWriter{
		db:         db,
		blobs:      blobs,
		logService: logService,
		logger:     logger.With("component", "attachment_writer"),
	}
}

// Blobs exposes the underlying blob store
func (w *AttachmentWriter) Blobs() storage.BlobStore {
	return w.blobs
}

// Write stores one attachment of parent inside tx. The row is inserted under a
// placeholder name, renamed to its derived name, and only then are the bytes
// written. On failure the caller must roll back tx and call Compensate(set).
func (w *AttachmentWriter) Write(ctx context.Context, tx *gorm.DB, set *WriteSet, parent *models.Email, filename, mimeType string, content []byte) (*AttachmentHandle, error) {
	if parent == nil || parent.ID == 0 {
		return nil, &PersistenceError{Filename: filename, Err: errors.New("parent email is not persisted")}
	}

	att := models.Attachment{
		EmailID:          parent.ID,
		FilenameOriginal: filename,
		FilenameStored:   PlaceholderName(),
		MimeType:         mimeType,
		SizeBytes:        int64(len(content)),
	}
	if err := tx.WithContext(ctx).Create(&att).Error; err != nil {
		attachmentWriteFailures.Inc()
		return nil, &PersistenceError{Filename: filename, Err: fmt.Errorf("insert attachment: %w", err)}
	}

	stored := StoredName(parent.ID, att.ID, filename)
	if err := tx.WithContext(ctx).Model(&att).Update("filename_stored", stored).Error; err != nil {
		attachmentWriteFailures.Inc()
		return nil, &PersistenceError{Filename: filename, Err: fmt.Errorf("rename attachment: %w", err)}
	}

	if err := w.blobs.Write(stored, content); err != nil {
		attachmentWriteFailures.Inc()
		w.logger.Error("blob write failed", "email_id", parent.ID, "attachment_id", att.ID, "stored_name", stored, "error", err)
		return nil, &PersistenceError{Filename: filename, Err: err}
	}
	set.add(stored)

	attachmentsWritten.Inc()
	attachmentBytesWritten.Add(float64(len(content)))

	return &AttachmentHandle{
		ID:         att.ID,
		EmailID:    parent.ID,
		StoredName: stored,
		Size:       att.SizeBytes,
	}, nil
}

// Compensate deletes every blob recorded in set. Failures are logged and counted.
func (w *AttachmentWriter) Compensate(set *WriteSet) {
	w.deleteBlobs(set.Names())
}

// Delete removes an attachment row, then its blob on a best-effort basis.
func (w *AttachmentWriter) Delete(ctx context.Context, id uint) error {
	var att models.Attachment
	if err := w.db.WithContext(ctx).First(&att, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAttachmentNotFound
		}
		return err
	}

	if err := w.db.WithContext(ctx).Delete(&att).Error; err != nil {
		return err
	}

	w.deleteBlobs([]string{att.FilenameStored})
	return nil
}

func (w *AttachmentWriter) deleteBlobs(names []string) {
	for _, name := range names {
		if err := w.blobs.Delete(name); err != nil {
			blobDeleteFailures.Inc()
			w.logger.Warn("blob delete failed, file left orphaned", "stored_name", name, "error", err)
			if w.logService != nil {
				if logErr := w.logService.LogBlobDeleteFailed(AttachmentDetails{StoredName: name, ErrorMsg: err.Error()}); logErr != nil {
					w.logger.Debug("failed to write activity log", "error", logErr)
				}
			}
		}
	}
}
