package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/luo-one/mailkeeper/internal/database/models"
	"gorm.io/gorm"
)

// LogService persists pipeline activity to the logs table
type LogService struct {
	db       *gorm.DB
	logLevel models.LogLevel
}

// NewLogService creates a new LogService instance
func NewLogService(db *gorm.DB) *LogService {
	return &LogService{
		db:       db,
		logLevel: models.LogLevelInfo,
	}
}

// NewLogServiceWithLevel creates a new LogService instance with specified log level
func NewLogServiceWithLevel(db *gorm.DB, level string) *LogService {
	return &LogService{
		db:       db,
		logLevel: parseLogLevel(level),
	}
}

// parseLogLevel converts a string to LogLevel
func parseLogLevel(level string) models.LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return models.LogLevelDebug
	case "WARN", "WARNING":
		return models.LogLevelWarn
	case "ERROR":
		return models.LogLevelError
	default:
		return models.LogLevelInfo
	}
}

var levelPriority = map[models.LogLevel]int{
	models.LogLevelDebug: 0,
	models.LogLevelInfo:  1,
	models.LogLevelWarn:  2,
	models.LogLevelError: 3,
}

// shouldLog checks if a log entry should be recorded based on log level
func (s *LogService) shouldLog(level models.LogLevel) bool {
	return levelPriority[level] >= levelPriority[s.logLevel]
}

// LogEntry represents a log entry to be created
type LogEntry struct {
	RunID   uint
	Level   models.LogLevel
	Module  models.LogModule
	Action  string
	Message string
	Details interface{} // Will be serialized to JSON
}

// Log creates a new log entry
func (s *LogService) Log(entry LogEntry) error {
	if !s.shouldLog(entry.Level) {
		return nil
	}

	var detailsJSON string
	if entry.Details != nil {
		bytes, err := json.Marshal(entry.Details)
		if err != nil {
			detailsJSON = "{}"
		} else {
			detailsJSON = string(bytes)
		}
	}

	return s.db.Create(&models.Log{
		RunID:   entry.RunID,
		Level:   string(entry.Level),
		Module:  string(entry.Module),
		Action:  entry.Action,
		Message: entry.Message,
		Details: detailsJSON,
	}).Error
}

// LogInfo creates an INFO level log entry
func (s *LogService) LogInfo(runID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{RunID: runID, Level: models.LogLevelInfo, Module: module, Action: action, Message: message, Details: details})
}

// LogWarn creates a WARN level log entry
func (s *LogService) LogWarn(runID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{RunID: runID, Level: models.LogLevelWarn, Module: module, Action: action, Message: message, Details: details})
}

// LogError creates an ERROR level log entry
func (s *LogService) LogError(runID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{RunID: runID, Level: models.LogLevelError, Module: module, Action: action, Message: message, Details: details})
}

// LogDebug creates a DEBUG level log entry
func (s *LogService) LogDebug(runID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{RunID: runID, Level: models.LogLevelDebug, Module: module, Action: action, Message: message, Details: details})
}

// RunDetails describes a finished ingestion run
type RunDetails struct {
	Trigger         string `json:"trigger"`
	Status          string `json:"status"`
	MessagesFetched int    `json:"messages_fetched"`
	MessagesSaved   int    `json:"messages_saved"`
	DurationMs      int64  `json:"duration_ms"`
	ErrorMsg        string `json:"error_msg,omitempty"`
}

// LogRunFinished records the outcome of an ingestion run
func (s *LogService) LogRunFinished(run *models.JobRun) error {
	details := RunDetails{
		Trigger:         string(run.Trigger),
		Status:          string(run.Status),
		MessagesFetched: run.MessagesFetched,
		MessagesSaved:   run.MessagesSaved,
	}
	if run.FinishedAt != nil {
		details.DurationMs = run.FinishedAt.Sub(run.StartedAt).Milliseconds()
	}

	level := models.LogLevelInfo
	message := "Ingestion run completed"
	if run.Status == models.JobStatusError {
		level = models.LogLevelError
		message = "Ingestion run failed"
		if run.ErrorMessage != nil {
			details.ErrorMsg = *run.ErrorMessage
		}
	}

	return s.Log(LogEntry{
		RunID:   run.ID,
		Level:   level,
		Module:  models.LogModuleIngest,
		Action:  "run",
		Message: message,
		Details: details,
	})
}

// MessageDetails identifies a single candidate message
type MessageDetails struct {
	UID       uint32 `json:"uid,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	EmailID   uint   `json:"email_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	From      string `json:"from,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// LogMessageSkipped records a candidate that was not persisted
func (s *LogService) LogMessageSkipped(runID uint, details MessageDetails) error {
	return s.LogWarn(runID, models.LogModuleIngest, "skip", "Message skipped", details)
}

// LogMessageSaved records a persisted email
func (s *LogService) LogMessageSaved(runID uint, details MessageDetails) error {
	return s.LogInfo(runID, models.LogModuleIngest, "save", "Email saved", details)
}

// AttachmentDetails describes an attachment write or cleanup
type AttachmentDetails struct {
	EmailID      uint   `json:"email_id,omitempty"`
	AttachmentID uint   `json:"attachment_id,omitempty"`
	Filename     string `json:"filename,omitempty"`
	StoredName   string `json:"stored_name,omitempty"`
	ErrorMsg     string `json:"error_msg,omitempty"`
}

// LogAttachmentWriteFailed records a blob write that forced a rollback
func (s *LogService) LogAttachmentWriteFailed(runID uint, details AttachmentDetails) error {
	return s.LogError(runID, models.LogModuleAttachment, "write", "Attachment write failed", details)
}

// LogBlobDeleteFailed records an orphaned blob left after a best-effort delete
func (s *LogService) LogBlobDeleteFailed(details AttachmentDetails) error {
	return s.LogWarn(0, models.LogModuleAttachment, "delete_blob", "Blob delete failed", details)
}

// LogFilterInert records rules that can never match
func (s *LogService) LogFilterInert(runID uint, names []string) error {
	return s.LogWarn(runID, models.LogModuleFilter, "inert", "Filter rules have no conditions and are ignored", map[string]interface{}{
		"filters": names,
	})
}

// LogTriggerRejected records an on-demand trigger refused while busy
func (s *LogService) LogTriggerRejected(trigger models.JobTrigger) error {
	return s.LogWarn(0, models.LogModuleScheduler, "trigger", "Trigger rejected: run in progress", map[string]interface{}{
		"trigger": string(trigger),
	})
}

// ===== Log Query Methods =====

// LogQuery represents query parameters for log retrieval
type LogQuery struct {
	RunID     uint
	Level     string
	Module    string
	Action    string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	Limit     int
}

// LogQueryResult represents the result of a log query
type LogQueryResult struct {
	Total int64
	Logs  []models.Log
}

// QueryLogs retrieves logs based on query parameters
func (s *LogService) QueryLogs(ctx context.Context, query LogQuery) (*LogQueryResult, error) {
	db := s.db.WithContext(ctx).Model(&models.Log{})

	if query.RunID > 0 {
		db = db.Where("run_id = ?", query.RunID)
	}
	if query.Level != "" {
		db = db.Where("level = ?", strings.ToUpper(query.Level))
	}
	if query.Module != "" {
		db = db.Where("module = ?", query.Module)
	}
	if query.Action != "" {
		db = db.Where("action = ?", query.Action)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", query.EndTime)
	}

	db = db.Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	offset := (query.Page - 1) * query.Limit

	var logs []models.Log
	if err := db.Order("created_at DESC, id DESC").Offset(offset).Limit(query.Limit).Find(&logs).Error; err != nil {
		return nil, err
	}

	return &LogQueryResult{
		Total: total,
		Logs:  logs,
	}, nil
}

// CleanupOldLogs deletes entries older than the retention period
func (s *LogService) CleanupOldLogs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.Log{})
	return res.RowsAffected, res.Error
}
