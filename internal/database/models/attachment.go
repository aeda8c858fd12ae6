package models

import (
	"time"
)

// Attachment represents the metadata of one stored attachment blob
type Attachment struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	EmailID          uint      `gorm:"index;not null" json:"email_id"`
	FilenameOriginal string    `gorm:"size:1024;not null" json:"filename_original"`
	FilenameStored   string    `gorm:"size:1024;not null;uniqueIndex" json:"filename_stored"`
	MimeType         string    `gorm:"size:255" json:"mime_type"`
	SizeBytes        int64     `json:"size_bytes"`
	CreatedAt        time.Time `json:"created_at"`
}
