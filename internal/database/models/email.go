package models

import (
	"time"
)

// Email represents an ingested mailbox message
type Email struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	MessageID  string     `gorm:"uniqueIndex;size:255;not null" json:"message_id"`
	Sender     string     `gorm:"size:255;not null;index" json:"sender"`
	Recipient  *string    `gorm:"size:255" json:"recipient"`
	Cc         *string    `gorm:"size:1024" json:"cc"`
	Subject    *string    `gorm:"size:1024" json:"subject"`
	Body       string     `gorm:"type:text" json:"body"`
	ReceivedAt *time.Time `gorm:"index" json:"received_at"`
	CreatedAt  time.Time  `json:"created_at"`
	IsDeleted  bool       `gorm:"default:false;not null" json:"is_deleted"` // soft delete flag, still counted by dedup

	// Relations
	Attachments []Attachment `gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}
