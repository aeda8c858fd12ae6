package models

import (
	"time"
)

// EmailFilter is a named acceptance rule evaluated against incoming messages.
// Conditions left nil are not part of the rule. New filters are enabled unless created otherwise.
type EmailFilter struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"uniqueIndex;size:255;not null" json:"name"`
	Enabled         bool      `gorm:"not null;index" json:"enabled"`
	FromAddress     *string   `gorm:"size:255;index" json:"from_address"`
	SubjectContains *string   `gorm:"size:255" json:"subject_contains"`
	BodyContains    *string   `gorm:"size:255" json:"body_contains"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
