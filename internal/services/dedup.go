package services

import (
	"context"

	"github.com/luo-one/mailkeeper/internal/database/models"
	"gorm.io/gorm"
)

// DedupGate answers whether a message was already ingested.
type DedupGate struct {
	db *gorm.DB
}

// NewDedupGate creates a new DedupGate
func NewDedupGate(db *gorm.DB) *DedupGate {
	return &DedupGate{db: db}
}

// Seen reports whether an email with this external identifier exists,
// including soft-deleted ones.
func (g *DedupGate) Seen(ctx context.Context, externalID string) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("message_id = ?", externalID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
