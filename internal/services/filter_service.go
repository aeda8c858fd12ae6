package services

import (
	"context"
	"errors"
	"strings"

	"github.com/luo-one/mailkeeper/internal/database/models"
	"github.com/luo-one/mailkeeper/internal/filter"
	"gorm.io/gorm"
)

// FilterService manages the stored acceptance rules
type FilterService struct {
	db *gorm.DB
}

// NewFilterService creates a new FilterService
func NewFilterService(db *gorm.DB) *FilterService {
	return &FilterService{db: db}
}

// CreateFilterRequest carries a new rule
type CreateFilterRequest struct {
	Name            string  `json:"name" binding:"required"`
	FromAddress     *string `json:"from_address"`
	SubjectContains *string `json:"subject_contains"`
	BodyContains    *string `json:"body_contains"`
	Enabled         *bool   `json:"enabled"`
}

// UpdateFilterRequest is a partial update; nil fields are left unchanged
type UpdateFilterRequest struct {
	FromAddress     *string `json:"from_address"`
	SubjectContains *string `json:"subject_contains"`
	BodyContains    *string `json:"body_contains"`
	Enabled         *bool   `json:"enabled"`
}

// List returns all filters ordered by ID
func (s *FilterService) List(ctx context.Context) ([]models.EmailFilter, error) {
	var filters []models.EmailFilter
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&filters).Error; err != nil {
		return nil, err
	}
	return filters, nil
}

// EnabledRules loads the enabled filters as evaluable rules
func (s *FilterService) EnabledRules(ctx context.Context) ([]filter.Rule, error) {
	var filters []models.EmailFilter
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("id ASC").Find(&filters).Error; err != nil {
		return nil, err
	}
	return filter.FromModels(filters), nil
}

// Get returns one filter
func (s *FilterService) Get(ctx context.Context, id uint) (*models.EmailFilter, error) {
	var f models.EmailFilter
	if err := s.db.WithContext(ctx).First(&f, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFilterNotFound
		}
		return nil, err
	}
	return &f, nil
}

// Create stores a new filter. Names are unique.
func (s *FilterService) Create(ctx context.Context, req CreateFilterRequest) (*models.EmailFilter, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidFilter
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.EmailFilter{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrDuplicateFilterName
	}

	f := &models.EmailFilter{
		Name:            name,
		Enabled:         true,
		FromAddress:     normalizeCondition(req.FromAddress),
		SubjectContains: normalizeCondition(req.SubjectContains),
		BodyContains:    normalizeCondition(req.BodyContains),
	}
	if req.Enabled != nil {
		f.Enabled = *req.Enabled
	}

	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return nil, err
	}
	return f, nil
}

// Update applies a partial update
func (s *FilterService) Update(ctx context.Context, id uint, req UpdateFilterRequest) (*models.EmailFilter, error) {
	f, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.FromAddress != nil {
		updates["from_address"] = normalizeCondition(req.FromAddress)
	}
	if req.SubjectContains != nil {
		updates["subject_contains"] = normalizeCondition(req.SubjectContains)
	}
	if req.BodyContains != nil {
		updates["body_contains"] = normalizeCondition(req.BodyContains)
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if len(updates) == 0 {
		return f, nil
	}

	if err := s.db.WithContext(ctx).Model(f).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a filter
func (s *FilterService) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.EmailFilter{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFilterNotFound
	}
	return nil
}

// DeleteByName removes a filter by its unique name
func (s *FilterService) DeleteByName(ctx context.Context, name string) error {
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&models.EmailFilter{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFilterNotFound
	}
	return nil
}

// normalizeCondition maps blank conditions to nil so they are not part of the rule
func normalizeCondition(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
