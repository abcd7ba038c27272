package repository

import (
	"context"

	"github.com/brandbridge/brandbridge/app/models"
	"gorm.io/gorm"
)

type campaignRepository struct {
	db *gorm.DB
}

func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	return r.db.WithContext(ctx).Create(campaign).Error
}

func (r *campaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&campaign).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *campaignRepository) UpdateStatus(ctx context.Context, id, status string) error {
	res := r.db.WithContext(ctx).Model(&models.Campaign{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *campaignRepository) ListActive(ctx context.Context, limit, offset int) ([]models.Campaign, int64, error) {
	return r.list(r.db.WithContext(ctx).Model(&models.Campaign{}).Where("status = ?", models.CampaignStatusActive), limit, offset)
}

func (r *campaignRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Campaign, int64, error) {
	return r.list(r.db.WithContext(ctx).Model(&models.Campaign{}).Where("owner_id = ?", ownerID), limit, offset)
}

func (r *campaignRepository) list(query *gorm.DB, limit, offset int) ([]models.Campaign, int64, error) {
	query = query.Session(&gorm.Session{})
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []models.Campaign
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
