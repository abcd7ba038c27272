package billing

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/brandbridge/brandbridge/app/models"
)

// Repository persists processor webhook deliveries.
type Repository interface {
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
	ListWebhookEvents(ctx context.Context, filter WebhookFilter, limit, offset int) ([]models.BillingWebhookEvent, int64, error)
}

// WebhookFilter narrows the operator listing of deliveries.
type WebhookFilter struct {
	SessionID  string
	FailedOnly bool
}

// Matches applies the filter to one stored event.
func (f WebhookFilter) Matches(e *models.BillingWebhookEvent) bool {
	if f.SessionID != "" && e.CheckoutSessionID != f.SessionID {
		return false
	}
	if f.FailedOnly && e.ProcessingError == "" {
		return false
	}
	return true
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) ListWebhookEvents(ctx context.Context, filter WebhookFilter, limit, offset int) ([]models.BillingWebhookEvent, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&models.BillingWebhookEvent{})
		if filter.SessionID != "" {
			db = db.Where("checkout_session_id = ?", filter.SessionID)
		}
		if filter.FailedOnly {
			db = db.Where("processing_error <> ''")
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var events []models.BillingWebhookEvent
	err := r.db.WithContext(ctx).Scopes(scope).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&events).Error
	return events, total, err
}
