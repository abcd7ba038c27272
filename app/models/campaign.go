package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	CampaignStatusDraft  = "draft"
	CampaignStatusActive = "active"
	CampaignStatusClosed = "closed"
)

type Campaign struct {
	ID          string    `gorm:"primaryKey;type:char(36)" json:"id"`
	OwnerID     string    `gorm:"type:varchar(191);not null;index" json:"owner_id" validate:"required"`
	Title       string    `gorm:"type:varchar(200);not null" json:"title" validate:"required,min=3,max=200"`
	Description string    `gorm:"type:text" json:"description" validate:"max=5000"`
	Niche       string    `gorm:"type:varchar(100)" json:"niche" validate:"max=100"`
	BudgetCents int64     `gorm:"not null;default:0" json:"budget_cents" validate:"gte=0"`
	Status      string    `gorm:"type:varchar(20);not null;default:'draft';index" json:"status" validate:"oneof=draft active closed"`
	TokenCost   int64     `gorm:"not null;default:0" json:"token_cost"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Campaign) Validate() error {
	v := validator.New()

	return v.Struct(c)
}

func (c *Campaign) IsActive() bool {
	return c.Status == CampaignStatusActive
}
