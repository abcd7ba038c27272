package models

import "time"

const (
	NotificationTypeTokenPurchase = "token_purchase"
	NotificationTypeTokenSpend    = "token_spend"
	NotificationTypeAdjustment    = "token_adjustment"
	NotificationTypeCampaign      = "campaign"
	NotificationTypeSystem        = "system"
)

type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(191);not null;index:idx_notifications_user_read,priority:1" json:"user_id"`
	Title     string    `gorm:"type:varchar(200);not null" json:"title"`
	Message   string    `gorm:"type:text" json:"message"`
	Type      string    `gorm:"type:varchar(50);not null" json:"type"`
	RelatedID string    `gorm:"type:varchar(191);default:''" json:"related_id,omitempty"`
	IsRead    bool      `gorm:"default:false;index:idx_notifications_user_read,priority:2" json:"is_read"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
