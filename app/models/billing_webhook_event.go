package models

import "time"

const BillingProviderStripe = "stripe"

// BillingWebhookEvent is one processor delivery. Provider and
// ProviderEventID together are unique, so a redelivered event maps to the
// row of its first delivery.
type BillingWebhookEvent struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Provider          string     `gorm:"type:varchar(20);not null;index:ux_billing_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID   string     `gorm:"type:varchar(191);not null;index:ux_billing_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType         string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	CheckoutSessionID string     `gorm:"type:varchar(191);not null;default:'';index" json:"checkout_session_id,omitempty"`
	PayloadJSON       string     `gorm:"type:longtext;not null" json:"-"`
	SignatureValid    bool       `gorm:"not null;default:false" json:"signature_valid"`
	ProcessedAt       *time.Time `gorm:"default:null" json:"processed_at,omitempty"`
	ProcessingError   string     `gorm:"type:text" json:"processing_error,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsProcessed reports whether handling finished without error. A failed
// event stays eligible for the next delivery.
func (e *BillingWebhookEvent) IsProcessed() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}
