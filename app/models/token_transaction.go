package models

import "time"

// TransactionType tags a ledger row.
type TransactionType string

const (
	TransactionTypePurchase   TransactionType = "purchase"
	TransactionTypeSpend      TransactionType = "spend"
	TransactionTypeAdjustment TransactionType = "adjustment"
	TransactionTypeRefund     TransactionType = "refund"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypePurchase, TransactionTypeSpend, TransactionTypeAdjustment, TransactionTypeRefund:
		return true
	default:
		return false
	}
}

// TokenTransaction is an append-only ledger row. Amount is signed: credits
// are positive, debits negative. ExternalRef holds the payment session id of
// a purchase and is unique, so a session can only be credited once.
type TokenTransaction struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	UserID            string          `gorm:"type:varchar(191);not null;index:idx_token_transactions_user_created,priority:1" json:"user_id"`
	Amount            int64           `gorm:"not null" json:"amount"`
	Type              TransactionType `gorm:"type:varchar(20);not null;index" json:"type"`
	Description       string          `gorm:"type:varchar(255)" json:"description"`
	RelatedEntityType string          `gorm:"type:varchar(50);default:''" json:"related_entity_type,omitempty"`
	RelatedEntityID   string          `gorm:"type:varchar(191);default:''" json:"related_entity_id,omitempty"`
	ExternalRef       *string         `gorm:"type:varchar(191);uniqueIndex" json:"external_ref,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index:idx_token_transactions_user_created,priority:2" json:"created_at"`
}

// IsCredit reports a positive amount.
func (t *TokenTransaction) IsCredit() bool {
	return t.Amount > 0
}
