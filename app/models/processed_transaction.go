package models

import "time"

// ProcessedTransaction is the append-only idempotency ledger for payment
// gateway events. A (gateway_event_id, event_type) pair is recorded exactly
// once, after the entitlement change it describes has been applied. Rows are
// never updated or deleted.
type ProcessedTransaction struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	Email                 string    `gorm:"type:varchar(200);not null;index" json:"email"`
	GatewayEventID        string    `gorm:"type:varchar(191);not null;index:ux_processed_transactions_event,unique,priority:1" json:"gateway_event_id"`
	EventType             string    `gorm:"type:varchar(100);not null;index:ux_processed_transactions_event,unique,priority:2" json:"event_type"`
	GatewaySubscriptionID string    `gorm:"type:varchar(191);not null;default:''" json:"gateway_subscription_id"`
	AmountCents           int64     `gorm:"not null;default:0" json:"amount_cents"`
	Currency              string    `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	CreatedAt             time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
