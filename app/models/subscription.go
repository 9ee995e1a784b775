package models

import "time"

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

const (
	RecordTypeNormal     = "normal"
	RecordTypePointsOnly = "points_only"
)

// Subscription is one accepted purchase/renewal grant. A user may hold several
// active rows at once (overlapping purchases); the highest-level one determines
// the effective tier. Rows transition to cancelled or expired, never deleted.
//
// The unique index on (gateway_subscription_id, gateway_event_id) makes a
// retried purchase application a conflict instead of a double grant.
type Subscription struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	Email                 string    `gorm:"type:varchar(200);not null;index:idx_subscriptions_email_status,priority:1" json:"email"`
	PlanTier              string    `gorm:"type:varchar(50);not null" json:"plan_tier"`
	PlanLevel             int       `gorm:"not null;default:0" json:"plan_level"`
	BillingCycle          string    `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_cycle"`
	Price                 float64   `gorm:"type:decimal(10,2);not null;default:0" json:"price"`
	CreditsGranted        int       `gorm:"not null;default:0" json:"credits_granted"`
	QuotaGranted          int       `gorm:"not null;default:0" json:"quota_granted"`
	StartDate             time.Time `gorm:"type:timestamp;not null" json:"start_date"`
	EndDate               time.Time `gorm:"type:timestamp;not null;index" json:"end_date"`
	Status                string    `gorm:"type:varchar(20);not null;default:'active';index:idx_subscriptions_email_status,priority:2" json:"status"`
	GatewaySubscriptionID string    `gorm:"type:varchar(191);not null;index:ux_subscriptions_gateway_sub_event,unique,priority:1" json:"gateway_subscription_id"`
	GatewayEventID        string    `gorm:"type:varchar(191);not null;default:'';index:ux_subscriptions_gateway_sub_event,unique,priority:2" json:"gateway_event_id"`
	RecordType            string    `gorm:"type:varchar(20);not null;default:'normal'" json:"record_type"`
	CancelAtPeriodEnd     bool      `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActiveAt reports whether the row belongs to the user's active set at t.
func (s *Subscription) IsActiveAt(t time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.EndDate.After(t)
}
