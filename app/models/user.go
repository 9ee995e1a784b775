package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ROLE_USER       = "user"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

const (
	SubscriptionStatusNone      = "none"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

// User carries the aggregate entitlement state derived from the user's
// subscription rows. Credits and Quota are the spendable balances; PlanTier
// and PlanLevel always reflect the highest-level currently active subscription.
type User struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Name               string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=1,max=150"`
	Email              string         `gorm:"uniqueIndex;type:varchar(200) CHARACTER SET utf8 COLLATE utf8_bin" json:"email" validate:"required,email,min=5,max=200"`
	Role               string         `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	Status             string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	AvatarURL          string         `gorm:"type:varchar(255);default:null" json:"avatar_url" validate:"max=255"`
	Credits            int            `gorm:"not null;default:0" json:"credits" validate:"gte=0"`
	Quota              int            `gorm:"not null;default:0" json:"quota" validate:"gte=0"`
	SubscriptionStatus string         `gorm:"type:varchar(20);not null;default:'none';index" json:"subscription_status" validate:"oneof=none active cancelled expired"`
	SubscriptionExpiry *time.Time     `gorm:"type:timestamp;default:null;index" json:"subscription_expiry,omitempty"`
	PlanTier           string         `gorm:"type:varchar(50);default:''" json:"plan_tier"`
	PlanLevel          int            `gorm:"not null;default:0" json:"plan_level"`
	LastLoginAt        *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewUserFromProvider creates a user record for a first-time identity-provider
// login. Entitlements start at zero; they are only ever granted through the
// reconciliation engine.
func NewUserFromProvider(name, email, avatarURL string) (*User, error) {
	u := &User{
		Name:               name,
		Email:              email,
		AvatarURL:          avatarURL,
		Role:               ROLE_USER,
		Status:             STATUS_ACTIVE,
		SubscriptionStatus: SubscriptionStatusNone,
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}

	return u, nil
}

// IsActive reports whether the user account status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

// HasActiveSubscription reports whether the aggregate subscription state is
// active and unexpired at the given time.
func (u *User) HasActiveSubscription(now time.Time) bool {
	if u.SubscriptionStatus != SubscriptionStatusActive {
		return false
	}
	return u.SubscriptionExpiry == nil || u.SubscriptionExpiry.After(now)
}

// ClearEntitlements resets all aggregate entitlement fields. Users are never
// hard-deleted; expiry and cancellation both funnel through here.
func (u *User) ClearEntitlements(status string) {
	u.SubscriptionStatus = status
	u.SubscriptionExpiry = nil
	u.Credits = 0
	u.Quota = 0
	u.PlanTier = ""
	u.PlanLevel = 0
}
