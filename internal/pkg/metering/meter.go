package metering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/lumenshot/lumenshot/app/models"
	"github.com/lumenshot/lumenshot/internal/pkg/billing"
	"github.com/lumenshot/lumenshot/internal/pkg/metrics"
)

// Balance is the entitlement snapshot returned to API callers.
type Balance struct {
	Email   string     `json:"email"`
	Credits int        `json:"credits"`
	Quota   int        `json:"quota"`
	Tier    string     `json:"tier"`
	Level   int        `json:"level"`
	Status  string     `json:"status"`
	Expiry  *time.Time `json:"expiry,omitempty"`
}

// Store is the persistence surface the meter needs. Decrement must be a single
// atomic check-and-decrement: it applies both deductions only when the user
// currently holds at least the requested amounts.
type Store interface {
	Decrement(ctx context.Context, email string, credits, quota int) (bool, error)
	User(ctx context.Context, email string) (*models.User, error)
}

// Meter deducts credits and quota for units of paid work.
type Meter struct {
	store Store
}

// NewMeter creates a meter from an injected store.
func NewMeter(store Store) *Meter {
	return &Meter{store: store}
}

// NewMeterFromDB creates a meter backed by the entitlement tables.
func NewMeterFromDB(db *gorm.DB) *Meter {
	return NewMeter(&gormStore{db: db})
}

// consumeAttempts bounds the classify-and-retry loop when a concurrent
// reconciliation changes the balance between the failed decrement and the
// follow-up read.
const consumeAttempts = 3

// Consume atomically deducts credits and quota units from the user. Two
// concurrent calls can never both spend the same balance: the conditional
// update in the store serializes them.
func (m *Meter) Consume(ctx context.Context, email string, credits, quota int) (*Balance, error) {
	if credits < 0 || quota < 0 {
		return nil, fmt.Errorf("metering: negative consume amount (credits=%d quota=%d)", credits, quota)
	}
	email = strings.TrimSpace(email)

	for attempt := 0; attempt < consumeAttempts; attempt++ {
		ok, err := m.store.Decrement(ctx, email, credits, quota)
		if err != nil {
			metrics.ConsumeCalls.WithLabelValues(metrics.OutcomeError).Inc()
			return nil, err
		}
		if ok {
			metrics.ConsumeCalls.WithLabelValues(metrics.OutcomeOK).Inc()
			return m.GetBalance(ctx, email)
		}

		user, err := m.store.User(ctx, email)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrUserNotFound
		} else if err != nil {
			metrics.ConsumeCalls.WithLabelValues(metrics.OutcomeError).Inc()
			return nil, err
		}

		switch {
		case user.Credits < credits:
			metrics.ConsumeCalls.WithLabelValues(metrics.OutcomeInsufficientCredits).Inc()
			return nil, billing.ErrInsufficientCredits
		case user.Quota < quota:
			metrics.ConsumeCalls.WithLabelValues(metrics.OutcomeInsufficientQuota).Inc()
			return nil, billing.ErrInsufficientQuota
		}
		// The read says there is enough: a renewal or purchase landed between
		// the decrement and the read. Try the decrement again.
	}

	metrics.ConsumeCalls.WithLabelValues(metrics.OutcomeError).Inc()
	return nil, fmt.Errorf("metering: consume contention for %s, giving up", email)
}

// GetBalance reads the user's current entitlement snapshot.
func (m *Meter) GetBalance(ctx context.Context, email string) (*Balance, error) {
	user, err := m.store.User(ctx, strings.TrimSpace(email))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, billing.ErrUserNotFound
	} else if err != nil {
		return nil, err
	}
	return &Balance{
		Email:   user.Email,
		Credits: user.Credits,
		Quota:   user.Quota,
		Tier:    user.PlanTier,
		Level:   user.PlanLevel,
		Status:  user.SubscriptionStatus,
		Expiry:  user.SubscriptionExpiry,
	}, nil
}

type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) Decrement(ctx context.Context, email string, credits, quota int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ? AND credits >= ? AND quota >= ?", email, credits, quota).
		Updates(map[string]interface{}{
			"credits": gorm.Expr("credits - ?", credits),
			"quota":   gorm.Expr("quota - ?", quota),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) User(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
