package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/lumenshot/lumenshot/app/models"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// GetByEmail retrieves a user's subscription history, newest first.
func (r *subscriptionRepository) GetByEmail(email string, offset, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("email = ?", email).
		Order("start_date DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&subs).Error
	return subs, err
}

// ActiveByEmail retrieves the user's current active set, highest level first.
func (r *subscriptionRepository) ActiveByEmail(email string, now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("email = ? AND status = ? AND end_date > ?", email, models.SubscriptionStatusActive, now).
		Order("plan_level DESC, end_date DESC, id DESC").
		Find(&subs).Error
	return subs, err
}

// GetByGatewaySubscriptionID retrieves all rows for a gateway subscription.
func (r *subscriptionRepository) GetByGatewaySubscriptionID(id string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("gateway_subscription_id = ?", id).
		Order("end_date DESC, id DESC").
		Find(&subs).Error
	return subs, err
}

// CountByEmail returns the number of subscription rows for a user.
func (r *subscriptionRepository) CountByEmail(email string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).Where("email = ?", email).Count(&count).Error
	return count, err
}
