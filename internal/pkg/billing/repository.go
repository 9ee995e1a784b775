package billing

import (
	"context"
	"time"

	"github.com/lumenshot/lumenshot/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the reconciliation engine and
// the webhook handler. Implementations passed into Transaction callbacks are
// scoped to that transaction, so every read/write inside the callback shares
// one atomic unit.
type Repository interface {
	Transaction(ctx context.Context, fn func(Repository) error) error

	GetUserForUpdate(email string) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	CreateUser(user *models.User) error
	SaveUser(user *models.User) error

	ActiveSubscriptions(email string, now time.Time) ([]models.Subscription, error)
	CreateSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error
	SubscriptionsByGatewayID(gatewaySubscriptionID string) ([]models.Subscription, error)
	SubscriptionByGatewayIDs(gatewaySubscriptionID, gatewayEventID string) (*models.Subscription, error)
	ExpireLapsedSubscriptions(email string, now time.Time) (int64, error)

	IsEventProcessed(gatewayEventID, eventType string) (bool, error)
	RecordProcessedTransaction(txn *models.ProcessedTransaction) error

	EmailsNeedingExpiryCheck(now time.Time) ([]string, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

// GetUserForUpdate loads the user row under a row-level lock. Concurrent
// entitlement mutations for the same user serialize on this lock.
func (r *gormRepository) GetUserForUpdate(email string) (*models.User, error) {
	var user models.User
	err := r.db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("email = ?", email).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetUserByEmail(email string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) CreateUser(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *gormRepository) SaveUser(user *models.User) error {
	return r.db.Save(user).Error
}

// ActiveSubscriptions returns the user's active set ordered so the first row
// is the one that wins ties: highest level, then latest end date, then latest
// insert. This ordering is load-bearing for the downgrade path.
func (r *gormRepository) ActiveSubscriptions(email string, now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("email = ? AND status = ? AND end_date > ?", email, models.SubscriptionStatusActive, now).
		Order("plan_level DESC, end_date DESC, id DESC").
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) SubscriptionsByGatewayID(gatewaySubscriptionID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("gateway_subscription_id = ?", gatewaySubscriptionID).
		Order("end_date DESC, id DESC").
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) SubscriptionByGatewayIDs(gatewaySubscriptionID, gatewayEventID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("gateway_subscription_id = ? AND gateway_event_id = ?", gatewaySubscriptionID, gatewayEventID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ExpireLapsedSubscriptions(email string, now time.Time) (int64, error) {
	res := r.db.Model(&models.Subscription{}).
		Where("email = ? AND status = ? AND end_date <= ?", email, models.SubscriptionStatusActive, now).
		Update("status", models.SubscriptionStatusExpired)
	return res.RowsAffected, res.Error
}

func (r *gormRepository) IsEventProcessed(gatewayEventID, eventType string) (bool, error) {
	var count int64
	err := r.db.Model(&models.ProcessedTransaction{}).
		Where("gateway_event_id = ? AND event_type = ?", gatewayEventID, eventType).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) RecordProcessedTransaction(txn *models.ProcessedTransaction) error {
	return r.db.Create(txn).Error
}

// EmailsNeedingExpiryCheck finds users whose aggregate expiry has lapsed while
// their status still says active, plus owners of active subscription rows
// whose end date has passed (covers cancel-at-period-end rows).
func (r *gormRepository) EmailsNeedingExpiryCheck(now time.Time) ([]string, error) {
	var fromUsers []string
	err := r.db.Model(&models.User{}).
		Where("subscription_status = ? AND subscription_expiry IS NOT NULL AND subscription_expiry <= ?", models.SubscriptionStatusActive, now).
		Pluck("email", &fromUsers).Error
	if err != nil {
		return nil, err
	}

	var fromSubs []string
	err = r.db.Model(&models.Subscription{}).
		Distinct("email").
		Where("status = ? AND end_date <= ?", models.SubscriptionStatusActive, now).
		Pluck("email", &fromSubs).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(fromUsers)+len(fromSubs))
	emails := make([]string, 0, len(fromUsers)+len(fromSubs))
	for _, e := range append(fromUsers, fromSubs...) {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		emails = append(emails, e)
	}
	return emails, nil
}
