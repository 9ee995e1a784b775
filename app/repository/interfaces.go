package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/lumenshot/lumenshot/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	Update(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	Search(query string) ([]models.User, error)
}

// SubscriptionRepository defines read access to subscription rows. Mutations
// go through the reconciliation engine, never through this interface.
type SubscriptionRepository interface {
	GetByEmail(email string, offset, limit int) ([]models.Subscription, error)
	ActiveByEmail(email string, now time.Time) ([]models.Subscription, error)
	GetByGatewaySubscriptionID(id string) ([]models.Subscription, error)
	CountByEmail(email string) (int64, error)
}

// LedgerRepository defines read access to the processed-transaction audit
// trail. The ledger is append-only; rows are written by the webhook handler.
type LedgerRepository interface {
	GetByEmail(email string, offset, limit int) ([]models.ProcessedTransaction, error)
	GetByEventID(gatewayEventID string) ([]models.ProcessedTransaction, error)
	Count() (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Subscription SubscriptionRepository
	Ledger       LedgerRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Ledger:       NewLedgerRepository(db),
	}
}
