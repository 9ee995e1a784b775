package repository

import (
	"gorm.io/gorm"

	"github.com/lumenshot/lumenshot/app/models"
)

// ledgerRepository implements the LedgerRepository interface
type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new ledger repository instance
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

// GetByEmail retrieves a user's processed transactions, newest first.
func (r *ledgerRepository) GetByEmail(email string, offset, limit int) ([]models.ProcessedTransaction, error) {
	var txns []models.ProcessedTransaction
	err := r.db.Where("email = ?", email).
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&txns).Error
	return txns, err
}

// GetByEventID retrieves ledger rows for one gateway event id.
func (r *ledgerRepository) GetByEventID(gatewayEventID string) ([]models.ProcessedTransaction, error) {
	var txns []models.ProcessedTransaction
	err := r.db.Where("gateway_event_id = ?", gatewayEventID).Find(&txns).Error
	return txns, err
}

// Count returns the total number of ledger rows.
func (r *ledgerRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.ProcessedTransaction{}).Count(&count).Error
	return count, err
}
