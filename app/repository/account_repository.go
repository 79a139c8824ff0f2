package repository

import (
	"strings"

	"gorm.io/gorm"

	"github.com/claripix/claripix/app/models"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(account *models.Account) error {
	return r.db.Create(account).Error
}

func (r *accountRepository) GetByAccountID(accountID string) (*models.Account, error) {
	var account models.Account
	if err := r.db.Where("account_id = ?", strings.TrimSpace(accountID)).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByEmail(email string) (*models.Account, error) {
	var account models.Account
	if err := r.db.Where("email = ?", strings.TrimSpace(email)).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByAPIKeyHash resolves an API key hash to its account.
func (r *accountRepository) GetByAPIKeyHash(hash string) (*models.Account, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var account models.Account
	if err := r.db.Where("api_key_hash = ?", trimmed).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) Update(account *models.Account) error {
	return r.db.Save(account).Error
}

func (r *accountRepository) List(offset, limit int) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.Order("id ASC").Offset(offset).Limit(limit).Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Account{}).Count(&count).Error
	return count, err
}
