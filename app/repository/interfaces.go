package repository

import (
	"gorm.io/gorm"

	"github.com/claripix/claripix/app/models"
)

// AccountRepository defines the interface for account-related database operations
type AccountRepository interface {
	Create(account *models.Account) error
	GetByAccountID(accountID string) (*models.Account, error)
	GetByEmail(email string) (*models.Account, error)
	GetByAPIKeyHash(hash string) (*models.Account, error)
	Update(account *models.Account) error
	List(offset, limit int) ([]models.Account, error)
	Count() (int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Account AccountRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account: NewAccountRepository(db),
	}
}
