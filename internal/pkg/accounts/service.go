package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/claripix/claripix/app/models"
	"github.com/claripix/claripix/app/repository"
	"github.com/claripix/claripix/internal/pkg/ledger"
	"github.com/claripix/claripix/internal/pkg/plans"
	"github.com/claripix/claripix/internal/pkg/security"
)

// ErrEmailTaken signals a provisioning attempt with an email that already
// belongs to an account.
var ErrEmailTaken = errors.New("email already registered")

// Ledger is the slice of the ledger store provisioning needs.
type Ledger interface {
	Apply(ctx context.Context, in ledger.ApplyInput) (*models.CreditTransaction, bool, error)
}

// Service provisions accounts and manages their API credentials. Every new
// account starts on the free tier with its grant booked through the ledger,
// so balance and transaction history agree from the first row on.
type Service struct {
	repo    repository.AccountRepository
	ledger  Ledger
	catalog *plans.Catalog
}

func NewService(repo repository.AccountRepository, l Ledger, catalog *plans.Catalog) *Service {
	return &Service{repo: repo, ledger: l, catalog: catalog}
}

// ProvisionInput carries the signup fields.
type ProvisionInput struct {
	Email   string
	IsAdmin bool
}

// Provision creates a free-tier account and applies its signup credit grant.
// The plain API key is returned exactly once; only its hash is stored.
func (s *Service) Provision(ctx context.Context, in ProvisionInput) (*models.Account, string, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email != "" {
		if _, err := s.repo.GetByEmail(email); err == nil {
			return nil, "", ErrEmailTaken
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", err
		}
	}

	free, err := s.catalog.GetPlan(models.PlanFree)
	if err != nil {
		return nil, "", err
	}

	apiKey, err := security.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}

	account := &models.Account{
		AccountID:          "acct_" + uuid.NewString(),
		Email:              email,
		APIKeyHash:         models.HashAPIKey(apiKey),
		IsAdmin:            in.IsAdmin,
		PlanID:             free.ID,
		SubscriptionStatus: models.SubscriptionStatusFree,
	}
	if err := account.Validate(); err != nil {
		return nil, "", err
	}
	if err := s.repo.Create(account); err != nil {
		return nil, "", err
	}

	// The signup grant goes through the ledger like every other balance
	// change; a fresh account with a balance but no transaction would fail
	// its first reconciliation sweep.
	if _, _, err := s.ledger.Apply(ctx, ledger.ApplyInput{
		AccountID:     account.AccountID,
		Amount:        free.CreditsPerCycle,
		Type:          models.TxnSubscriptionGrant,
		Description:   fmt.Sprintf("%s signup", free.Name),
		SourceEventID: signupKey(account.AccountID),
	}); err != nil {
		return nil, "", err
	}
	account.CreditBalance = free.CreditsPerCycle
	return account, apiKey, nil
}

// RotateAPIKey issues a fresh key for an existing account and invalidates
// the previous one.
func (s *Service) RotateAPIKey(accountID string) (string, error) {
	account, err := s.repo.GetByAccountID(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ledger.ErrAccountNotFound
		}
		return "", err
	}

	apiKey, err := security.GenerateAPIKey()
	if err != nil {
		return "", err
	}
	account.APIKeyHash = models.HashAPIKey(apiKey)
	if err := s.repo.Update(account); err != nil {
		return "", err
	}
	return apiKey, nil
}

// List pages over accounts for the operator view.
func (s *Service) List(offset, limit int) ([]models.Account, int64, error) {
	accounts, err := s.repo.List(offset, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count()
	if err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

func signupKey(accountID string) *string {
	k := "signup:" + accountID
	return &k
}
