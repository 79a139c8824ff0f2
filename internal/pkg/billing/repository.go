package billing

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/claripix/claripix/app/models"
)

// Repository provides DB operations used by the webhook reconciler and the
// billing service.
type Repository interface {
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error

	GetAccountByAccountID(accountID string) (*models.Account, error)
	GetAccountByProviderSubscriptionID(subscriptionID string) (*models.Account, error)
	GetAccountByProviderCustomerID(customerID string) (*models.Account, error)
	UpdateAccountSubscription(accountID string, fields map[string]interface{}, eventTime time.Time) (bool, error)
	RecordDiscountUse(accountID string, usedAt time.Time) error
	RecordPauseUse(accountID string, pausedAt time.Time) error

	CreatePendingPlanChange(change *models.PendingPlanChange) error
	FindPendingPlanChange(accountID, toPlanID string) (*models.PendingPlanChange, error)
	MarkPendingPlanChangeConsumed(id uint) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) GetAccountByAccountID(accountID string) (*models.Account, error) {
	var account models.Account
	err := r.db.Where("account_id = ?", accountID).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) GetAccountByProviderSubscriptionID(subscriptionID string) (*models.Account, error) {
	var account models.Account
	err := r.db.Where("provider_subscription_id = ?", subscriptionID).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) GetAccountByProviderCustomerID(customerID string) (*models.Account, error) {
	var account models.Account
	err := r.db.Where("provider_customer_id = ?", customerID).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// UpdateAccountSubscription applies subscription fields guarded by the event
// timestamp: a delivery older than the account's last applied status change
// is skipped, which resolves out-of-order same-account delivery as
// last-write-wins. Returns whether the update was applied.
func (r *gormRepository) UpdateAccountSubscription(accountID string, fields map[string]interface{}, eventTime time.Time) (bool, error) {
	fields["status_changed_at"] = eventTime
	res := r.db.Model(&models.Account{}).
		Where("account_id = ? AND (status_changed_at IS NULL OR status_changed_at <= ?)", accountID, eventTime).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) RecordDiscountUse(accountID string, usedAt time.Time) error {
	return r.db.Model(&models.Account{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"last_discount_used_at": usedAt,
			"discount_use_count":    gorm.Expr("discount_use_count + 1"),
		}).Error
}

func (r *gormRepository) RecordPauseUse(accountID string, pausedAt time.Time) error {
	return r.db.Model(&models.Account{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"subscription_status": models.SubscriptionStatusPaused,
			"status_changed_at":   pausedAt,
			"pause_use_count":     gorm.Expr("pause_use_count + 1"),
		}).Error
}

func (r *gormRepository) CreatePendingPlanChange(change *models.PendingPlanChange) error {
	return r.db.Create(change).Error
}

// FindPendingPlanChange returns the newest unconsumed preview matching the
// confirmed target plan, or nil when none exists.
func (r *gormRepository) FindPendingPlanChange(accountID, toPlanID string) (*models.PendingPlanChange, error) {
	var change models.PendingPlanChange
	err := r.db.
		Where("account_id = ? AND to_plan_id = ? AND consumed_at IS NULL", accountID, toPlanID).
		Order("created_at DESC").
		First(&change).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &change, nil
}

func (r *gormRepository) MarkPendingPlanChangeConsumed(id uint) error {
	now := time.Now()
	return r.db.Model(&models.PendingPlanChange{}).
		Where("id = ? AND consumed_at IS NULL", id).
		Update("consumed_at", &now).Error
}
