package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Subscription status values mirrored from the billing provider into local
// account state.
const (
	SubscriptionStatusFree     = "free"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusPaused   = "paused"
)

// PlanFree is the plan every account starts on and falls back to after
// cancellation.
const PlanFree = "free"

// Account carries a user's spendable credit balance and the subscription
// state reconciled from the billing provider. The balance is never written
// directly; every change goes through a recorded CreditTransaction.
type Account struct {
	ID                     uint           `gorm:"primaryKey" json:"id"`
	AccountID              string         `gorm:"type:varchar(64);not null;uniqueIndex" json:"account_id" validate:"required,min=1,max=64"`
	Email                  string         `gorm:"type:varchar(200);default:''" json:"email" validate:"omitempty,email,max=200"`
	APIKeyHash             string         `gorm:"type:varchar(64);index" json:"-"`
	IsAdmin                bool           `gorm:"default:false" json:"is_admin"`
	CreditBalance          int64          `gorm:"not null;default:0" json:"credit_balance"`
	PlanID                 string         `gorm:"type:varchar(50);not null;default:'free';index" json:"plan_id" validate:"required"`
	SubscriptionStatus     string         `gorm:"type:varchar(32);not null;default:'free';index" json:"subscription_status" validate:"oneof=free active past_due canceled paused"`
	ProviderCustomerID     string         `gorm:"type:varchar(191);default:'';index" json:"provider_customer_id"`
	ProviderSubscriptionID *string        `gorm:"type:varchar(191);default:null;index" json:"provider_subscription_id,omitempty"`
	CurrentPeriodStart     *time.Time     `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time     `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	StatusChangedAt        *time.Time     `gorm:"type:timestamp;default:null" json:"status_changed_at,omitempty"`
	LastDiscountUsedAt     *time.Time     `gorm:"type:timestamp;default:null" json:"last_discount_used_at,omitempty"`
	DiscountUseCount       int            `gorm:"not null;default:0" json:"discount_use_count"`
	PauseUseCount          int            `gorm:"not null;default:0" json:"pause_use_count"`
	FrozenAt               *time.Time     `gorm:"type:timestamp;default:null" json:"frozen_at,omitempty"`
	CreatedAt              time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt              gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *Account) Validate() error {
	v := validator.New()

	return v.Struct(a)
}

// IsFrozen reports whether debits are blocked pending manual review after a
// ledger invariant violation.
func (a *Account) IsFrozen() bool {
	return a.FrozenAt != nil
}

// HashAPIKey returns the hex SHA-256 digest stored for API key lookups.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
