package models

import "time"

// PendingPlanChange stores the proration parameters quoted to a user before
// a plan switch. The switch itself is committed by the billing provider; when
// the confirming subscription.updated webhook arrives the reconciler applies
// exactly these stored parameters and marks the row consumed. Unconsumed rows
// for abandoned previews are harmless and expire by age.
type PendingPlanChange struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	AccountID            string     `gorm:"type:varchar(64);not null;index" json:"account_id"`
	FromPlanID           string     `gorm:"type:varchar(50);not null" json:"from_plan_id"`
	ToPlanID             string     `gorm:"type:varchar(50);not null" json:"to_plan_id"`
	ImmediateChargeCents int64      `gorm:"not null;default:0" json:"immediate_charge_cents"`
	CreditAppliedCents   int64      `gorm:"not null;default:0" json:"credit_applied_cents"`
	CreditDelta          int64      `gorm:"not null;default:0" json:"credit_delta"`
	ProrationDate        time.Time  `gorm:"not null" json:"proration_date"`
	ConsumedAt           *time.Time `gorm:"type:timestamp;default:null;index" json:"consumed_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
