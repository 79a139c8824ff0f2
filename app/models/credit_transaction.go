package models

import "time"

// Credit transaction types. Positive amounts are grants, negative amounts
// are consumption.
const (
	TxnSubscriptionGrant  = "subscription_grant"
	TxnRenewalGrant       = "renewal_grant"
	TxnUpgradeProration   = "upgrade_proration"
	TxnDowngradeProration = "downgrade_proration"
	TxnPurchase           = "purchase"
	TxnUsageDebit         = "usage_debit"
	TxnUsageRefund        = "usage_refund"
	TxnManualAdjustment   = "manual_adjustment"
)

// CreditTransaction is an append-only ledger entry. Rows are never updated
// or deleted; the sum of amounts per account must always equal the account's
// credit balance. SourceEventID carries the external event id (or a derived
// idempotency key) and its unique index is what makes webhook redelivery and
// refund replay safe.
// Seq is the database-assigned insertion sequence. The uuid primary key is
// random and created_at only has second precision, so seq is the one column
// that totally orders a history listing the way entries were written.
type CreditTransaction struct {
	ID            string    `gorm:"type:char(36);primaryKey" json:"id"`
	Seq           uint64    `gorm:"autoIncrement;uniqueIndex:ux_credit_transactions_seq;index:idx_credit_transactions_account_seq,priority:2" json:"-"`
	AccountID     string    `gorm:"type:varchar(64);not null;index:idx_credit_transactions_account_seq,priority:1" json:"account_id"`
	Amount        int64     `gorm:"not null" json:"amount"`
	Type          string    `gorm:"type:varchar(32);not null;index" json:"type"`
	Description   string    `gorm:"type:varchar(255);default:''" json:"description"`
	SourceEventID *string   `gorm:"type:varchar(191);default:null;uniqueIndex:ux_credit_transactions_source_event" json:"source_event_id,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// IsGrant reports whether the entry added credits.
func (t *CreditTransaction) IsGrant() bool {
	return t.Amount > 0
}
