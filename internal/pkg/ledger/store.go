package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/claripix/claripix/app/models"
)

// ApplyInput describes one balance mutation. When SourceEventID is set the
// mutation is idempotent: replaying the same id returns the original
// transaction without touching the balance again.
type ApplyInput struct {
	AccountID     string
	Amount        int64
	Type          string
	Description   string
	SourceEventID *string
}

// Store is the transactional boundary around account balances and the
// append-only transaction log. Balance update and log insert happen in a
// single database transaction, serialized per account by a row lock so
// concurrent debits on the same account cannot overdraw while cross-account
// traffic stays fully parallel.
type Store struct {
	db *gorm.DB
}

// NewStore creates a ledger store over a GORM DB handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Apply executes one ledger mutation. The returned bool is false when the
// call was a deduplicated replay of an earlier transaction (not an error).
//
// Debits that would drive the balance negative fail with
// InsufficientCreditsError, except manual adjustments which are an
// administrative override and logged distinctly by their type.
func (s *Store) Apply(ctx context.Context, in ApplyInput) (*models.CreditTransaction, bool, error) {
	accountID := strings.TrimSpace(in.AccountID)
	if accountID == "" {
		return nil, false, ErrAccountNotFound
	}

	var (
		out     *models.CreditTransaction
		applied bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.Account
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ?", accountID).
			First(&account).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}

		if in.Amount < 0 && in.Type != models.TxnManualAdjustment && account.IsFrozen() {
			return ErrAccountFrozen
		}

		txn := &models.CreditTransaction{
			ID:            uuid.NewString(),
			AccountID:     accountID,
			Amount:        in.Amount,
			Type:          in.Type,
			Description:   in.Description,
			SourceEventID: in.SourceEventID,
		}

		// The unique index on source_event_id is the idempotency contract:
		// a replayed event inserts nothing and the balance stays untouched.
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_event_id"}},
			DoNothing: true,
		}).Create(txn)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var existing models.CreditTransaction
			if err := tx.Where("source_event_id = ?", in.SourceEventID).
				First(&existing).Error; err != nil {
				return err
			}
			out = &existing
			return nil
		}

		update := tx.Model(&models.Account{}).Where("account_id = ?", accountID)
		guarded := in.Amount < 0 && in.Type != models.TxnManualAdjustment
		if guarded {
			// Conditional decrement: the WHERE clause is what guarantees no
			// negative balance under any interleaving.
			update = update.Where("credit_balance + ? >= 0", in.Amount)
		}
		result := update.Update("credit_balance", gorm.Expr("credit_balance + ?", in.Amount))
		if result.Error != nil {
			return result.Error
		}
		// Zero rows means insufficient credits only when the guard was in
		// the WHERE clause. MySQL reports changed rows, not matched rows,
		// so a zero-amount update (admin bypass) legitimately affects
		// nothing and must not be mistaken for an overdraw.
		if guarded && result.RowsAffected == 0 {
			return &InsufficientCreditsError{
				Requested: -in.Amount,
				Available: account.CreditBalance,
			}
		}

		out = txn
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

// GetAccount loads an account by its opaque identity.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetBalance returns the current stored balance.
func (s *Store) GetBalance(ctx context.Context, accountID string) (int64, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.CreditBalance, nil
}

// ListTransactions returns the account's ledger entries in insertion order.
// Ordering uses the auto-increment sequence: created_at has second precision
// and the uuid primary key is random, so neither reproduces insertion order
// for same-second entries.
func (s *Store) ListTransactions(ctx context.Context, accountID string, offset, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var txns []models.CreditTransaction
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("seq ASC").
		Offset(offset).
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

// SumTransactions totals all ledger amounts for an account, the ground truth
// the stored balance is reconciled against.
func (s *Store) SumTransactions(ctx context.Context, accountID string) (int64, error) {
	var sum struct{ Total int64 }
	err := s.db.WithContext(ctx).
		Model(&models.CreditTransaction{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("account_id = ?", accountID).
		Scan(&sum).Error
	return sum.Total, err
}

// AccountSummary aggregates lifetime grant/consumption totals for display.
type AccountSummary struct {
	Balance       int64 `json:"balance"`
	TotalGranted  int64 `json:"total_granted"`
	TotalConsumed int64 `json:"total_consumed"`
}

// SummarizeAccount derives analytics totals from the ledger.
func (s *Store) SummarizeAccount(ctx context.Context, accountID string) (*AccountSummary, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var agg struct {
		Granted  int64
		Consumed int64
	}
	err = s.db.WithContext(ctx).
		Model(&models.CreditTransaction{}).
		Select("COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS granted, COALESCE(SUM(CASE WHEN amount < 0 THEN -amount ELSE 0 END), 0) AS consumed").
		Where("account_id = ?", accountID).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &AccountSummary{
		Balance:       account.CreditBalance,
		TotalGranted:  agg.Granted,
		TotalConsumed: agg.Consumed,
	}, nil
}

// VerifyAccount checks the reconciliation property for one account and
// freezes it on mismatch. A frozen account rejects further debits until
// manual review; the discrepancy is never silently corrected.
func (s *Store) VerifyAccount(ctx context.Context, accountID string) error {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	sum, err := s.SumTransactions(ctx, accountID)
	if err != nil {
		return err
	}
	if sum == account.CreditBalance {
		return nil
	}

	if err := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("account_id = ? AND frozen_at IS NULL", accountID).
		Update("frozen_at", gorm.Expr("CURRENT_TIMESTAMP")).Error; err != nil {
		return err
	}
	return &InvariantViolationError{
		AccountID: accountID,
		Balance:   account.CreditBalance,
		Sum:       sum,
	}
}

// UnfreezeAccount clears the frozen marker after manual review. The
// discrepancy itself must be settled first with a manual adjustment.
func (s *Store) UnfreezeAccount(ctx context.Context, accountID string) error {
	res := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("account_id = ?", accountID).
		Update("frozen_at", nil)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListAccountIDs pages over account identities for the audit job.
func (s *Store) ListAccountIDs(ctx context.Context, offset, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Pluck("account_id", &ids).Error
	return ids, err
}
