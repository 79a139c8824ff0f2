package credits

import (
	"context"
	"fmt"

	"github.com/claripix/claripix/app/models"
	"github.com/claripix/claripix/internal/pkg/ledger"
)

// Ledger is the slice of the ledger store the gate needs.
type Ledger interface {
	Apply(ctx context.Context, in ledger.ApplyInput) (*models.CreditTransaction, bool, error)
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

// Reservation is proof of a successful debit. The caller holds it across the
// downstream processing call and must hand it back to Refund if that call
// fails or is abandoned; the gate never rolls back implicitly.
type Reservation struct {
	Token     string `json:"token"`
	AccountID string `json:"account_id"`
	Operation string `json:"operation"`
	Amount    int64  `json:"amount"`
}

// Gate atomically checks-and-decrements the balance before an expensive
// operation is dispatched to an external processing API.
type Gate struct {
	ledger Ledger
}

func NewGate(l Ledger) *Gate {
	return &Gate{ledger: l}
}

// ReserveAndDebit debits cost credits in one atomic step. There is no
// read-then-write window visible to concurrent requests on the same account;
// the ledger's conditional decrement settles the race.
//
// Admin-flagged accounts bypass the cost but still record a zero-amount
// transaction for audit continuity.
func (g *Gate) ReserveAndDebit(ctx context.Context, accountID, operation string, cost int64) (*Reservation, error) {
	if cost < 0 {
		return nil, fmt.Errorf("negative cost %d for operation %s", cost, operation)
	}

	account, err := g.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	amount := -cost
	description := fmt.Sprintf("%s (%d credits)", operation, cost)
	if account.IsAdmin {
		amount = 0
		description = fmt.Sprintf("%s (admin bypass)", operation)
	}

	txn, _, err := g.ledger.Apply(ctx, ledger.ApplyInput{
		AccountID:   accountID,
		Amount:      amount,
		Type:        models.TxnUsageDebit,
		Description: description,
	})
	if err != nil {
		return nil, err
	}

	return &Reservation{
		Token:     txn.ID,
		AccountID: accountID,
		Operation: operation,
		Amount:    -amount,
	}, nil
}

// Refund restores the debited amount after a downstream failure. The refund
// is keyed by the original debit's transaction id, so calling it twice for
// the same reservation applies exactly one refund.
func (g *Gate) Refund(ctx context.Context, res *Reservation) (*models.CreditTransaction, error) {
	if res == nil || res.Token == "" {
		return nil, fmt.Errorf("refund requires a reservation token")
	}

	key := "refund:" + res.Token
	txn, _, err := g.ledger.Apply(ctx, ledger.ApplyInput{
		AccountID:     res.AccountID,
		Amount:        res.Amount,
		Type:          models.TxnUsageRefund,
		Description:   fmt.Sprintf("refund for failed %s", res.Operation),
		SourceEventID: &key,
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}
