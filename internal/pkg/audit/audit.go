package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/claripix/claripix/internal/pkg/env"
	"github.com/claripix/claripix/internal/pkg/ledger"
	"github.com/claripix/claripix/internal/pkg/opsqueue"
)

// Verifier is the slice of the ledger store the auditor walks.
type Verifier interface {
	ListAccountIDs(ctx context.Context, offset, limit int) ([]string, error)
	VerifyAccount(ctx context.Context, accountID string) error
}

// AlertSink receives operator alerts for balance mismatches.
type AlertSink interface {
	Push(ctx context.Context, a opsqueue.Alert)
}

const pageSize = 500

// Auditor sweeps every account and checks that the stored balance equals
// the sum of its transactions. A mismatch freezes the account and raises an
// operator alert; nothing is auto-corrected.
type Auditor struct {
	store Verifier
	ops   AlertSink
}

func NewAuditor(store Verifier, ops AlertSink) *Auditor {
	return &Auditor{store: store, ops: ops}
}

// Run sweeps all accounts once and returns the number of violations found.
func (a *Auditor) Run(ctx context.Context) (int, error) {
	violations := 0
	offset := 0
	for {
		ids, err := a.store.ListAccountIDs(ctx, offset, pageSize)
		if err != nil {
			return violations, err
		}
		if len(ids) == 0 {
			return violations, nil
		}
		for _, id := range ids {
			if err := a.verifyOne(ctx, id); err != nil {
				violations++
			}
		}
		offset += len(ids)
	}
}

func (a *Auditor) verifyOne(ctx context.Context, accountID string) error {
	err := a.store.VerifyAccount(ctx, accountID)
	if err == nil {
		return nil
	}

	var violation *ledger.InvariantViolationError
	if errors.As(err, &violation) {
		log.Errorf("audit: account %s frozen, balance=%d sum=%d", accountID, violation.Balance, violation.Sum)
		a.ops.Push(ctx, opsqueue.Alert{
			Kind:      opsqueue.KindLedgerViolation,
			AccountID: accountID,
			Message:   fmt.Sprintf("balance %d does not match transaction sum %d, account frozen", violation.Balance, violation.Sum),
		})
		return err
	}

	log.Warnf("audit: verify %s: %v", accountID, err)
	return nil
}

// Schedule registers the nightly sweep on the given cron runner. The
// schedule comes from AUDIT_SCHEDULE (cron syntax, default 03:10 UTC).
func (a *Auditor) Schedule(c *cron.Cron) error {
	schedule := env.GetEnv("AUDIT_SCHEDULE", "10 3 * * *")
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		start := time.Now()
		violations, err := a.Run(ctx)
		if err != nil {
			log.Errorf("audit: sweep aborted after %s: %v", time.Since(start), err)
			return
		}
		log.Infof("audit: sweep finished in %s, %d violation(s)", time.Since(start), violations)
	})
	return err
}
