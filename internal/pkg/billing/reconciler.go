package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/claripix/claripix/app/models"
	"github.com/claripix/claripix/internal/pkg/ledger"
	"github.com/claripix/claripix/internal/pkg/opsqueue"
	"github.com/claripix/claripix/internal/pkg/plans"
)

// Ledger is the slice of the ledger store the reconciler needs.
type Ledger interface {
	Apply(ctx context.Context, in ledger.ApplyInput) (*models.CreditTransaction, bool, error)
	GetBalance(ctx context.Context, accountID string) (int64, error)
}

// AlertSink receives operator alerts. *opsqueue.Queue satisfies it.
type AlertSink interface {
	Push(ctx context.Context, a opsqueue.Alert)
}

type handlerFunc func(ctx context.Context, evt Event) error

// Reconciler consumes billing provider lifecycle events and applies the
// corresponding account and ledger mutations exactly once. Every handler is
// idempotent: the webhook event table dedups whole deliveries and the
// ledger's source-event key dedups individual grants, so redelivery and
// out-of-order arrival produce no additional side effects.
type Reconciler struct {
	repo     Repository
	ledger   Ledger
	catalog  *plans.Catalog
	ops      AlertSink
	handlers map[string]handlerFunc
}

func NewReconciler(repo Repository, l Ledger, catalog *plans.Catalog, ops AlertSink) *Reconciler {
	r := &Reconciler{
		repo:    repo,
		ledger:  l,
		catalog: catalog,
		ops:     ops,
	}
	r.handlers = map[string]handlerFunc{
		EventSubscriptionCreated:      r.handleSubscriptionCreated,
		EventCheckoutSessionCompleted: r.handleSubscriptionCreated,
		EventSubscriptionUpdated:      r.handleSubscriptionUpdated,
		EventSubscriptionCanceled:     r.handleSubscriptionCanceled,
		EventInvoicePaymentSucceeded:  r.handleInvoicePaymentSucceeded,
		EventInvoicePaymentFailed:     r.handleInvoicePaymentFailed,
		EventPaymentIntentSucceeded:   r.handlePaymentIntentSucceeded,
	}
	return r
}

// Process records and dispatches one raw webhook delivery. A redelivered
// event id that was already processed is a successful no-op. Handler errors
// are persisted on the event row, alerted, and returned so the HTTP layer
// answers non-2xx and the provider's redelivery becomes the retry path.
func (r *Reconciler) Process(ctx context.Context, payload []byte, signatureValid bool) error {
	evt, err := ParseEvent(payload)
	if err != nil {
		r.ops.Push(ctx, opsqueue.Alert{
			Kind:    opsqueue.KindWebhookFailure,
			Message: "unparseable webhook payload",
			Payload: string(payload),
		})
		return err
	}

	created, stored, err := r.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        BillingProvider,
		ProviderEventID: evt.ID,
		EventType:       evt.Type,
		PayloadJSON:     evt.Raw,
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return err
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		log.Debugf("billing: duplicate event %s, no-op", evt.ID)
		return nil
	}

	handler, ok := r.handlers[evt.Type]
	if !ok {
		log.Debugf("billing: ignoring event type %s (%s)", evt.Type, evt.ID)
		return r.repo.MarkWebhookProcessed(stored.ID, "")
	}

	handlerErr := handler(ctx, evt)
	errMsg := ""
	if handlerErr != nil {
		errMsg = handlerErr.Error()
	}
	if err := r.repo.MarkWebhookProcessed(stored.ID, errMsg); err != nil {
		log.Errorf("billing: mark event %s processed: %v", evt.ID, err)
	}
	if handlerErr != nil {
		r.ops.Push(ctx, opsqueue.Alert{
			Kind:      opsqueue.KindWebhookFailure,
			AccountID: evt.AccountID,
			Message:   fmt.Sprintf("handler for %s failed: %v", evt.Type, handlerErr),
			Payload:   evt.Raw,
		})
		return handlerErr
	}
	return nil
}

// resolveAccount finds the account an event refers to, preferring the
// explicit account id from provider metadata.
func (r *Reconciler) resolveAccount(evt Event) (*models.Account, error) {
	if evt.AccountID != "" {
		account, err := r.repo.GetAccountByAccountID(evt.AccountID)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if evt.SubscriptionID != "" {
		account, err := r.repo.GetAccountByProviderSubscriptionID(evt.SubscriptionID)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if evt.CustomerID != "" {
		account, err := r.repo.GetAccountByProviderCustomerID(evt.CustomerID)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: event %s", ledger.ErrAccountNotFound, evt.ID)
}

func (r *Reconciler) handleSubscriptionCreated(ctx context.Context, evt Event) error {
	account, err := r.resolveAccount(evt)
	if err != nil {
		return err
	}
	plan, err := r.catalog.GetPlanByProviderPriceID(evt.PriceID)
	if err != nil {
		r.ops.Push(ctx, opsqueue.Alert{
			Kind:      opsqueue.KindDataIntegrity,
			AccountID: account.AccountID,
			Message:   fmt.Sprintf("subscription created with unresolvable price %q", evt.PriceID),
			Payload:   evt.Raw,
		})
		return err
	}

	fields := map[string]interface{}{
		"plan_id":                  plan.ID,
		"subscription_status":      models.SubscriptionStatusActive,
		"provider_subscription_id": evt.SubscriptionID,
	}
	if evt.CustomerID != "" {
		fields["provider_customer_id"] = evt.CustomerID
	}
	if evt.PeriodStart != nil {
		fields["current_period_start"] = evt.PeriodStart
	}
	if evt.PeriodEnd != nil {
		fields["current_period_end"] = evt.PeriodEnd
	}
	if _, err := r.repo.UpdateAccountSubscription(account.AccountID, fields, evt.Timestamp); err != nil {
		return err
	}

	_, _, err = r.ledger.Apply(ctx, ledger.ApplyInput{
		AccountID:     account.AccountID,
		Amount:        plan.CreditsPerCycle,
		Type:          models.TxnSubscriptionGrant,
		Description:   fmt.Sprintf("%s subscription", plan.Name),
		SourceEventID: strPtr("sub:" + evt.SubscriptionID),
	})
	return err
}

func (r *Reconciler) handleInvoicePaymentSucceeded(ctx context.Context, evt Event) error {
	if evt.BillingReason != BillingReasonRenewal {
		// Initial invoices are covered by the subscription grant.
		return nil
	}
	account, err := r.resolveAccount(evt)
	if err != nil {
		return err
	}
	// Renewal is only meaningful for a live subscription. A renewal invoice
	// against a canceled or paused account means local state and the
	// provider disagree; granting credits or reactivating here would paper
	// over that, so the event is skipped and flagged instead.
	switch account.SubscriptionStatus {
	case models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
	default:
		r.ops.Push(ctx, opsqueue.Alert{
			Kind:      opsqueue.KindDataIntegrity,
			AccountID: account.AccountID,
			Message:   fmt.Sprintf("renewal invoice %s for %s account, no grant applied", evt.InvoiceID, account.SubscriptionStatus),
			Payload:   evt.Raw,
		})
		return nil
	}
	plan, err := r.catalog.GetPlan(account.PlanID)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"subscription_status": models.SubscriptionStatusActive,
	}
	if evt.PeriodStart != nil {
		fields["current_period_start"] = evt.PeriodStart
	}
	if evt.PeriodEnd != nil {
		fields["current_period_end"] = evt.PeriodEnd
	}
	if _, err := r.repo.UpdateAccountSubscription(account.AccountID, fields, evt.Timestamp); err != nil {
		return err
	}

	// Dedup on the invoice id, not the event id or timestamp: redelivery
	// and out-of-order arrival for the same cycle credit exactly once.
	key := evt.RenewalDedupKey()
	_, _, err = r.ledger.Apply(ctx, ledger.ApplyInput{
		AccountID:     account.AccountID,
		Amount:        plan.CreditsPerCycle,
		Type:          models.TxnRenewalGrant,
		Description:   fmt.Sprintf("%s renewal", plan.Name),
		SourceEventID: &key,
	})
	return err
}

func (r *Reconciler) handleInvoicePaymentFailed(ctx context.Context, evt Event) error {
	_ = ctx
	account, err := r.resolveAccount(evt)
	if err != nil {
		return err
	}
	// Already-granted credits are never revoked on payment failure; the
	// provider's dunning cycle is the retry path.
	applied, err := r.repo.UpdateAccountSubscription(account.AccountID, map[string]interface{}{
		"subscription_status": models.SubscriptionStatusPastDue,
	}, evt.Timestamp)
	if err != nil {
		return err
	}
	if !applied {
		log.Debugf("billing: stale payment_failed for %s superseded by newer status", account.AccountID)
	}
	return nil
}

func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, evt Event) error {
	account, err := r.resolveAccount(evt)
	if err != nil {
		return err
	}
	target, err := r.catalog.GetPlanByProviderPriceID(evt.PriceID)
	if err != nil {
		return err
	}
	if target.ID == account.PlanID {
		// Period rollover or metadata-only update, nothing to prorate.
		return r.applyPlanFields(account, target, evt)
	}

	pending, err := r.repo.FindPendingPlanChange(account.AccountID, target.ID)
	if err != nil {
		return err
	}

	var (
		delta       int64
		description string
	)
	if pending != nil {
		delta = pending.CreditDelta
		description = fmt.Sprintf("plan change %s -> %s", pending.FromPlanID, pending.ToPlanID)
	} else {
		// No stored preview: conservative default is the full plan credit
		// difference, flagged for manual audit.
		current, err := r.catalog.GetPlan(account.PlanID)
		if err != nil {
			return err
		}
		delta = target.CreditsPerCycle - current.CreditsPerCycle
		description = fmt.Sprintf("plan change %s -> %s (no preview)", current.ID, target.ID)
		r.ops.Push(ctx, opsqueue.Alert{
			Kind:      opsqueue.KindUnmatchedPreview,
			AccountID: account.AccountID,
			Message:   fmt.Sprintf("subscription.updated without matching preview, applied full credit difference %d", delta),
			Payload:   evt.Raw,
		})
	}

	txType := models.TxnUpgradeProration
	if delta < 0 {
		txType = models.TxnDowngradeProration
		// Credits already spent cannot be clawed back below zero.
		balance, err := r.ledger.GetBalance(ctx, account.AccountID)
		if err != nil {
			return err
		}
		if balance+delta < 0 {
			delta = -balance
		}
	}

	if err := r.applyPlanFields(account, target, evt); err != nil {
		return err
	}

	if delta != 0 {
		if _, _, err := r.ledger.Apply(ctx, ledger.ApplyInput{
			AccountID:     account.AccountID,
			Amount:        delta,
			Type:          txType,
			Description:   description,
			SourceEventID: strPtr("planchange:" + evt.ID),
		}); err != nil {
			return err
		}
	}

	if pending != nil {
		return r.repo.MarkPendingPlanChangeConsumed(pending.ID)
	}
	return nil
}

func (r *Reconciler) applyPlanFields(account *models.Account, plan plans.Plan, evt Event) error {
	fields := map[string]interface{}{
		"plan_id":             plan.ID,
		"subscription_status": models.SubscriptionStatusActive,
	}
	if evt.PeriodStart != nil {
		fields["current_period_start"] = evt.PeriodStart
	}
	if evt.PeriodEnd != nil {
		fields["current_period_end"] = evt.PeriodEnd
	}
	_, err := r.repo.UpdateAccountSubscription(account.AccountID, fields, evt.Timestamp)
	return err
}

func (r *Reconciler) handleSubscriptionCanceled(ctx context.Context, evt Event) error {
	_ = ctx
	account, err := r.resolveAccount(evt)
	if err != nil {
		return err
	}
	// No credit clawback on cancellation; the balance stays spendable.
	_, err = r.repo.UpdateAccountSubscription(account.AccountID, map[string]interface{}{
		"subscription_status": models.SubscriptionStatusCanceled,
		"plan_id":             models.PlanFree,
	}, evt.Timestamp)
	return err
}

func (r *Reconciler) handlePaymentIntentSucceeded(ctx context.Context, evt Event) error {
	if evt.Credits <= 0 {
		// Not a credit pack purchase.
		return nil
	}
	account, err := r.resolveAccount(evt)
	if err != nil {
		return err
	}
	_, _, err = r.ledger.Apply(ctx, ledger.ApplyInput{
		AccountID:     account.AccountID,
		Amount:        evt.Credits,
		Type:          models.TxnPurchase,
		Description:   fmt.Sprintf("%d credits purchase", evt.Credits),
		SourceEventID: strPtr("payment:" + evt.ID),
	})
	return err
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	return &s
}
