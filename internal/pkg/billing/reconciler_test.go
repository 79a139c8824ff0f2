package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/claripix/claripix/app/models"
	"github.com/claripix/claripix/internal/pkg/ledger"
	"github.com/claripix/claripix/internal/pkg/opsqueue"
	"github.com/claripix/claripix/internal/pkg/plans"
)

type fakeRepo struct {
	events   map[string]*models.WebhookEvent
	accounts map[string]*models.Account
	pending  []*models.PendingPlanChange
	nextID   uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		events:   map[string]*models.WebhookEvent{},
		accounts: map[string]*models.Account{},
	}
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if existing, ok := r.events[event.ProviderEventID]; ok {
		return false, existing, nil
	}
	r.nextID++
	event.ID = r.nextID
	r.events[event.ProviderEventID] = event
	return true, event, nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	for _, evt := range r.events {
		if evt.ID == id {
			now := time.Now()
			evt.ProcessedAt = &now
			evt.ProcessingError = processingError
		}
	}
	return nil
}

func (r *fakeRepo) GetAccountByAccountID(accountID string) (*models.Account, error) {
	if a, ok := r.accounts[accountID]; ok {
		return a, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetAccountByProviderSubscriptionID(subscriptionID string) (*models.Account, error) {
	for _, a := range r.accounts {
		if a.ProviderSubscriptionID != nil && *a.ProviderSubscriptionID == subscriptionID {
			return a, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetAccountByProviderCustomerID(customerID string) (*models.Account, error) {
	for _, a := range r.accounts {
		if a.ProviderCustomerID == customerID {
			return a, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) UpdateAccountSubscription(accountID string, fields map[string]interface{}, eventTime time.Time) (bool, error) {
	a, ok := r.accounts[accountID]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if a.StatusChangedAt != nil && a.StatusChangedAt.After(eventTime) {
		return false, nil
	}
	for k, v := range fields {
		switch k {
		case "plan_id":
			a.PlanID = v.(string)
		case "subscription_status":
			a.SubscriptionStatus = v.(string)
		case "provider_subscription_id":
			s := v.(string)
			a.ProviderSubscriptionID = &s
		case "provider_customer_id":
			a.ProviderCustomerID = v.(string)
		}
	}
	t := eventTime
	a.StatusChangedAt = &t
	return true, nil
}

func (r *fakeRepo) RecordDiscountUse(accountID string, usedAt time.Time) error {
	a := r.accounts[accountID]
	a.LastDiscountUsedAt = &usedAt
	a.DiscountUseCount++
	return nil
}

func (r *fakeRepo) RecordPauseUse(accountID string, pausedAt time.Time) error {
	a := r.accounts[accountID]
	a.SubscriptionStatus = models.SubscriptionStatusPaused
	a.PauseUseCount++
	t := pausedAt
	a.StatusChangedAt = &t
	return nil
}

func (r *fakeRepo) CreatePendingPlanChange(change *models.PendingPlanChange) error {
	r.nextID++
	change.ID = r.nextID
	r.pending = append(r.pending, change)
	return nil
}

func (r *fakeRepo) FindPendingPlanChange(accountID, toPlanID string) (*models.PendingPlanChange, error) {
	for i := len(r.pending) - 1; i >= 0; i-- {
		p := r.pending[i]
		if p.AccountID == accountID && p.ToPlanID == toPlanID && p.ConsumedAt == nil {
			return p, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) MarkPendingPlanChangeConsumed(id uint) error {
	for _, p := range r.pending {
		if p.ID == id {
			now := time.Now()
			p.ConsumedAt = &now
		}
	}
	return nil
}

type fakeLedger struct {
	balances map[string]int64
	seen     map[string]bool
	applied  []ledger.ApplyInput
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]int64{}, seen: map[string]bool{}}
}

func (l *fakeLedger) Apply(ctx context.Context, in ledger.ApplyInput) (*models.CreditTransaction, bool, error) {
	if in.SourceEventID != nil {
		if l.seen[*in.SourceEventID] {
			return &models.CreditTransaction{AccountID: in.AccountID, Amount: in.Amount}, false, nil
		}
		l.seen[*in.SourceEventID] = true
	}
	if in.Amount < 0 && in.Type != models.TxnManualAdjustment && l.balances[in.AccountID]+in.Amount < 0 {
		return nil, false, &ledger.InsufficientCreditsError{Requested: -in.Amount, Available: l.balances[in.AccountID]}
	}
	l.balances[in.AccountID] += in.Amount
	l.applied = append(l.applied, in)
	return &models.CreditTransaction{AccountID: in.AccountID, Amount: in.Amount, Type: in.Type}, true, nil
}

func (l *fakeLedger) GetBalance(ctx context.Context, accountID string) (int64, error) {
	return l.balances[accountID], nil
}

type fakeOps struct {
	alerts []opsqueue.Alert
}

func (o *fakeOps) Push(ctx context.Context, a opsqueue.Alert) {
	o.alerts = append(o.alerts, a)
}

func testCatalog() *plans.Catalog {
	return plans.NewCatalog([]plans.Plan{
		{ID: "free", Name: "Free", MonthlyPriceCents: 0, CreditsPerCycle: 2, ProviderPriceID: "price_free"},
		{ID: "basic", Name: "Basic", MonthlyPriceCents: 999, CreditsPerCycle: 20, ProviderPriceID: "price_basic"},
		{ID: "starter", Name: "Starter", MonthlyPriceCents: 2499, CreditsPerCycle: 60, ProviderPriceID: "price_starter"},
		{ID: "professional", Name: "Professional", MonthlyPriceCents: 4999, CreditsPerCycle: 150, ProviderPriceID: "price_pro"},
	})
}

func newTestReconciler() (*Reconciler, *fakeRepo, *fakeLedger, *fakeOps) {
	repo := newFakeRepo()
	l := newFakeLedger()
	ops := &fakeOps{}
	return NewReconciler(repo, l, testCatalog(), ops), repo, l, ops
}

func eventPayload(id, typ string, created int64, data string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"created":%d,"data":%s}`, id, typ, created, data))
}

func TestReconciler_SubscriptionCreated(t *testing.T) {
	rec, repo, l, _ := newTestReconciler()
	repo.accounts["acct_1"] = &models.Account{AccountID: "acct_1", PlanID: "free"}

	payload := eventPayload("evt_1", EventSubscriptionCreated, 1000,
		`{"account_id":"acct_1","customer_id":"cus_1","subscription_id":"sub_1","price_id":"price_basic"}`)

	if err := rec.Process(context.Background(), payload, true); err != nil {
		t.Fatalf("Process: %v", err)
	}

	a := repo.accounts["acct_1"]
	if a.PlanID != "basic" || a.SubscriptionStatus != models.SubscriptionStatusActive {
		t.Fatalf("account not updated: plan=%s status=%s", a.PlanID, a.SubscriptionStatus)
	}
	if a.ProviderSubscriptionID == nil || *a.ProviderSubscriptionID != "sub_1" {
		t.Fatalf("subscription id not stored")
	}
	if l.balances["acct_1"] != 20 {
		t.Fatalf("balance = %d, want 20", l.balances["acct_1"])
	}
}

func TestReconciler_DuplicateDeliveryIsNoOp(t *testing.T) {
	rec, _, l, _ := newTestReconciler()
	repo := rec.repo.(*fakeRepo)
	repo.accounts["acct_1"] = &models.Account{AccountID: "acct_1", PlanID: "free"}

	payload := eventPayload("evt_1", EventSubscriptionCreated, 1000,
		`{"account_id":"acct_1","subscription_id":"sub_1","price_id":"price_basic"}`)

	for i := 0; i < 3; i++ {
		if err := rec.Process(context.Background(), payload, true); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if l.balances["acct_1"] != 20 {
		t.Fatalf("balance = %d after redeliveries, want 20", l.balances["acct_1"])
	}
}

func TestReconciler_RenewalDedupsOnInvoiceID(t *testing.T) {
	rec, repo, l, _ := newTestReconciler()
	repo.accounts["acct_1"] = &models.Account{
		AccountID: "acct_1", PlanID: "starter",
		SubscriptionStatus: models.SubscriptionStatusActive,
	}

	data := `{"account_id":"acct_1","invoice_id":"in_9","billing_reason":"subscription_cycle"}`
	// Two distinct provider events for the same invoice.
	for _, id := range []string{"evt_a", "evt_b"} {
		payload := eventPayload(id, EventInvoicePaymentSucceeded, 2000, data)
		if err := rec.Process(context.Background(), payload, true); err != nil {
			t.Fatalf("event %s: %v", id, err)
		}
	}
	if l.balances["acct_1"] != 60 {
		t.Fatalf("balance = %d, want a single 60-credit renewal grant", l.balances["acct_1"])
	}
}

func TestReconciler_RenewalAfterCancelDoesNotReactivate(t *testing.T) {
	rec, repo, l, ops := newTestReconciler()
	canceledAt := time.Unix(1000, 0)
	repo.accounts["acct_1"] = &models.Account{
		AccountID: "acct_1", PlanID: "free",
		SubscriptionStatus: models.SubscriptionStatusCanceled,
		StatusChangedAt:    &canceledAt,
	}

	// Renewal invoice arriving after cancellation, with a newer timestamp:
	// the last-write-wins rule alone would re-activate and grant credits.
	payload := eventPayload("evt_late", EventInvoicePaymentSucceeded, 2000,
		`{"account_id":"acct_1","invoice_id":"in_late","billing_reason":"subscription_cycle"}`)
	if err := rec.Process(context.Background(), payload, true); err != nil {
		t.Fatalf("Process: %v", err)
	}

	a := repo.accounts["acct_1"]
	if a.SubscriptionStatus != models.SubscriptionStatusCanceled {
		t.Fatalf("status = %s, renewal must not revive a canceled subscription", a.SubscriptionStatus)
	}
	if l.balances["acct_1"] != 0 {
		t.Fatalf("balance = %d, no grant expected for a canceled account", l.balances["acct_1"])
	}
	if len(ops.alerts) != 1 || ops.alerts[0].Kind != opsqueue.KindDataIntegrity {
		t.Fatalf("expected one data integrity alert, got %+v", ops.alerts)
	}
}

func TestReconciler_InitialInvoiceDoesNotDoubleGrant(t *testing.T) {
	rec, repo, l, _ := newTestReconciler()
	repo.accounts["acct_1"] = &models.Account{
		AccountID: "acct_1", PlanID: "basic",
		SubscriptionStatus: models.SubscriptionStatusActive,
	}

	payload := eventPayload("evt_1", EventInvoicePaymentSucceeded, 2000,
		`{"account_id":"acct_1","invoice_id":"in_1","billing_reason":"subscription_create"}`)
	if err := rec.Process(context.Background(), payload, true); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if l.balances["acct_1"] != 0 {
		t.Fatalf("initial invoice granted %d credits, want 0", l.balances["acct_1"])
	}
}

func TestReconciler_StalePaymentFailedDoesNotRegress(t *testing.T) {
	rec, repo, l, _ := newTestReconciler()
	repo.accounts["acct_1"] = &models.Account{
		AccountID: "acct_1", PlanID: "basic",
		SubscriptionStatus: models.SubscriptionStatusActive,
	}
	l.balances["acct_1"] = 20

	// Newer success arrives first.
	success := eventPayload("evt_ok", EventInvoicePaymentSucceeded, 5000,
		`{"account_id":"acct_1","invoice_id":"in_2","billing_reason":"subscription_cycle"}`)
	if err := rec.Process(context.Background(), success, true); err != nil {
		t.Fatalf("success event: %v", err)
	}

	// Older failure delivered late must not downgrade the status.
	failed := eventPayload("evt_fail", EventInvoicePaymentFailed, 4000,
		`{"account_id":"acct_1","invoice_id":"in_2"}`)
	if err := rec.Process(context.Background(), failed, true); err != nil {
		t.Fatalf("failed event: %v", err)
	}

	a := repo.accounts["acct_1"]
	if a.SubscriptionStatus != models.SubscriptionStatusActive {
		t.Fatalf("status = %s, stale failure must not win", a.SubscriptionStatus)
	}
	if l.balances["acct_1"] != 40 {
		t.Fatalf("balance = %d, payment failure must not revoke credits", l.balances["acct_1"])
	}
}

func TestReconciler_PaymentFailedMarksPastDue(t *testing.T) {
	rec, repo, l, _ := newTestReconciler()
	repo.accounts["acct_1"] = &models.Account{
		AccountID: "acct_1", PlanID: "basic",
		SubscriptionStatus: models.SubscriptionStatusActive,
	}
	l.balances["acct_1"] = 15

	payload := eventPayload("evt_fail", EventInvoicePaymentFailed, 4000,
		`{"account_id":"acct_1","invoice_id":"in_3"}`)
	if err := rec.Process(context.Background(), payload, true); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if repo.accounts["acct_1"].SubscriptionStatus != models.SubscriptionStatusPastDue {
		t.Fatalf("status = %s, want past_due", repo.accounts["acct_1"].SubscriptionStatus)
	}
	if l.balances["acct_1"] != 15 {
		t.Fatalf("balance changed on payment failure")
	}
}

func TestReconciler_UpdatedConsumesPreview(t *testing.T) {
	rec, repo, l, ops := newTestReconciler()
	repo.accounts["acct_1"] = &models.Account{
		AccountID: "acct_1", PlanID: "basic",
		SubscriptionStatus: models.SubscriptionStatusActive,
	}
	l.balances["acct_1"] = 10
	repo.pending = append(repo.pending, &models.PendingPlanChange{
		ID: 99, AccountID: "acct_1", FromPlanID: "basic", ToPlanID: "starter", CreditDelta: 20,
	})

	payload := eventPayload("evt_up", EventSubscriptionUpdated, 6000,
		`{"account_id":"acct_1","subscription_id":"sub_1","price_id":"price_starter"}`)
	if err := rec.Process(context.Background(), payload, true); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if repo.accounts["acct_1"].PlanID != "starter" {
		t.Fatalf("plan = %s, want starter", repo.accounts["acct_1"].PlanID)
	}
	if l.balances["acct_1"] != 30 {
		t.Fatalf("balance = %d, want previewed delta applied (10+20)", l.balances["acct_1"])
	}
	if repo.pending[0].ConsumedAt == nil {
		t.Fatalf("preview not consumed")
	}
	if len(ops.alerts) != 0 {
		t.Fatalf("unexpected alerts: %+v", ops.alerts)
	}
}

func TestReconciler_UpdatedWithoutPreviewFallsBackAndAlerts(t *testing.T) {
	rec, repo, l, ops := newTestReconciler()
	repo.accounts["acct_1"] = &models.Account{
		AccountID: "acct_1", PlanID: "basic",
		SubscriptionStatus: models.SubscriptionStatusActive,
	}
	l.balances["acct_1"] = 5

	payload := eventPayload("evt_up", EventSubscriptionUpdated, 6000,
		`{"account_id":"acct_1","subscription_id":"sub_1","price_id":"price_pro"}`)
	if err := rec.Process(context.Background(), payload, true); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Full credit difference basic -> professional is 130.
	if l.balances["acct_1"] != 135 {
		t.Fatalf("balance = %d, want conservative full difference applied", l.balances["acct_1"])
	}
	if len(ops.alerts) != 1 || ops.alerts[0].Kind != opsqueue.KindUnmatchedPreview {
		t.Fatalf("expected one unmatched-preview alert, got %+v", ops.alerts)
	}
}

func TestReconciler_DowngradeClampsToBalance(t *testing.T) {
	rec, repo, l, _ := newTestReconciler()
	repo.accounts["acct_1"] = &models.Account{
		AccountID: "acct_1", PlanID: "starter",
		SubscriptionStatus: models.SubscriptionStatusActive,
	}
	l.balances["acct_1"] = 5
	repo.pending = append(repo.pending, &models.PendingPlanChange{
		ID: 99, AccountID: "acct_1", FromPlanID: "starter", ToPlanID: "basic", CreditDelta: -40,
	})

	payload := eventPayload("evt_down", EventSubscriptionUpdated, 6000,
		`{"account_id":"acct_1","subscription_id":"sub_1","price_id":"price_basic"}`)
	if err := rec.Process(context.Background(), payload, true); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if l.balances["acct_1"] != 0 {
		t.Fatalf("balance = %d, downgrade must clamp to zero not go negative", l.balances["acct_1"])
	}
}

func TestReconciler_Canceled(t *testing.T) {
	rec, repo, l, _ := newTestReconciler()
	sub := "sub_1"
	repo.accounts["acct_1"] = &models.Account{
		AccountID: "acct_1", PlanID: "starter",
		SubscriptionStatus:     models.SubscriptionStatusActive,
		ProviderSubscriptionID: &sub,
	}
	l.balances["acct_1"] = 42

	payload := eventPayload("evt_c", EventSubscriptionCanceled, 7000,
		`{"subscription_id":"sub_1"}`)
	if err := rec.Process(context.Background(), payload, true); err != nil {
		t.Fatalf("Process: %v", err)
	}

	a := repo.accounts["acct_1"]
	if a.SubscriptionStatus != models.SubscriptionStatusCanceled || a.PlanID != models.PlanFree {
		t.Fatalf("status=%s plan=%s after cancel", a.SubscriptionStatus, a.PlanID)
	}
	if l.balances["acct_1"] != 42 {
		t.Fatalf("cancellation clawed back credits: balance = %d", l.balances["acct_1"])
	}
}

func TestReconciler_PaymentIntentPurchase(t *testing.T) {
	rec, repo, l, _ := newTestReconciler()
	repo.accounts["acct_1"] = &models.Account{AccountID: "acct_1", PlanID: "free"}

	payload := eventPayload("evt_p", EventPaymentIntentSucceeded, 8000,
		`{"account_id":"acct_1","amount_cents":500,"credits":10}`)
	for i := 0; i < 2; i++ {
		if err := rec.Process(context.Background(), payload, true); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if l.balances["acct_1"] != 10 {
		t.Fatalf("balance = %d, want one 10-credit purchase", l.balances["acct_1"])
	}
}

func TestReconciler_UnknownEventTypeIgnored(t *testing.T) {
	rec, repo, _, ops := newTestReconciler()

	payload := eventPayload("evt_x", "customer.updated", 9000, `{}`)
	if err := rec.Process(context.Background(), payload, true); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if evt := repo.events["evt_x"]; evt == nil || evt.ProcessedAt == nil {
		t.Fatalf("unknown event should still be recorded and marked processed")
	}
	if len(ops.alerts) != 0 {
		t.Fatalf("unknown event type must not alert")
	}
}

func TestReconciler_MalformedPayloadAlerts(t *testing.T) {
	rec, _, _, ops := newTestReconciler()

	if err := rec.Process(context.Background(), []byte("not json"), true); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
	if len(ops.alerts) != 1 || ops.alerts[0].Kind != opsqueue.KindWebhookFailure {
		t.Fatalf("expected a webhook-failure alert, got %+v", ops.alerts)
	}
}
