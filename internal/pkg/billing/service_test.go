package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/claripix/claripix/app/models"
	"github.com/claripix/claripix/internal/pkg/eligibility"
)

type fakeProvider struct {
	planChanges int
	pauses      int
	discounts   int
	cancels     int
	lastPriceID string
}

func (p *fakeProvider) ChangeSubscriptionPlan(ctx context.Context, subscriptionID, itemID, newPriceID string, prorationDate time.Time) (*StripeSubscription, error) {
	p.planChanges++
	p.lastPriceID = newPriceID
	return &StripeSubscription{ID: subscriptionID, Status: "active"}, nil
}

func (p *fakeProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	p.cancels++
	return &StripeSubscription{ID: subscriptionID, CancelAtPeriodEnd: true}, nil
}

func (p *fakeProvider) PauseSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	p.pauses++
	return &StripeSubscription{ID: subscriptionID}, nil
}

func (p *fakeProvider) ApplyRetentionDiscount(ctx context.Context, subscriptionID, couponID string) (*StripeSubscription, error) {
	p.discounts++
	return &StripeSubscription{ID: subscriptionID}, nil
}

func newTestService() (*Service, *fakeRepo, *fakeProvider) {
	repo := newFakeRepo()
	provider := &fakeProvider{}
	checker := eligibility.New(eligibility.Config{
		DiscountCooldownDays: 90,
		DiscountLifetimeCap:  3,
		PauseLifetimeCap:     2,
	})
	return NewService(repo, testCatalog(), provider, checker), repo, provider
}

func activeAccount(repo *fakeRepo, planID string) *models.Account {
	sub := "sub_1"
	start := time.Now().Add(-15 * 24 * time.Hour)
	end := time.Now().Add(15 * 24 * time.Hour)
	a := &models.Account{
		AccountID:              "acct_1",
		PlanID:                 planID,
		SubscriptionStatus:     models.SubscriptionStatusActive,
		ProviderSubscriptionID: &sub,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
	}
	repo.accounts["acct_1"] = a
	return a
}

func TestServicePreviewChange_StoresPending(t *testing.T) {
	svc, repo, _ := newTestService()
	activeAccount(repo, "basic")

	preview, err := svc.PreviewChange(context.Background(), "acct_1", "starter")
	if err != nil {
		t.Fatalf("PreviewChange: %v", err)
	}
	if !preview.IsUpgrade {
		t.Fatalf("basic -> starter should be an upgrade")
	}
	if preview.CreditDelta <= 0 || preview.CreditDelta > 40 {
		t.Fatalf("credit delta = %d, want prorated share of 40", preview.CreditDelta)
	}

	if len(repo.pending) != 1 {
		t.Fatalf("pending changes = %d, want 1", len(repo.pending))
	}
	p := repo.pending[0]
	if p.FromPlanID != "basic" || p.ToPlanID != "starter" || p.CreditDelta != preview.CreditDelta {
		t.Fatalf("stored pending change %+v does not match preview", p)
	}
}

func TestServicePreviewChange_SamePlan(t *testing.T) {
	svc, repo, _ := newTestService()
	activeAccount(repo, "basic")

	if _, err := svc.PreviewChange(context.Background(), "acct_1", "basic"); !errors.Is(err, ErrSamePlan) {
		t.Fatalf("err = %v, want ErrSamePlan", err)
	}
}

func TestServiceChangePlan_CallsProvider(t *testing.T) {
	svc, repo, provider := newTestService()
	activeAccount(repo, "basic")

	if _, err := svc.ChangePlan(context.Background(), "acct_1", "professional"); err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if provider.planChanges != 1 {
		t.Fatalf("provider called %d times, want 1", provider.planChanges)
	}
	if provider.lastPriceID != "price_pro" {
		t.Fatalf("provider price id = %q", provider.lastPriceID)
	}
	// The local account is untouched until the webhook confirms.
	if repo.accounts["acct_1"].PlanID != "basic" {
		t.Fatalf("plan changed locally before confirmation")
	}
}

func TestServiceChangePlan_NoSubscription(t *testing.T) {
	svc, repo, provider := newTestService()
	repo.accounts["acct_1"] = &models.Account{AccountID: "acct_1", PlanID: "free"}

	if _, err := svc.ChangePlan(context.Background(), "acct_1", "basic"); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("err = %v, want ErrNoActiveSubscription", err)
	}
	if provider.planChanges != 0 {
		t.Fatalf("provider must not be called without a subscription")
	}
}

func TestServiceApplyDiscount(t *testing.T) {
	svc, repo, provider := newTestService()
	activeAccount(repo, "starter")

	res, err := svc.ApplyDiscount(context.Background(), "acct_1", "retention50")
	if err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected fresh account to be eligible, got %+v", res)
	}
	if provider.discounts != 1 {
		t.Fatalf("provider discount calls = %d, want 1", provider.discounts)
	}
	if repo.accounts["acct_1"].DiscountUseCount != 1 || repo.accounts["acct_1"].LastDiscountUsedAt == nil {
		t.Fatalf("discount use not recorded")
	}

	// Immediately retrying hits the cooldown and does not touch the provider.
	res, err = svc.ApplyDiscount(context.Background(), "acct_1", "retention50")
	if err != nil {
		t.Fatalf("ApplyDiscount (second): %v", err)
	}
	if res.Allowed || res.Reason != eligibility.ReasonCooldownActive {
		t.Fatalf("expected cooldown, got %+v", res)
	}
	if provider.discounts != 1 {
		t.Fatalf("provider called during cooldown")
	}
}

func TestServicePauseSubscription(t *testing.T) {
	svc, repo, provider := newTestService()
	activeAccount(repo, "basic")

	res, err := svc.PauseSubscription(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("PauseSubscription: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected pause to be allowed, got %+v", res)
	}
	if provider.pauses != 1 {
		t.Fatalf("provider pause calls = %d, want 1", provider.pauses)
	}
	a := repo.accounts["acct_1"]
	if a.SubscriptionStatus != models.SubscriptionStatusPaused || a.PauseUseCount != 1 {
		t.Fatalf("pause not recorded: %+v", a)
	}

	// A paused account is no longer eligible to pause again.
	res, err = svc.PauseSubscription(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("PauseSubscription (second): %v", err)
	}
	if res.Allowed || res.Reason != eligibility.ReasonNotActive {
		t.Fatalf("expected NOT_ACTIVE, got %+v", res)
	}
}
