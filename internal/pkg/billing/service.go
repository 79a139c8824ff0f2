package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/claripix/claripix/app/models"
	"github.com/claripix/claripix/internal/pkg/eligibility"
	"github.com/claripix/claripix/internal/pkg/plans"
	"github.com/claripix/claripix/internal/pkg/proration"
)

var (
	ErrNoActiveSubscription = errors.New("account has no active provider subscription")
	ErrSamePlan             = errors.New("account is already on the requested plan")
)

// ProviderClient is the outbound slice of StripeClient the service uses.
type ProviderClient interface {
	ChangeSubscriptionPlan(ctx context.Context, subscriptionID, itemID, newPriceID string, prorationDate time.Time) (*StripeSubscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*StripeSubscription, error)
	PauseSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error)
	ApplyRetentionDiscount(ctx context.Context, subscriptionID, couponID string) (*StripeSubscription, error)
}

// Service drives the user-initiated side of the subscription lifecycle:
// previews, plan changes, retention discounts and pauses. It requests
// provider mutations and stores pending state; the reconciler applies the
// definitive effects when the confirming webhook arrives.
type Service struct {
	repo     Repository
	catalog  *plans.Catalog
	provider ProviderClient
	checker  *eligibility.Evaluator
}

func NewService(repo Repository, catalog *plans.Catalog, provider ProviderClient, checker *eligibility.Evaluator) *Service {
	return &Service{repo: repo, catalog: catalog, provider: provider, checker: checker}
}

// PreviewChange quotes a mid-cycle plan change and records the quote so the
// later subscription.updated webhook applies exactly the previewed credit
// delta instead of a conservative estimate.
func (s *Service) PreviewChange(ctx context.Context, accountID, targetPlanID string) (*proration.Preview, error) {
	_ = ctx
	account, err := s.repo.GetAccountByAccountID(accountID)
	if err != nil {
		return nil, err
	}
	current, err := s.catalog.GetPlan(account.PlanID)
	if err != nil {
		return nil, err
	}
	target, err := s.catalog.GetPlan(strings.TrimSpace(targetPlanID))
	if err != nil {
		return nil, err
	}
	if target.ID == current.ID {
		return nil, ErrSamePlan
	}

	var periodStart, periodEnd time.Time
	if account.CurrentPeriodStart != nil {
		periodStart = *account.CurrentPeriodStart
	}
	if account.CurrentPeriodEnd != nil {
		periodEnd = *account.CurrentPeriodEnd
	}

	preview := proration.PreviewChange(current, target, periodStart, periodEnd, time.Now())

	change := &models.PendingPlanChange{
		AccountID:            account.AccountID,
		FromPlanID:           current.ID,
		ToPlanID:             target.ID,
		ImmediateChargeCents: preview.ImmediateChargeCents,
		CreditAppliedCents:   preview.CreditAppliedCents,
		CreditDelta:          preview.CreditDelta,
		ProrationDate:        preview.ProrationDate,
	}
	if err := s.repo.CreatePendingPlanChange(change); err != nil {
		return nil, err
	}
	return &preview, nil
}

// ChangePlan asks the provider to move the subscription to the target plan.
// The local account stays untouched until the webhook confirms the change.
func (s *Service) ChangePlan(ctx context.Context, accountID, targetPlanID string) (*proration.Preview, error) {
	account, err := s.repo.GetAccountByAccountID(accountID)
	if err != nil {
		return nil, err
	}
	if account.ProviderSubscriptionID == nil || *account.ProviderSubscriptionID == "" {
		return nil, ErrNoActiveSubscription
	}
	target, err := s.catalog.GetPlan(strings.TrimSpace(targetPlanID))
	if err != nil {
		return nil, err
	}
	if target.ID == account.PlanID {
		return nil, ErrSamePlan
	}

	preview, err := s.PreviewChange(ctx, accountID, targetPlanID)
	if err != nil {
		return nil, err
	}

	if _, err := s.provider.ChangeSubscriptionPlan(ctx, *account.ProviderSubscriptionID, "", target.ProviderPriceID, preview.ProrationDate); err != nil {
		return nil, fmt.Errorf("provider plan change: %w", err)
	}
	return preview, nil
}

// CheckDiscountEligibility evaluates the retention discount gate without
// side effects.
func (s *Service) CheckDiscountEligibility(ctx context.Context, accountID string) (*eligibility.Result, error) {
	_ = ctx
	account, err := s.repo.GetAccountByAccountID(accountID)
	if err != nil {
		return nil, err
	}
	res := s.checker.CheckDiscount(account, time.Now())
	return &res, nil
}

// CheckEligibility evaluates both retention gates in one read.
func (s *Service) CheckEligibility(ctx context.Context, accountID string) (discount, pause *eligibility.Result, err error) {
	_ = ctx
	account, err := s.repo.GetAccountByAccountID(accountID)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	d := s.checker.CheckDiscount(account, now)
	p := s.checker.CheckPause(account, now)
	return &d, &p, nil
}

// ApplyDiscount re-checks eligibility, applies the provider coupon and
// records the use so the cooldown starts now.
func (s *Service) ApplyDiscount(ctx context.Context, accountID, couponID string) (*eligibility.Result, error) {
	account, err := s.repo.GetAccountByAccountID(accountID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	res := s.checker.CheckDiscount(account, now)
	if !res.Allowed {
		return &res, nil
	}
	if account.ProviderSubscriptionID == nil || *account.ProviderSubscriptionID == "" {
		return nil, ErrNoActiveSubscription
	}
	if _, err := s.provider.ApplyRetentionDiscount(ctx, *account.ProviderSubscriptionID, couponID); err != nil {
		return nil, fmt.Errorf("provider discount: %w", err)
	}
	if err := s.repo.RecordDiscountUse(account.AccountID, now); err != nil {
		return nil, err
	}
	return &res, nil
}

// PauseSubscription suspends collection at the provider and marks the
// account paused. Credits stay spendable while paused.
func (s *Service) PauseSubscription(ctx context.Context, accountID string) (*eligibility.Result, error) {
	account, err := s.repo.GetAccountByAccountID(accountID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	res := s.checker.CheckPause(account, now)
	if !res.Allowed {
		return &res, nil
	}
	if account.ProviderSubscriptionID == nil || *account.ProviderSubscriptionID == "" {
		return nil, ErrNoActiveSubscription
	}
	if _, err := s.provider.PauseSubscription(ctx, *account.ProviderSubscriptionID); err != nil {
		return nil, fmt.Errorf("provider pause: %w", err)
	}
	if err := s.repo.RecordPauseUse(account.AccountID, now); err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelSubscription schedules cancellation for period end.
func (s *Service) CancelSubscription(ctx context.Context, accountID string) error {
	account, err := s.repo.GetAccountByAccountID(accountID)
	if err != nil {
		return err
	}
	if account.ProviderSubscriptionID == nil || *account.ProviderSubscriptionID == "" {
		return ErrNoActiveSubscription
	}
	if _, err := s.provider.CancelAtPeriodEnd(ctx, *account.ProviderSubscriptionID); err != nil {
		return fmt.Errorf("provider cancel: %w", err)
	}
	return nil
}

// Plans exposes the catalog for the public plan listing.
func (s *Service) Plans() []plans.Plan {
	return s.catalog.ListPlans()
}

// IsNotFound reports whether err means the account does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
