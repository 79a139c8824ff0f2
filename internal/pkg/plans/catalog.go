package plans

import (
	"errors"
	"fmt"
	"strings"

	"github.com/claripix/claripix/internal/pkg/env"
)

// ErrUnknownPlan signals a plan id that is not in the catalog. It indicates a
// data-integrity problem upstream (stale account row or mis-mapped provider
// price) and is surfaced to the operator queue by callers.
var ErrUnknownPlan = errors.New("unknown plan")

// Plan is one subscription tier. Prices are integer cents; the catalog is
// immutable after load, pricing changes are a deployment-time concern.
type Plan struct {
	ID                string
	Name              string
	MonthlyPriceCents int64
	CreditsPerCycle   int64
	ProviderPriceID   string
}

// IsFree reports whether the plan is the zero-price tier.
func (p Plan) IsFree() bool {
	return p.MonthlyPriceCents == 0
}

// Catalog is the static registry of subscription tiers. It is loaded once at
// process start and passed into constructors; there is no mutation path.
type Catalog struct {
	plans   []Plan
	byID    map[string]Plan
	byPrice map[string]Plan
}

// NewCatalog builds a catalog from an explicit plan list.
func NewCatalog(list []Plan) *Catalog {
	c := &Catalog{
		plans:   make([]Plan, 0, len(list)),
		byID:    make(map[string]Plan, len(list)),
		byPrice: make(map[string]Plan, len(list)),
	}
	for _, p := range list {
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		if p.ID == "" {
			continue
		}
		c.plans = append(c.plans, p)
		c.byID[p.ID] = p
		if p.ProviderPriceID != "" {
			c.byPrice[p.ProviderPriceID] = p
		}
	}
	return c
}

// NewCatalogFromEnv loads the standard tiers with provider price ids taken
// from the environment.
func NewCatalogFromEnv() *Catalog {
	return NewCatalog([]Plan{
		{
			ID:                "free",
			Name:              "Free",
			MonthlyPriceCents: 0,
			CreditsPerCycle:   2,
		},
		{
			ID:                "basic",
			Name:              "Basic",
			MonthlyPriceCents: 999,
			CreditsPerCycle:   20,
			ProviderPriceID:   env.GetEnv("BILLING_BASIC_PRICE_ID", ""),
		},
		{
			ID:                "starter",
			Name:              "Starter",
			MonthlyPriceCents: 2499,
			CreditsPerCycle:   60,
			ProviderPriceID:   env.GetEnv("BILLING_STARTER_PRICE_ID", ""),
		},
		{
			ID:                "professional",
			Name:              "Professional",
			MonthlyPriceCents: 4999,
			CreditsPerCycle:   150,
			ProviderPriceID:   env.GetEnv("BILLING_PROFESSIONAL_PRICE_ID", ""),
		},
	})
}

// GetPlan resolves a plan id.
func (c *Catalog) GetPlan(planID string) (Plan, error) {
	p, ok := c.byID[strings.ToLower(strings.TrimSpace(planID))]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}
	return p, nil
}

// GetPlanByProviderPriceID resolves the provider's price reference to a plan.
func (c *Catalog) GetPlanByProviderPriceID(priceID string) (Plan, error) {
	p, ok := c.byPrice[strings.TrimSpace(priceID)]
	if !ok {
		return Plan{}, fmt.Errorf("%w: provider price %q", ErrUnknownPlan, priceID)
	}
	return p, nil
}

// ListPlans returns all tiers in registration order.
func (c *Catalog) ListPlans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}
