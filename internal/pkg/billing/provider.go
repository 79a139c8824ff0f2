package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/claripix/claripix/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com/v1"

// StripeClient issues the outbound provider calls the billing service needs.
// All mutations are requested here and confirmed asynchronously via webhook;
// callers never mutate local state based on these responses alone.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

type StripeSubscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ChangeSubscriptionPlan moves a subscription to a new price with proration.
// The credit and status effects land later through subscription.updated.
func (c *StripeClient) ChangeSubscriptionPlan(ctx context.Context, subscriptionID, itemID, newPriceID string, prorationDate time.Time) (*StripeSubscription, error) {
	if strings.TrimSpace(subscriptionID) == "" || strings.TrimSpace(newPriceID) == "" {
		return nil, errors.New("subscription id and price id are required")
	}

	form := url.Values{}
	form.Set("items[0][id]", strings.TrimSpace(itemID))
	form.Set("items[0][price]", strings.TrimSpace(newPriceID))
	form.Set("proration_behavior", "always_invoice")
	form.Set("proration_date", fmt.Sprintf("%d", prorationDate.Unix()))

	return c.postSubscription(ctx, "/subscriptions/"+url.PathEscape(subscriptionID), form)
}

// CancelAtPeriodEnd schedules a cancellation for the end of the current
// billing cycle. Remaining credits stay spendable.
func (c *StripeClient) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, errors.New("subscription id is required")
	}
	form := url.Values{}
	form.Set("cancel_at_period_end", "true")
	return c.postSubscription(ctx, "/subscriptions/"+url.PathEscape(subscriptionID), form)
}

// PauseSubscription suspends collection until resumed.
func (c *StripeClient) PauseSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, errors.New("subscription id is required")
	}
	form := url.Values{}
	form.Set("pause_collection[behavior]", "void")
	return c.postSubscription(ctx, "/subscriptions/"+url.PathEscape(subscriptionID), form)
}

// ApplyRetentionDiscount attaches a coupon to the subscription.
func (c *StripeClient) ApplyRetentionDiscount(ctx context.Context, subscriptionID, couponID string) (*StripeSubscription, error) {
	if strings.TrimSpace(subscriptionID) == "" || strings.TrimSpace(couponID) == "" {
		return nil, errors.New("subscription id and coupon id are required")
	}
	form := url.Values{}
	form.Set("coupon", strings.TrimSpace(couponID))
	return c.postSubscription(ctx, "/subscriptions/"+url.PathEscape(subscriptionID), form)
}

func (c *StripeClient) postSubscription(ctx context.Context, path string, form url.Values) (*StripeSubscription, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stripe request %s failed: status=%d body=%s", path, resp.StatusCode, string(body))
	}

	var out StripeSubscription
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
