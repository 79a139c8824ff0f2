package eligibility

import (
	"strconv"
	"time"

	"github.com/claripix/claripix/app/models"
	"github.com/claripix/claripix/internal/pkg/env"
)

// Reason codes echoed to the UI layer.
const (
	ReasonOK              = "OK"
	ReasonCooldownActive  = "COOLDOWN_ACTIVE"
	ReasonLifetimeCap     = "LIFETIME_CAP_REACHED"
	ReasonNotActive       = "NOT_ACTIVE"
	ReasonPauseCapReached = "CAP_REACHED"
)

// Config holds the retention thresholds. The exact numbers are a product
// decision, so they load from the environment rather than being baked in.
type Config struct {
	DiscountCooldownDays int
	DiscountLifetimeCap  int
	PauseLifetimeCap     int
}

// ConfigFromEnv loads thresholds with the standard defaults.
func ConfigFromEnv() Config {
	return Config{
		DiscountCooldownDays: envInt("DISCOUNT_COOLDOWN_DAYS", 90),
		DiscountLifetimeCap:  envInt("DISCOUNT_LIFETIME_CAP", 3),
		PauseLifetimeCap:     envInt("PAUSE_LIFETIME_CAP", 2),
	}
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(env.GetEnv(key, "")); err == nil {
		return v
	}
	return def
}

// Result reports whether an action is allowed, with the counters echoed back
// for display.
type Result struct {
	Allowed          bool       `json:"allowed"`
	Reason           string     `json:"reason"`
	DiscountUseCount int        `json:"discount_use_count"`
	PauseUseCount    int        `json:"pause_use_count"`
	NextEligibleAt   *time.Time `json:"next_eligible_at,omitempty"`
}

// Evaluator computes discount and pause eligibility from account history.
// Both checks are pure reads: the caller increments the counters only after
// the action actually succeeds at the billing provider.
type Evaluator struct {
	cfg Config
}

func New(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// CheckDiscount disallows a retention discount while the cooldown window is
// open or once the lifetime cap is reached.
func (e *Evaluator) CheckDiscount(account *models.Account, now time.Time) Result {
	res := Result{
		DiscountUseCount: account.DiscountUseCount,
		PauseUseCount:    account.PauseUseCount,
	}

	if e.cfg.DiscountLifetimeCap > 0 && account.DiscountUseCount >= e.cfg.DiscountLifetimeCap {
		res.Reason = ReasonLifetimeCap
		return res
	}

	if account.LastDiscountUsedAt != nil {
		eligibleAt := account.LastDiscountUsedAt.AddDate(0, 0, e.cfg.DiscountCooldownDays)
		if now.Before(eligibleAt) {
			res.Reason = ReasonCooldownActive
			res.NextEligibleAt = &eligibleAt
			return res
		}
	}

	res.Allowed = true
	res.Reason = ReasonOK
	return res
}

// CheckPause disallows pausing unless the subscription is active and the
// lifetime pause cap has not been reached.
func (e *Evaluator) CheckPause(account *models.Account, now time.Time) Result {
	_ = now
	res := Result{
		DiscountUseCount: account.DiscountUseCount,
		PauseUseCount:    account.PauseUseCount,
	}

	if account.SubscriptionStatus != models.SubscriptionStatusActive {
		res.Reason = ReasonNotActive
		return res
	}
	if e.cfg.PauseLifetimeCap > 0 && account.PauseUseCount >= e.cfg.PauseLifetimeCap {
		res.Reason = ReasonPauseCapReached
		return res
	}

	res.Allowed = true
	res.Reason = ReasonOK
	return res
}
