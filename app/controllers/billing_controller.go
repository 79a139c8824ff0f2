package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/claripix/claripix/internal/pkg/accountcontext"
	"github.com/claripix/claripix/internal/pkg/billing"
	"github.com/claripix/claripix/internal/pkg/plans"
)

type planChangeRequest struct {
	PlanID string `json:"plan_id"`
}

// HandlePreviewPlanChange quotes the immediate charge and credit delta for
// moving to another plan mid-cycle. The quote is stored so the confirming
// webhook applies exactly what was shown.
func HandlePreviewPlanChange(c *fiber.Ctx) error {
	accountID := accountcontext.GetAccountID(c)

	var req planChangeRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.PlanID) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "plan_id is required")
	}

	preview, err := deps.Billing.PreviewChange(c.UserContext(), accountID, req.PlanID)
	if err != nil {
		return planChangeError(c, err)
	}
	return c.JSON(preview)
}

// HandleChangePlan requests the plan change at the billing provider. Local
// state changes land when the confirming webhook arrives.
func HandleChangePlan(c *fiber.Ctx) error {
	accountID := accountcontext.GetAccountID(c)

	var req planChangeRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.PlanID) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "plan_id is required")
	}

	preview, err := deps.Billing.ChangePlan(c.UserContext(), accountID, req.PlanID)
	if err != nil {
		return planChangeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":  "pending",
		"message": "Plan change requested, it becomes effective when the provider confirms it",
		"preview": preview,
	})
}

func planChangeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, plans.ErrUnknownPlan):
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Unknown plan")
	case errors.Is(err, billing.ErrSamePlan):
		return errorJSON(c, fiber.StatusConflict, "conflict", "Account is already on this plan")
	case errors.Is(err, billing.ErrNoActiveSubscription):
		return errorJSON(c, fiber.StatusConflict, "conflict", "No active subscription")
	case billing.IsNotFound(err):
		return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
	default:
		log.Errorf("plan change failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Plan change failed")
	}
}

// HandleListPlans returns the plan catalog.
func HandleListPlans(c *fiber.Ctx) error {
	list := deps.Billing.Plans()
	out := make([]fiber.Map, 0, len(list))
	for _, p := range list {
		out = append(out, fiber.Map{
			"id":                  p.ID,
			"name":                p.Name,
			"monthly_price_cents": p.MonthlyPriceCents,
			"credits_per_cycle":   p.CreditsPerCycle,
		})
	}
	return c.JSON(fiber.Map{"plans": out})
}

// HandleEligibility reports both retention gates (discount and pause) with
// machine-readable reasons.
func HandleEligibility(c *fiber.Ctx) error {
	accountID := accountcontext.GetAccountID(c)

	discount, pause, err := deps.Billing.CheckEligibility(c.UserContext(), accountID)
	if err != nil {
		if billing.IsNotFound(err) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
		}
		log.Errorf("eligibility check failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Eligibility check failed")
	}
	return c.JSON(fiber.Map{"discount": discount, "pause": pause})
}

// HandleDiscountEligibility reports whether the retention discount can be
// offered right now, with a machine-readable reason when it cannot.
func HandleDiscountEligibility(c *fiber.Ctx) error {
	accountID := accountcontext.GetAccountID(c)

	res, err := deps.Billing.CheckDiscountEligibility(c.UserContext(), accountID)
	if err != nil {
		if billing.IsNotFound(err) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
		}
		log.Errorf("discount eligibility check failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Eligibility check failed")
	}
	return c.JSON(res)
}

type discountRequest struct {
	CouponID string `json:"coupon_id"`
}

// HandleApplyDiscount applies the retention discount if the account is
// eligible. An ineligible account gets a 200 with the reason, not an error.
func HandleApplyDiscount(c *fiber.Ctx) error {
	accountID := accountcontext.GetAccountID(c)

	var req discountRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.CouponID) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "coupon_id is required")
	}

	res, err := deps.Billing.ApplyDiscount(c.UserContext(), accountID, req.CouponID)
	if err != nil {
		if errors.Is(err, billing.ErrNoActiveSubscription) {
			return errorJSON(c, fiber.StatusConflict, "conflict", "No active subscription")
		}
		if billing.IsNotFound(err) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
		}
		log.Errorf("apply discount failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Discount could not be applied")
	}
	return c.JSON(res)
}

// HandlePauseSubscription pauses collection when the account is eligible.
func HandlePauseSubscription(c *fiber.Ctx) error {
	accountID := accountcontext.GetAccountID(c)

	res, err := deps.Billing.PauseSubscription(c.UserContext(), accountID)
	if err != nil {
		if errors.Is(err, billing.ErrNoActiveSubscription) {
			return errorJSON(c, fiber.StatusConflict, "conflict", "No active subscription")
		}
		if billing.IsNotFound(err) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
		}
		log.Errorf("pause failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Pause could not be applied")
	}
	return c.JSON(res)
}

// HandleCancelSubscription schedules cancellation for the end of the cycle.
func HandleCancelSubscription(c *fiber.Ctx) error {
	accountID := accountcontext.GetAccountID(c)

	if err := deps.Billing.CancelSubscription(c.UserContext(), accountID); err != nil {
		if errors.Is(err, billing.ErrNoActiveSubscription) {
			return errorJSON(c, fiber.StatusConflict, "conflict", "No active subscription")
		}
		if billing.IsNotFound(err) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
		}
		log.Errorf("cancel failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Cancellation failed")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":  "pending",
		"message": "Subscription will cancel at the end of the current cycle",
	})
}
