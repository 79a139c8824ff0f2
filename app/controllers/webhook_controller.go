package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/claripix/claripix/internal/pkg/billing"
)

// HandleBillingWebhook receives provider lifecycle events. A 2xx response
// acknowledges the delivery; any error answer makes the provider redeliver,
// which is the retry path for transient failures.
func HandleBillingWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	if len(payload) == 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Empty payload")
	}

	signature := c.Get("Webhook-Signature")
	valid := billing.VerifyWebhookSignature(payload, signature, deps.WebhookKey, time.Now())
	if !valid {
		log.Warnf("billing webhook: invalid signature from %s", c.IP())
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Invalid webhook signature")
	}

	if err := deps.Reconciler.Process(c.UserContext(), payload, valid); err != nil {
		log.Errorf("billing webhook: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Event processing failed")
	}
	return c.SendStatus(fiber.StatusOK)
}
