package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/claripix/claripix/app/controllers"
)

type WebhookRouter struct {
}

// InstallRouter registers the provider-facing webhook endpoint. It is
// unauthenticated at the API-key level; the HMAC signature on the payload
// is the credential.
func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/api/v1/billing/webhook", controllers.HandleBillingWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
