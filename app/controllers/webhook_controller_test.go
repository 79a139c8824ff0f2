package controllers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claripix/claripix/internal/pkg/billing"
)

func newWebhookTestApp(t *testing.T) *fiber.App {
	t.Helper()
	InitControllers(Deps{WebhookKey: "whsec_test"})

	app := fiber.New()
	app.Post("/api/v1/billing/webhook", HandleBillingWebhook)
	return app
}

func TestHandleBillingWebhook_EmptyPayload(t *testing.T) {
	app := newWebhookTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleBillingWebhook_InvalidSignature(t *testing.T) {
	app := newWebhookTestApp(t)

	payload := []byte(`{"id":"evt_1","type":"subscription.created"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", bytes.NewReader(payload))
	req.Header.Set("Webhook-Signature", "t=1,v1=deadbeef")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHandleBillingWebhook_MissingSignature(t *testing.T) {
	app := newWebhookTestApp(t)

	payload := []byte(`{"id":"evt_1","type":"subscription.created"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", bytes.NewReader(payload))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHandleBillingWebhook_SignedButStale(t *testing.T) {
	app := newWebhookTestApp(t)

	payload := []byte(`{"id":"evt_1","type":"subscription.created"}`)
	header := billing.SignPayload(payload, "whsec_test", time.Now().Add(-time.Hour))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", bytes.NewReader(payload))
	req.Header.Set("Webhook-Signature", header)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHandleListOperations(t *testing.T) {
	InitControllers(Deps{})

	app := fiber.New()
	app.Get("/api/v1/operations", HandleListOperations)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/operations", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
