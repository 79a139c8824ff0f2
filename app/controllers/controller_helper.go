package controllers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/claripix/claripix/internal/pkg/accounts"
	"github.com/claripix/claripix/internal/pkg/billing"
	"github.com/claripix/claripix/internal/pkg/credits"
	"github.com/claripix/claripix/internal/pkg/ledger"
	"github.com/claripix/claripix/internal/pkg/opsqueue"
	"github.com/claripix/claripix/internal/pkg/processing"
)

// Deps carries the shared service instances the controllers dispatch to.
// They are wired once at startup from cmd/claripix.
type Deps struct {
	Ledger     *ledger.Store
	Gate       *credits.Gate
	Billing    *billing.Service
	Reconciler *billing.Reconciler
	Processing *processing.Client
	Accounts   *accounts.Service
	Ops        *opsqueue.Queue
	WebhookKey string
}

var deps Deps

// InitControllers wires the controller package. Must run before routes are
// installed.
func InitControllers(d Deps) {
	deps = d
}

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// parsePagination reads offset/limit query params with sane bounds.
func parsePagination(c *fiber.Ctx) (int, int) {
	offset, _ := strconv.Atoi(strings.TrimSpace(c.Query("offset", "0")))
	limit, _ := strconv.Atoi(strings.TrimSpace(c.Query("limit", "50")))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return offset, limit
}
