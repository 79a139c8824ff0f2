package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/claripix/claripix/app/controllers"
	"github.com/claripix/claripix/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Public catalog endpoints.
	v1.Get("/billing/plans", controllers.HandleListPlans)
	v1.Get("/operations", controllers.HandleListOperations)

	// Account-scoped endpoints behind API-key auth.
	authed := v1.Group("/", middleware.APIKeyAuthMiddleware())

	authed.Get("/credits/balance", controllers.HandleGetBalance)
	authed.Get("/credits/transactions", controllers.HandleListTransactions)
	authed.Get("/credits/summary", controllers.HandleGetSummary)

	authed.Post("/billing/preview-change", controllers.HandlePreviewPlanChange)
	authed.Post("/billing/change-plan", controllers.HandleChangePlan)
	authed.Get("/billing/eligibility", controllers.HandleEligibility)
	authed.Get("/billing/discount-eligibility", controllers.HandleDiscountEligibility)
	authed.Post("/billing/discount", controllers.HandleApplyDiscount)
	authed.Post("/billing/pause", controllers.HandlePauseSubscription)
	authed.Post("/billing/cancel", controllers.HandleCancelSubscription)

	authed.Post("/process/:operation", controllers.HandleProcessImage)

	// Operator endpoints.
	admin := authed.Group("/admin", middleware.RequireAdminMiddleware())
	admin.Post("/accounts", controllers.HandleCreateAccount)
	admin.Get("/accounts", controllers.HandleListAccounts)
	admin.Post("/accounts/:account_id/rotate-key", controllers.HandleRotateAPIKey)
	admin.Post("/adjustments", controllers.HandleManualAdjustment)
	admin.Get("/alerts", controllers.HandleListAlerts)
	admin.Get("/usage", controllers.HandleOperationUsage)
	admin.Post("/accounts/:account_id/verify", controllers.HandleVerifyAccount)
	admin.Post("/accounts/:account_id/unfreeze", controllers.HandleUnfreezeAccount)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
