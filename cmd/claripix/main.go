package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"

	"github.com/claripix/claripix/app/controllers"
	"github.com/claripix/claripix/app/repository"
	"github.com/claripix/claripix/internal/pkg/accounts"
	"github.com/claripix/claripix/internal/pkg/audit"
	"github.com/claripix/claripix/internal/pkg/billing"
	"github.com/claripix/claripix/internal/pkg/cache"
	"github.com/claripix/claripix/internal/pkg/credits"
	"github.com/claripix/claripix/internal/pkg/database"
	"github.com/claripix/claripix/internal/pkg/eligibility"
	"github.com/claripix/claripix/internal/pkg/env"
	"github.com/claripix/claripix/internal/pkg/ledger"
	"github.com/claripix/claripix/internal/pkg/opsqueue"
	"github.com/claripix/claripix/internal/pkg/plans"
	"github.com/claripix/claripix/internal/pkg/processing"
	"github.com/claripix/claripix/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)

	catalog := plans.NewCatalogFromEnv()
	ops := opsqueue.NewQueue(cache.GetClient())

	ledgerStore := ledger.NewStore(db)
	gate := credits.NewGate(ledgerStore)

	billingRepo := billing.NewRepository(db)
	provider := billing.NewStripeClientFromEnv()
	checker := eligibility.New(eligibility.ConfigFromEnv())
	billingService := billing.NewService(billingRepo, catalog, provider, checker)
	reconciler := billing.NewReconciler(billingRepo, ledgerStore, catalog, ops)
	accountsService := accounts.NewService(repository.GetGlobalFactory().GetAccountRepository(), ledgerStore, catalog)

	controllers.InitControllers(controllers.Deps{
		Ledger:     ledgerStore,
		Gate:       gate,
		Billing:    billingService,
		Reconciler: reconciler,
		Processing: processing.NewClientFromEnv(),
		Accounts:   accountsService,
		Ops:        ops,
		WebhookKey: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	})

	// Nightly ledger reconciliation sweep.
	scheduler := cron.New()
	auditor := audit.NewAuditor(ledgerStore, ops)
	if err := auditor.Schedule(scheduler); err != nil {
		log.Fatalf("failed to schedule audit sweep: %v", err)
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		AppName: "claripix",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
