package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router installs one coherent group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App) {
	// The webhook router goes first: it must stay outside the API-key
	// middleware, the provider authenticates with its signature instead.
	setup(app, NewWebhookRouter(), NewApiRouter())
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
