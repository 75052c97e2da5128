// Package web serves the shipper's operational endpoints.
package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// NewApp builds the fiber app with every route mounted.
func NewApp(handlers *Handlers) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "log-shipper",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	SetupRoutes(app, handlers)
	return app
}

func SetupRoutes(app *fiber.App, handlers *Handlers) {
	app.Get("/healthz", handlers.Health)
	app.Get("/stats", handlers.Stats)
	app.Post("/flush", handlers.Flush)
}
