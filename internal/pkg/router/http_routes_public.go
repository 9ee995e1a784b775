package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumenshot/lumenshot/app/controllers"
	"github.com/lumenshot/lumenshot/internal/pkg/middleware"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"service": "lumenshot", "status": "ok"})
	})

	// Prometheus counters for the billing pipeline
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Social OAuth
	app.Get("/auth/:provider", controllers.HandleOAuthLogin)
	app.Get("/auth/:provider/callback", controllers.HandleOAuthCallback)
	app.Post("/logout", middleware.RequireAuth, controllers.HandleOAuthLogout)

	// Payment gateway webhooks (no CSRF, signature-verified in controller)
	app.Post("/webhooks/payment", controllers.HandlePaymentWebhook)
}
