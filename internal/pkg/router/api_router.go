package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/lumenshot/lumenshot/app/controllers"
	"github.com/lumenshot/lumenshot/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Plan catalog is public
	v1.Get("/plans", controllers.HandlePlans)

	// Usage metering: API key or web session
	usage := v1.Group("/usage", middleware.APIKeyOrSessionAuth())
	usage.Get("/balance", controllers.HandleUsageBalance)
	usage.Post("/consume", controllers.HandleUsageConsume)

	// Subscription state
	sub := v1.Group("/subscription", middleware.APIKeyOrSessionAuth())
	sub.Get("/status", controllers.HandleSubscriptionStatus)
	sub.Get("/history", controllers.HandleSubscriptionHistory)
	sub.Post("/cancel", controllers.HandleSubscriptionCancel)

	// Profile and API key management require a web session
	user := v1.Group("/user", middleware.RequireAPISessionAuth)
	user.Get("/me", controllers.HandleUserMe)
	user.Post("/apikey", controllers.HandleAPIKeyIssue)
	user.Delete("/apikey", controllers.HandleAPIKeyRevoke)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
