package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marketlens/marketlens/app/controllers"
	"github.com/marketlens/marketlens/internal/pkg/constants"
	"github.com/marketlens/marketlens/internal/pkg/middleware"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Public pages
	app.Get(constants.PricingRoute, loggedInMiddleware, controllers.HandlePricing)

	// Auth
	app.Post("/logout", middleware.RequireAuth, controllers.HandleAuthLogout)

	// Billing provider webhooks (no CSRF, signature-verified in controller)
	app.Post(constants.WebhookRoute, controllers.HandleStripeWebhook)
}
