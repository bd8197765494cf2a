package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marketlens/marketlens/app/controllers"
	"github.com/marketlens/marketlens/internal/pkg/billing"
	"github.com/marketlens/marketlens/internal/pkg/database"
	"github.com/marketlens/marketlens/internal/pkg/entitlements"
	"github.com/marketlens/marketlens/internal/pkg/middleware"
	"github.com/marketlens/marketlens/internal/pkg/session"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	// Initialize billing controller with the live database and environment
	controllers.InitializeBillingController()

	// The entitlement gate guards the premium feature routes. Its
	// confirmation polls are cancelled when the app shuts down.
	gate := entitlements.NewGate(billing.NewRepository(database.GetDB()))
	app.Hooks().OnShutdown(func() error {
		gate.Close()
		return nil
	})

	h.registerPublicRoutes(app)
	h.registerCSRFProtectedRoutes(app, gate)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func loggedInMiddleware(c *fiber.Ctx) error {
	// UserContextMiddleware already set all user context
	// All user information is available via usercontext.GetUserContext(c)
	return c.Next()
}
