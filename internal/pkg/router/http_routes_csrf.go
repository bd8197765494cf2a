package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"

	"github.com/marketlens/marketlens/app/controllers"
	"github.com/marketlens/marketlens/internal/pkg/constants"
	"github.com/marketlens/marketlens/internal/pkg/entitlements"
	"github.com/marketlens/marketlens/internal/pkg/env"
	"github.com/marketlens/marketlens/internal/pkg/middleware"
)

func (h HttpRouter) registerCSRFProtectedRoutes(app *fiber.App, gate *entitlements.Gate) {
	csrfConf := csrf.Config{
		KeyLookup:      "form:_csrf",
		ContextKey:     "csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   !env.IsDev(),
		Next: func(c *fiber.Ctx) bool {
			// API routes carry no CSRF token; webhook signatures are
			// verified in the controller instead.
			return strings.HasPrefix(c.Path(), "/api/") || c.Path() == constants.WebhookRoute
		},
	}

	group := app.Group("", cors.New(), csrf.New(csrfConf))
	group.Get("/", loggedInMiddleware, controllers.HandleHome)
	group.Get("/login", loggedInMiddleware, controllers.HandleAuthLogin)
	group.Post("/login", loggedInMiddleware, controllers.HandleAuthLogin)
	group.Get("/register", loggedInMiddleware, controllers.HandleAuthRegister)
	group.Post("/register", loggedInMiddleware, controllers.HandleAuthRegister)

	group.Get(constants.DashboardRoute, middleware.RequireAuth, controllers.HandleDashboard)

	// Premium features sit behind the entitlement gate
	group.Get("/diagnosis", middleware.RequireAuth, middleware.RequirePremium(gate), controllers.HandleDiagnosis)
	group.Get("/planner", middleware.RequireAuth, middleware.RequirePremium(gate), controllers.HandlePlanner)
	group.Get("/calendar", middleware.RequireAuth, middleware.RequirePremium(gate), controllers.HandleCalendar)
}
