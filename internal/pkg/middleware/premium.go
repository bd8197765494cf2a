package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"

	"github.com/marketlens/marketlens/internal/pkg/constants"
	"github.com/marketlens/marketlens/internal/pkg/entitlements"
	"github.com/marketlens/marketlens/internal/pkg/metrics/counter"
	"github.com/marketlens/marketlens/internal/pkg/usercontext"
)

// RequirePremium guards premium routes behind the entitlement gate. The
// checkout redirect query parameters are forwarded so a returning payer is
// admitted before the webhook lands.
func RequirePremium(gate *entitlements.Gate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uc := usercontext.GetUserContext(c)
		if !uc.IsLoggedIn {
			return c.Redirect("/login", fiber.StatusSeeOther)
		}

		hints := entitlements.RedirectHints{
			PaymentSuccess: c.Query(constants.PaymentQueryParam) == constants.PaymentSuccessValue,
			SessionID:      c.Query(constants.SessionIDQueryParam),
		}

		admitted, source, err := gate.CheckAccess(c.Context(), uc.UserID, hints)
		if err != nil {
			log.Errorf("premium guard: access check failed for user %d: %v", uc.UserID, err)
		}
		if cntErr := counter.AddGateDecision(source); cntErr != nil {
			log.Debugf("premium guard: decision counter failed: %v", cntErr)
		}
		if !admitted {
			fm := fiber.Map{
				"type":    "info",
				"message": "This feature requires a premium subscription.",
			}
			return flash.WithInfo(c, fm).Redirect(constants.DashboardRoute, fiber.StatusSeeOther)
		}
		return c.Next()
	}
}
