package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/marketlens/marketlens/app/controllers"
	"github.com/marketlens/marketlens/internal/pkg/middleware"
)

// APIServer implements the public v1 API surface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// Pong is the ping response body
type Pong struct {
	Ping string `json:"ping"`
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// PostBillingCheckout issues a checkout session for the logged-in account.
func (s *APIServer) PostBillingCheckout(c *fiber.Ctx) error {
	return controllers.HandleCreateCheckoutSession(c)
}

// PostBillingPortal issues a billing-portal session for the logged-in account.
func (s *APIServer) PostBillingPortal(c *fiber.Ctx) error {
	return controllers.HandleCreatePortalSession(c)
}

// GetBillingStats returns webhook and gate counters. Admin only.
func (s *APIServer) GetBillingStats(c *fiber.Ctx) error {
	return controllers.HandleBillingStats(c)
}

// RegisterHandlers attaches the v1 routes to the given router group.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)

	billingGroup := router.Group("/billing", middleware.RequireAPISessionAuth)
	billingGroup.Post("/checkout", s.PostBillingCheckout)
	billingGroup.Post("/portal", s.PostBillingPortal)
	billingGroup.Get("/stats", middleware.RequireAPIAdmin, s.GetBillingStats)
}
