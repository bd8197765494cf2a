package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"

	"github.com/marketlens/marketlens/app/models"
	"github.com/marketlens/marketlens/internal/pkg/billing"
	"github.com/marketlens/marketlens/internal/pkg/database"
	"github.com/marketlens/marketlens/internal/pkg/env"
	"github.com/marketlens/marketlens/internal/pkg/metrics/counter"
	"github.com/marketlens/marketlens/internal/pkg/usercontext"
)

var (
	billingRepo    billing.Repository
	billingService *billing.Service
	stripeClient   *billing.StripeClient
	webhookSecret  string
)

// InitializeBillingController wires the billing stack against the live
// database and environment. Called once from the router.
func InitializeBillingController() {
	billingRepo = billing.NewRepository(database.GetDB())
	billingService = billing.NewService(billingRepo)
	stripeClient = billing.NewStripeClientFromEnv(billingRepo)
	webhookSecret = env.GetEnv("STRIPE_WEBHOOK_SECRET", "")
}

// SetBillingController replaces the billing stack, used by tests.
func SetBillingController(repo billing.Repository, svc *billing.Service, client *billing.StripeClient, secret string) {
	billingRepo = repo
	billingService = svc
	stripeClient = client
	webhookSecret = secret
}

// HandleStripeWebhook ingests processor webhook deliveries. Signature
// verification happens before any database access so forged payloads are
// rejected at zero cost. The ledger insert deduplicates redeliveries that
// race each other.
func HandleStripeWebhook(c *fiber.Ctx) error {
	signature := c.Get("Stripe-Signature")
	if strings.TrimSpace(signature) == "" {
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: missing Stripe-Signature header")
	}

	payload := c.Body()
	event, err := webhook.ConstructEventWithOptions(payload, signature, webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: " + err.Error())
	}

	if err := counter.AddWebhookEvent(string(event.Type)); err != nil {
		log.Debugf("billing webhook: counter increment failed: %v", err)
	}

	created, stored, err := billingRepo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		log.Errorf("billing webhook: ledger insert failed for event %s: %v", event.ID, err)
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: could not record event")
	}
	if !created && stored.ProcessedAt != nil {
		return c.JSON(fiber.Map{"received": true, "status": billing.StatusAlreadyProcessed})
	}

	status, err := billingService.HandleEvent(c.Context(), &event)
	if err != nil {
		if markErr := billingRepo.MarkWebhookProcessed(stored.ID, err.Error()); markErr != nil {
			log.Errorf("billing webhook: ledger update failed for event %s: %v", event.ID, markErr)
		}
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: " + err.Error())
	}

	if markErr := billingRepo.MarkWebhookProcessed(stored.ID, ""); markErr != nil {
		log.Errorf("billing webhook: ledger update failed for event %s: %v", event.ID, markErr)
	}
	return c.JSON(fiber.Map{"received": true, "status": status})
}

type checkoutRequest struct {
	Email string `json:"email"`
}

// HandleCreateCheckoutSession issues a processor-hosted checkout session for
// the logged-in account and returns its id and redirect URL.
func HandleCreateCheckoutSession(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	if !uc.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	var req checkoutRequest
	_ = c.BodyParser(&req)

	user, err := billingRepo.GetUserByID(uc.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "account not found"})
		}
		log.Errorf("billing checkout: load account %d failed: %v", uc.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not load account"})
	}

	sessionID, url, err := stripeClient.CreateCheckoutSession(c.Context(), user, req.Email)
	if err != nil {
		return billingErrorResponse(c, err)
	}

	if cntErr := counter.AddCheckoutSession(); cntErr != nil {
		log.Debugf("billing checkout: counter increment failed: %v", cntErr)
	}
	return c.JSON(fiber.Map{"id": sessionID, "url": url})
}

type portalRequest struct {
	ReturnURL string `json:"return_url"`
}

// HandleCreatePortalSession issues a billing-portal session so the account
// can manage its subscription at the processor.
func HandleCreatePortalSession(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	if !uc.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	var req portalRequest
	_ = c.BodyParser(&req)

	user, err := billingRepo.GetUserByID(uc.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "account not found"})
		}
		log.Errorf("billing portal: load account %d failed: %v", uc.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not load account"})
	}

	url, err := stripeClient.CreatePortalSession(c.Context(), user.StripeCustomerID, req.ReturnURL)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"url": url})
}

// HandleBillingStats returns the webhook and gate counters for admins.
func HandleBillingStats(c *fiber.Ctx) error {
	events, err := counter.WebhookEventCounts()
	if err != nil {
		log.Errorf("billing stats: webhook counters unavailable: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "counters unavailable"})
	}
	decisions, err := counter.GateDecisionCounts()
	if err != nil {
		log.Errorf("billing stats: gate counters unavailable: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "counters unavailable"})
	}
	checkouts, err := counter.CheckoutSessionCount()
	if err != nil {
		log.Errorf("billing stats: checkout counter unavailable: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "counters unavailable"})
	}

	return c.JSON(fiber.Map{
		"webhook_events":    events,
		"gate_decisions":    decisions,
		"checkout_sessions": checkouts,
	})
}

func billingErrorResponse(c *fiber.Ctx, err error) error {
	var apiErr *billing.APIError
	if errors.As(err, &apiErr) {
		return c.Status(fiber.StatusBadRequest).JSON(apiErr)
	}
	if errors.Is(err, billing.ErrMissingUserID) || errors.Is(err, billing.ErrMissingCustomerID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}
	log.Errorf("billing: processor request failed: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "payment processor request failed"})
}
