package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"
	"gorm.io/gorm"

	"github.com/marketlens/marketlens/internal/pkg/entitlements"
	"github.com/marketlens/marketlens/internal/pkg/usercontext"
)

// HandleHome renders the public landing page.
func HandleHome(c *fiber.Ctx) error {
	return c.Render("index", fiber.Map{
		"Title":      "MarketLens",
		"Flash":      flash.Get(c),
		"IsLoggedIn": usercontext.IsLoggedIn(c),
	})
}

// HandleDashboard renders the account dashboard. It is reachable without
// premium so the checkout redirect always has a landing page, even when the
// entitlement is still settling.
func HandleDashboard(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)

	premium := false
	subscriptionStatus := ""
	if user, err := billingRepo.GetUserByID(uc.UserID); err == nil {
		sig := entitlements.Evaluate(user)
		premium = sig.Entitled()
		subscriptionStatus = user.SubscriptionStatus
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Errorf("dashboard: load account %d failed: %v", uc.UserID, err)
	}

	return c.Render("dashboard", fiber.Map{
		"Title":              "Dashboard",
		"Flash":              flash.Get(c),
		"Username":           uc.Username,
		"IsPremium":          premium,
		"SubscriptionStatus": subscriptionStatus,
	})
}

// HandlePricing renders the plan overview with the premium price.
func HandlePricing(c *fiber.Ctx) error {
	return c.Render("pricing", fiber.Map{
		"Title":      "Pricing",
		"Flash":      flash.Get(c),
		"IsLoggedIn": usercontext.IsLoggedIn(c),
		"Cancelled":  c.Query("payment") == "cancelled",
	})
}

// HandleDiagnosis renders the marketing diagnosis workspace. Premium only.
func HandleDiagnosis(c *fiber.Ctx) error {
	return c.Render("diagnosis", fiber.Map{
		"Title":    "Marketing Diagnosis",
		"Flash":    flash.Get(c),
		"Username": usercontext.GetUsername(c),
	})
}

// HandlePlanner renders the campaign planner. Premium only.
func HandlePlanner(c *fiber.Ctx) error {
	return c.Render("planner", fiber.Map{
		"Title":    "Campaign Planner",
		"Flash":    flash.Get(c),
		"Username": usercontext.GetUsername(c),
	})
}

// HandleCalendar renders the content calendar. Premium only.
func HandleCalendar(c *fiber.Ctx) error {
	return c.Render("calendar", fiber.Map{
		"Title":    "Content Calendar",
		"Flash":    flash.Get(c),
		"Username": usercontext.GetUsername(c),
	})
}
