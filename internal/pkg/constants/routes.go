package constants

// Static route constants
const (
	DashboardRoute = "/dashboard"
	PricingRoute   = "/pricing"
	WebhookRoute   = "/webhook"

	// Query parameters set by the processor's checkout redirect
	PaymentQueryParam   = "payment"
	PaymentSuccessValue = "success"
	SessionIDQueryParam = "session_id"
)
