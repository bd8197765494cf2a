package billing

import "time"

// Stripe event types the ingest pipeline acts on. Anything else is
// acknowledged and ignored.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "payment_intent.succeeded"
	EventPaymentFailed       = "payment_intent.payment_failed"

	// Synthetic type stamped by the expiry sweep audit entry.
	EventEntitlementExpired = "entitlement.expired"
)

// Acknowledgment statuses returned to the webhook endpoint. The processor
// only cares about the 2xx, but the status string makes redeliveries and
// orphan events distinguishable in logs and tests.
const (
	StatusGranted             = "entitlement granted"
	StatusAlreadyProcessed    = "already processed"
	StatusSubscriptionUpdated = "subscription updated"
	StatusPaymentRecorded     = "payment recorded"
	StatusCustomerNotFound    = "customer not found"
	StatusNoCustomerID        = "no customer id"
	StatusIgnored             = "event ignored"
)

// CheckoutSession is a minimal representation of a Stripe checkout.session
// object as delivered inside checkout.session.completed events.
type CheckoutSession struct {
	ID            string `json:"id"`
	Mode          string `json:"mode"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	CustomerEmail string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// UserIDFromMetadata extracts the account id from session metadata,
// accepting both legacy key spellings.
func (s *CheckoutSession) UserIDFromMetadata() string {
	if v := s.Metadata["userId"]; v != "" {
		return v
	}
	return s.Metadata["user_id"]
}

// Subscription is a minimal representation of a Stripe subscription object
// as delivered inside customer.subscription.* events.
type Subscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

// PaymentIntent is a minimal representation of a Stripe payment_intent
// object as delivered inside payment_intent.* events.
type PaymentIntent struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	LastPaymentError struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// EntitlementGrant carries everything a checkout completion writes onto the
// account record.
type EntitlementGrant struct {
	SessionID      string
	EventID        string
	CustomerID     string
	SubscriptionID string
	OccurredAt     time.Time
}

// SubscriptionUpdate carries a subscription lifecycle change. RevokePremium
// is set for statuses that explicitly end entitlement.
type SubscriptionUpdate struct {
	EventID        string
	EventType      string
	SubscriptionID string
	Status         string
	RevokePremium  bool
	OccurredAt     time.Time
}

// PaymentUpdate carries the outcome of a payment attempt.
type PaymentUpdate struct {
	EventID        string
	EventType      string
	Succeeded      bool
	FailureMessage string
	OccurredAt     time.Time
}
