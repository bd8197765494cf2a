package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	bpsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"

	"github.com/marketlens/marketlens/app/models"
	"github.com/marketlens/marketlens/internal/pkg/env"
)

var (
	ErrMissingUserID     = errors.New("user_id is required")
	ErrMissingCustomerID = errors.New("customer_id is required")
)

// APIError flattens a processor-side error for JSON passthrough, so callers
// can distinguish configuration mistakes (bad price id) from transient
// failures.
type APIError struct {
	Message string `json:"error"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

func (e *APIError) Error() string {
	return e.Message
}

// StripeClient issues processor-hosted checkout and billing-portal sessions.
// It is constructed once at process start and injected into handlers; there
// is deliberately no package-level client state.
type StripeClient struct {
	priceID string
	baseURL string
	repo    Repository

	createCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	createPortalSession   func(params *stripelib.BillingPortalSessionParams) (*stripelib.BillingPortalSession, error)
	createCustomer        func(params *stripelib.CustomerParams) (*stripelib.Customer, error)
}

// NewStripeClientFromEnv configures the processor SDK key and returns a
// client wired to the real Stripe endpoints.
func NewStripeClientFromEnv(repo Repository) *StripeClient {
	stripelib.Key = strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))

	baseURL := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	if env.IsDev() || baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", env.GetEnv("APP_PORT", "4000"))
	}

	return &StripeClient{
		priceID:               strings.TrimSpace(env.GetEnv("STRIPE_PRICE_ID", "")),
		baseURL:               baseURL,
		repo:                  repo,
		createCheckoutSession: checkoutsession.New,
		createPortalSession:   bpsession.New,
		createCustomer:        customer.New,
	}
}

// EnsureCustomer returns the account's processor customer id, creating and
// persisting one if absent.
func (c *StripeClient) EnsureCustomer(ctx context.Context, user *models.User, email string) (string, error) {
	_ = ctx
	if user == nil || user.ID == 0 {
		return "", ErrMissingUserID
	}
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	if email == "" {
		email = user.Email
	}
	cust, err := c.createCustomer(&stripelib.CustomerParams{
		Email: stripelib.String(email),
		Metadata: map[string]string{
			"userId":  strconv.FormatUint(uint64(user.ID), 10),
			"user_id": strconv.FormatUint(uint64(user.ID), 10),
		},
	})
	if err != nil {
		return "", asAPIError(err)
	}
	if err := c.repo.SaveStripeCustomerID(user.ID, cust.ID); err != nil {
		return "", fmt.Errorf("persist customer id: %w", err)
	}
	user.StripeCustomerID = cust.ID
	return cust.ID, nil
}

// CreateCheckoutSession requests a subscription checkout for the fixed
// premium price and returns the session id plus redirect URL. The account id
// rides in the session metadata under both legacy key spellings.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, user *models.User, email string) (string, string, error) {
	if user == nil || user.ID == 0 {
		return "", "", ErrMissingUserID
	}
	customerID, err := c.EnsureCustomer(ctx, user, email)
	if err != nil {
		return "", "", err
	}

	userID := strconv.FormatUint(uint64(user.ID), 10)
	params := &stripelib.CheckoutSessionParams{
		Mode:       stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		Customer:   stripelib.String(customerID),
		SuccessURL: stripelib.String(c.baseURL + "/dashboard?payment=success&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripelib.String(c.baseURL + "/pricing?payment=cancelled"),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(c.priceID),
				Quantity: stripelib.Int64(1),
			},
		},
		Metadata: map[string]string{
			"userId":  userID,
			"user_id": userID,
		},
	}

	sess, err := c.createCheckoutSession(params)
	if err != nil {
		return "", "", asAPIError(err)
	}
	if sess == nil || strings.TrimSpace(sess.URL) == "" {
		return "", "", errors.New("processor returned empty checkout URL")
	}
	return sess.ID, sess.URL, nil
}

// CreatePortalSession requests a billing-portal session for an existing
// processor customer and returns its URL.
func (c *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	_ = ctx
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", ErrMissingCustomerID
	}
	if strings.TrimSpace(returnURL) == "" {
		returnURL = c.baseURL + "/dashboard"
	}

	sess, err := c.createPortalSession(&stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(customerID),
		ReturnURL: stripelib.String(returnURL),
	})
	if err != nil {
		return "", asAPIError(err)
	}
	if sess == nil || strings.TrimSpace(sess.URL) == "" {
		return "", errors.New("processor returned empty portal URL")
	}
	return sess.URL, nil
}

// BaseURL exposes the redirect base for handlers building landing URLs.
func (c *StripeClient) BaseURL() string {
	return c.baseURL
}

func asAPIError(err error) error {
	var se *stripelib.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = "payment processor request failed"
		}
		return &APIError{Message: msg, Code: string(se.Code), Type: string(se.Type)}
	}
	return err
}
