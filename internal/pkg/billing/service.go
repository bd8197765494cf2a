package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/marketlens/marketlens/app/models"
)

// Service applies processor webhook events to the account record. It owns
// the entitlement transitions; HTTP concerns (signature verification, the
// ledger insert, response codes) stay in the controller.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// HandleEvent dispatches a verified Stripe event to the applier for its
// type. Unknown types are acknowledged without any account write.
func (s *Service) HandleEvent(ctx context.Context, event *stripelib.Event) (string, error) {
	start := time.Now()
	status := StatusIgnored
	var err error
	defer func() {
		log.Infof("billing: event %s (%s) -> %q in %s", event.ID, event.Type, status, time.Since(start))
	}()

	switch event.Type {
	case EventCheckoutCompleted:
		var session CheckoutSession
		if jsonErr := json.Unmarshal(event.Data.Raw, &session); jsonErr != nil {
			return "", fmt.Errorf("decode checkout.session: %w", jsonErr)
		}
		status, err = s.ApplyCheckoutCompleted(ctx, event.ID, session)

	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub Subscription
		if jsonErr := json.Unmarshal(event.Data.Raw, &sub); jsonErr != nil {
			return "", fmt.Errorf("decode subscription: %w", jsonErr)
		}
		status, err = s.ApplySubscriptionEvent(ctx, event.ID, string(event.Type), sub)

	case EventPaymentSucceeded, EventPaymentFailed:
		var pi PaymentIntent
		if jsonErr := json.Unmarshal(event.Data.Raw, &pi); jsonErr != nil {
			return "", fmt.Errorf("decode payment_intent: %w", jsonErr)
		}
		status, err = s.ApplyPaymentOutcome(ctx, event.ID, string(event.Type), pi)

	default:
		log.Infof("billing: event %s ignored (unhandled type %s)", event.ID, event.Type)
		return StatusIgnored, nil
	}

	return status, err
}

// ApplyCheckoutCompleted grants entitlement for a completed checkout. The
// customer-id backfill happens before the session-id dedup check so the
// linkage stays correct even for redelivered events. After the transaction
// the record is re-read and, if the flags did not land, retried once.
func (s *Service) ApplyCheckoutCompleted(ctx context.Context, eventID string, session CheckoutSession) (string, error) {
	_ = ctx
	rawUserID := strings.TrimSpace(session.UserIDFromMetadata())
	if rawUserID == "" {
		return "", errors.New("checkout session has no user id in metadata")
	}
	userID, err := strconv.ParseUint(rawUserID, 10, 64)
	if err != nil || userID == 0 {
		return "", fmt.Errorf("checkout session has invalid user id %q in metadata", rawUserID)
	}
	customerID := strings.TrimSpace(session.Customer)
	if customerID == "" {
		return "", errors.New("checkout session has no customer id")
	}

	user, err := s.repo.GetUserByID(uint(userID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("no account for user id %d", userID)
		}
		return "", fmt.Errorf("load account %d: %w", userID, err)
	}

	if user.StripeCustomerID != customerID {
		if err := s.repo.SaveStripeCustomerID(user.ID, customerID); err != nil {
			return "", fmt.Errorf("backfill customer id: %w", err)
		}
	}

	if user.LastEvent.SessionID == session.ID {
		log.Infof("billing: checkout session %s already applied to user %d", session.ID, user.ID)
		return StatusAlreadyProcessed, nil
	}

	grant := EntitlementGrant{
		SessionID:      session.ID,
		EventID:        eventID,
		CustomerID:     customerID,
		SubscriptionID: strings.TrimSpace(session.Subscription),
		OccurredAt:     s.now(),
	}
	if err := s.repo.ApplyEntitlementGrant(user.ID, grant); err != nil {
		return "", fmt.Errorf("apply entitlement grant: %w", err)
	}

	// Best-effort safety net against partial writes, not a correctness proof.
	fresh, err := s.repo.GetUserByID(user.ID)
	if err == nil && !fresh.EntitledByFlags() {
		log.Warnf("billing: entitlement flags missing after grant for user %d, retrying once", user.ID)
		if retryErr := s.repo.RetryEntitlementGrant(user.ID, grant); retryErr != nil {
			log.Errorf("billing: entitlement grant retry failed for user %d: %v", user.ID, retryErr)
		}
	}

	return StatusGranted, nil
}

// ApplySubscriptionEvent mirrors a subscription lifecycle change onto the
// account. Orphan events (no account for the customer id) are acknowledged
// as successes; test-mode and cleanup traffic produces them routinely.
func (s *Service) ApplySubscriptionEvent(ctx context.Context, eventID, eventType string, sub Subscription) (string, error) {
	_ = ctx
	customerID := strings.TrimSpace(sub.Customer)
	if customerID == "" {
		return StatusNoCustomerID, nil
	}

	user, err := s.repo.GetUserByStripeCustomerID(customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StatusCustomerNotFound, nil
		}
		return "", fmt.Errorf("lookup account by customer %s: %w", customerID, err)
	}

	status := normalizeSubscriptionStatus(sub.Status)
	update := SubscriptionUpdate{
		EventID:        eventID,
		EventType:      eventType,
		SubscriptionID: strings.TrimSpace(sub.ID),
		Status:         status,
		RevokePremium:  status == models.SubscriptionStatusCanceled || status == models.SubscriptionStatusUnpaid,
		OccurredAt:     s.now(),
	}
	if err := s.repo.UpdateSubscriptionStatus(user.ID, update); err != nil {
		return "", fmt.Errorf("update subscription status: %w", err)
	}
	return StatusSubscriptionUpdated, nil
}

// ApplyPaymentOutcome records the result of a payment attempt. A succeeded
// intent refreshes the renewal anchor used by the expiry sweep.
func (s *Service) ApplyPaymentOutcome(ctx context.Context, eventID, eventType string, pi PaymentIntent) (string, error) {
	_ = ctx
	customerID := strings.TrimSpace(pi.Customer)
	if customerID == "" {
		return StatusNoCustomerID, nil
	}

	user, err := s.repo.GetUserByStripeCustomerID(customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StatusCustomerNotFound, nil
		}
		return "", fmt.Errorf("lookup account by customer %s: %w", customerID, err)
	}

	update := PaymentUpdate{
		EventID:        eventID,
		EventType:      eventType,
		Succeeded:      eventType == EventPaymentSucceeded,
		FailureMessage: strings.TrimSpace(pi.LastPaymentError.Message),
		OccurredAt:     s.now(),
	}
	if err := s.repo.RecordPaymentOutcome(user.ID, update); err != nil {
		return "", fmt.Errorf("record payment outcome: %w", err)
	}
	return StatusPaymentRecorded, nil
}

// normalizeSubscriptionStatus stores the processor's lifecycle state as-is,
// only canonicalizing case and the British spelling.
func normalizeSubscriptionStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "cancelled" {
		return models.SubscriptionStatusCanceled
	}
	if s == "" {
		return models.SubscriptionStatusNone
	}
	return s
}
