package billing

import (
	"time"

	"github.com/marketlens/marketlens/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the account-record and webhook-ledger operations used
// by the billing service, the expiry sweep and the entitlement gate.
type Repository interface {
	GetUserByID(id uint) (*models.User, error)
	GetUserByStripeCustomerID(customerID string) (*models.User, error)
	SaveStripeCustomerID(userID uint, customerID string) error

	ApplyEntitlementGrant(userID uint, grant EntitlementGrant) error
	RetryEntitlementGrant(userID uint, grant EntitlementGrant) error
	UpdateSubscriptionStatus(userID uint, update SubscriptionUpdate) error
	RecordPaymentOutcome(userID uint, update PaymentUpdate) error
	GrantProvisionalEntitlement(userID uint, source string) error

	ListLapsedPremium(cutoff time.Time) ([]models.User, error)
	RevokeLapsedEntitlement(userID uint, audit models.WebhookAudit) error

	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetUserByStripeCustomerID(customerID string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("stripe_customer_id = ?", customerID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) SaveStripeCustomerID(userID uint, customerID string) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Update("stripe_customer_id", customerID).Error
}

func entitlementGrantColumns(grant EntitlementGrant, source string) map[string]interface{} {
	occurred := grant.OccurredAt
	return map[string]interface{}{
		"is_premium":             true,
		"has_premium_access":     true,
		"premium_verified":       true,
		"subscription_status":    models.SubscriptionStatusActive,
		"payment_status":         models.PaymentStatusSucceeded,
		"payment_error":          "",
		"stripe_customer_id":     grant.CustomerID,
		"stripe_subscription_id": grant.SubscriptionID,
		"last_payment_date":      occurred,
		"premium_start_date":     occurred,
		"premium_end_date":       nil,
		"last_event_type":        EventCheckoutCompleted,
		"last_event_event_id":    grant.EventID,
		"last_event_session_id":  grant.SessionID,
		"last_event_occurred_at": occurred,
		"last_verification":      occurred,
		"verification_source":    source,
	}
}

// ApplyEntitlementGrant writes the full entitlement-true update inside a
// transaction that re-reads the account first, so a deleted account cannot
// receive a phantom grant.
func (r *gormRepository) ApplyEntitlementGrant(userID uint, grant EntitlementGrant) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.First(&u, userID).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", u.ID).
			Updates(entitlementGrantColumns(grant, models.VerificationSourceWebhook)).Error
	})
}

// RetryEntitlementGrant is the one-shot compensating write used when the
// post-transaction verification read shows the flags did not land.
func (r *gormRepository) RetryEntitlementGrant(userID uint, grant EntitlementGrant) error {
	columns := entitlementGrantColumns(grant, models.VerificationSourceWebhookRetry)
	columns["entitlement_retry_count"] = gorm.Expr("entitlement_retry_count + 1")
	return r.db.Model(&models.User{}).Where("id = ?", userID).Updates(columns).Error
}

func (r *gormRepository) UpdateSubscriptionStatus(userID uint, update SubscriptionUpdate) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.First(&u, userID).Error; err != nil {
			return err
		}
		columns := map[string]interface{}{
			"subscription_status":    update.Status,
			"last_event_type":        update.EventType,
			"last_event_event_id":    update.EventID,
			"last_event_session_id":  "",
			"last_event_occurred_at": update.OccurredAt,
		}
		if update.SubscriptionID != "" {
			columns["stripe_subscription_id"] = update.SubscriptionID
		}
		if update.RevokePremium {
			columns["is_premium"] = false
			columns["premium_end_date"] = update.OccurredAt
		}
		return tx.Model(&models.User{}).Where("id = ?", u.ID).Updates(columns).Error
	})
}

func (r *gormRepository) RecordPaymentOutcome(userID uint, update PaymentUpdate) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.First(&u, userID).Error; err != nil {
			return err
		}
		columns := map[string]interface{}{
			"last_event_type":        update.EventType,
			"last_event_event_id":    update.EventID,
			"last_event_session_id":  "",
			"last_event_occurred_at": update.OccurredAt,
		}
		if update.Succeeded {
			columns["payment_status"] = models.PaymentStatusSucceeded
			columns["last_payment_date"] = update.OccurredAt
			columns["payment_error"] = ""
		} else {
			columns["payment_status"] = models.PaymentStatusFailed
			columns["payment_error"] = update.FailureMessage
		}
		return tx.Model(&models.User{}).Where("id = ?", u.ID).Updates(columns).Error
	})
}

// GrantProvisionalEntitlement is the gate's optimistic write around the
// payment redirect. It sets only the flags and the audit trail, leaving the
// authoritative fields to the webhook path.
func (r *gormRepository) GrantProvisionalEntitlement(userID uint, source string) error {
	now := time.Now()
	return r.db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"is_premium":          true,
		"has_premium_access":  true,
		"premium_verified":    true,
		"last_verification":   now,
		"verification_source": source,
	}).Error
}

func (r *gormRepository) ListLapsedPremium(cutoff time.Time) ([]models.User, error) {
	var users []models.User
	err := r.db.
		Where("is_premium = ? AND last_payment_date IS NOT NULL AND last_payment_date <= ?", true, cutoff).
		Find(&users).Error
	return users, err
}

func (r *gormRepository) RevokeLapsedEntitlement(userID uint, audit models.WebhookAudit) error {
	now := time.Now()
	return r.db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"is_premium":             false,
		"has_premium_access":     false,
		"premium_verified":       false,
		"subscription_status":    models.SubscriptionStatusExpired,
		"premium_end_date":       now,
		"last_event_type":        audit.Type,
		"last_event_event_id":    audit.EventID,
		"last_event_session_id":  "",
		"last_event_occurred_at": audit.OccurredAt,
		"last_verification":      now,
		"verification_source":    models.VerificationSourceExpirySweep,
	}).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
