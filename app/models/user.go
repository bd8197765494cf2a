package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	ROLE_USER       = "user"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// Subscription lifecycle states as reported by the payment processor.
const (
	SubscriptionStatusNone       = "none"
	SubscriptionStatusActive     = "active"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusUnpaid     = "unpaid"
	SubscriptionStatusExpired    = "expired"
	SubscriptionStatusIncomplete = "incomplete"
)

// Outcome of the most recent payment attempt.
const (
	PaymentStatusNone      = "none"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Code paths that may assert entitlement on a user record.
const (
	VerificationSourceWebhook       = "webhook"
	VerificationSourceWebhookRetry  = "webhook_retry"
	VerificationSourceRedirectGrant = "redirect_grant"
	VerificationSourceLinkageGrant  = "linkage_grant"
	VerificationSourceExpirySweep   = "expiry_sweep"
)

// WebhookAudit is the last-applied billing event on a user record. The
// session id (checkout completion) or event id (everything else) doubles
// as the record-level idempotency key.
type WebhookAudit struct {
	Type       string     `gorm:"type:varchar(100);default:null" json:"type,omitempty"`
	EventID    string     `gorm:"type:varchar(191);default:null" json:"event_id,omitempty"`
	SessionID  string     `gorm:"type:varchar(191);default:null;index" json:"session_id,omitempty"`
	OccurredAt *time.Time `gorm:"type:timestamp;default:null" json:"occurred_at,omitempty"`
}

type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email    string `gorm:"uniqueIndex;type:varchar(200) CHARACTER SET utf8 COLLATE utf8_bin" json:"email" validate:"required,email,min=5,max=200"`
	Password string `gorm:"type:text" json:"-" validate:"required,min=6"`
	Role     string `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	Status   string `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`

	// Entitlement record. The three flags are intentionally redundant;
	// any single one being true grants access, never all three required.
	IsPremium        bool `gorm:"default:false;index" json:"is_premium"`
	HasPremiumAccess bool `gorm:"default:false" json:"has_premium_access"`
	PremiumVerified  bool `gorm:"default:false" json:"premium_verified"`

	SubscriptionStatus string `gorm:"type:varchar(32);not null;default:'none';index" json:"subscription_status"`
	PaymentStatus      string `gorm:"type:varchar(32);not null;default:'none'" json:"payment_status"`
	PaymentError       string `gorm:"type:text" json:"-"`

	StripeCustomerID     string `gorm:"type:varchar(191);default:null;index" json:"-"`
	StripeSubscriptionID string `gorm:"type:varchar(191);default:null" json:"-"`

	LastPaymentDate  *time.Time `gorm:"type:timestamp;default:null;index" json:"last_payment_date,omitempty"`
	PremiumStartDate *time.Time `gorm:"type:timestamp;default:null" json:"premium_start_date,omitempty"`
	PremiumEndDate   *time.Time `gorm:"type:timestamp;default:null" json:"premium_end_date,omitempty"`

	LastEvent WebhookAudit `gorm:"embedded;embeddedPrefix:last_event_" json:"last_webhook_event"`

	LastVerification      *time.Time `gorm:"type:timestamp;default:null" json:"last_verification,omitempty"`
	VerificationSource    string     `gorm:"type:varchar(50);default:null" json:"verification_source,omitempty"`
	EntitlementRetryCount int        `gorm:"default:0" json:"-"`

	LastLoginAt *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// EntitledByFlags reports whether any of the redundant premium flags is set.
func (u *User) EntitledByFlags() bool {
	return u.IsPremium || u.HasPremiumAccess || u.PremiumVerified
}

// EntitledByStatus reports whether processor-side state indicates entitlement.
func (u *User) EntitledByStatus() bool {
	return u.SubscriptionStatus == SubscriptionStatusActive || u.PaymentStatus == PaymentStatusSucceeded
}

// HasSubscriptionLinkage reports whether both processor foreign keys are present.
func (u *User) HasSubscriptionLinkage() bool {
	return u.StripeCustomerID != "" && u.StripeSubscriptionID != ""
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

func CreateUser(username string, email string, password string) (*User, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Name:               username,
		Email:              email,
		Password:           pw,
		Role:               ROLE_USER,
		Status:             STATUS_INACTIVE,
		SubscriptionStatus: SubscriptionStatusNone,
		PaymentStatus:      PaymentStatusNone,
	}

	err = u.Validate()
	if err != nil {
		return nil, err
	}

	return u, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}
