package entitlements

import "github.com/marketlens/marketlens/app/models"

// Signals is the read-side view of an account's entitlement state. The
// redundant flag columns, the processor lifecycle fields and the foreign-key
// linkage are evaluated independently so the gate can repair disagreement
// between them.
type Signals struct {
	// Flags is the OR of the redundant premium flags. Any single flag
	// grants access; all three are never required.
	Flags bool

	// Status is true when processor-side state (active subscription or a
	// succeeded payment) indicates entitlement.
	Status bool

	// Linkage is true when both processor foreign keys are present.
	Linkage bool

	// Revoked is true when the subscription reached a state that
	// explicitly ended entitlement. It blocks the linkage repair path.
	Revoked bool
}

// Evaluate derives the entitlement signals from an account record.
func Evaluate(u *models.User) Signals {
	return Signals{
		Flags:   u.EntitledByFlags(),
		Status:  u.EntitledByStatus(),
		Linkage: u.HasSubscriptionLinkage(),
		Revoked: u.SubscriptionStatus == models.SubscriptionStatusCanceled ||
			u.SubscriptionStatus == models.SubscriptionStatusUnpaid ||
			u.SubscriptionStatus == models.SubscriptionStatusExpired,
	}
}

// Entitled reports whether the signals grant access without any repair.
func (s Signals) Entitled() bool {
	return s.Flags || s.Status
}
