package entitlements

import (
	"testing"

	"github.com/marketlens/marketlens/app/models"
)

func TestEvaluateFlagsAnySingleFlagGrants(t *testing.T) {
	cases := []struct {
		name string
		user models.User
		want bool
	}{
		{"none", models.User{}, false},
		{"is_premium only", models.User{IsPremium: true}, true},
		{"has_premium_access only", models.User{HasPremiumAccess: true}, true},
		{"premium_verified only", models.User{PremiumVerified: true}, true},
		{"all three", models.User{IsPremium: true, HasPremiumAccess: true, PremiumVerified: true}, true},
	}

	for _, tc := range cases {
		sig := Evaluate(&tc.user)
		if sig.Flags != tc.want {
			t.Fatalf("%s: Flags = %v, want %v", tc.name, sig.Flags, tc.want)
		}
		if sig.Entitled() != tc.want {
			t.Fatalf("%s: Entitled = %v, want %v", tc.name, sig.Entitled(), tc.want)
		}
	}
}

func TestEvaluateStatusSignal(t *testing.T) {
	active := models.User{SubscriptionStatus: models.SubscriptionStatusActive}
	if sig := Evaluate(&active); !sig.Status || !sig.Entitled() {
		t.Fatal("active subscription must entitle")
	}

	paid := models.User{PaymentStatus: models.PaymentStatusSucceeded}
	if sig := Evaluate(&paid); !sig.Status || !sig.Entitled() {
		t.Fatal("succeeded payment must entitle")
	}

	free := models.User{SubscriptionStatus: models.SubscriptionStatusNone, PaymentStatus: models.PaymentStatusNone}
	if sig := Evaluate(&free); sig.Status || sig.Entitled() {
		t.Fatal("free account must not entitle")
	}
}

func TestEvaluateLinkageAndRevocation(t *testing.T) {
	linked := models.User{StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1"}
	if sig := Evaluate(&linked); !sig.Linkage {
		t.Fatal("both foreign keys present must set Linkage")
	}

	half := models.User{StripeCustomerID: "cus_1"}
	if sig := Evaluate(&half); sig.Linkage {
		t.Fatal("customer id alone must not set Linkage")
	}

	for _, status := range []string{
		models.SubscriptionStatusCanceled,
		models.SubscriptionStatusUnpaid,
		models.SubscriptionStatusExpired,
	} {
		u := models.User{SubscriptionStatus: status}
		if sig := Evaluate(&u); !sig.Revoked {
			t.Fatalf("status %q must set Revoked", status)
		}
	}

	u := models.User{SubscriptionStatus: "past_due"}
	if sig := Evaluate(&u); sig.Revoked {
		t.Fatal("past_due must not set Revoked")
	}
}
