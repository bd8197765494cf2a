package entitlements

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/marketlens/marketlens/app/models"
	"github.com/marketlens/marketlens/internal/pkg/billing"
)

// gateRepo implements billing.Repository with just enough behavior for the
// gate. Unused operations fail the test when reached.
type gateRepo struct {
	t  *testing.T
	mu sync.Mutex

	users       map[uint]*models.User
	lookups     int
	provisional map[uint]string

	// When set, the record gains its flags once this many lookups have
	// happened, simulating a webhook landing between two reads.
	flagsAfterLookups int
}

func newGateRepo(t *testing.T, users ...*models.User) *gateRepo {
	r := &gateRepo{t: t, users: make(map[uint]*models.User), provisional: make(map[uint]string)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *gateRepo) GetUserByID(id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	if r.flagsAfterLookups > 0 && r.lookups >= r.flagsAfterLookups {
		cp.IsPremium = true
	}
	return &cp, nil
}

func (r *gateRepo) GrantProvisionalEntitlement(userID uint, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provisional[userID] = source
	if u, ok := r.users[userID]; ok {
		u.IsPremium = true
		u.HasPremiumAccess = true
		u.PremiumVerified = true
		u.VerificationSource = source
	}
	return nil
}

func (r *gateRepo) lookupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

func (r *gateRepo) provisionalSource(userID uint) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.provisional[userID]
}

func (r *gateRepo) GetUserByStripeCustomerID(string) (*models.User, error) {
	r.t.Fatal("unexpected GetUserByStripeCustomerID")
	return nil, nil
}
func (r *gateRepo) SaveStripeCustomerID(uint, string) error {
	r.t.Fatal("unexpected SaveStripeCustomerID")
	return nil
}
func (r *gateRepo) ApplyEntitlementGrant(uint, billing.EntitlementGrant) error {
	r.t.Fatal("unexpected ApplyEntitlementGrant")
	return nil
}
func (r *gateRepo) RetryEntitlementGrant(uint, billing.EntitlementGrant) error {
	r.t.Fatal("unexpected RetryEntitlementGrant")
	return nil
}
func (r *gateRepo) UpdateSubscriptionStatus(uint, billing.SubscriptionUpdate) error {
	r.t.Fatal("unexpected UpdateSubscriptionStatus")
	return nil
}
func (r *gateRepo) RecordPaymentOutcome(uint, billing.PaymentUpdate) error {
	r.t.Fatal("unexpected RecordPaymentOutcome")
	return nil
}
func (r *gateRepo) ListLapsedPremium(time.Time) ([]models.User, error) {
	r.t.Fatal("unexpected ListLapsedPremium")
	return nil, nil
}
func (r *gateRepo) RevokeLapsedEntitlement(uint, models.WebhookAudit) error {
	r.t.Fatal("unexpected RevokeLapsedEntitlement")
	return nil
}
func (r *gateRepo) CreateWebhookEventIfNotExists(*models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.t.Fatal("unexpected CreateWebhookEventIfNotExists")
	return false, nil, nil
}
func (r *gateRepo) MarkWebhookProcessed(uint, string) error {
	r.t.Fatal("unexpected MarkWebhookProcessed")
	return nil
}

type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string]string)}
}

func (m *memoryCache) get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memoryCache) set(key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value.(string)
	return nil
}

func newTestGate(repo billing.Repository, mem *memoryCache) *Gate {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		repo:            repo,
		pollInterval:    time.Millisecond,
		pollMaxAttempts: 3,
		cacheGet:        mem.get,
		cacheSet:        mem.set,
		baseCtx:         ctx,
		cancel:          cancel,
	}
}

func TestCheckAccessAdmitsOnAnyFlag(t *testing.T) {
	for _, u := range []*models.User{
		{ID: 1, IsPremium: true},
		{ID: 1, HasPremiumAccess: true},
		{ID: 1, PremiumVerified: true},
	} {
		repo := newGateRepo(t, u)
		g := newTestGate(repo, newMemoryCache())
		defer g.Close()

		admitted, source, err := g.CheckAccess(context.Background(), 1, RedirectHints{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !admitted || source != SourceFlags {
			t.Fatalf("admitted=%v source=%q, want flag admit", admitted, source)
		}
		if repo.provisionalSource(1) != "" {
			t.Fatal("no provisional grant expected when a flag is set")
		}
	}
}

func TestCheckAccessCachesPositiveDecision(t *testing.T) {
	repo := newGateRepo(t, &models.User{ID: 2, IsPremium: true})
	mem := newMemoryCache()
	g := newTestGate(repo, mem)
	defer g.Close()

	if admitted, _, _ := g.CheckAccess(context.Background(), 2, RedirectHints{}); !admitted {
		t.Fatal("first check must admit")
	}
	first := repo.lookupCount()

	admitted, source, err := g.CheckAccess(context.Background(), 2, RedirectHints{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted || source != SourceCache {
		t.Fatalf("admitted=%v source=%q, want cache hit", admitted, source)
	}
	if repo.lookupCount() != first {
		t.Fatal("cache hit must not read the database")
	}
}

func TestCheckAccessStatusAdmits(t *testing.T) {
	repo := newGateRepo(t, &models.User{ID: 3, SubscriptionStatus: models.SubscriptionStatusActive})
	g := newTestGate(repo, newMemoryCache())
	defer g.Close()

	admitted, source, err := g.CheckAccess(context.Background(), 3, RedirectHints{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted || source != SourceStatus {
		t.Fatalf("admitted=%v source=%q, want status admit", admitted, source)
	}
}

func TestCheckAccessRedirectGrantsProvisionally(t *testing.T) {
	repo := newGateRepo(t, &models.User{ID: 4})
	g := newTestGate(repo, newMemoryCache())

	hints := RedirectHints{PaymentSuccess: true, SessionID: "cs_back"}
	admitted, source, err := g.CheckAccess(context.Background(), 4, hints)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted || source != SourceRedirect {
		t.Fatalf("admitted=%v source=%q, want redirect admit", admitted, source)
	}
	if repo.provisionalSource(4) != models.VerificationSourceRedirectGrant {
		t.Fatalf("provisional source = %q", repo.provisionalSource(4))
	}

	// The confirmation poll re-reads the record until the webhook path
	// shows up. The provisional grant above stamped the record, so the
	// poll finishes within its attempt budget.
	g.Close()
}

func TestCheckAccessRedirectBypassesCache(t *testing.T) {
	repo := newGateRepo(t, &models.User{ID: 5, IsPremium: true})
	mem := newMemoryCache()
	mem.values["entitlement:user:5"] = "1"
	g := newTestGate(repo, mem)
	defer g.Close()

	if _, _, err := g.CheckAccess(context.Background(), 5, RedirectHints{PaymentSuccess: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lookupCount() == 0 {
		t.Fatal("payment redirect must re-read the record instead of trusting the cache")
	}
}

func TestCheckAccessLinkageGrantsProvisionally(t *testing.T) {
	repo := newGateRepo(t, &models.User{
		ID:                   6,
		StripeCustomerID:     "cus_6",
		StripeSubscriptionID: "sub_6",
	})
	g := newTestGate(repo, newMemoryCache())
	defer g.Close()

	admitted, source, err := g.CheckAccess(context.Background(), 6, RedirectHints{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted || source != SourceLinkage {
		t.Fatalf("admitted=%v source=%q, want linkage admit", admitted, source)
	}
	if repo.provisionalSource(6) != models.VerificationSourceLinkageGrant {
		t.Fatalf("provisional source = %q", repo.provisionalSource(6))
	}
}

func TestCheckAccessRevokedStatusBlocksLinkage(t *testing.T) {
	for _, status := range []string{
		models.SubscriptionStatusCanceled,
		models.SubscriptionStatusUnpaid,
		models.SubscriptionStatusExpired,
	} {
		repo := newGateRepo(t, &models.User{
			ID:                   7,
			StripeCustomerID:     "cus_7",
			StripeSubscriptionID: "sub_7",
			SubscriptionStatus:   status,
		})
		g := newTestGate(repo, newMemoryCache())

		admitted, source, err := g.CheckAccess(context.Background(), 7, RedirectHints{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", status, err)
		}
		if admitted || source != SourceDenied {
			t.Fatalf("%s: admitted=%v source=%q, want denial", status, admitted, source)
		}
		if repo.provisionalSource(7) != "" {
			t.Fatalf("%s: linkage grant must not run for revoked status", status)
		}
		g.Close()
	}
}

func TestCheckAccessDeniesFreeAccount(t *testing.T) {
	repo := newGateRepo(t, &models.User{ID: 8})
	mem := newMemoryCache()
	g := newTestGate(repo, mem)
	defer g.Close()

	admitted, source, err := g.CheckAccess(context.Background(), 8, RedirectHints{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if admitted || source != SourceDenied {
		t.Fatalf("admitted=%v source=%q, want denial", admitted, source)
	}
	if repo.lookupCount() != 2 {
		t.Fatalf("lookups = %d, want a second read before the denial", repo.lookupCount())
	}
	if _, ok := mem.values["entitlement:user:8"]; ok {
		t.Fatal("denials must not be cached")
	}
}

func TestCheckAccessFinalReReadCatchesLateGrant(t *testing.T) {
	repo := newGateRepo(t, &models.User{ID: 10})
	repo.flagsAfterLookups = 2
	g := newTestGate(repo, newMemoryCache())
	defer g.Close()

	admitted, source, err := g.CheckAccess(context.Background(), 10, RedirectHints{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted || source != SourceFlags {
		t.Fatalf("admitted=%v source=%q, want the second read to admit", admitted, source)
	}
	if repo.provisionalSource(10) != "" {
		t.Fatal("no provisional grant expected on the re-read path")
	}
}

func TestCloseCancelsConfirmationPoll(t *testing.T) {
	repo := newGateRepo(t, &models.User{ID: 11})
	g := newTestGate(repo, newMemoryCache())
	g.pollInterval = time.Hour

	if _, _, err := g.CheckAccess(context.Background(), 11, RedirectHints{PaymentSuccess: true, SessionID: "cs_hang"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		g.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the confirmation poll")
	}
}

func TestCheckAccessUnknownAccount(t *testing.T) {
	repo := newGateRepo(t)
	g := newTestGate(repo, newMemoryCache())
	defer g.Close()

	admitted, _, err := g.CheckAccess(context.Background(), 99, RedirectHints{})
	if err == nil {
		t.Fatal("expected error for unknown account")
	}
	if admitted {
		t.Fatal("unknown account must not be admitted")
	}
}
