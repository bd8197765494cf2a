package entitlements

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/marketlens/marketlens/app/models"
	"github.com/marketlens/marketlens/internal/pkg/billing"
	"github.com/marketlens/marketlens/internal/pkg/cache"
)

// How a gate decision was reached. Exposed for logging and tests.
const (
	SourceCache    = "cache"
	SourceFlags    = "flags"
	SourceStatus   = "status"
	SourceRedirect = "redirect"
	SourceLinkage  = "linkage"
	SourceDenied   = "denied"
)

const (
	decisionTTL = time.Minute

	defaultPollInterval    = 10 * time.Second
	defaultPollMaxAttempts = 30
)

// RedirectHints carries the query parameters the processor appends to the
// post-checkout redirect. A success hint lets the gate admit before the
// webhook has landed.
type RedirectHints struct {
	PaymentSuccess bool
	SessionID      string
}

// Gate decides premium access for a request. It admits on any positive
// signal, writes a provisional grant when a payment redirect or an intact
// subscription linkage contradicts cleared flags, and confirms redirect
// grants with a bounded background poll.
type Gate struct {
	repo            billing.Repository
	pollInterval    time.Duration
	pollMaxAttempts int

	// Seams over the shared cache so unit tests run without Redis.
	cacheGet func(key string) (string, error)
	cacheSet func(key string, value interface{}, ttl time.Duration) error

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewGate creates a gate backed by the billing repository and the shared
// Redis cache.
func NewGate(repo billing.Repository) *Gate {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		repo:            repo,
		pollInterval:    defaultPollInterval,
		pollMaxAttempts: defaultPollMaxAttempts,
		cacheGet:        cache.Get,
		cacheSet:        cache.Set,
		baseCtx:         ctx,
		cancel:          cancel,
	}
}

// Close stops all confirmation polls and waits for them to exit.
func (g *Gate) Close() {
	g.cancel()
	g.wg.Wait()
}

func decisionKey(userID uint) string {
	return fmt.Sprintf("entitlement:user:%d", userID)
}

// CheckAccess decides whether the account may use premium features and
// reports which signal admitted it. Positive decisions are cached for a
// minute; a payment-success redirect always re-reads the record.
func (g *Gate) CheckAccess(ctx context.Context, userID uint, hints RedirectHints) (bool, string, error) {
	_ = ctx
	if !hints.PaymentSuccess {
		if val, err := g.cacheGet(decisionKey(userID)); err == nil && val == "1" {
			return true, SourceCache, nil
		}
	}

	user, err := g.repo.GetUserByID(userID)
	if err != nil {
		return false, SourceDenied, fmt.Errorf("load account %d: %w", userID, err)
	}

	sig := Evaluate(user)
	admitted := sig.Entitled()
	source := SourceDenied
	switch {
	case sig.Flags:
		source = SourceFlags
	case sig.Status:
		source = SourceStatus
	}

	// Repair paths run only when the flags are down. A success redirect
	// means the processor just confirmed payment, so we admit immediately
	// and let the poll catch the webhook. An intact linkage with no
	// explicit revocation means a past grant was lost.
	if !sig.Flags {
		switch {
		case hints.PaymentSuccess:
			if err := g.repo.GrantProvisionalEntitlement(userID, models.VerificationSourceRedirectGrant); err != nil {
				log.Warnf("entitlements: provisional redirect grant failed for user %d: %v", userID, err)
			}
			admitted = true
			source = SourceRedirect
			g.startConfirmationPoll(userID, hints.SessionID)

		case sig.Linkage && !sig.Revoked:
			if err := g.repo.GrantProvisionalEntitlement(userID, models.VerificationSourceLinkageGrant); err != nil {
				log.Warnf("entitlements: provisional linkage grant failed for user %d: %v", userID, err)
			}
			admitted = true
			source = SourceLinkage
		}
	}

	// Steady state with nothing at all: one more direct read before the
	// denial, in case a webhook landed between the first read and now.
	if !admitted {
		fresh, err := g.repo.GetUserByID(userID)
		if err != nil {
			return false, SourceDenied, fmt.Errorf("re-read account %d: %w", userID, err)
		}
		if resig := Evaluate(fresh); resig.Entitled() {
			admitted = true
			source = SourceStatus
			if resig.Flags {
				source = SourceFlags
			}
		}
	}

	if admitted {
		if err := g.cacheSet(decisionKey(userID), "1", decisionTTL); err != nil {
			log.Debugf("entitlements: decision cache write failed for user %d: %v", userID, err)
		}
	}
	return admitted, source, nil
}

// startConfirmationPoll re-reads the account until the webhook path has
// confirmed the provisional grant, or gives up after a bounded number of
// attempts. It only observes; the record is never rewritten from here.
func (g *Gate) startConfirmationPoll(userID uint, sessionID string) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ticker := time.NewTicker(g.pollInterval)
		defer ticker.Stop()

		for attempt := 1; attempt <= g.pollMaxAttempts; attempt++ {
			select {
			case <-g.baseCtx.Done():
				return
			case <-ticker.C:
			}

			user, err := g.repo.GetUserByID(userID)
			if err != nil {
				log.Warnf("entitlements: confirmation poll read failed for user %d: %v", userID, err)
				continue
			}
			if confirmed(user, sessionID) {
				log.Infof("entitlements: redirect grant confirmed for user %d after %d poll(s)", userID, attempt)
				return
			}
		}
		log.Warnf("entitlements: redirect grant for user %d unconfirmed after %d polls", userID, g.pollMaxAttempts)
	}()
}

func confirmed(u *models.User, sessionID string) bool {
	if sessionID != "" && u.LastEvent.SessionID == sessionID {
		return true
	}
	switch u.VerificationSource {
	case models.VerificationSourceWebhook, models.VerificationSourceWebhookRetry:
		return true
	}
	return u.EntitledByStatus()
}
