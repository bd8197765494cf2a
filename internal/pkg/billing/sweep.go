package billing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/marketlens/marketlens/app/models"
)

const (
	defaultSweepInterval = 24 * time.Hour
	premiumGraceDays     = 30
)

// Sweeper revokes entitlement for premium accounts whose last payment is
// older than the grace window. It is the backstop for subscriptions that
// lapse silently, e.g. a card decline where no cancellation event ever
// arrives.
type Sweeper struct {
	repo     Repository
	interval time.Duration
	now      func() time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper with the daily schedule.
func NewSweeper(repo Repository) *Sweeper {
	return &Sweeper{
		repo:     repo,
		interval: defaultSweepInterval,
		now:      time.Now,
	}
}

// Start launches the background sweep loop. Calling Start on a running
// sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop()

	log.Info("billing: expiry sweep started")
}

// Stop terminates the sweep loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	log.Info("billing: expiry sweep stopped")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.SweepOnce(context.Background()); err != nil {
				log.Errorf("billing: expiry sweep pass failed: %v", err)
			}
		}
	}
}

// SweepOnce performs a single expiry pass. The batch query failure is
// returned so the scheduler can surface it; per-account revocations run
// concurrently with no mutual ordering.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	start := s.now()
	cutoff := start.Add(-premiumGraceDays * 24 * time.Hour)

	users, err := s.repo.ListLapsedPremium(cutoff)
	if err != nil {
		log.Errorf("billing: lapsed-premium query failed: %v", err)
		return fmt.Errorf("list lapsed premium accounts: %w", err)
	}
	if len(users) == 0 {
		log.Debugf("billing: expiry sweep found no lapsed accounts (cutoff %s)", cutoff.Format(time.RFC3339))
		return nil
	}

	var revoked int64
	g, _ := errgroup.WithContext(ctx)
	for _, u := range users {
		user := u
		g.Go(func() error {
			occurred := s.now()
			audit := models.WebhookAudit{
				Type:       EventEntitlementExpired,
				EventID:    "sweep_" + uuid.NewString(),
				OccurredAt: &occurred,
			}
			if err := s.repo.RevokeLapsedEntitlement(user.ID, audit); err != nil {
				log.Errorf("billing: expiry revoke failed for user %d: %v", user.ID, err)
				return err
			}
			atomic.AddInt64(&revoked, 1)
			return nil
		})
	}
	err = g.Wait()

	log.Infof("billing: expiry sweep revoked %d of %d lapsed accounts in %s",
		atomic.LoadInt64(&revoked), len(users), time.Since(start))
	return err
}
