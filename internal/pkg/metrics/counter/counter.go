package counter

import (
	"context"
	"strconv"

	"github.com/marketlens/marketlens/internal/pkg/cache"
)

const (
	webhookEventsKey  = "billing:counters:webhook_events"
	gateDecisionsKey  = "billing:counters:gate_decisions"
	checkoutIssuedKey = "billing:counters:checkout_sessions"
)

// AddWebhookEvent increments the per-type counter for a verified webhook
// event in Redis. Counting happens after signature verification so forged
// deliveries never show up here.
func AddWebhookEvent(eventType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookEventsKey, eventType, 1).Err()
}

// AddGateDecision increments the counter for a gate decision source.
func AddGateDecision(source string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, gateDecisionsKey, source, 1).Err()
}

// AddCheckoutSession increments the issued checkout-session counter.
func AddCheckoutSession() error {
	ctx := context.Background()
	return cache.GetClient().Incr(ctx, checkoutIssuedKey).Err()
}

// WebhookEventCounts returns the per-type webhook counters.
func WebhookEventCounts() (map[string]int64, error) {
	return snapshotHash(webhookEventsKey)
}

// GateDecisionCounts returns the per-source gate decision counters.
func GateDecisionCounts() (map[string]int64, error) {
	return snapshotHash(gateDecisionsKey)
}

// CheckoutSessionCount returns the number of issued checkout sessions.
func CheckoutSessionCount() (int64, error) {
	ctx := context.Background()
	val, err := cache.GetClient().Get(ctx, checkoutIssuedKey).Int64()
	if err != nil {
		// Missing key means nothing was counted yet
		if err.Error() == "redis: nil" {
			return 0, nil
		}
		return 0, err
	}
	return val, nil
}

func snapshotHash(key string) (map[string]int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(data))
	for field, raw := range data {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			continue
		}
		counts[field] = n
	}
	return counts, nil
}
