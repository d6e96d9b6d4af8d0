package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/duragraph/duragraph/internal/domain/compilation"
	"github.com/duragraph/duragraph/internal/infrastructure/messaging/nats"
)

// PlanInvalidator drops a cached compiled plan, implemented by the Redis
// cached repository.
type PlanInvalidator interface {
	Invalidate(ctx context.Context, graphID, service, version string) error
}

// PlanCacheListener consumes service-compiled announcements from NATS and
// invalidates the corresponding plan-cache entry, so a recompiled service
// never serves a stale plan past the cache TTL.
type PlanCacheListener struct {
	subscriber  *nats.Subscriber
	invalidator PlanInvalidator
}

// NewPlanCacheListener creates a new plan cache listener
func NewPlanCacheListener(subscriber *nats.Subscriber, invalidator PlanInvalidator) *PlanCacheListener {
	return &PlanCacheListener{subscriber: subscriber, invalidator: invalidator}
}

// Start consumes announcements until ctx is done or the subscription closes.
func (l *PlanCacheListener) Start(ctx context.Context) error {
	topic := buildTopic("compiled_service", "service-compiled")
	messages, err := l.subscriber.Subscribe(topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			// The relay wraps the outbox payload in its event envelope.
			var envelope struct {
				Payload compilation.CompiledAnnouncement `json:"payload"`
			}
			if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
				fmt.Printf("plan cache listener: malformed message: %v\n", err)
				msg.Ack()
				continue
			}

			a := envelope.Payload
			if err := l.invalidator.Invalidate(ctx, a.GraphID, a.Service, a.Version); err != nil {
				fmt.Printf("plan cache listener: invalidate %s/%s@%s: %v\n", a.GraphID, a.Service, a.Version, err)
			}
			msg.Ack()
		}
	}
}
