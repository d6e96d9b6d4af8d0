package messaging

import (
	"context"
	"strings"

	"github.com/duragraph/duragraph/internal/infrastructure/persistence/postgres"
	"github.com/duragraph/duragraph/internal/pkg/uuid"
)

// OutboxPublisher satisfies the compile service's publisher boundary by
// writing to the transactional outbox instead of NATS directly; the
// OutboxRelay ships the message once the compiled plan is durably stored,
// so a worker never sees a service-compiled announcement for a plan that
// failed to persist.
type OutboxPublisher struct {
	outbox        *postgres.Outbox
	aggregateType string
}

// NewOutboxPublisher creates an outbox-backed publisher for one aggregate type
func NewOutboxPublisher(outbox *postgres.Outbox, aggregateType string) *OutboxPublisher {
	return &OutboxPublisher{outbox: outbox, aggregateType: aggregateType}
}

// Publish enqueues payload under the given topic. The topic's last segment
// becomes the outbox event type, matching the relay's topic reconstruction.
func (p *OutboxPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	segments := strings.Split(topic, ".")
	eventType := segments[len(segments)-1]
	return p.outbox.Enqueue(ctx, uuid.New(), p.aggregateType, topic, eventType, payload)
}
