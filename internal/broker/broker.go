// Package broker carries realtime events between server instances. A sender
// and its recipient may be attached to different processes with no shared
// memory; publishing on a channel every instance subscribes to is the only
// path between them.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voicebridge-backend/pkg/logger"
)

// Channel is the shared Pub/Sub channel all instances subscribe to
const Channel = "rt:events"

// Envelope addresses one realtime event to one user. Event is the wire event
// name delivered to the client verbatim; Data is its payload.
type Envelope struct {
	To    uuid.UUID       `json:"to"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope marshals data into an envelope for the given recipient
func NewEnvelope(to uuid.UUID, event string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return &Envelope{To: to, Event: event, Data: raw}, nil
}

// Publisher is the write side of the broker
type Publisher interface {
	Publish(ctx context.Context, env *Envelope) error
}

// Handler consumes envelopes on the read side
type Handler func(env *Envelope)

// RedisBroker implements the broker over Redis Pub/Sub. Delivery to
// subscribers is at-least-once; consumers must be idempotent.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker creates a broker over an existing Redis client
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish sends an envelope to every subscribed instance
func (b *RedisBroker) Publish(ctx context.Context, env *Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}

	return nil
}

// Subscribe consumes envelopes until ctx is cancelled, invoking handler for
// each. Malformed payloads are logged and skipped.
func (b *RedisBroker) Subscribe(ctx context.Context, handler Handler) {
	pubsub := b.client.Subscribe(ctx, Channel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("failed to unmarshal broker envelope", zap.Error(err))
				continue
			}
			handler(&env)
		}
	}
}
