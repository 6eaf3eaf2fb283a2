package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicebridge-backend/internal/broker"
	"voicebridge-backend/internal/domain"
	"voicebridge-backend/pkg/constants"
	"voicebridge-backend/pkg/logger"
	"voicebridge-backend/pkg/metrics"
)

// Subscriber is the broker's consuming side
type Subscriber interface {
	Subscribe(ctx context.Context, handler broker.Handler)
}

// DeliveryConfirmer flips a message's delivered flag once a live connection
// has taken the hand-off
type DeliveryConfirmer interface {
	ConfirmDelivered(ctx context.Context, chatID string, sentAt time.Time, messageID uuid.UUID) error
}

// Hub owns this instance's live connections, keyed by user. Every instance's
// hub sees every broker envelope; only the one actually holding the target
// user's connection delivers it, the rest ignore it.
type Hub struct {
	// Registered clients, at most one per user
	clients map[uuid.UUID]*Client

	subscriber Subscriber
	confirmer  DeliveryConfirmer
	metrics    *metrics.Metrics

	// instanceID distinguishes this process in shared registry entries
	instanceID string

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client
}

// NewHub creates a hub and starts its registration loop
func NewHub(subscriber Subscriber, confirmer DeliveryConfirmer, m *metrics.Metrics, instanceID string) *Hub {
	hub := &Hub{
		clients:    make(map[uuid.UUID]*Client),
		subscriber: subscriber,
		confirmer:  confirmer,
		metrics:    m,
		instanceID: instanceID,
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}

	go hub.run()

	return hub
}

// Start begins consuming broker envelopes until ctx is cancelled
func (h *Hub) Start(ctx context.Context) {
	go h.subscriber.Subscribe(ctx, h.handleEnvelope)
}

// InstanceID returns this process's identity for registry entries
func (h *Hub) InstanceID() string {
	return h.instanceID
}

// run handles hub registration operations
func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if prev, ok := h.clients[client.userID]; ok {
				// A reconnect replaces the old connection; last writer wins,
				// same as the shared registry.
				prev.closeSend()
			}
			h.clients[client.userID] = client
			h.mu.Unlock()
			h.metrics.ConnectionOpened()

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.userID]; ok && current == client {
				delete(h.clients, client.userID)
				client.closeSend()
			}
			h.mu.Unlock()
			h.metrics.ConnectionClosed()
		}
	}
}

// client returns the local connection for a user, if this instance holds it
func (h *Hub) client(userID uuid.UUID) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[userID]
	return c, ok
}

// handleEnvelope delivers one broker envelope to its target if the target's
// connection lives on this instance. Envelopes for users held elsewhere are
// ignored; the instance that holds them got the same publish.
func (h *Hub) handleEnvelope(env *broker.Envelope) {
	client, ok := h.client(env.To)
	if !ok {
		return
	}

	data := env.Data
	if env.Event == constants.EventOneToOneMessage {
		data = h.confirmDelivery(data)
	}

	frame, err := json.Marshal(&Frame{Event: env.Event, Data: data})
	if err != nil {
		logger.Warn("failed to encode outbound frame",
			zap.String("event", env.Event), zap.Error(err))
		return
	}

	client.Deliver(frame)
}

// confirmDelivery flips the delivered flag in the store and in the payload
// the recipient is about to see. A confirmation failure still delivers the
// message; the flag catches up on the next send or stays false in history.
func (h *Hub) confirmDelivery(data json.RawMessage) json.RawMessage {
	var message domain.Message
	if err := json.Unmarshal(data, &message); err != nil {
		logger.Warn("failed to decode message envelope", zap.Error(err))
		return data
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	if err := h.confirmer.ConfirmDelivered(ctx, message.ChatID, message.SentAt, message.MessageID); err != nil {
		logger.Warn("failed to confirm delivery",
			zap.String("message_id", message.MessageID.String()), zap.Error(err))
		return data
	}

	message.Delivered = true
	updated, err := json.Marshal(&message)
	if err != nil {
		return data
	}
	return updated
}
