package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"voicebridge-backend/internal/broker"
	"voicebridge-backend/internal/domain"
	"voicebridge-backend/pkg/constants"
	"voicebridge-backend/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("ws-test")

type MockSubscriber struct {
	mock.Mock
}

func (m *MockSubscriber) Subscribe(ctx context.Context, handler broker.Handler) {
	m.Called(ctx, handler)
}

type MockConfirmer struct {
	mock.Mock
}

func (m *MockConfirmer) ConfirmDelivered(ctx context.Context, chatID string, sentAt time.Time, messageID uuid.UUID) error {
	args := m.Called(ctx, chatID, sentAt, messageID)
	return args.Error(0)
}

func newTestHub(confirmer DeliveryConfirmer) *Hub {
	return NewHub(new(MockSubscriber), confirmer, testMetrics, "test-instance")
}

// registerLocal installs a client without going through the register channel
func registerLocal(h *Hub, userID uuid.UUID) *Client {
	client := &Client{
		hub:    h,
		send:   make(chan []byte, 8),
		userID: userID,
	}
	h.mu.Lock()
	h.clients[userID] = client
	h.mu.Unlock()
	return client
}

func mustEnvelope(t *testing.T, to uuid.UUID, event string, data any) *broker.Envelope {
	t.Helper()
	env, err := broker.NewEnvelope(to, event, data)
	assert.NoError(t, err)
	return env
}

func TestHandleEnvelope_IgnoresUsersHeldElsewhere(t *testing.T) {
	confirmer := new(MockConfirmer)
	hub := newTestHub(confirmer)

	local := registerLocal(hub, uuid.New())
	remote := uuid.New()

	hub.handleEnvelope(mustEnvelope(t, remote, constants.EventUserStatusChange, map[string]bool{"isOnline": true}))

	assert.Empty(t, local.send)
}

func TestHandleEnvelope_DeliversStatusChange(t *testing.T) {
	confirmer := new(MockConfirmer)
	hub := newTestHub(confirmer)

	client := registerLocal(hub, uuid.New())
	change := &domain.StatusChange{UserID: uuid.New(), IsOnline: true, LastSeen: time.Now()}

	hub.handleEnvelope(mustEnvelope(t, client.userID, constants.EventUserStatusChange, change))

	var frame Frame
	assert.NoError(t, json.Unmarshal(<-client.send, &frame))
	assert.Equal(t, constants.EventUserStatusChange, frame.Event)

	var got domain.StatusChange
	assert.NoError(t, json.Unmarshal(frame.Data, &got))
	assert.Equal(t, change.UserID, got.UserID)
	assert.True(t, got.IsOnline)
}

func TestHandleEnvelope_MessageHandoffConfirmsDelivery(t *testing.T) {
	confirmer := new(MockConfirmer)
	hub := newTestHub(confirmer)

	client := registerLocal(hub, uuid.New())
	message := &domain.Message{
		MessageID:   uuid.New(),
		ChatID:      "a:b",
		SenderID:    uuid.New(),
		RecipientID: client.userID,
		Content:     "hi",
		MessageType: domain.MessageTypeText,
		SentAt:      time.Now().UTC(),
	}

	confirmer.On("ConfirmDelivered", mock.Anything, message.ChatID, mock.AnythingOfType("time.Time"), message.MessageID).Return(nil)

	hub.handleEnvelope(mustEnvelope(t, client.userID, constants.EventOneToOneMessage, message))

	var frame Frame
	assert.NoError(t, json.Unmarshal(<-client.send, &frame))

	var got domain.Message
	assert.NoError(t, json.Unmarshal(frame.Data, &got))
	// The recipient sees the flag already flipped.
	assert.True(t, got.Delivered)
	confirmer.AssertExpectations(t)
}

func TestHandleEnvelope_ConfirmFailureStillDelivers(t *testing.T) {
	confirmer := new(MockConfirmer)
	hub := newTestHub(confirmer)

	client := registerLocal(hub, uuid.New())
	message := &domain.Message{
		MessageID:   uuid.New(),
		ChatID:      "a:b",
		RecipientID: client.userID,
		Content:     "hi",
		SentAt:      time.Now().UTC(),
	}

	confirmer.On("ConfirmDelivered", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	hub.handleEnvelope(mustEnvelope(t, client.userID, constants.EventOneToOneMessage, message))

	var frame Frame
	assert.NoError(t, json.Unmarshal(<-client.send, &frame))

	var got domain.Message
	assert.NoError(t, json.Unmarshal(frame.Data, &got))
	assert.False(t, got.Delivered)
}

func TestRegister_ReconnectSupersedesOldConnection(t *testing.T) {
	confirmer := new(MockConfirmer)
	hub := newTestHub(confirmer)
	userID := uuid.New()

	old := &Client{hub: hub, send: make(chan []byte, 8), userID: userID, connectionID: uuid.NewString()}
	hub.register <- old

	replacement := &Client{hub: hub, send: make(chan []byte, 8), userID: userID, connectionID: uuid.NewString()}
	hub.register <- replacement

	assert.Eventually(t, func() bool {
		current, ok := hub.client(userID)
		return ok && current == replacement
	}, time.Second, 5*time.Millisecond)

	// The old connection's read loop may still be dispatching when it gets
	// replaced; delivering to it must be a silent no-op, not a crash.
	assert.NotPanics(t, func() {
		old.Deliver([]byte(`{"event":"user_status_change"}`))
	})

	_, open := <-old.send
	assert.False(t, open, "superseded client should be detached")

	change := &domain.StatusChange{UserID: uuid.New(), IsOnline: true, LastSeen: time.Now()}
	hub.handleEnvelope(mustEnvelope(t, userID, constants.EventUserStatusChange, change))

	var frame Frame
	assert.NoError(t, json.Unmarshal(<-replacement.send, &frame))
	assert.Equal(t, constants.EventUserStatusChange, frame.Event)
}

func TestUnregister_StaleClientLeavesReplacementAttached(t *testing.T) {
	confirmer := new(MockConfirmer)
	hub := newTestHub(confirmer)
	userID := uuid.New()

	old := &Client{hub: hub, send: make(chan []byte, 8), userID: userID, connectionID: uuid.NewString()}
	hub.register <- old
	replacement := &Client{hub: hub, send: make(chan []byte, 8), userID: userID, connectionID: uuid.NewString()}
	hub.register <- replacement

	// The old connection's teardown races the replacement; its unregister
	// must not evict the newer client.
	hub.unregister <- old

	assert.Eventually(t, func() bool {
		current, ok := hub.client(userID)
		return ok && current == replacement
	}, time.Second, 5*time.Millisecond)
}

func TestResolveTarget(t *testing.T) {
	id := uuid.New()

	to, phone := resolveTarget(id.String(), "")
	assert.Equal(t, id, to)
	assert.Empty(t, phone)

	to, phone = resolveTarget("", "+15551234567")
	assert.Equal(t, uuid.Nil, to)
	assert.Equal(t, "+15551234567", phone)

	// A non-uuid "to" is treated as a phone handle.
	to, phone = resolveTarget("+15557654321", "")
	assert.Equal(t, uuid.Nil, to)
	assert.Equal(t, "+15557654321", phone)
}
