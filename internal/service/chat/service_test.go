package chat

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
	redisRepo "voicebridge-backend/internal/repository/redis"
	"voicebridge-backend/pkg/constants"
	apperrors "voicebridge-backend/pkg/errors"
	"voicebridge-backend/pkg/metrics"
	"voicebridge-backend/pkg/push"
)

var testMetrics = metrics.NewMetrics("chat-test")

// Mocks
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Save(ctx context.Context, message *domain.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockMessageRepository) MarkDelivered(ctx context.Context, chatID string, sentAt time.Time, messageID uuid.UUID) error {
	args := m.Called(ctx, chatID, sentAt, messageID)
	return args.Error(0)
}

func (m *MockMessageRepository) MarkSeenFrom(ctx context.Context, chatID string, senderID uuid.UUID, seenAt time.Time) (int, error) {
	args := m.Called(ctx, chatID, senderID, seenAt)
	return args.Int(0), args.Error(1)
}

func (m *MockMessageRepository) History(ctx context.Context, chatID string, limit int, pageState []byte) ([]*domain.Message, []byte, error) {
	args := m.Called(ctx, chatID, limit, pageState)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).([]*domain.Message), nil, args.Error(2)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	args := m.Called(ctx, blockerID, blockedID)
	return args.Bool(0), args.Error(1)
}

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Lookup(ctx context.Context, userID uuid.UUID) (*redisRepo.RegistryEntry, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*redisRepo.RegistryEntry), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, env *broker.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) Tokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockPushProvider struct {
	mock.Mock
}

func (m *MockPushProvider) Send(ctx context.Context, tokens []string, n *push.Notification) error {
	args := m.Called(ctx, tokens, n)
	return args.Error(0)
}

func newTestService() (*Service, *MockMessageRepository, *MockUserRepository, *MockRegistry, *MockPublisher, *MockTokenRepository, *MockPushProvider) {
	messageRepo := new(MockMessageRepository)
	userRepo := new(MockUserRepository)
	registry := new(MockRegistry)
	publisher := new(MockPublisher)
	tokenRepo := new(MockTokenRepository)
	provider := new(MockPushProvider)
	svc := NewService(messageRepo, userRepo, registry, publisher, tokenRepo, provider, testMetrics)
	return svc, messageRepo, userRepo, registry, publisher, tokenRepo, provider
}

func TestSend_OnlineRecipientGetsPublished(t *testing.T) {
	svc, messageRepo, userRepo, registry, publisher, _, _ := newTestService()

	senderID := uuid.New()
	recipient := &domain.User{UserID: uuid.New(), DisplayName: "Bob"}

	userRepo.On("GetByID", mock.Anything, recipient.UserID).Return(recipient, nil)
	userRepo.On("IsBlocked", mock.Anything, recipient.UserID, senderID).Return(false, nil)
	messageRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Message")).Return(nil)
	registry.On("Lookup", mock.Anything, recipient.UserID).Return(&redisRepo.RegistryEntry{ConnectionID: "c1"}, nil)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(env *broker.Envelope) bool {
		return env.To == recipient.UserID && env.Event == constants.EventOneToOneMessage
	})).Return(nil)

	message, err := svc.Send(context.Background(), &SendInput{
		SenderID: senderID,
		To:       recipient.UserID,
		Content:  "hello",
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.ChatID(senderID, recipient.UserID), message.ChatID)
	assert.False(t, message.Delivered)
	publisher.AssertExpectations(t)
}

func TestSend_OfflineRecipientGetsPush(t *testing.T) {
	svc, messageRepo, userRepo, registry, publisher, tokenRepo, provider := newTestService()

	sender := &domain.User{UserID: uuid.New(), DisplayName: "Alice"}
	recipient := &domain.User{UserID: uuid.New()}

	userRepo.On("GetByID", mock.Anything, recipient.UserID).Return(recipient, nil)
	userRepo.On("GetByID", mock.Anything, sender.UserID).Return(sender, nil)
	userRepo.On("IsBlocked", mock.Anything, recipient.UserID, sender.UserID).Return(false, nil)
	messageRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	registry.On("Lookup", mock.Anything, recipient.UserID).Return(nil, redisRepo.ErrNotRegistered)
	tokenRepo.On("Tokens", mock.Anything, recipient.UserID).Return([]string{"device-token"}, nil)
	provider.On("Send", mock.Anything, []string{"device-token"}, mock.MatchedBy(func(n *push.Notification) bool {
		return n.Title == "Alice"
	})).Return(nil)

	_, err := svc.Send(context.Background(), &SendInput{
		SenderID: sender.UserID,
		To:       recipient.UserID,
		Content:  "hello",
	})

	assert.NoError(t, err)
	publisher.AssertNotCalled(t, "Publish")
	provider.AssertExpectations(t)
}

func TestSend_BlockedIsSilentlySuppressed(t *testing.T) {
	svc, messageRepo, userRepo, registry, publisher, _, provider := newTestService()

	senderID := uuid.New()
	recipient := &domain.User{UserID: uuid.New()}

	userRepo.On("GetByID", mock.Anything, recipient.UserID).Return(recipient, nil)
	userRepo.On("IsBlocked", mock.Anything, recipient.UserID, senderID).Return(true, nil)
	messageRepo.On("Save", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Blocked
	})).Return(nil)

	message, err := svc.Send(context.Background(), &SendInput{
		SenderID: senderID,
		To:       recipient.UserID,
		Content:  "hello",
	})

	// The sender sees a normal send result.
	assert.NoError(t, err)
	assert.NotNil(t, message)
	registry.AssertNotCalled(t, "Lookup")
	publisher.AssertNotCalled(t, "Publish")
	provider.AssertNotCalled(t, "Send")
}

func TestSend_ResolvesRecipientByPhone(t *testing.T) {
	svc, messageRepo, userRepo, registry, publisher, _, _ := newTestService()

	senderID := uuid.New()
	recipient := &domain.User{UserID: uuid.New(), Phone: "+15551234567"}

	userRepo.On("GetByPhone", mock.Anything, recipient.Phone).Return(recipient, nil)
	userRepo.On("IsBlocked", mock.Anything, recipient.UserID, senderID).Return(false, nil)
	messageRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	registry.On("Lookup", mock.Anything, recipient.UserID).Return(&redisRepo.RegistryEntry{}, nil)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	message, err := svc.Send(context.Background(), &SendInput{
		SenderID: senderID,
		ToPhone:  recipient.Phone,
		Content:  "hello",
	})

	assert.NoError(t, err)
	assert.Equal(t, recipient.UserID, message.RecipientID)
}

func TestSend_UnknownRecipient(t *testing.T) {
	svc, _, userRepo, _, _, _, _ := newTestService()

	target := uuid.New()
	userRepo.On("GetByID", mock.Anything, target).Return(nil, apperrors.UserNotFoundError())

	_, err := svc.Send(context.Background(), &SendInput{
		SenderID: uuid.New(),
		To:       target,
		Content:  "hello",
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUserNotFound))
}

func TestSend_PersistFailureFailsSend(t *testing.T) {
	svc, messageRepo, userRepo, _, publisher, _, _ := newTestService()

	senderID := uuid.New()
	recipient := &domain.User{UserID: uuid.New()}

	userRepo.On("GetByID", mock.Anything, recipient.UserID).Return(recipient, nil)
	userRepo.On("IsBlocked", mock.Anything, recipient.UserID, senderID).Return(false, nil)
	messageRepo.On("Save", mock.Anything, mock.Anything).Return(assert.AnError)

	_, err := svc.Send(context.Background(), &SendInput{
		SenderID: senderID,
		To:       recipient.UserID,
		Content:  "hello",
	})

	assert.Error(t, err)
	publisher.AssertNotCalled(t, "Publish")
}

func TestMarkSeen_AcksSenderWhenOnline(t *testing.T) {
	svc, messageRepo, _, registry, publisher, _, _ := newTestService()

	readerID := uuid.New()
	otherID := uuid.New()
	chatID := domain.ChatID(readerID, otherID)

	messageRepo.On("MarkSeenFrom", mock.Anything, chatID, otherID, mock.AnythingOfType("time.Time")).Return(3, nil)
	registry.On("Lookup", mock.Anything, otherID).Return(&redisRepo.RegistryEntry{}, nil)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(env *broker.Envelope) bool {
		var ack SeenAck
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			return false
		}
		return env.To == otherID && env.Event == constants.EventSeenMessage &&
			ack.From == readerID && ack.Seen
	})).Return(nil)

	count, err := svc.MarkSeen(context.Background(), readerID, otherID)

	assert.NoError(t, err)
	assert.Equal(t, 3, count)
	publisher.AssertExpectations(t)
}

func TestMarkSeen_NothingToMarkSkipsAck(t *testing.T) {
	svc, messageRepo, _, registry, publisher, _, _ := newTestService()

	readerID := uuid.New()
	otherID := uuid.New()

	messageRepo.On("MarkSeenFrom", mock.Anything, mock.Anything, otherID, mock.Anything).Return(0, nil)

	count, err := svc.MarkSeen(context.Background(), readerID, otherID)

	assert.NoError(t, err)
	assert.Zero(t, count)
	registry.AssertNotCalled(t, "Lookup")
	publisher.AssertNotCalled(t, "Publish")
}

func TestHistory_HidesBlockedRowsFromRecipient(t *testing.T) {
	svc, messageRepo, _, _, _, _, _ := newTestService()

	userID := uuid.New()
	otherID := uuid.New()
	chatID := domain.ChatID(userID, otherID)

	messages := []*domain.Message{
		{MessageID: uuid.New(), SenderID: otherID, RecipientID: userID, Blocked: true},
		{MessageID: uuid.New(), SenderID: userID, RecipientID: otherID, Blocked: true},
		{MessageID: uuid.New(), SenderID: otherID, RecipientID: userID},
	}
	messageRepo.On("History", mock.Anything, chatID, constants.DefaultPageSize, mock.Anything).Return(messages, nil, nil)

	visible, _, err := svc.History(context.Background(), userID, otherID, 0, nil)

	assert.NoError(t, err)
	// The blocked row from otherID is hidden; the user's own blocked row stays.
	assert.Len(t, visible, 2)
	assert.Equal(t, messages[1].MessageID, visible[0].MessageID)
	assert.Equal(t, messages[2].MessageID, visible[1].MessageID)
}

func TestConfirmDelivered(t *testing.T) {
	svc, messageRepo, _, _, _, _, _ := newTestService()

	chatID := "a:b"
	sentAt := time.Now()
	messageID := uuid.New()

	messageRepo.On("MarkDelivered", mock.Anything, chatID, sentAt, messageID).Return(nil)

	err := svc.ConfirmDelivered(context.Background(), chatID, sentAt, messageID)

	assert.NoError(t, err)
	messageRepo.AssertExpectations(t)
}
