package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicebridge-backend/internal/broker"
	"voicebridge-backend/internal/domain"
	redisRepo "voicebridge-backend/internal/repository/redis"
	"voicebridge-backend/pkg/constants"
	apperrors "voicebridge-backend/pkg/errors"
	"voicebridge-backend/pkg/logger"
	"voicebridge-backend/pkg/metrics"
	"voicebridge-backend/pkg/push"
)

// MessageRepository is the message storage surface this service needs
type MessageRepository interface {
	Save(ctx context.Context, message *domain.Message) error
	MarkDelivered(ctx context.Context, chatID string, sentAt time.Time, messageID uuid.UUID) error
	MarkSeenFrom(ctx context.Context, chatID string, senderID uuid.UUID, seenAt time.Time) (int, error)
	History(ctx context.Context, chatID string, limit int, pageState []byte) ([]*domain.Message, []byte, error)
}

// UserRepository resolves recipients and block relationships
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
}

// Registry answers whether a recipient has a live session anywhere
type Registry interface {
	Lookup(ctx context.Context, userID uuid.UUID) (*redisRepo.RegistryEntry, error)
}

// PushTokenRepository lists a user's registered device tokens
type PushTokenRepository interface {
	Tokens(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Service handles 1:1 message fan-out: persist first, then route to the
// recipient's live session via the broker, falling back to a push
// notification when they are offline.
type Service struct {
	messageRepo MessageRepository
	userRepo    UserRepository
	registry    Registry
	publisher   broker.Publisher
	tokenRepo   PushTokenRepository
	pushSender  push.Provider
	metrics     *metrics.Metrics
}

// NewService creates a new chat service
func NewService(
	messageRepo MessageRepository,
	userRepo UserRepository,
	registry Registry,
	publisher broker.Publisher,
	tokenRepo PushTokenRepository,
	pushSender push.Provider,
	m *metrics.Metrics,
) *Service {
	return &Service{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		registry:    registry,
		publisher:   publisher,
		tokenRepo:   tokenRepo,
		pushSender:  pushSender,
		metrics:     m,
	}
}

// SendInput contains an outgoing message. The recipient is addressed by id
// or, when the sender only has them in their phone book, by phone number.
type SendInput struct {
	SenderID     uuid.UUID
	To           uuid.UUID
	ToPhone      string
	Content      string
	MessageType  string
	MediaURL     *string
	DurationSecs int
}

// SeenAck is the coarse read receipt pushed back to a message's sender: all
// their unseen messages in the chat were just seen, not any one in particular.
type SeenAck struct {
	From uuid.UUID `json:"from"`
	Seen bool      `json:"seen"`
}

// Send persists and routes a message. When the recipient has blocked the
// sender the message is stored flagged and never routed, and the sender gets
// no signal that anything was different.
func (s *Service) Send(ctx context.Context, input *SendInput) (*domain.Message, error) {
	if input.Content == "" && input.MediaURL == nil {
		return nil, apperrors.MissingFieldError("message")
	}
	if len(input.Content) > constants.MaxMessageLength {
		return nil, apperrors.ValidationError("message too long")
	}
	if input.MessageType == "" {
		input.MessageType = domain.MessageTypeText
	}
	if !domain.ValidMessageType(input.MessageType) {
		return nil, apperrors.InvalidInputError("unknown message type")
	}

	recipient, err := s.resolveRecipient(ctx, input)
	if err != nil {
		return nil, err
	}
	if recipient.UserID == input.SenderID {
		return nil, apperrors.InvalidInputError("cannot message yourself")
	}

	blocked, err := s.userRepo.IsBlocked(ctx, recipient.UserID, input.SenderID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	message := &domain.Message{
		MessageID:    uuid.New(),
		ChatID:       domain.ChatID(input.SenderID, recipient.UserID),
		SenderID:     input.SenderID,
		RecipientID:  recipient.UserID,
		Content:      input.Content,
		MessageType:  input.MessageType,
		MediaURL:     input.MediaURL,
		DurationSecs: input.DurationSecs,
		Blocked:      blocked,
		SentAt:       time.Now(),
	}

	if err := s.messageRepo.Save(ctx, message); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if blocked {
		// Stored for the sender's own history only. No routing, no push,
		// and the sender must not learn they are blocked.
		s.metrics.RecordMessageBlocked()
		return message, nil
	}

	s.metrics.RecordMessageSent(message.MessageType)
	s.route(ctx, message)

	return message, nil
}

// ConfirmDelivered flips the delivered flag after a live connection accepted
// the message. Called by whichever instance actually held the recipient's
// socket.
func (s *Service) ConfirmDelivered(ctx context.Context, chatID string, sentAt time.Time, messageID uuid.UUID) error {
	if err := s.messageRepo.MarkDelivered(ctx, chatID, sentAt, messageID); err != nil {
		return apperrors.DatabaseError(err)
	}
	s.metrics.RecordMessageDelivered(sentAt)
	return nil
}

// MarkSeen marks every unseen message from otherID in the shared chat as
// seen and tells otherID about it. The count of updated messages is
// returned; the sender only ever gets a coarse "your messages were seen"
// signal, not per-message receipts.
func (s *Service) MarkSeen(ctx context.Context, readerID, otherID uuid.UUID) (int, error) {
	chatID := domain.ChatID(readerID, otherID)

	count, err := s.messageRepo.MarkSeenFrom(ctx, chatID, otherID, time.Now())
	if err != nil {
		return 0, apperrors.DatabaseError(err)
	}
	if count == 0 {
		return 0, nil
	}

	if _, err := s.registry.Lookup(ctx, otherID); err != nil {
		if err != redisRepo.ErrNotRegistered {
			logger.Warn("failed to look up sender session for seen ack", zap.Error(err))
		}
		return count, nil
	}

	ack := &SeenAck{From: readerID, Seen: true}
	env, err := broker.NewEnvelope(otherID, constants.EventSeenMessage, ack)
	if err != nil {
		logger.Warn("failed to build seen envelope", zap.Error(err))
		return count, nil
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		logger.Warn("failed to publish seen ack",
			zap.String("user_id", otherID.String()), zap.Error(err))
	}

	return count, nil
}

// History returns the chat between userID and otherID, newest first. Rows a
// block suppressed exist only for their sender; the other party never sees
// them.
func (s *Service) History(ctx context.Context, userID, otherID uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error) {
	if limit <= 0 || limit > constants.MaxPageSize {
		limit = constants.DefaultPageSize
	}

	chatID := domain.ChatID(userID, otherID)
	messages, nextPageState, err := s.messageRepo.History(ctx, chatID, limit, pageState)
	if err != nil {
		return nil, nil, apperrors.DatabaseError(err)
	}

	visible := make([]*domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Blocked && m.SenderID != userID {
			continue
		}
		visible = append(visible, m)
	}

	return visible, nextPageState, nil
}

func (s *Service) resolveRecipient(ctx context.Context, input *SendInput) (*domain.User, error) {
	if input.To != uuid.Nil {
		return s.userRepo.GetByID(ctx, input.To)
	}
	if input.ToPhone != "" {
		return s.userRepo.GetByPhone(ctx, input.ToPhone)
	}
	return nil, apperrors.MissingFieldError("to")
}

// route hands the message to the recipient's live session, or falls back to
// a push notification. Routing failures never fail Send: the message is
// already durable and history reads will surface it.
func (s *Service) route(ctx context.Context, message *domain.Message) {
	_, err := s.registry.Lookup(ctx, message.RecipientID)
	if err == nil {
		env, err := broker.NewEnvelope(message.RecipientID, constants.EventOneToOneMessage, message)
		if err != nil {
			logger.Warn("failed to build message envelope", zap.Error(err))
			return
		}
		if err := s.publisher.Publish(ctx, env); err != nil {
			logger.Warn("failed to publish message",
				zap.String("message_id", message.MessageID.String()), zap.Error(err))
		}
		return
	}
	if err != redisRepo.ErrNotRegistered {
		logger.Warn("failed to look up recipient session", zap.Error(err))
		return
	}

	s.notifyOffline(ctx, message)
}

func (s *Service) notifyOffline(ctx context.Context, message *domain.Message) {
	tokens, err := s.tokenRepo.Tokens(ctx, message.RecipientID)
	if err != nil {
		logger.Warn("failed to load push tokens",
			zap.String("user_id", message.RecipientID.String()), zap.Error(err))
		return
	}
	if len(tokens) == 0 {
		return
	}

	sender, err := s.userRepo.GetByID(ctx, message.SenderID)
	title := "New message"
	if err == nil {
		title = sender.DisplayName
	}

	notification := &push.Notification{
		Title: title,
		Body:  "You have a new message",
		Data: map[string]string{
			"type": constants.EventOneToOneMessage,
			"from": message.SenderID.String(),
		},
	}

	if err := s.pushSender.Send(ctx, tokens, notification); err != nil {
		s.metrics.RecordPushFailed()
		logger.Warn("failed to send push notification",
			zap.String("user_id", message.RecipientID.String()), zap.Error(err))
		return
	}
	s.metrics.RecordPushSent()
}
