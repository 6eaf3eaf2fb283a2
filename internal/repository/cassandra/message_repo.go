package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"voicebridge-backend/internal/domain"
	"voicebridge-backend/pkg/constants"
)

// MessageRepository handles message storage in Cassandra. Messages are
// partitioned by canonical chat id with newest-first clustering, so history
// reads and the seen sweep both touch a single partition.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// Save inserts a new message
func (r *MessageRepository) Save(ctx context.Context, message *domain.Message) error {
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	query := `
		INSERT INTO messages (
			chat_id, sent_at, message_id, sender_id, recipient_id, content,
			message_type, media_url, duration_secs, delivered, seen, seen_at, blocked
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		message.ChatID,
		message.SentAt,
		message.MessageID,
		message.SenderID,
		message.RecipientID,
		message.Content,
		message.MessageType,
		message.MediaURL,
		message.DurationSecs,
		message.Delivered,
		message.Seen,
		message.SeenAt,
		message.Blocked,
	).WithContext(ctx).Exec()

	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

// MarkDelivered flips the delivered flag for one message. Called exactly once
// by the instance that handed the message to a live connection.
func (r *MessageRepository) MarkDelivered(ctx context.Context, chatID string, sentAt time.Time, messageID uuid.UUID) error {
	query := `UPDATE messages SET delivered = true WHERE chat_id = ? AND sent_at = ? AND message_id = ?`

	err := r.session.Query(query, chatID, sentAt, messageID).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to mark message delivered: %w", err)
	}

	return nil
}

// MarkSeenFrom flips seen/seen_at on every unseen message from senderID in
// the chat. Cassandra cannot filter on non-key columns in an UPDATE, so this
// pages through the partition collecting unseen keys and updates each by key.
// Returns the number of messages updated.
func (r *MessageRepository) MarkSeenFrom(ctx context.Context, chatID string, senderID uuid.UUID, seenAt time.Time) (int, error) {
	scan := `
		SELECT sent_at, message_id, sender_id, seen, blocked
		FROM messages
		WHERE chat_id = ?
	`

	iter := r.session.Query(scan, chatID).WithContext(ctx).PageSize(constants.SeenScanPageSize).Iter()

	type key struct {
		sentAt    time.Time
		messageID uuid.UUID
	}
	var targets []key

	var (
		sentAt    time.Time
		messageID uuid.UUID
		rowSender uuid.UUID
		seen      bool
		blocked   bool
	)
	for iter.Scan(&sentAt, &messageID, &rowSender, &seen, &blocked) {
		if rowSender == senderID && !seen && !blocked {
			targets = append(targets, key{sentAt: sentAt, messageID: messageID})
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to scan unseen messages: %w", err)
	}

	update := `UPDATE messages SET seen = true, seen_at = ? WHERE chat_id = ? AND sent_at = ? AND message_id = ?`
	for _, t := range targets {
		err := r.session.Query(update, seenAt, chatID, t.sentAt, t.messageID).WithContext(ctx).Exec()
		if err != nil {
			return 0, fmt.Errorf("failed to mark message seen: %w", err)
		}
	}

	return len(targets), nil
}

// History retrieves chat messages with cursor-based pagination, newest first
func (r *MessageRepository) History(ctx context.Context, chatID string, limit int, pageState []byte) ([]*domain.Message, []byte, error) {
	query := `
		SELECT chat_id, sent_at, message_id, sender_id, recipient_id, content,
		       message_type, media_url, duration_secs, delivered, seen, seen_at, blocked
		FROM messages
		WHERE chat_id = ?
	`

	iter := r.session.Query(query, chatID).WithContext(ctx).PageSize(limit).PageState(pageState).Iter()

	var messages []*domain.Message
	for {
		message := &domain.Message{}
		if !iter.Scan(
			&message.ChatID,
			&message.SentAt,
			&message.MessageID,
			&message.SenderID,
			&message.RecipientID,
			&message.Content,
			&message.MessageType,
			&message.MediaURL,
			&message.DurationSecs,
			&message.Delivered,
			&message.Seen,
			&message.SeenAt,
			&message.Blocked,
		) {
			break
		}
		messages = append(messages, message)
	}

	nextPageState := iter.PageState()

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return messages, nextPageState, nil
}
