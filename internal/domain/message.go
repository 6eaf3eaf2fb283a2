package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message types
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeAudio = "audio"
)

// Message represents a one-to-one chat message.
// Maps to the Cassandra messages table, partitioned by chat id.
//
// Delivered and Seen are independent: Delivered flips true at most once when a
// live connection takes the hand-off; Seen flips on an explicit acknowledgment
// and may become true for messages that were never marked delivered (the
// recipient fetched them after reconnecting). That asymmetry is accepted, not
// corrected.
type Message struct {
	MessageID    uuid.UUID  `json:"message_id"`
	ChatID       string     `json:"chat_id"`
	SenderID     uuid.UUID  `json:"sender_id"`
	RecipientID  uuid.UUID  `json:"recipient_id"`
	Content      string     `json:"content"`
	MessageType  string     `json:"message_type"`
	MediaURL     *string    `json:"media_url,omitempty"`
	DurationSecs int        `json:"duration_secs,omitempty"`
	Delivered    bool       `json:"delivered"`
	Seen         bool       `json:"seen"`
	SeenAt       *time.Time `json:"seen_at,omitempty"`
	Blocked      bool       `json:"-"`
	SentAt       time.Time  `json:"sent_at"`
}

// ChatID returns the canonical partition key for a user pair: the two ids
// sorted lexicographically and joined, so both directions land in the same
// partition.
func ChatID(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if strings.Compare(as, bs) > 0 {
		as, bs = bs, as
	}
	return as + ":" + bs
}

// ValidMessageType reports whether t is a known message type
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio:
		return true
	}
	return false
}
