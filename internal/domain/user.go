package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a user identity as stored in Postgres. Contact and block
// relations live in their own tables and are loaded on demand.
type User struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Phone       string    `json:"phone" db:"phone"`
	DisplayName string    `json:"display_name" db:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	IsOnline    bool      `json:"is_online" db:"is_online"`
	LastSeen    time.Time `json:"last_seen" db:"last_seen"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Online derives the effective online status: the explicit flag, or recent
// activity within the freshness window. The flag alone is not trusted because
// an ungraceful disconnect can leave it stale until the registry entry expires.
func (u *User) Online(now time.Time, freshness time.Duration) bool {
	if u.IsOnline {
		return true
	}
	return now.Sub(u.LastSeen) <= freshness
}

// StatusChange is the presence event broadcast to a user's contacts
type StatusChange struct {
	UserID   uuid.UUID `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}
