package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"voicebridge-backend/pkg/constants"
)

// ErrNotRegistered is returned when a user has no live registry entry
var ErrNotRegistered = errors.New("user not registered")

// RegistryEntry maps a user to the connection currently serving them. The
// instance id tells remote processes that the connection is not theirs.
type RegistryEntry struct {
	ConnectionID string    `json:"connection_id"`
	InstanceID   string    `json:"instance_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// RegistryRepository is the shared session registry. At most one live entry
// exists per user; a new connection overwrites the previous one. Entries
// expire on their own TTL when heartbeats stop, which self-heals presence
// after an ungraceful disconnect.
type RegistryRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRegistryRepository creates a new RegistryRepository
func NewRegistryRepository(client *redis.Client) *RegistryRepository {
	return &RegistryRepository{client: client, ttl: constants.RegistryEntryTTL}
}

func registryKey(userID uuid.UUID) string {
	return fmt.Sprintf("registry:%s", userID)
}

// Register stores the entry with TTL, overwriting any prior entry (last
// writer wins)
func (r *RegistryRepository) Register(ctx context.Context, userID uuid.UUID, entry *RegistryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal registry entry: %w", err)
	}

	if err := r.client.Set(ctx, registryKey(userID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}

	return nil
}

// Refresh extends the entry TTL; called on heartbeat
func (r *RegistryRepository) Refresh(ctx context.Context, userID uuid.UUID) error {
	ok, err := r.client.Expire(ctx, registryKey(userID), r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to refresh registry entry: %w", err)
	}
	if !ok {
		return ErrNotRegistered
	}
	return nil
}

// Lookup returns the live entry for a user, or ErrNotRegistered
func (r *RegistryRepository) Lookup(ctx context.Context, userID uuid.UUID) (*RegistryEntry, error) {
	data, err := r.client.Get(ctx, registryKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotRegistered
		}
		return nil, fmt.Errorf("failed to look up registry entry: %w", err)
	}

	var entry RegistryEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry entry: %w", err)
	}

	return &entry, nil
}

// Remove deletes the entry on disconnect and reports whether an entry was
// actually removed. Only the connection named by connectionID is removed; a
// newer connection's entry is left alone so a reconnect racing a stale
// disconnect does not lose its registration.
func (r *RegistryRepository) Remove(ctx context.Context, userID uuid.UUID, connectionID string) (bool, error) {
	entry, err := r.Lookup(ctx, userID)
	if err != nil {
		if err == ErrNotRegistered {
			return false, nil
		}
		return false, err
	}

	if entry.ConnectionID != connectionID {
		return false, nil
	}

	if err := r.client.Del(ctx, registryKey(userID)).Err(); err != nil {
		return false, fmt.Errorf("failed to remove registry entry: %w", err)
	}

	return true, nil
}
