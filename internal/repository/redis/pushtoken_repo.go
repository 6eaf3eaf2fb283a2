package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"voicebridge-backend/pkg/constants"
)

// PushTokenRepository stores device push tokens per user. Tokens expire on
// their own TTL; re-registration on app start keeps live devices fresh.
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new PushTokenRepository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func pushTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("push:tokens:%s", userID)
}

// SaveToken registers a device token for a user
func (r *PushTokenRepository) SaveToken(ctx context.Context, userID uuid.UUID, token string) error {
	key := pushTokensKey(userID)

	if err := r.client.SAdd(ctx, key, token).Err(); err != nil {
		return fmt.Errorf("failed to save push token: %w", err)
	}

	if err := r.client.Expire(ctx, key, constants.PushTokenTTL).Err(); err != nil {
		return fmt.Errorf("failed to set push token expiry: %w", err)
	}

	return nil
}

// RemoveToken drops a device token (logout, token rotation)
func (r *PushTokenRepository) RemoveToken(ctx context.Context, userID uuid.UUID, token string) error {
	if err := r.client.SRem(ctx, pushTokensKey(userID), token).Err(); err != nil {
		return fmt.Errorf("failed to remove push token: %w", err)
	}
	return nil
}

// Tokens returns all registered device tokens for a user
func (r *PushTokenRepository) Tokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	tokens, err := r.client.SMembers(ctx, pushTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get push tokens: %w", err)
	}
	return tokens, nil
}
