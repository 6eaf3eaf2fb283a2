package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"voicebridge-backend/internal/domain"
	"voicebridge-backend/pkg/constants"
)

// ErrCallNotFound is returned when a call session record is absent or expired
var ErrCallNotFound = errors.New("call session not found")

// CallSessionRepository stores the ephemeral, TTL-bound call session records.
// The record in Redis is the single source of truth for a call's state; no
// process keeps call state in memory. A per-user index set supports the
// disconnect sweep.
type CallSessionRepository struct {
	client *redis.Client
}

// NewCallSessionRepository creates a new CallSessionRepository
func NewCallSessionRepository(client *redis.Client) *CallSessionRepository {
	return &CallSessionRepository{client: client}
}

func callKey(callID uuid.UUID) string {
	return fmt.Sprintf("call:%s", callID)
}

func userCallsKey(userID uuid.UUID) string {
	return fmt.Sprintf("user:calls:%s", userID)
}

// Create writes a new session with the ring TTL and indexes it under both
// participants
func (r *CallSessionRepository) Create(ctx context.Context, sess *domain.CallSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal call session: %w", err)
	}

	if err := r.client.Set(ctx, callKey(sess.CallID), data, constants.CallRingTTL).Err(); err != nil {
		return fmt.Errorf("failed to create call session: %w", err)
	}

	for _, userID := range []uuid.UUID{sess.CallerID, sess.CalleeID} {
		key := userCallsKey(userID)
		if err := r.client.SAdd(ctx, key, sess.CallID.String()).Err(); err != nil {
			return fmt.Errorf("failed to index call session: %w", err)
		}
		// Index outlives the ring TTL slightly so expired sessions still
		// get swept out of it
		r.client.Expire(ctx, key, constants.CallRingTTL+constants.CallTerminalTTL)
	}

	return nil
}

// Get returns the live session for a call id, or ErrCallNotFound
func (r *CallSessionRepository) Get(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	data, err := r.client.Get(ctx, callKey(callID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}

	var sess domain.CallSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call session: %w", err)
	}

	return &sess, nil
}

// sessionTTL picks the record TTL for a non-terminal rewrite. Connecting a
// call replaces the remaining ring window with the long active TTL so the
// record outlives any reasonable call; other rewrites keep the remaining TTL.
func sessionTTL(sess *domain.CallSession) time.Duration {
	if sess.Status == domain.CallStatusConnected {
		return constants.CallActiveTTL
	}
	return redis.KeepTTL
}

// Update rewrites a non-terminal session
func (r *CallSessionRepository) Update(ctx context.Context, sess *domain.CallSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal call session: %w", err)
	}

	if err := r.client.Set(ctx, callKey(sess.CallID), data, sessionTTL(sess)).Err(); err != nil {
		return fmt.Errorf("failed to update call session: %w", err)
	}

	if sess.Status == domain.CallStatusConnected {
		// Keep the participant indexes alive as long as the record itself,
		// or the disconnect sweep would miss long calls.
		for _, userID := range []uuid.UUID{sess.CallerID, sess.CalleeID} {
			r.client.Expire(ctx, userCallsKey(userID), constants.CallActiveTTL+constants.CallTerminalTTL)
		}
	}

	return nil
}

// Finalize rewrites a terminal session with the shortened terminal TTL and
// drops it from the participant indexes. The record is kept (briefly) rather
// than deleted so that duplicate terminal events resolve as stale no-ops.
func (r *CallSessionRepository) Finalize(ctx context.Context, sess *domain.CallSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal call session: %w", err)
	}

	if err := r.client.Set(ctx, callKey(sess.CallID), data, constants.CallTerminalTTL).Err(); err != nil {
		return fmt.Errorf("failed to finalize call session: %w", err)
	}

	for _, userID := range []uuid.UUID{sess.CallerID, sess.CalleeID} {
		r.client.SRem(ctx, userCallsKey(userID), sess.CallID.String())
	}

	return nil
}

// ActiveCallIDs returns the ids of live sessions touching a user; used by
// disconnect cleanup. Ids whose record has already expired are pruned from
// the index as a side effect.
func (r *CallSessionRepository) ActiveCallIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	members, err := r.client.SMembers(ctx, userCallsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user calls: %w", err)
	}

	callIDs := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		callID, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		exists, err := r.client.Exists(ctx, callKey(callID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check call session: %w", err)
		}
		if exists == 0 {
			r.client.SRem(ctx, userCallsKey(userID), member)
			continue
		}
		callIDs = append(callIDs, callID)
	}

	return callIDs, nil
}
