package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicebridge-backend/internal/broker"
	"voicebridge-backend/internal/domain"
	redisRepo "voicebridge-backend/internal/repository/redis"
	"voicebridge-backend/pkg/constants"
	"voicebridge-backend/pkg/logger"
)

// UserRepository is the persistent-presence surface this service needs
type UserRepository interface {
	SetOnline(ctx context.Context, userID uuid.UUID) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
	Touch(ctx context.Context, userID uuid.UUID) error
	LastSeen(ctx context.Context, userID uuid.UUID) (time.Time, error)
	ContactIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// Registry is the shared session registry surface this service needs
type Registry interface {
	Register(ctx context.Context, userID uuid.UUID, entry *redisRepo.RegistryEntry) error
	Refresh(ctx context.Context, userID uuid.UUID) error
	Lookup(ctx context.Context, userID uuid.UUID) (*redisRepo.RegistryEntry, error)
	Remove(ctx context.Context, userID uuid.UUID, connectionID string) (bool, error)
}

// Service tracks who is connected and tells their contacts about it.
// Registry writes are authoritative for realtime routing; the users table is
// a best-effort mirror, so database errors here are logged, not returned.
type Service struct {
	userRepo  UserRepository
	registry  Registry
	publisher broker.Publisher
}

// NewService creates a new presence service
func NewService(userRepo UserRepository, registry Registry, publisher broker.Publisher) *Service {
	return &Service{
		userRepo:  userRepo,
		registry:  registry,
		publisher: publisher,
	}
}

// Connect registers the connection as the user's live session and announces
// the user online to their contacts. A second connection for the same user
// simply overwrites the first.
func (s *Service) Connect(ctx context.Context, userID uuid.UUID, connectionID, instanceID string) error {
	entry := &redisRepo.RegistryEntry{
		ConnectionID: connectionID,
		InstanceID:   instanceID,
		ConnectedAt:  time.Now(),
	}
	if err := s.registry.Register(ctx, userID, entry); err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}

	if err := s.userRepo.SetOnline(ctx, userID); err != nil {
		logger.Warn("failed to mark user online",
			zap.String("user_id", userID.String()), zap.Error(err))
	}

	s.broadcastStatus(ctx, userID, true, time.Now())
	return nil
}

// Heartbeat extends the session lease. If the entry already expired the
// connection is still live, so the session is re-registered rather than
// dropped.
func (s *Service) Heartbeat(ctx context.Context, userID uuid.UUID, connectionID, instanceID string) error {
	err := s.registry.Refresh(ctx, userID)
	if err == redisRepo.ErrNotRegistered {
		entry := &redisRepo.RegistryEntry{
			ConnectionID: connectionID,
			InstanceID:   instanceID,
			ConnectedAt:  time.Now(),
		}
		err = s.registry.Register(ctx, userID, entry)
	}
	if err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}

	if err := s.userRepo.Touch(ctx, userID); err != nil {
		logger.Warn("failed to touch last_seen",
			zap.String("user_id", userID.String()), zap.Error(err))
	}

	return nil
}

// Disconnect tears down the session and announces the user offline,
// reporting whether this connection was in fact the live one. If the
// registry entry belongs to a newer connection the disconnect is stale and
// nothing is announced.
func (s *Service) Disconnect(ctx context.Context, userID uuid.UUID, connectionID string) (bool, error) {
	removed, err := s.registry.Remove(ctx, userID, connectionID)
	if err != nil {
		return false, fmt.Errorf("failed to remove session: %w", err)
	}
	if !removed {
		return false, nil
	}

	now := time.Now()
	if err := s.userRepo.SetOffline(ctx, userID); err != nil {
		logger.Warn("failed to mark user offline",
			zap.String("user_id", userID.String()), zap.Error(err))
	}

	s.broadcastStatus(ctx, userID, false, now)
	return true, nil
}

// Online reports whether a user currently holds a live session
func (s *Service) Online(ctx context.Context, userID uuid.UUID) (bool, error) {
	_, err := s.registry.Lookup(ctx, userID)
	if err == redisRepo.ErrNotRegistered {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ContactStatuses returns the presence of every contact of the user, with
// the registry as the source of truth and last_seen from the users table.
func (s *Service) ContactStatuses(ctx context.Context, userID uuid.UUID) ([]*domain.StatusChange, error) {
	contacts, err := s.userRepo.ContactIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	statuses := make([]*domain.StatusChange, 0, len(contacts))
	for _, contactID := range contacts {
		online, err := s.Online(ctx, contactID)
		if err != nil {
			return nil, err
		}

		lastSeen, err := s.userRepo.LastSeen(ctx, contactID)
		if err != nil {
			logger.Warn("failed to read last_seen",
				zap.String("user_id", contactID.String()), zap.Error(err))
		}

		statuses = append(statuses, &domain.StatusChange{
			UserID:   contactID,
			IsOnline: online,
			LastSeen: lastSeen,
		})
	}

	return statuses, nil
}

// broadcastStatus publishes a status change to every currently-online
// contact. Contacts are bidirectional, so both sides of a contact edge get
// the update. Failures affect freshness, not correctness, and are swallowed.
func (s *Service) broadcastStatus(ctx context.Context, userID uuid.UUID, online bool, lastSeen time.Time) {
	contacts, err := s.userRepo.ContactIDs(ctx, userID)
	if err != nil {
		logger.Warn("failed to list contacts for status broadcast",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	change := &domain.StatusChange{
		UserID:   userID,
		IsOnline: online,
		LastSeen: lastSeen,
	}

	for _, contactID := range contacts {
		if _, err := s.registry.Lookup(ctx, contactID); err != nil {
			if err != redisRepo.ErrNotRegistered {
				logger.Warn("failed to look up contact session",
					zap.String("user_id", contactID.String()), zap.Error(err))
			}
			continue
		}

		env, err := broker.NewEnvelope(contactID, constants.EventUserStatusChange, change)
		if err != nil {
			logger.Warn("failed to build status envelope", zap.Error(err))
			continue
		}
		if err := s.publisher.Publish(ctx, env); err != nil {
			logger.Warn("failed to publish status change",
				zap.String("user_id", contactID.String()), zap.Error(err))
		}
	}
}
