package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voicebridge-backend/internal/domain"
	apperrors "voicebridge-backend/pkg/errors"
)

// UserRepository handles user identity, contact, and block data in Postgres
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `user_id, phone, display_name, avatar_url, is_online, last_seen, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.UserID,
		&user.Phone,
		&user.DisplayName,
		&user.AvatarURL,
		&user.IsOnline,
		&user.LastSeen,
		&user.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by id
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, userID))
}

// GetByPhone retrieves a user by phone handle
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	return scanUser(r.pool.QueryRow(ctx, query, phone))
}

// SetOnline marks a user online and stamps last_seen
func (r *UserRepository) SetOnline(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE users SET is_online = TRUE, last_seen = now() WHERE user_id = $1`
	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	return nil
}

// SetOffline marks a user offline and stamps last_seen
func (r *UserRepository) SetOffline(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE users SET is_online = FALSE, last_seen = now() WHERE user_id = $1`
	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to set user offline: %w", err)
	}
	return nil
}

// Touch refreshes last_seen on heartbeat
func (r *UserRepository) Touch(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE users SET last_seen = now() WHERE user_id = $1`
	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to touch user: %w", err)
	}
	return nil
}

// LastSeen returns a user's last activity timestamp
func (r *UserRepository) LastSeen(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	var lastSeen time.Time
	query := `SELECT last_seen FROM users WHERE user_id = $1`
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&lastSeen); err != nil {
		if err == pgx.ErrNoRows {
			return time.Time{}, apperrors.UserNotFoundError()
		}
		return time.Time{}, fmt.Errorf("failed to get last seen: %w", err)
	}
	return lastSeen, nil
}

// ContactIDs returns the bidirectional contact set: users the given user
// added, plus users who added them. Legacy records are often asymmetric, so
// a plain one-way lookup would miss half the audience.
func (r *UserRepository) ContactIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT contact_id FROM contacts WHERE user_id = $1
		UNION
		SELECT user_id FROM contacts WHERE contact_id = $1
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get contacts: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}

	return ids, nil
}

// AddContact records a one-way contact add (mutual adds make it symmetric)
func (r *UserRepository) AddContact(ctx context.Context, userID, contactID uuid.UUID) error {
	query := `
		INSERT INTO contacts (user_id, contact_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, contact_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, userID, contactID); err != nil {
		return fmt.Errorf("failed to add contact: %w", err)
	}
	return nil
}

// RemoveContact drops a one-way contact record
func (r *UserRepository) RemoveContact(ctx context.Context, userID, contactID uuid.UUID) error {
	query := `DELETE FROM contacts WHERE user_id = $1 AND contact_id = $2`
	if _, err := r.pool.Exec(ctx, query, userID, contactID); err != nil {
		return fmt.Errorf("failed to remove contact: %w", err)
	}
	return nil
}

// IsBlocked reports whether blockerID has blocked blockedID
func (r *UserRepository) IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM blocked_users WHERE blocker_id = $1 AND blocked_id = $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, blockerID, blockedID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check block: %w", err)
	}

	return exists, nil
}

// Block records a block relationship
func (r *UserRepository) Block(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	query := `
		INSERT INTO blocked_users (blocker_id, blocked_id)
		VALUES ($1, $2)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, blockerID, blockedID); err != nil {
		return fmt.Errorf("failed to block user: %w", err)
	}
	return nil
}

// Unblock removes a block relationship
func (r *UserRepository) Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	query := `DELETE FROM blocked_users WHERE blocker_id = $1 AND blocked_id = $2`
	if _, err := r.pool.Exec(ctx, query, blockerID, blockedID); err != nil {
		return fmt.Errorf("failed to unblock user: %w", err)
	}
	return nil
}
