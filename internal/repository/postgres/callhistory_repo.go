package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"voicebridge-backend/internal/domain"
)

// CallHistoryRepository persists the durable outcome of terminated calls.
// The table is append-only with call_id as primary key; racing terminal
// events resolve to a single row via ON CONFLICT DO NOTHING.
type CallHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewCallHistoryRepository creates a new CallHistoryRepository
func NewCallHistoryRepository(pool *pgxpool.Pool) *CallHistoryRepository {
	return &CallHistoryRepository{pool: pool}
}

// Record inserts the history row for a terminated call. Returns true if this
// call wrote the row, false if another terminal event got there first.
func (r *CallHistoryRepository) Record(ctx context.Context, rec *domain.CallHistoryRecord) (bool, error) {
	query := `
		INSERT INTO call_history (
			call_id, caller_id, callee_id, call_type, status,
			duration_secs, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (call_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		rec.CallID,
		rec.CallerID,
		rec.CalleeID,
		rec.CallType,
		rec.Status,
		rec.DurationSecs,
		rec.StartedAt,
		rec.EndedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record call history: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ListByUser retrieves call history touching a user, newest first
func (r *CallHistoryRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallHistoryRecord, error) {
	query := `
		SELECT call_id, caller_id, callee_id, call_type, status,
		       duration_secs, started_at, ended_at
		FROM call_history
		WHERE caller_id = $1 OR callee_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list call history: %w", err)
	}
	defer rows.Close()

	var records []*domain.CallHistoryRecord
	for rows.Next() {
		rec := &domain.CallHistoryRecord{}
		err := rows.Scan(
			&rec.CallID,
			&rec.CallerID,
			&rec.CalleeID,
			&rec.CallType,
			&rec.Status,
			&rec.DurationSecs,
			&rec.StartedAt,
			&rec.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call history: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating call history: %w", err)
	}

	return records, nil
}
