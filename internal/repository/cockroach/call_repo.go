package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tunelink-backend/internal/domain"
	apperrors "tunelink-backend/pkg/errors"
)

// CallRepository handles call session storage
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Create inserts a new call session in ringing state
func (r *CallRepository) Create(ctx context.Context, call *domain.CallSession) error {
	query := `
		INSERT INTO call_sessions (
			id, caller_id, receiver_id, call_type, status, start_time, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		call.ID,
		call.CallerID,
		call.ReceiverID,
		call.CallType,
		call.Status,
		call.StartTime,
		call.CreatedAt,
		call.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call session: %w", err)
	}

	return nil
}

// GetByID retrieves a call session by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	query := `
		SELECT id, caller_id, receiver_id, call_type, status,
		       start_time, end_time, created_at, updated_at
		FROM call_sessions
		WHERE id = $1
	`

	call := &domain.CallSession{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&call.ID,
		&call.CallerID,
		&call.ReceiverID,
		&call.CallType,
		&call.Status,
		&call.StartTime,
		&call.EndTime,
		&call.CreatedAt,
		&call.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}

	return call, nil
}

// TransitionStatus atomically moves a call from an expected status to the
// next one. The conditional WHERE is the compare-and-swap guard; if another
// writer already moved the session on, zero rows match and false is returned
// so the caller can treat the transition as stale.
func (r *CallRepository) TransitionStatus(ctx context.Context, callID uuid.UUID, from, to domain.CallStatus, endTime *time.Time) (bool, error) {
	query := `
		UPDATE call_sessions
		SET status = $3,
		    end_time = COALESCE($4, end_time),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	tag, err := r.pool.Exec(ctx, query, callID, from, to, endTime)
	if err != nil {
		return false, fmt.Errorf("failed to transition call status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// GetActiveForUser returns the user's current ringing or active session, if any
func (r *CallRepository) GetActiveForUser(ctx context.Context, userID uuid.UUID) (*domain.CallSession, error) {
	query := `
		SELECT id, caller_id, receiver_id, call_type, status,
		       start_time, end_time, created_at, updated_at
		FROM call_sessions
		WHERE (caller_id = $1 OR receiver_id = $1)
		  AND status IN ('ringing', 'active')
		ORDER BY start_time DESC
		LIMIT 1
	`

	call := &domain.CallSession{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&call.ID,
		&call.CallerID,
		&call.ReceiverID,
		&call.CallType,
		&call.Status,
		&call.StartTime,
		&call.EndTime,
		&call.CreatedAt,
		&call.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active call: %w", err)
	}

	return call, nil
}

// GetUserCalls retrieves call sessions involving a user, newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	query := `
		SELECT id, caller_id, receiver_id, call_type, status,
		       start_time, end_time, created_at, updated_at
		FROM call_sessions
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.CallSession
	for rows.Next() {
		call := &domain.CallSession{}
		err := rows.Scan(
			&call.ID,
			&call.CallerID,
			&call.ReceiverID,
			&call.CallType,
			&call.Status,
			&call.StartTime,
			&call.EndTime,
			&call.CreatedAt,
			&call.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call session: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, nil
}

// GetStaleRinging returns ringing sessions older than the cutoff, used by the
// ring-timeout sweep
func (r *CallRepository) GetStaleRinging(ctx context.Context, cutoff time.Time, limit int) ([]*domain.CallSession, error) {
	query := `
		SELECT id, caller_id, receiver_id, call_type, status,
		       start_time, end_time, created_at, updated_at
		FROM call_sessions
		WHERE status = 'ringing' AND start_time < $1
		ORDER BY start_time ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get stale ringing calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.CallSession
	for rows.Next() {
		call := &domain.CallSession{}
		err := rows.Scan(
			&call.ID,
			&call.CallerID,
			&call.ReceiverID,
			&call.CallType,
			&call.Status,
			&call.StartTime,
			&call.EndTime,
			&call.CreatedAt,
			&call.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call session: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, nil
}
