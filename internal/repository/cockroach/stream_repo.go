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

// StreamRepository handles live stream and viewer storage
type StreamRepository struct {
	pool *pgxpool.Pool
}

// NewStreamRepository creates a new stream repository
func NewStreamRepository(pool *pgxpool.Pool) *StreamRepository {
	return &StreamRepository{pool: pool}
}

// Create inserts a new live stream
func (r *StreamRepository) Create(ctx context.Context, stream *domain.LiveStream) error {
	query := `
		INSERT INTO live_streams (
			id, host_id, title, description, status, peak_viewers, started_at, recording_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		stream.ID,
		stream.HostID,
		stream.Title,
		stream.Description,
		stream.Status,
		stream.PeakViewers,
		stream.StartedAt,
		stream.RecordingURL,
	)
	if err != nil {
		return fmt.Errorf("failed to create live stream: %w", err)
	}

	return nil
}

// GetByID retrieves a stream by ID
func (r *StreamRepository) GetByID(ctx context.Context, streamID uuid.UUID) (*domain.LiveStream, error) {
	query := `
		SELECT id, host_id, title, description, status, peak_viewers,
		       duration_seconds, started_at, ended_at, recording_url
		FROM live_streams
		WHERE id = $1
	`

	stream := &domain.LiveStream{}
	err := r.pool.QueryRow(ctx, query, streamID).Scan(
		&stream.ID,
		&stream.HostID,
		&stream.Title,
		&stream.Description,
		&stream.Status,
		&stream.PeakViewers,
		&stream.DurationSeconds,
		&stream.StartedAt,
		&stream.EndedAt,
		&stream.RecordingURL,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.StreamNotFoundError()
		}
		return nil, fmt.Errorf("failed to get live stream: %w", err)
	}

	return stream, nil
}

// GetActive retrieves streams currently live, newest first
func (r *StreamRepository) GetActive(ctx context.Context, limit, offset int) ([]*domain.LiveStream, error) {
	query := `
		SELECT id, host_id, title, description, status, peak_viewers,
		       duration_seconds, started_at, ended_at, recording_url
		FROM live_streams
		WHERE status = 'live'
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get active streams: %w", err)
	}
	defer rows.Close()

	var streams []*domain.LiveStream
	for rows.Next() {
		stream := &domain.LiveStream{}
		err := rows.Scan(
			&stream.ID,
			&stream.HostID,
			&stream.Title,
			&stream.Description,
			&stream.Status,
			&stream.PeakViewers,
			&stream.DurationSeconds,
			&stream.StartedAt,
			&stream.EndedAt,
			&stream.RecordingURL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan live stream: %w", err)
		}
		streams = append(streams, stream)
	}

	return streams, nil
}

// UpsertViewer records a viewer joining a stream. Rejoin refreshes joined_at
// and clears left_at on the existing row instead of inserting a duplicate.
func (r *StreamRepository) UpsertViewer(ctx context.Context, streamID, userID uuid.UUID, joinedAt time.Time) error {
	query := `
		INSERT INTO stream_viewers (stream_id, user_id, joined_at, left_at)
		VALUES ($1, $2, $3, NULL)
		ON CONFLICT (stream_id, user_id)
		DO UPDATE SET joined_at = EXCLUDED.joined_at, left_at = NULL
	`

	_, err := r.pool.Exec(ctx, query, streamID, userID, joinedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert viewer: %w", err)
	}

	return nil
}

// MarkViewerLeft stamps left_at on a viewer still marked as watching
func (r *StreamRepository) MarkViewerLeft(ctx context.Context, streamID, userID uuid.UUID, leftAt time.Time) error {
	query := `
		UPDATE stream_viewers
		SET left_at = $3
		WHERE stream_id = $1 AND user_id = $2 AND left_at IS NULL
	`

	_, err := r.pool.Exec(ctx, query, streamID, userID, leftAt)
	if err != nil {
		return fmt.Errorf("failed to mark viewer left: %w", err)
	}

	return nil
}

// CountActiveViewers returns the number of viewers with no left_at stamp
func (r *StreamRepository) CountActiveViewers(ctx context.Context, streamID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM stream_viewers
		WHERE stream_id = $1 AND left_at IS NULL
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, streamID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active viewers: %w", err)
	}

	return count, nil
}

// RaisePeakViewers lifts peak_viewers to observed if it is higher. GREATEST
// keeps the column monotonic under concurrent joins.
func (r *StreamRepository) RaisePeakViewers(ctx context.Context, streamID uuid.UUID, observed int) error {
	query := `
		UPDATE live_streams
		SET peak_viewers = GREATEST(peak_viewers, $2)
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, streamID, observed)
	if err != nil {
		return fmt.Errorf("failed to raise peak viewers: %w", err)
	}

	return nil
}

// GetViewers retrieves all viewer rows for a stream
func (r *StreamRepository) GetViewers(ctx context.Context, streamID uuid.UUID) ([]*domain.StreamViewer, error) {
	query := `
		SELECT stream_id, user_id, joined_at, left_at
		FROM stream_viewers
		WHERE stream_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := r.pool.Query(ctx, query, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get viewers: %w", err)
	}
	defer rows.Close()

	var viewers []*domain.StreamViewer
	for rows.Next() {
		v := &domain.StreamViewer{}
		if err := rows.Scan(&v.StreamID, &v.UserID, &v.JoinedAt, &v.LeftAt); err != nil {
			return nil, fmt.Errorf("failed to scan viewer: %w", err)
		}
		viewers = append(viewers, v)
	}

	return viewers, nil
}

// Finalize closes a live stream. The status guard makes a double end a
// no-op; false means the stream was already ended.
func (r *StreamRepository) Finalize(ctx context.Context, streamID uuid.UUID, endedAt time.Time, durationSeconds int64, recordingURL string) (bool, error) {
	query := `
		UPDATE live_streams
		SET status = 'ended',
		    ended_at = $2,
		    duration_seconds = $3,
		    recording_url = COALESCE(NULLIF($4, ''), recording_url)
		WHERE id = $1 AND status = 'live'
	`

	tag, err := r.pool.Exec(ctx, query, streamID, endedAt, durationSeconds, recordingURL)
	if err != nil {
		return false, fmt.Errorf("failed to finalize stream: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// CloseOpenViewers stamps left_at on every viewer still watching when the
// stream ends
func (r *StreamRepository) CloseOpenViewers(ctx context.Context, streamID uuid.UUID, leftAt time.Time) error {
	query := `
		UPDATE stream_viewers
		SET left_at = $2
		WHERE stream_id = $1 AND left_at IS NULL
	`

	_, err := r.pool.Exec(ctx, query, streamID, leftAt)
	if err != nil {
		return fmt.Errorf("failed to close open viewers: %w", err)
	}

	return nil
}
