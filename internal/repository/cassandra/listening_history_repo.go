package cassandra

import (
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"tunelink-backend/internal/domain"
)

// ListeningHistoryRepository stores per-user listening history in Cassandra.
// Each user is one partition, clustered by played_at descending, so the
// newest plays are the cheapest reads.
type ListeningHistoryRepository struct {
	session *gocql.Session
}

// NewListeningHistoryRepository creates a new ListeningHistoryRepository
func NewListeningHistoryRepository(session *gocql.Session) *ListeningHistoryRepository {
	return &ListeningHistoryRepository{session: session}
}

// Record appends a listen entry to the user's history
func (r *ListeningHistoryRepository) Record(entry *domain.ListenEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO listening_history (
			user_id, played_at, entry_id, track_id, title, artist, source
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		entry.UserID,
		entry.PlayedAt,
		entry.ID,
		entry.TrackID,
		entry.Title,
		entry.Artist,
		entry.Source,
	).Exec()
	if err != nil {
		return fmt.Errorf("failed to record listen entry: %w", err)
	}

	return nil
}

// GetByUser retrieves the user's most recent listens
func (r *ListeningHistoryRepository) GetByUser(userID uuid.UUID, limit int) ([]*domain.ListenEntry, error) {
	query := `
		SELECT user_id, played_at, entry_id, track_id, title, artist, source
		FROM listening_history
		WHERE user_id = ?
		LIMIT ?
	`

	iter := r.session.Query(query, userID, limit).Iter()

	var entries []*domain.ListenEntry
	for {
		entry := &domain.ListenEntry{}
		if !iter.Scan(
			&entry.UserID,
			&entry.PlayedAt,
			&entry.ID,
			&entry.TrackID,
			&entry.Title,
			&entry.Artist,
			&entry.Source,
		) {
			break
		}
		entries = append(entries, entry)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to fetch listening history: %w", err)
	}

	return entries, nil
}

// TrimToLimit deletes entries beyond the newest keep rows. Run as a
// detached background job after writes, never on the request path.
func (r *ListeningHistoryRepository) TrimToLimit(userID uuid.UUID, keep int) error {
	// Read one past the limit; everything from that timestamp back is pruned
	entries, err := r.GetByUser(userID, keep+1)
	if err != nil {
		return err
	}
	if len(entries) <= keep {
		return nil
	}

	cutoff := entries[keep].PlayedAt

	query := `
		DELETE FROM listening_history
		WHERE user_id = ? AND played_at <= ?
	`

	if err := r.session.Query(query, userID, cutoff).Exec(); err != nil {
		return fmt.Errorf("failed to trim listening history: %w", err)
	}

	return nil
}
