package cassandra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"tunelink-backend/internal/domain"
)

// CallHistoryRepository stores the append-only call history log in
// Cassandra, partitioned per user and bucketed by month so partitions
// stay bounded.
type CallHistoryRepository struct {
	session *gocql.Session
}

// NewCallHistoryRepository creates a new CallHistoryRepository
func NewCallHistoryRepository(session *gocql.Session) *CallHistoryRepository {
	return &CallHistoryRepository{session: session}
}

// CalculateBucket returns the month bucket for a timestamp, e.g. 202608
func CalculateBucket(t time.Time) int {
	return t.Year()*100 + int(t.Month())
}

// Append writes one history row under both participants' partitions so
// either side can page their own history without a secondary index
func (r *CallHistoryRepository) Append(history *domain.CallHistory) error {
	if history.ID == uuid.Nil {
		history.ID = uuid.New()
	}
	bucket := CalculateBucket(history.EndTime)

	query := `
		INSERT INTO call_history (
			user_id, bucket, history_id, caller_id, receiver_id,
			call_type, status, duration_seconds, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, userID := range []uuid.UUID{history.CallerID, history.ReceiverID} {
		err := r.session.Query(query,
			userID,
			bucket,
			history.ID,
			history.CallerID,
			history.ReceiverID,
			history.CallType,
			history.Status,
			history.DurationSeconds,
			history.StartTime,
			history.EndTime,
		).Exec()
		if err != nil {
			return fmt.Errorf("failed to append call history: %w", err)
		}
	}

	return nil
}

// GetByUser retrieves a user's call history for one month bucket with
// cursor-based pagination
func (r *CallHistoryRepository) GetByUser(userID uuid.UUID, bucket, limit int, pageState []byte) ([]*domain.CallHistory, []byte, error) {
	query := `
		SELECT history_id, caller_id, receiver_id, call_type, status,
		       duration_seconds, start_time, end_time
		FROM call_history
		WHERE user_id = ? AND bucket = ?
		LIMIT ?
	`

	iter := r.session.Query(query, userID, bucket, limit).PageState(pageState).Iter()

	var entries []*domain.CallHistory
	for {
		entry := &domain.CallHistory{}
		if !iter.Scan(
			&entry.ID,
			&entry.CallerID,
			&entry.ReceiverID,
			&entry.CallType,
			&entry.Status,
			&entry.DurationSeconds,
			&entry.StartTime,
			&entry.EndTime,
		) {
			break
		}
		entries = append(entries, entry)
	}

	nextPageState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch call history: %w", err)
	}

	return entries, nextPageState, nil
}

// GetRecentBuckets retrieves a user's history across the last n month
// buckets, newest bucket first, until limit is reached
func (r *CallHistoryRepository) GetRecentBuckets(userID uuid.UUID, months, limit int) ([]*domain.CallHistory, error) {
	var all []*domain.CallHistory

	now := time.Now().UTC()
	for i := 0; i < months && len(all) < limit; i++ {
		bucket := CalculateBucket(now.AddDate(0, -i, 0))
		entries, _, err := r.GetByUser(userID, bucket, limit-len(all), nil)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}

	return all, nil
}
