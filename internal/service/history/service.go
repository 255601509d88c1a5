package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tunelink-backend/internal/domain"
	"tunelink-backend/pkg/constants"
	apperrors "tunelink-backend/pkg/errors"
	"tunelink-backend/pkg/logger"
	"tunelink-backend/pkg/tasks"
)

// ListenRepository stores per-user listening history
type ListenRepository interface {
	Record(entry *domain.ListenEntry) error
	GetByUser(userID uuid.UUID, limit int) ([]*domain.ListenEntry, error)
	TrimToLimit(userID uuid.UUID, keep int) error
}

// TaskScheduler runs detached one-off jobs off the request path
type TaskScheduler interface {
	Detach(name string, job tasks.Job)
}

// Service handles listening history. Writes enqueue a detached prune job
// that trims the user's history to the retention limit; a prune failure is
// logged by the scheduler, never surfaced to the listener.
type Service struct {
	listens   ListenRepository
	scheduler TaskScheduler
}

// NewService creates a new listening history service
func NewService(listens ListenRepository, scheduler TaskScheduler) *Service {
	return &Service{
		listens:   listens,
		scheduler: scheduler,
	}
}

// RecordInput contains one play event
type RecordInput struct {
	UserID  uuid.UUID
	TrackID string
	Title   string
	Artist  string
	Source  string
}

// Record appends a listen entry and schedules the retention trim
func (s *Service) Record(ctx context.Context, input *RecordInput) (*domain.ListenEntry, error) {
	if input.TrackID == "" {
		return nil, apperrors.MissingFieldError("track_id")
	}

	entry := &domain.ListenEntry{
		ID:       uuid.New(),
		UserID:   input.UserID,
		TrackID:  input.TrackID,
		Title:    input.Title,
		Artist:   input.Artist,
		Source:   input.Source,
		PlayedAt: time.Now().UTC(),
	}

	if err := s.listens.Record(entry); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if s.scheduler != nil {
		userID := input.UserID
		s.scheduler.Detach("listening-history-trim", func(ctx context.Context) error {
			return s.listens.TrimToLimit(userID, constants.ListeningHistoryLimit)
		})
	}

	logger.Debug("Listen recorded",
		zap.String("user_id", input.UserID.String()),
		zap.String("track_id", input.TrackID))

	return entry, nil
}

// GetRecent retrieves the user's most recent listens
func (s *Service) GetRecent(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ListenEntry, error) {
	if limit <= 0 || limit > constants.ListeningHistoryLimit {
		limit = constants.ListeningHistoryLimit
	}

	entries, err := s.listens.GetByUser(userID, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return entries, nil
}
