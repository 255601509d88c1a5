package live

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tunelink-backend/internal/domain"
	"tunelink-backend/pkg/constants"
	apperrors "tunelink-backend/pkg/errors"
	"tunelink-backend/pkg/logger"
	"tunelink-backend/pkg/metrics"
)

// StreamRepository is the live stream store used by the service
type StreamRepository interface {
	Create(ctx context.Context, stream *domain.LiveStream) error
	GetByID(ctx context.Context, streamID uuid.UUID) (*domain.LiveStream, error)
	GetActive(ctx context.Context, limit, offset int) ([]*domain.LiveStream, error)
	UpsertViewer(ctx context.Context, streamID, userID uuid.UUID, joinedAt time.Time) error
	MarkViewerLeft(ctx context.Context, streamID, userID uuid.UUID, leftAt time.Time) error
	CountActiveViewers(ctx context.Context, streamID uuid.UUID) (int, error)
	RaisePeakViewers(ctx context.Context, streamID uuid.UUID, observed int) error
	GetViewers(ctx context.Context, streamID uuid.UUID) ([]*domain.StreamViewer, error)
	Finalize(ctx context.Context, streamID uuid.UUID, endedAt time.Time, durationSeconds int64, recordingURL string) (bool, error)
	CloseOpenViewers(ctx context.Context, streamID uuid.UUID, leftAt time.Time) error
}

// Broadcaster delivers realtime events to stream rooms or every
// connected client
type Broadcaster interface {
	BroadcastToRoom(room, event string, payload interface{})
	BroadcastGlobal(event string, payload interface{})
}

// RecordingStorage resolves a shareable URL for a stream recording object
type RecordingStorage interface {
	PresignedRecordingURL(ctx context.Context, objectName string) (string, error)
}

// PushNotifier wakes offline followers when a stream starts
type PushNotifier interface {
	SendLiveStartedNotification(ctx context.Context, streamID, streamerID uuid.UUID, streamerName, title string, followerIDs []uuid.UUID) error
}

// Realtime event names for live streams
const (
	EventLiveStarted  = "live_started"
	EventLiveEnded    = "live_ended"
	EventViewerJoined = "viewer_joined"
	EventViewerLeft   = "viewer_left"
)

// StreamRoom returns the broadcast room name for a stream
func StreamRoom(streamID uuid.UUID) string {
	return fmt.Sprintf("live:%s", streamID)
}

// Service coordinates live stream lifecycle and viewer accounting.
// Viewer joins are idempotent upserts, and the peak count is raised with
// a monotonic GREATEST update so concurrent joins never lower it.
type Service struct {
	streams  StreamRepository
	events   Broadcaster
	storage  RecordingStorage
	notifier PushNotifier
	metrics  *metrics.Metrics
}

// NewService creates a new live stream service
func NewService(streams StreamRepository, events Broadcaster, storage RecordingStorage, notifier PushNotifier, m *metrics.Metrics) *Service {
	return &Service{
		streams:  streams,
		events:   events,
		storage:  storage,
		notifier: notifier,
		metrics:  m,
	}
}

// StartInput contains stream creation data
type StartInput struct {
	HostID      uuid.UUID
	HostName    string
	Title       string
	Description string
	// FollowerIDs receive a push notification; the follow graph itself
	// lives outside this service
	FollowerIDs []uuid.UUID
}

// Start creates a live stream and announces it to all connected clients
func (s *Service) Start(ctx context.Context, input *StartInput) (*domain.LiveStream, error) {
	if input.Title == "" {
		return nil, apperrors.MissingFieldError("title")
	}

	stream := &domain.LiveStream{
		ID:          uuid.New(),
		HostID:      input.HostID,
		Title:       input.Title,
		Description: input.Description,
		Status:      domain.StreamStatusLive,
		StartedAt:   time.Now().UTC(),
	}

	if err := s.streams.Create(ctx, stream); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if s.metrics != nil {
		s.metrics.RecordStreamStarted()
	}

	// Announced globally as a discovery event, not scoped to followers
	s.events.BroadcastGlobal(EventLiveStarted, map[string]interface{}{
		"stream_id": stream.ID,
		"host_id":   input.HostID,
		"host_name": input.HostName,
		"title":     input.Title,
	})

	if s.notifier != nil && len(input.FollowerIDs) > 0 {
		if err := s.notifier.SendLiveStartedNotification(ctx, stream.ID, input.HostID, input.HostName, input.Title, input.FollowerIDs); err != nil {
			logger.Warn("Failed to push live started notification",
				zap.String("stream_id", stream.ID.String()),
				zap.Error(err))
		}
	}

	logger.Info("Live stream started",
		zap.String("stream_id", stream.ID.String()),
		zap.String("host_id", input.HostID.String()),
		zap.String("title", input.Title))

	return stream, nil
}

// Join records a viewer joining a stream. Rejoining without an intervening
// leave refreshes the existing viewer row instead of duplicating it. The
// returned count is the active audience after the join.
func (s *Service) Join(ctx context.Context, streamID, userID uuid.UUID) (int, error) {
	stream, err := s.streams.GetByID(ctx, streamID)
	if err != nil {
		return 0, err
	}
	if stream.Status != domain.StreamStatusLive {
		return 0, apperrors.StreamEndedError()
	}

	if err := s.streams.UpsertViewer(ctx, streamID, userID, time.Now().UTC()); err != nil {
		return 0, apperrors.DatabaseError(err)
	}

	count, err := s.streams.CountActiveViewers(ctx, streamID)
	if err != nil {
		return 0, apperrors.DatabaseError(err)
	}

	if err := s.streams.RaisePeakViewers(ctx, streamID, count); err != nil {
		logger.Warn("Failed to raise peak viewers",
			zap.String("stream_id", streamID.String()),
			zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.SetStreamViewers(count)
	}

	s.events.BroadcastToRoom(StreamRoom(streamID), EventViewerJoined, map[string]interface{}{
		"stream_id":    streamID,
		"user_id":      userID,
		"viewer_count": count,
	})

	return count, nil
}

// Leave stamps a viewer's departure and announces the new count
func (s *Service) Leave(ctx context.Context, streamID, userID uuid.UUID) (int, error) {
	if err := s.streams.MarkViewerLeft(ctx, streamID, userID, time.Now().UTC()); err != nil {
		return 0, apperrors.DatabaseError(err)
	}

	count, err := s.streams.CountActiveViewers(ctx, streamID)
	if err != nil {
		return 0, apperrors.DatabaseError(err)
	}

	if s.metrics != nil {
		s.metrics.SetStreamViewers(count)
	}

	s.events.BroadcastToRoom(StreamRoom(streamID), EventViewerLeft, map[string]interface{}{
		"stream_id":    streamID,
		"user_id":      userID,
		"viewer_count": count,
	})

	return count, nil
}

// EndInput contains stream finalization data
type EndInput struct {
	StreamID uuid.UUID
	HostID   uuid.UUID
	// RecordingObject is the object storage key of the uploaded
	// recording, if the host saved one
	RecordingObject string
}

// End finalizes a stream. Only the host may end it; ending twice is an
// invalid transition and does not rewrite the stream's final numbers.
func (s *Service) End(ctx context.Context, input *EndInput) (*domain.LiveStream, error) {
	stream, err := s.streams.GetByID(ctx, input.StreamID)
	if err != nil {
		return nil, err
	}
	if stream.HostID != input.HostID {
		return nil, apperrors.ForbiddenError("only the host can end a stream")
	}

	recordingURL := ""
	if input.RecordingObject != "" && s.storage != nil {
		url, err := s.storage.PresignedRecordingURL(ctx, input.RecordingObject)
		if err != nil {
			logger.Warn("Failed to resolve recording URL",
				zap.String("stream_id", input.StreamID.String()),
				zap.String("object", input.RecordingObject),
				zap.Error(err))
		} else {
			recordingURL = url
		}
	}

	endedAt := time.Now().UTC()
	duration := domain.DurationSeconds(stream.StartedAt, endedAt)

	ok, err := s.streams.Finalize(ctx, input.StreamID, endedAt, duration, recordingURL)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		return nil, apperrors.InvalidTransitionError(string(domain.StreamStatusEnded), string(domain.StreamStatusEnded))
	}

	if err := s.streams.CloseOpenViewers(ctx, input.StreamID, endedAt); err != nil {
		logger.Warn("Failed to close open viewers",
			zap.String("stream_id", input.StreamID.String()),
			zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.RecordStreamEnded(time.Duration(duration) * time.Second)
	}

	s.events.BroadcastToRoom(StreamRoom(input.StreamID), EventLiveEnded, map[string]interface{}{
		"stream_id": input.StreamID,
		"duration":  duration,
	})

	logger.Info("Live stream ended",
		zap.String("stream_id", input.StreamID.String()),
		zap.Int64("duration_seconds", duration))

	stream.Status = domain.StreamStatusEnded
	stream.EndedAt = &endedAt
	stream.DurationSeconds = duration
	stream.RecordingURL = recordingURL
	return stream, nil
}

// Get retrieves a stream by ID
func (s *Service) Get(ctx context.Context, streamID uuid.UUID) (*domain.LiveStream, error) {
	return s.streams.GetByID(ctx, streamID)
}

// GetActive lists streams currently broadcasting
func (s *Service) GetActive(ctx context.Context, limit, offset int) ([]*domain.LiveStream, error) {
	if limit <= 0 || limit > constants.MaxPageSize {
		limit = constants.DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	streams, err := s.streams.GetActive(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return streams, nil
}

// GetViewers lists all viewer rows for a stream
func (s *Service) GetViewers(ctx context.Context, streamID uuid.UUID) ([]*domain.StreamViewer, error) {
	viewers, err := s.streams.GetViewers(ctx, streamID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return viewers, nil
}
