package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"tunelink-backend/internal/domain"
	apperrors "tunelink-backend/pkg/errors"
	"tunelink-backend/pkg/logger"
)

func init() {
	logger.InitDefault()
}

// fakeStreamRepository is an in-memory StreamRepository, enough to exercise
// viewer accounting semantics end to end
type fakeStreamRepository struct {
	mu      sync.Mutex
	streams map[uuid.UUID]*domain.LiveStream
	viewers map[uuid.UUID]map[uuid.UUID]*domain.StreamViewer
}

func newFakeStreamRepository() *fakeStreamRepository {
	return &fakeStreamRepository{
		streams: make(map[uuid.UUID]*domain.LiveStream),
		viewers: make(map[uuid.UUID]map[uuid.UUID]*domain.StreamViewer),
	}
}

func (f *fakeStreamRepository) Create(ctx context.Context, stream *domain.LiveStream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *stream
	f.streams[stream.ID] = &copied
	f.viewers[stream.ID] = make(map[uuid.UUID]*domain.StreamViewer)
	return nil
}

func (f *fakeStreamRepository) GetByID(ctx context.Context, streamID uuid.UUID) (*domain.LiveStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stream, ok := f.streams[streamID]
	if !ok {
		return nil, apperrors.StreamNotFoundError()
	}
	copied := *stream
	return &copied, nil
}

func (f *fakeStreamRepository) GetActive(ctx context.Context, limit, offset int) ([]*domain.LiveStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []*domain.LiveStream
	for _, stream := range f.streams {
		if stream.Status == domain.StreamStatusLive {
			copied := *stream
			active = append(active, &copied)
		}
	}
	return active, nil
}

func (f *fakeStreamRepository) UpsertViewer(ctx context.Context, streamID, userID uuid.UUID, joinedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.viewers[streamID][userID]; ok {
		existing.JoinedAt = joinedAt
		existing.LeftAt = nil
		return nil
	}
	f.viewers[streamID][userID] = &domain.StreamViewer{
		StreamID: streamID,
		UserID:   userID,
		JoinedAt: joinedAt,
	}
	return nil
}

func (f *fakeStreamRepository) MarkViewerLeft(ctx context.Context, streamID, userID uuid.UUID, leftAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if viewer, ok := f.viewers[streamID][userID]; ok && viewer.LeftAt == nil {
		viewer.LeftAt = &leftAt
	}
	return nil
}

func (f *fakeStreamRepository) CountActiveViewers(ctx context.Context, streamID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, viewer := range f.viewers[streamID] {
		if viewer.LeftAt == nil {
			count++
		}
	}
	return count, nil
}

func (f *fakeStreamRepository) RaisePeakViewers(ctx context.Context, streamID uuid.UUID, observed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stream, ok := f.streams[streamID]; ok && observed > stream.PeakViewers {
		stream.PeakViewers = observed
	}
	return nil
}

func (f *fakeStreamRepository) GetViewers(ctx context.Context, streamID uuid.UUID) ([]*domain.StreamViewer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*domain.StreamViewer
	for _, viewer := range f.viewers[streamID] {
		copied := *viewer
		result = append(result, &copied)
	}
	return result, nil
}

func (f *fakeStreamRepository) Finalize(ctx context.Context, streamID uuid.UUID, endedAt time.Time, durationSeconds int64, recordingURL string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stream, ok := f.streams[streamID]
	if !ok || stream.Status != domain.StreamStatusLive {
		return false, nil
	}
	stream.Status = domain.StreamStatusEnded
	stream.EndedAt = &endedAt
	stream.DurationSeconds = durationSeconds
	if recordingURL != "" {
		stream.RecordingURL = recordingURL
	}
	return true, nil
}

func (f *fakeStreamRepository) CloseOpenViewers(ctx context.Context, streamID uuid.UUID, leftAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, viewer := range f.viewers[streamID] {
		if viewer.LeftAt == nil {
			viewer.LeftAt = &leftAt
		}
	}
	return nil
}

// MockBroadcaster records room and global broadcasts
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) BroadcastToRoom(room, event string, payload interface{}) {
	m.Called(room, event, payload)
}

func (m *MockBroadcaster) BroadcastGlobal(event string, payload interface{}) {
	m.Called(event, payload)
}

// MockRecordingStorage is a mock implementation of RecordingStorage
type MockRecordingStorage struct {
	mock.Mock
}

func (m *MockRecordingStorage) PresignedRecordingURL(ctx context.Context, objectName string) (string, error) {
	args := m.Called(ctx, objectName)
	return args.String(0), args.Error(1)
}

func newTestService() (*Service, *fakeStreamRepository, *MockBroadcaster, *MockRecordingStorage) {
	repo := newFakeStreamRepository()
	events := new(MockBroadcaster)
	storage := new(MockRecordingStorage)
	svc := NewService(repo, events, storage, nil, nil)
	return svc, repo, events, storage
}

func TestStartBroadcastsGlobally(t *testing.T) {
	svc, _, events, _ := newTestService()

	events.On("BroadcastGlobal", EventLiveStarted, mock.Anything).Return()

	stream, err := svc.Start(context.Background(), &StartInput{
		HostID:   uuid.New(),
		HostName: "dj_kay",
		Title:    "late night mix",
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.StreamStatusLive, stream.Status)
	events.AssertCalled(t, "BroadcastGlobal", EventLiveStarted, mock.Anything)
}

func TestStartRequiresTitle(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Start(context.Background(), &StartInput{HostID: uuid.New()})

	assert.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))
}

func TestPeakViewersTracksMaximumObserved(t *testing.T) {
	svc, repo, events, _ := newTestService()

	events.On("BroadcastGlobal", mock.Anything, mock.Anything).Return()
	events.On("BroadcastToRoom", mock.Anything, mock.Anything, mock.Anything).Return()

	stream, err := svc.Start(context.Background(), &StartInput{
		HostID: uuid.New(), HostName: "host", Title: "set",
	})
	assert.NoError(t, err)

	v1, v2, v3, v4 := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	// Three join, one leaves, one more joins
	for _, v := range []uuid.UUID{v1, v2, v3} {
		_, err := svc.Join(context.Background(), stream.ID, v)
		assert.NoError(t, err)
	}
	_, err = svc.Leave(context.Background(), stream.ID, v2)
	assert.NoError(t, err)
	count, err := svc.Join(context.Background(), stream.ID, v4)
	assert.NoError(t, err)

	assert.Equal(t, 3, count)

	final, err := repo.GetByID(context.Background(), stream.ID)
	assert.NoError(t, err)
	assert.Equal(t, 3, final.PeakViewers)
}

func TestJoinIsIdempotent(t *testing.T) {
	svc, repo, events, _ := newTestService()

	events.On("BroadcastGlobal", mock.Anything, mock.Anything).Return()
	events.On("BroadcastToRoom", mock.Anything, mock.Anything, mock.Anything).Return()

	stream, err := svc.Start(context.Background(), &StartInput{
		HostID: uuid.New(), HostName: "host", Title: "set",
	})
	assert.NoError(t, err)

	viewerID := uuid.New()

	count, err := svc.Join(context.Background(), stream.ID, viewerID)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = svc.Join(context.Background(), stream.ID, viewerID)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	viewers, err := repo.GetViewers(context.Background(), stream.ID)
	assert.NoError(t, err)
	assert.Len(t, viewers, 1)
	assert.Nil(t, viewers[0].LeftAt)
}

func TestJoinEndedStreamFails(t *testing.T) {
	svc, _, events, _ := newTestService()

	events.On("BroadcastGlobal", mock.Anything, mock.Anything).Return()
	events.On("BroadcastToRoom", mock.Anything, mock.Anything, mock.Anything).Return()

	hostID := uuid.New()
	stream, err := svc.Start(context.Background(), &StartInput{
		HostID: hostID, HostName: "host", Title: "set",
	})
	assert.NoError(t, err)

	_, err = svc.End(context.Background(), &EndInput{StreamID: stream.ID, HostID: hostID})
	assert.NoError(t, err)

	_, err = svc.Join(context.Background(), stream.ID, uuid.New())
	assert.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStreamEnded))
}

func TestEndFinalizesAndClosesViewers(t *testing.T) {
	svc, repo, events, storage := newTestService()

	events.On("BroadcastGlobal", mock.Anything, mock.Anything).Return()
	events.On("BroadcastToRoom", mock.Anything, mock.Anything, mock.Anything).Return()
	storage.On("PresignedRecordingURL", mock.Anything, "rec/abc.mp4").
		Return("https://storage.example/rec/abc.mp4?sig=x", nil)

	hostID := uuid.New()
	stream, err := svc.Start(context.Background(), &StartInput{
		HostID: hostID, HostName: "host", Title: "set",
	})
	assert.NoError(t, err)

	viewerID := uuid.New()
	_, err = svc.Join(context.Background(), stream.ID, viewerID)
	assert.NoError(t, err)

	ended, err := svc.End(context.Background(), &EndInput{
		StreamID:        stream.ID,
		HostID:          hostID,
		RecordingObject: "rec/abc.mp4",
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.StreamStatusEnded, ended.Status)
	assert.NotEmpty(t, ended.RecordingURL)
	events.AssertCalled(t, "BroadcastToRoom", StreamRoom(stream.ID), EventLiveEnded, mock.Anything)

	viewers, err := repo.GetViewers(context.Background(), stream.ID)
	assert.NoError(t, err)
	assert.NotNil(t, viewers[0].LeftAt)
}

func TestEndByNonHostForbidden(t *testing.T) {
	svc, _, events, _ := newTestService()

	events.On("BroadcastGlobal", mock.Anything, mock.Anything).Return()

	stream, err := svc.Start(context.Background(), &StartInput{
		HostID: uuid.New(), HostName: "host", Title: "set",
	})
	assert.NoError(t, err)

	_, err = svc.End(context.Background(), &EndInput{StreamID: stream.ID, HostID: uuid.New()})

	assert.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}

func TestEndTwiceIsInvalidTransition(t *testing.T) {
	svc, _, events, _ := newTestService()

	events.On("BroadcastGlobal", mock.Anything, mock.Anything).Return()
	events.On("BroadcastToRoom", mock.Anything, mock.Anything, mock.Anything).Return()

	hostID := uuid.New()
	stream, err := svc.Start(context.Background(), &StartInput{
		HostID: hostID, HostName: "host", Title: "set",
	})
	assert.NoError(t, err)

	_, err = svc.End(context.Background(), &EndInput{StreamID: stream.ID, HostID: hostID})
	assert.NoError(t, err)

	_, err = svc.End(context.Background(), &EndInput{StreamID: stream.ID, HostID: hostID})
	assert.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
}
