package history

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"tunelink-backend/internal/domain"
	apperrors "tunelink-backend/pkg/errors"
	"tunelink-backend/pkg/logger"
	"tunelink-backend/pkg/tasks"
)

func init() {
	logger.InitDefault()
}

// MockListenRepository is a mock implementation of ListenRepository
type MockListenRepository struct {
	mock.Mock
}

func (m *MockListenRepository) Record(entry *domain.ListenEntry) error {
	args := m.Called(entry)
	return args.Error(0)
}

func (m *MockListenRepository) GetByUser(userID uuid.UUID, limit int) ([]*domain.ListenEntry, error) {
	args := m.Called(userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ListenEntry), args.Error(1)
}

func (m *MockListenRepository) TrimToLimit(userID uuid.UUID, keep int) error {
	args := m.Called(userID, keep)
	return args.Error(0)
}

// syncScheduler runs detached jobs inline so tests can observe them
type syncScheduler struct {
	ran []string
}

func (s *syncScheduler) Detach(name string, job tasks.Job) {
	s.ran = append(s.ran, name)
	_ = job(context.Background())
}

func TestRecordSchedulesTrim(t *testing.T) {
	repo := new(MockListenRepository)
	scheduler := &syncScheduler{}
	svc := NewService(repo, scheduler)

	userID := uuid.New()
	repo.On("Record", mock.AnythingOfType("*domain.ListenEntry")).Return(nil)
	repo.On("TrimToLimit", userID, 50).Return(nil)

	entry, err := svc.Record(context.Background(), &RecordInput{
		UserID:  userID,
		TrackID: "spotify:track:4cOdK2wGLETKBW3PvgPWqT",
		Title:   "Never Gonna Give You Up",
		Artist:  "Rick Astley",
		Source:  "spotify",
	})

	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, []string{"listening-history-trim"}, scheduler.ran)
	repo.AssertCalled(t, "TrimToLimit", userID, 50)
}

func TestRecordRequiresTrackID(t *testing.T) {
	repo := new(MockListenRepository)
	svc := NewService(repo, nil)

	_, err := svc.Record(context.Background(), &RecordInput{UserID: uuid.New()})

	assert.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))
	repo.AssertNotCalled(t, "Record", mock.Anything)
}

func TestGetRecentCapsLimit(t *testing.T) {
	repo := new(MockListenRepository)
	svc := NewService(repo, nil)

	userID := uuid.New()
	repo.On("GetByUser", userID, 50).Return([]*domain.ListenEntry{}, nil)

	_, err := svc.GetRecent(context.Background(), userID, 500)

	assert.NoError(t, err)
	repo.AssertCalled(t, "GetByUser", userID, 50)
}
