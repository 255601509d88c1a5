package call

import (
	"context"
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

// MockCallRepository is a mock implementation of CallRepository
type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Create(ctx context.Context, call *domain.CallSession) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *MockCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockCallRepository) TransitionStatus(ctx context.Context, callID uuid.UUID, from, to domain.CallStatus, endTime *time.Time) (bool, error) {
	args := m.Called(ctx, callID, from, to, endTime)
	return args.Bool(0), args.Error(1)
}

func (m *MockCallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallSession), args.Error(1)
}

func (m *MockCallRepository) GetStaleRinging(ctx context.Context, cutoff time.Time, limit int) ([]*domain.CallSession, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallSession), args.Error(1)
}

// MockHistoryRepository is a mock implementation of HistoryRepository
type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Append(history *domain.CallHistory) error {
	args := m.Called(history)
	return args.Error(0)
}

func (m *MockHistoryRepository) GetRecentBuckets(userID uuid.UUID, months, limit int) ([]*domain.CallHistory, error) {
	args := m.Called(userID, months, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallHistory), args.Error(1)
}

// MockPresenceRepository is a mock implementation of PresenceRepository
type MockPresenceRepository struct {
	mock.Mock
}

func (m *MockPresenceRepository) SetStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus) error {
	args := m.Called(ctx, userID, status)
	return args.Error(0)
}

func (m *MockPresenceRepository) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

// MockBroadcaster records realtime events sent to users
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) SendToUser(userID uuid.UUID, event string, payload interface{}) {
	m.Called(userID, event, payload)
}

// MockNotifier is a mock implementation of PushNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendIncomingCallNotification(ctx context.Context, callID, callerID uuid.UUID, callerName, callType string, calleeID uuid.UUID) error {
	args := m.Called(ctx, callID, callerID, callerName, callType, calleeID)
	return args.Error(0)
}

func (m *MockNotifier) SendMissedCallNotification(ctx context.Context, callID, callerID uuid.UUID, callerName string, calleeID uuid.UUID) error {
	args := m.Called(ctx, callID, callerID, callerName, calleeID)
	return args.Error(0)
}

func newTestService() (*Service, *MockCallRepository, *MockHistoryRepository, *MockPresenceRepository, *MockBroadcaster, *MockNotifier) {
	calls := new(MockCallRepository)
	history := new(MockHistoryRepository)
	presence := new(MockPresenceRepository)
	events := new(MockBroadcaster)
	notifier := new(MockNotifier)
	svc := NewService(calls, history, presence, events, notifier, nil)
	return svc, calls, history, presence, events, notifier
}

func TestInitiateCreatesRingingSession(t *testing.T) {
	svc, calls, _, presence, events, _ := newTestService()

	callerID := uuid.New()
	receiverID := uuid.New()

	calls.On("Create", mock.Anything, mock.AnythingOfType("*domain.CallSession")).Return(nil)
	presence.On("IsOnline", mock.Anything, receiverID).Return(true, nil)
	events.On("SendToUser", receiverID, EventIncomingCall, mock.Anything).Return()

	session, err := svc.Initiate(context.Background(), &InitiateInput{
		CallerID:   callerID,
		CallerName: "alice",
		ReceiverID: receiverID,
		CallType:   domain.CallTypeVideo,
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, session.Status)
	assert.Equal(t, domain.CallTypeVideo, session.CallType)
	events.AssertCalled(t, "SendToUser", receiverID, EventIncomingCall, mock.Anything)
}

func TestInitiatePushesWhenCalleeOffline(t *testing.T) {
	svc, calls, _, presence, events, notifier := newTestService()

	callerID := uuid.New()
	receiverID := uuid.New()

	calls.On("Create", mock.Anything, mock.Anything).Return(nil)
	presence.On("IsOnline", mock.Anything, receiverID).Return(false, nil)
	events.On("SendToUser", mock.Anything, mock.Anything, mock.Anything).Return()
	notifier.On("SendIncomingCallNotification", mock.Anything, mock.Anything, callerID, "alice", "audio", receiverID).Return(nil)

	_, err := svc.Initiate(context.Background(), &InitiateInput{
		CallerID:   callerID,
		CallerName: "alice",
		ReceiverID: receiverID,
		CallType:   domain.CallTypeAudio,
	})

	assert.NoError(t, err)
	notifier.AssertExpectations(t)
}

func TestInitiateRejectsSelfCall(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()

	userID := uuid.New()
	_, err := svc.Initiate(context.Background(), &InitiateInput{
		CallerID:   userID,
		ReceiverID: userID,
		CallType:   domain.CallTypeAudio,
	})

	assert.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestAcceptTransitionsToActive(t *testing.T) {
	svc, calls, _, presence, events, _ := newTestService()

	callerID := uuid.New()
	receiverID := uuid.New()
	callID := uuid.New()

	session := &domain.CallSession{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   domain.CallTypeVideo,
		Status:     domain.CallStatusRinging,
		StartTime:  time.Now().UTC(),
	}

	calls.On("GetByID", mock.Anything, callID).Return(session, nil)
	calls.On("TransitionStatus", mock.Anything, callID, domain.CallStatusRinging, domain.CallStatusActive, (*time.Time)(nil)).Return(true, nil)
	presence.On("SetStatus", mock.Anything, mock.Anything, domain.PresenceInCall).Return(nil)
	events.On("SendToUser", callerID, EventCallAccepted, mock.Anything).Return()

	out, err := svc.Accept(context.Background(), callID, receiverID)

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, out.Status)
	events.AssertCalled(t, "SendToUser", callerID, EventCallAccepted, mock.Anything)
}

func TestAcceptByCallerForbidden(t *testing.T) {
	svc, calls, _, _, _, _ := newTestService()

	callerID := uuid.New()
	callID := uuid.New()
	session := &domain.CallSession{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: uuid.New(),
		Status:     domain.CallStatusRinging,
	}

	calls.On("GetByID", mock.Anything, callID).Return(session, nil)

	_, err := svc.Accept(context.Background(), callID, callerID)

	assert.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}

func TestRejectByCalleeWritesMissedHistory(t *testing.T) {
	svc, calls, history, _, events, _ := newTestService()

	callerID := uuid.New()
	receiverID := uuid.New()
	callID := uuid.New()
	session := &domain.CallSession{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   domain.CallTypeAudio,
		Status:     domain.CallStatusRinging,
		StartTime:  time.Now().UTC(),
	}

	calls.On("GetByID", mock.Anything, callID).Return(session, nil)
	calls.On("TransitionStatus", mock.Anything, callID, domain.CallStatusRinging, domain.CallStatusRejected, mock.Anything).Return(true, nil)
	history.On("Append", mock.MatchedBy(func(h *domain.CallHistory) bool {
		return h.Status == domain.HistoryStatusMissed && h.DurationSeconds == 0
	})).Return(nil)
	events.On("SendToUser", callerID, EventCallRejected, mock.Anything).Return()

	out, err := svc.Reject(context.Background(), callID, receiverID)

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusRejected, out.Status)
	history.AssertNumberOfCalls(t, "Append", 1)
}

func TestRejectByCallerWritesCancelledHistory(t *testing.T) {
	svc, calls, history, _, events, notifier := newTestService()

	callerID := uuid.New()
	receiverID := uuid.New()
	callID := uuid.New()
	session := &domain.CallSession{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   domain.CallTypeAudio,
		Status:     domain.CallStatusRinging,
		StartTime:  time.Now().UTC(),
	}

	calls.On("GetByID", mock.Anything, callID).Return(session, nil)
	calls.On("TransitionStatus", mock.Anything, callID, domain.CallStatusRinging, domain.CallStatusRejected, mock.Anything).Return(true, nil)
	history.On("Append", mock.MatchedBy(func(h *domain.CallHistory) bool {
		return h.Status == domain.HistoryStatusCancelled && h.DurationSeconds == 0
	})).Return(nil)
	events.On("SendToUser", receiverID, EventCallRejected, mock.Anything).Return()
	notifier.On("SendMissedCallNotification", mock.Anything, callID, callerID, "", receiverID).Return(nil)

	_, err := svc.Reject(context.Background(), callID, callerID)

	assert.NoError(t, err)
	history.AssertNumberOfCalls(t, "Append", 1)
	notifier.AssertExpectations(t)
}

func TestEndWritesCompletedHistoryWithDuration(t *testing.T) {
	svc, calls, history, presence, events, _ := newTestService()

	callerID := uuid.New()
	receiverID := uuid.New()
	callID := uuid.New()
	session := &domain.CallSession{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   domain.CallTypeVideo,
		Status:     domain.CallStatusActive,
		StartTime:  time.Now().UTC().Add(-42 * time.Second),
	}

	calls.On("GetByID", mock.Anything, callID).Return(session, nil)
	calls.On("TransitionStatus", mock.Anything, callID, domain.CallStatusActive, domain.CallStatusEnded, mock.Anything).Return(true, nil)
	history.On("Append", mock.MatchedBy(func(h *domain.CallHistory) bool {
		return h.Status == domain.HistoryStatusCompleted &&
			h.CallType == domain.CallTypeVideo &&
			h.DurationSeconds == 42
	})).Return(nil)
	presence.On("SetStatus", mock.Anything, mock.Anything, domain.PresenceOnline).Return(nil)
	events.On("SendToUser", receiverID, EventCallEnded, mock.Anything).Return()

	out, err := svc.End(context.Background(), callID, callerID)

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, out.Status)
	history.AssertNumberOfCalls(t, "Append", 1)
}

func TestEndAlreadyEndedWritesNoSecondHistory(t *testing.T) {
	svc, calls, history, _, _, _ := newTestService()

	callerID := uuid.New()
	callID := uuid.New()
	ended := &domain.CallSession{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: uuid.New(),
		CallType:   domain.CallTypeAudio,
		Status:     domain.CallStatusEnded,
		StartTime:  time.Now().UTC().Add(-time.Minute),
	}

	calls.On("GetByID", mock.Anything, callID).Return(ended, nil)
	calls.On("TransitionStatus", mock.Anything, callID, domain.CallStatusActive, domain.CallStatusEnded, mock.Anything).Return(false, nil)

	_, err := svc.End(context.Background(), callID, callerID)

	assert.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
	history.AssertNotCalled(t, "Append", mock.Anything)
}

func TestConcurrentAcceptRejectOnlyOneWins(t *testing.T) {
	svc, calls, history, _, events, _ := newTestService()

	callerID := uuid.New()
	receiverID := uuid.New()
	callID := uuid.New()
	session := &domain.CallSession{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   domain.CallTypeAudio,
		Status:     domain.CallStatusRinging,
		StartTime:  time.Now().UTC(),
	}
	rejected := &domain.CallSession{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   domain.CallTypeAudio,
		Status:     domain.CallStatusRejected,
		StartTime:  session.StartTime,
	}

	// The reject wins the race; the accept loses its CAS
	calls.On("GetByID", mock.Anything, callID).Return(session, nil).Once()
	calls.On("TransitionStatus", mock.Anything, callID, domain.CallStatusRinging, domain.CallStatusRejected, mock.Anything).Return(true, nil)
	history.On("Append", mock.Anything).Return(nil)
	events.On("SendToUser", mock.Anything, mock.Anything, mock.Anything).Return()

	_, err := svc.Reject(context.Background(), callID, receiverID)
	assert.NoError(t, err)

	calls.On("GetByID", mock.Anything, callID).Return(rejected, nil)
	calls.On("TransitionStatus", mock.Anything, callID, domain.CallStatusRinging, domain.CallStatusActive, (*time.Time)(nil)).Return(false, nil)

	_, err = svc.Accept(context.Background(), callID, receiverID)
	assert.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
	history.AssertNumberOfCalls(t, "Append", 1)
}

func TestSweepStaleRingingTimesOutCalls(t *testing.T) {
	svc, calls, history, _, events, notifier := newTestService()

	callerID := uuid.New()
	receiverID := uuid.New()
	callID := uuid.New()
	stale := &domain.CallSession{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   domain.CallTypeAudio,
		Status:     domain.CallStatusRinging,
		StartTime:  time.Now().UTC().Add(-5 * time.Minute),
	}

	calls.On("GetStaleRinging", mock.Anything, mock.Anything, 100).Return([]*domain.CallSession{stale}, nil)
	calls.On("TransitionStatus", mock.Anything, callID, domain.CallStatusRinging, domain.CallStatusRejected, mock.Anything).Return(true, nil)
	history.On("Append", mock.MatchedBy(func(h *domain.CallHistory) bool {
		return h.Status == domain.HistoryStatusMissed && h.DurationSeconds == 0
	})).Return(nil)
	events.On("SendToUser", mock.Anything, EventCallTimeout, mock.Anything).Return()
	notifier.On("SendMissedCallNotification", mock.Anything, callID, callerID, "", receiverID).Return(nil)

	err := svc.SweepStaleRinging(context.Background())

	assert.NoError(t, err)
	history.AssertNumberOfCalls(t, "Append", 1)
	events.AssertCalled(t, "SendToUser", callerID, EventCallTimeout, mock.Anything)
	events.AssertCalled(t, "SendToUser", receiverID, EventCallTimeout, mock.Anything)
}

func TestSweepSkipsLostRace(t *testing.T) {
	svc, calls, history, _, _, _ := newTestService()

	stale := &domain.CallSession{
		ID:         uuid.New(),
		CallerID:   uuid.New(),
		ReceiverID: uuid.New(),
		CallType:   domain.CallTypeAudio,
		Status:     domain.CallStatusRinging,
		StartTime:  time.Now().UTC().Add(-5 * time.Minute),
	}

	calls.On("GetStaleRinging", mock.Anything, mock.Anything, 100).Return([]*domain.CallSession{stale}, nil)
	calls.On("TransitionStatus", mock.Anything, stale.ID, domain.CallStatusRinging, domain.CallStatusRejected, mock.Anything).Return(false, nil)

	err := svc.SweepStaleRinging(context.Background())

	assert.NoError(t, err)
	history.AssertNotCalled(t, "Append", mock.Anything)
}
