package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tunelink-backend/internal/domain"
	"tunelink-backend/pkg/constants"
	apperrors "tunelink-backend/pkg/errors"
	"tunelink-backend/pkg/logger"
	"tunelink-backend/pkg/metrics"
)

// CallRepository is the call session store used by the service
type CallRepository interface {
	Create(ctx context.Context, call *domain.CallSession) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error)
	TransitionStatus(ctx context.Context, callID uuid.UUID, from, to domain.CallStatus, endTime *time.Time) (bool, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error)
	GetStaleRinging(ctx context.Context, cutoff time.Time, limit int) ([]*domain.CallSession, error)
}

// HistoryRepository is the append-only call history log
type HistoryRepository interface {
	Append(history *domain.CallHistory) error
	GetRecentBuckets(userID uuid.UUID, months, limit int) ([]*domain.CallHistory, error)
}

// PresenceRepository tracks user availability
type PresenceRepository interface {
	SetStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus) error
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Broadcaster delivers realtime events to a user's personal room.
// Delivery is best-effort; events to users with no connected socket
// are dropped.
type Broadcaster interface {
	SendToUser(userID uuid.UUID, event string, payload interface{})
}

// PushNotifier wakes offline devices
type PushNotifier interface {
	SendIncomingCallNotification(ctx context.Context, callID, callerID uuid.UUID, callerName, callType string, calleeID uuid.UUID) error
	SendMissedCallNotification(ctx context.Context, callID, callerID uuid.UUID, callerName string, calleeID uuid.UUID) error
}

// Realtime event names emitted to personal rooms
const (
	EventIncomingCall = "incoming_call"
	EventCallAccepted = "call_accepted"
	EventCallRejected = "call_rejected"
	EventCallEnded    = "call_ended"
	EventCallTimeout  = "call_timeout"
)

// Service coordinates the call session state machine. Every status change
// goes through a compare-and-swap transition; a stale command loses the race
// and gets an invalid-transition error instead of clobbering state, so
// exactly one history row is written per terminal transition.
type Service struct {
	calls    CallRepository
	history  HistoryRepository
	presence PresenceRepository
	events   Broadcaster
	notifier PushNotifier
	metrics  *metrics.Metrics
}

// NewService creates a new call service
func NewService(calls CallRepository, history HistoryRepository, presence PresenceRepository, events Broadcaster, notifier PushNotifier, m *metrics.Metrics) *Service {
	return &Service{
		calls:    calls,
		history:  history,
		presence: presence,
		events:   events,
		notifier: notifier,
		metrics:  m,
	}
}

// InitiateInput contains call initiation data
type InitiateInput struct {
	CallerID   uuid.UUID
	CallerName string
	ReceiverID uuid.UUID
	CallType   domain.CallType
}

// Initiate creates a ringing call session and notifies the callee. If the
// callee has no live connection a push notification wakes their device.
func (s *Service) Initiate(ctx context.Context, input *InitiateInput) (*domain.CallSession, error) {
	if input.CallType != domain.CallTypeAudio && input.CallType != domain.CallTypeVideo {
		return nil, apperrors.InvalidInputError("call_type must be audio or video")
	}
	if input.CallerID == input.ReceiverID {
		return nil, apperrors.InvalidInputError("cannot call yourself")
	}

	now := time.Now().UTC()
	session := &domain.CallSession{
		ID:         uuid.New(),
		CallerID:   input.CallerID,
		ReceiverID: input.ReceiverID,
		CallType:   input.CallType,
		Status:     domain.CallStatusRinging,
		StartTime:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.calls.Create(ctx, session); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if s.metrics != nil {
		s.metrics.IncrementActiveCalls()
	}

	s.events.SendToUser(input.ReceiverID, EventIncomingCall, map[string]interface{}{
		"call_id":     session.ID,
		"caller_id":   input.CallerID,
		"caller_name": input.CallerName,
		"call_type":   input.CallType,
	})

	online, err := s.presence.IsOnline(ctx, input.ReceiverID)
	if err != nil {
		logger.Warn("Failed to check callee presence",
			zap.String("call_id", session.ID.String()),
			zap.Error(err))
	}
	if !online && s.notifier != nil {
		if err := s.notifier.SendIncomingCallNotification(ctx, session.ID, input.CallerID, input.CallerName, string(input.CallType), input.ReceiverID); err != nil {
			logger.Warn("Failed to push incoming call notification",
				zap.String("call_id", session.ID.String()),
				zap.Error(err))
		}
	}

	logger.Info("Call initiated",
		zap.String("call_id", session.ID.String()),
		zap.String("caller_id", input.CallerID.String()),
		zap.String("receiver_id", input.ReceiverID.String()),
		zap.String("call_type", string(input.CallType)))

	return session, nil
}

// Accept moves a ringing call to active. Only the receiver may accept.
func (s *Service) Accept(ctx context.Context, callID, actorID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if session.ReceiverID != actorID {
		return nil, apperrors.ForbiddenError("only the callee can accept a call")
	}

	ok, err := s.calls.TransitionStatus(ctx, callID, domain.CallStatusRinging, domain.CallStatusActive, nil)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		return nil, s.staleTransition(ctx, callID, domain.CallStatusActive)
	}

	for _, userID := range []uuid.UUID{session.CallerID, session.ReceiverID} {
		if err := s.presence.SetStatus(ctx, userID, domain.PresenceInCall); err != nil {
			logger.Warn("Failed to set in-call presence",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}

	s.events.SendToUser(session.CallerID, EventCallAccepted, map[string]interface{}{
		"call_id": callID,
	})

	session.Status = domain.CallStatusActive
	return session, nil
}

// Reject terminates a ringing call. Either party may reject: the caller
// rejecting their own call records it as cancelled, the callee rejecting
// records it as missed. Duration is always zero.
func (s *Service) Reject(ctx context.Context, callID, actorID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if session.CallerID != actorID && session.ReceiverID != actorID {
		return nil, apperrors.ForbiddenError("not a participant of this call")
	}

	now := time.Now().UTC()
	ok, err := s.calls.TransitionStatus(ctx, callID, domain.CallStatusRinging, domain.CallStatusRejected, &now)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		return nil, s.staleTransition(ctx, callID, domain.CallStatusRejected)
	}

	historyStatus := domain.HistoryStatusMissed
	if actorID == session.CallerID {
		historyStatus = domain.HistoryStatusCancelled
	}

	s.writeHistory(session, historyStatus, 0, now)

	other := session.CallerID
	if actorID == session.CallerID {
		other = session.ReceiverID
	}
	s.events.SendToUser(other, EventCallRejected, map[string]interface{}{
		"call_id": callID,
		"by":      actorID,
	})

	// A caller hanging up while ringing is a missed call for the callee
	if actorID == session.CallerID && s.notifier != nil {
		if err := s.notifier.SendMissedCallNotification(ctx, callID, session.CallerID, "", session.ReceiverID); err != nil {
			logger.Warn("Failed to push missed call notification",
				zap.String("call_id", callID.String()),
				zap.Error(err))
		}
	}

	session.Status = domain.CallStatusRejected
	session.EndTime = &now
	return session, nil
}

// End terminates an active call and derives the completed history row
func (s *Service) End(ctx context.Context, callID, actorID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if session.CallerID != actorID && session.ReceiverID != actorID {
		return nil, apperrors.ForbiddenError("not a participant of this call")
	}

	now := time.Now().UTC()
	ok, err := s.calls.TransitionStatus(ctx, callID, domain.CallStatusActive, domain.CallStatusEnded, &now)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		return nil, s.staleTransition(ctx, callID, domain.CallStatusEnded)
	}

	duration := domain.DurationSeconds(session.StartTime, now)
	s.writeHistory(session, domain.HistoryStatusCompleted, duration, now)

	for _, userID := range []uuid.UUID{session.CallerID, session.ReceiverID} {
		if err := s.presence.SetStatus(ctx, userID, domain.PresenceOnline); err != nil {
			logger.Warn("Failed to restore presence after call",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}

	other := session.CallerID
	if actorID == session.CallerID {
		other = session.ReceiverID
	}
	s.events.SendToUser(other, EventCallEnded, map[string]interface{}{
		"call_id":  callID,
		"duration": duration,
	})

	if s.metrics != nil {
		s.metrics.RecordCallDuration(string(session.CallType), time.Duration(duration)*time.Second)
	}

	session.Status = domain.CallStatusEnded
	session.EndTime = &now
	return session, nil
}

// GetSession retrieves a call session; only participants may read it
func (s *Service) GetSession(ctx context.Context, callID, actorID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if session.CallerID != actorID && session.ReceiverID != actorID {
		return nil, apperrors.ForbiddenError("not a participant of this call")
	}
	return session, nil
}

// GetHistory retrieves a user's call history from the last few months
func (s *Service) GetHistory(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.CallHistory, error) {
	if limit <= 0 || limit > constants.MaxPageSize {
		limit = constants.DefaultPageSize
	}

	entries, err := s.history.GetRecentBuckets(userID, 3, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return entries, nil
}

// SweepStaleRinging writes off ringing sessions older than the ring
// timeout as missed calls. Run periodically as a background job; the CAS
// transition makes concurrent sweeps and late accepts race-safe.
func (s *Service) SweepStaleRinging(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-constants.DefaultRingTimeout)

	stale, err := s.calls.GetStaleRinging(ctx, cutoff, 100)
	if err != nil {
		return err
	}

	for _, session := range stale {
		now := time.Now().UTC()
		ok, err := s.calls.TransitionStatus(ctx, session.ID, domain.CallStatusRinging, domain.CallStatusRejected, &now)
		if err != nil {
			logger.Warn("Failed to time out ringing call",
				zap.String("call_id", session.ID.String()),
				zap.Error(err))
			continue
		}
		if !ok {
			// Someone accepted or rejected between the read and the sweep
			continue
		}

		s.writeHistory(session, domain.HistoryStatusMissed, 0, now)

		s.events.SendToUser(session.CallerID, EventCallTimeout, map[string]interface{}{
			"call_id": session.ID,
		})
		s.events.SendToUser(session.ReceiverID, EventCallTimeout, map[string]interface{}{
			"call_id": session.ID,
		})

		if s.notifier != nil {
			if err := s.notifier.SendMissedCallNotification(ctx, session.ID, session.CallerID, "", session.ReceiverID); err != nil {
				logger.Warn("Failed to push missed call notification",
					zap.String("call_id", session.ID.String()),
					zap.Error(err))
			}
		}

		logger.Info("Ringing call timed out",
			zap.String("call_id", session.ID.String()),
			zap.Duration("ring_timeout", constants.DefaultRingTimeout))
	}

	return nil
}

// writeHistory derives the history row for a terminal transition. Called
// only after a successful CAS so the row is written exactly once.
func (s *Service) writeHistory(session *domain.CallSession, status domain.HistoryStatus, duration int64, endTime time.Time) {
	entry := &domain.CallHistory{
		ID:              uuid.New(),
		CallerID:        session.CallerID,
		ReceiverID:      session.ReceiverID,
		CallType:        session.CallType,
		Status:          status,
		DurationSeconds: duration,
		StartTime:       session.StartTime,
		EndTime:         endTime,
	}

	if err := s.history.Append(entry); err != nil {
		// History is derived data; the transition itself already committed
		logger.Error("Failed to append call history",
			zap.String("call_id", session.ID.String()),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}

	if s.metrics != nil {
		s.metrics.RecordCall(string(session.CallType), string(status))
		s.metrics.DecrementActiveCalls()
	}
}

// staleTransition builds the invalid-transition error for a lost CAS race
func (s *Service) staleTransition(ctx context.Context, callID uuid.UUID, attempted domain.CallStatus) error {
	current, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordCallFailure(string(current.CallType), "invalid_transition")
	}

	return apperrors.InvalidTransitionError(string(current.Status), string(attempted))
}
