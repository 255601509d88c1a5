package push

import (
	"context"
	"encoding/json"
	"fmt"

	"tunelink-backend/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Provider defines the interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal, low
	Sound    string            `json:"sound,omitempty"`
	Badge    *int              `json:"badge,omitempty"`
	Category string            `json:"category,omitempty"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"
	TokenTypeAPNs TokenType = "apns"
	TokenTypeWeb  TokenType = "web"
)

// Token represents a push notification token for a user
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository defines the interface for storing push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	GetByToken(ctx context.Context, token string) (*Token, error)
	Delete(ctx context.Context, userID uuid.UUID, tokenStr string) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
	MarkInactive(ctx context.Context, tokenStr string) error
}

// MetricsRecorder counts sent and failed notifications
type MetricsRecorder interface {
	RecordPushNotification(notifType string)
	RecordPushNotificationFailure(notifType, reason string)
}

// Service handles push notification delivery for call and live stream events
type Service struct {
	provider Provider
	repo     TokenRepository
	metrics  MetricsRecorder
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// WithMetrics attaches a metrics recorder and returns the service
func (s *Service) WithMetrics(m MetricsRecorder) *Service {
	s.metrics = m
	return s
}

// RegisterToken registers or refreshes a push notification token for a user
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	existing, err := s.repo.GetByToken(ctx, token.Token)
	if err == nil && existing != nil {
		existing.Active = true
		existing.DeviceID = token.DeviceID
		existing.Platform = token.Platform
		return s.repo.Store(ctx, existing)
	}
	return s.repo.Store(ctx, token)
}

// UnregisterToken removes a push notification token
func (s *Service) UnregisterToken(ctx context.Context, userID uuid.UUID, tokenStr string) error {
	return s.repo.Delete(ctx, userID, tokenStr)
}

// UnregisterAllTokens removes all tokens for a user
func (s *Service) UnregisterAllTokens(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeleteByUserID(ctx, userID)
}

// SendIncomingCallNotification notifies a callee that a call is ringing.
// Sent when the callee has no live socket so the mobile OS can wake the app.
func (s *Service) SendIncomingCallNotification(ctx context.Context, callID, callerID uuid.UUID, callerName, callType string, calleeID uuid.UUID) error {
	notification := &Notification{
		Title:    "Incoming Call",
		Body:     fmt.Sprintf("%s is calling you", callerName),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data: map[string]string{
			"type":        "incoming_call",
			"call_id":     callID.String(),
			"caller_id":   callerID.String(),
			"caller_name": callerName,
			"call_type":   callType,
		},
	}
	return s.sendToUsers(ctx, notification, []uuid.UUID{calleeID}, "incoming call")
}

// SendMissedCallNotification notifies a callee about a call that rang out
func (s *Service) SendMissedCallNotification(ctx context.Context, callID, callerID uuid.UUID, callerName string, calleeID uuid.UUID) error {
	notification := &Notification{
		Title:    "Missed Call",
		Body:     fmt.Sprintf("You missed a call from %s", callerName),
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":        "missed_call",
			"call_id":     callID.String(),
			"caller_id":   callerID.String(),
			"caller_name": callerName,
		},
	}
	return s.sendToUsers(ctx, notification, []uuid.UUID{calleeID}, "missed call")
}

// SendLiveStartedNotification notifies followers that a user went live
func (s *Service) SendLiveStartedNotification(ctx context.Context, streamID, streamerID uuid.UUID, streamerName, title string, followerIDs []uuid.UUID) error {
	notification := &Notification{
		Title:    fmt.Sprintf("%s is live", streamerName),
		Body:     title,
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":          "live_started",
			"stream_id":     streamID.String(),
			"streamer_id":   streamerID.String(),
			"streamer_name": streamerName,
			"title":         title,
		},
	}
	return s.sendToUsers(ctx, notification, followerIDs, "live started")
}

// sendToUsers collects active tokens for the given users and sends the
// notification, deactivating any tokens the provider reports invalid
func (s *Service) sendToUsers(ctx context.Context, notification *Notification, userIDs []uuid.UUID, what string) error {
	var allTokens []string
	for _, userID := range userIDs {
		tokens, err := s.repo.GetByUserID(ctx, userID)
		if err != nil {
			logger.Warn("Failed to get push tokens for user",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}

		for _, token := range tokens {
			if token.Active {
				allTokens = append(allTokens, token.Token)
			}
		}
	}

	if len(allTokens) == 0 {
		logger.Debug("No active push tokens for recipients",
			zap.String("notification", what),
			zap.Int("user_count", len(userIDs)))
		return nil
	}

	notifType := notification.Data["type"]

	result, err := s.provider.Send(ctx, notification, allTokens)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordPushNotificationFailure(notifType, "provider_error")
		}
		logger.Error("Failed to send push notification",
			zap.String("notification", what),
			zap.Int("token_count", len(allTokens)),
			zap.Error(err))
		return fmt.Errorf("failed to send %s notification: %w", what, err)
	}

	if s.metrics != nil {
		s.metrics.RecordPushNotification(notifType)
		if result.FailureCount > 0 {
			s.metrics.RecordPushNotificationFailure(notifType, "delivery_failed")
		}
	}

	logger.Info("Push notification sent",
		zap.String("notification", what),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("invalid_tokens", len(result.InvalidTokens)))

	for _, tokenStr := range result.InvalidTokens {
		if err := s.repo.MarkInactive(ctx, tokenStr); err != nil {
			logger.Warn("Failed to mark push token inactive",
				zap.String("token_prefix", maskPushToken(tokenStr)),
				zap.Error(err))
		}
	}

	return nil
}

// GetTokensByUserID retrieves all tokens for a user
func (s *Service) GetTokensByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// MockProvider is a mock implementation for development and testing
type MockProvider struct {
	NotificationsSent int
	LastNotification  *Notification
}

// Send implements Provider
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.NotificationsSent++
	m.LastNotification = notification

	logger.Debug("MockProvider: sending notification",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))

	return &SendResult{
		SuccessCount: len(tokens),
	}, nil
}

// ToJSON converts a notification to JSON
func (n *Notification) ToJSON() ([]byte, error) {
	return json.Marshal(n)
}

// FromJSON creates a notification from JSON
func FromJSON(data []byte) (*Notification, error) {
	var notification Notification
	err := json.Unmarshal(data, &notification)
	return &notification, err
}
