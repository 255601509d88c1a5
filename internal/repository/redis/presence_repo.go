package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"tunelink-backend/internal/database"
	"tunelink-backend/internal/domain"
	"tunelink-backend/pkg/constants"
)

// PresenceRepository tracks user online/offline/in-call status in Redis.
// Presence keys carry a TTL so a crashed instance's users drop to offline
// without explicit cleanup.
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s", userID)
}

// SetStatus upserts a user's presence projection with lastSeen = now
func (r *PresenceRepository) SetStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus) error {
	presence := domain.UserPresence{
		UserID:   userID,
		Status:   status,
		LastSeen: time.Now().UTC(),
	}

	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	if status == domain.PresenceOffline {
		if err := r.client.SafeSRem(ctx, "presence:online", userID.String()).Err(); err != nil {
			return fmt.Errorf("failed to remove from online set: %w", err)
		}
		// Keep the record briefly so lastSeen is still readable
		if err := r.client.SafeSet(ctx, presenceKey(userID), data, constants.PresenceTTL).Err(); err != nil {
			return fmt.Errorf("failed to set presence offline: %w", err)
		}
		return nil
	}

	if err := r.client.SafeSet(ctx, presenceKey(userID), data, constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	if err := r.client.SafeSAdd(ctx, "presence:online", userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}

	return nil
}

// GetStatus retrieves a user's presence; unknown users read as offline
func (r *PresenceRepository) GetStatus(ctx context.Context, userID uuid.UUID) (*domain.UserPresence, error) {
	data, err := r.client.SafeGet(ctx, presenceKey(userID)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return &domain.UserPresence{
				UserID: userID,
				Status: domain.PresenceOffline,
			}, nil
		}
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var presence domain.UserPresence
	if err := json.Unmarshal(data, &presence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence: %w", err)
	}

	return &presence, nil
}

// IsOnline checks if a user currently reads as online or in-call
func (r *PresenceRepository) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	presence, err := r.GetStatus(ctx, userID)
	if err != nil {
		return false, err
	}
	return presence.Status != domain.PresenceOffline, nil
}

// Refresh keeps a user's presence alive (heartbeat)
func (r *PresenceRepository) Refresh(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeExpire(ctx, presenceKey(userID), constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// GetOnlineUsers retrieves the IDs of users currently marked online
func (r *PresenceRepository) GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	idStrs, err := r.client.SafeSMembers(ctx, "presence:online").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	userIDs := make([]uuid.UUID, 0, len(idStrs))
	for _, idStr := range idStrs {
		userID, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		userIDs = append(userIDs, userID)
	}

	return userIDs, nil
}

// GetOnlineCount returns the number of users currently marked online
func (r *PresenceRepository) GetOnlineCount(ctx context.Context) (int64, error) {
	count, err := r.client.SafeSCard(ctx, "presence:online").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count online users: %w", err)
	}
	return count, nil
}

// IsDegraded returns true if Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
