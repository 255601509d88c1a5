package domain

import (
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is a user's transient availability
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceInCall  PresenceStatus = "in-call"
)

// UserPresence is a last-write-wins projection of a user's status,
// not an authoritative log
type UserPresence struct {
	UserID   uuid.UUID      `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}
