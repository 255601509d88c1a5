package domain

import (
	"time"

	"github.com/google/uuid"
)

// ListenEntry is one row in a user's listening history
type ListenEntry struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	TrackID  string    `json:"track_id"`
	Title    string    `json:"title"`
	Artist   string    `json:"artist"`
	Source   string    `json:"source,omitempty"` // spotify, lastfm, deezer
	PlayedAt time.Time `json:"played_at"`
}
