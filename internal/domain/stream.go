package domain

import (
	"time"

	"github.com/google/uuid"
)

// StreamStatus is the state of a live stream
type StreamStatus string

const (
	StreamStatusLive  StreamStatus = "live"
	StreamStatusEnded StreamStatus = "ended"
)

// LiveStream represents one broadcast session
type LiveStream struct {
	ID              uuid.UUID    `json:"id"`
	HostID          uuid.UUID    `json:"host_id"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	Status          StreamStatus `json:"status"`
	PeakViewers     int          `json:"peak_viewers"`
	DurationSeconds int64        `json:"duration_seconds"`
	StartedAt       time.Time    `json:"started_at"`
	EndedAt         *time.Time   `json:"ended_at,omitempty"`
	RecordingURL    string       `json:"recording_url,omitempty"`
}

// StreamViewer is one viewer's membership in a stream. A viewer currently
// watching has LeftAt == nil; rejoin refreshes JoinedAt and clears LeftAt
// instead of appending a second row.
type StreamViewer struct {
	StreamID uuid.UUID  `json:"stream_id"`
	UserID   uuid.UUID  `json:"user_id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}
