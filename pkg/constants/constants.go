// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single frame write
	WebSocketWriteTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// RefreshTokenExpiry is the default refresh token lifetime
	RefreshTokenExpiry = 30 * 24 * time.Hour
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Call-related constants
const (
	// DefaultRingTimeout is how long a call may stay ringing before the
	// sweep job writes it off as missed
	DefaultRingTimeout = 60 * time.Second

	// RingSweepInterval is how often the ring-timeout sweep runs
	RingSweepInterval = 15 * time.Second

	// MaxCallDuration is the maximum allowed call duration (24 hours)
	MaxCallDuration = 24 * time.Hour
)

// Presence constants
const (
	// PresenceTTL is how long a presence key survives without a refresh,
	// so users of a crashed instance age out on their own
	PresenceTTL = 5 * time.Minute
)

// Listening history constants
const (
	// ListeningHistoryLimit is the number of entries retained per user;
	// the prune job trims anything beyond it
	ListeningHistoryLimit = 50
)

// Storage constants
const (
	// PresignedURLExpiry is the validity period for presigned recording URLs
	PresignedURLExpiry = 15 * time.Minute

	// RecordingBucket is the object storage bucket for stream recordings
	RecordingBucket = "stream-recordings"
)

// Push notification constants
const (
	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)
