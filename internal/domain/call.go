package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType distinguishes audio-only calls from video calls
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// CallStatus is the state of a call session
type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusActive   CallStatus = "active"
	CallStatusEnded    CallStatus = "ended"
	CallStatusRejected CallStatus = "rejected"
)

// callTransitions is the authoritative state machine for call sessions.
// ringing -> active | rejected, active -> ended. Terminal states have no exits.
var callTransitions = map[CallStatus][]CallStatus{
	CallStatusRinging: {CallStatusActive, CallStatusRejected},
	CallStatusActive:  {CallStatusEnded},
}

// CanTransition reports whether a call may move from one status to another
func CanTransition(from, to CallStatus) bool {
	for _, next := range callTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a call status permits no further transitions
func (s CallStatus) IsTerminal() bool {
	return len(callTransitions[s]) == 0
}

// CallSession is the ephemeral record of one call attempt. It is the
// authoritative state for the ringing/active phase; once terminal it is
// retained as an audit row and a CallHistory entry is derived from it.
type CallSession struct {
	ID         uuid.UUID  `json:"id"`
	CallerID   uuid.UUID  `json:"caller_id"`
	ReceiverID uuid.UUID  `json:"receiver_id"`
	CallType   CallType   `json:"call_type"`
	Status     CallStatus `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HistoryStatus classifies how a call attempt concluded
type HistoryStatus string

const (
	HistoryStatusCompleted HistoryStatus = "completed"
	HistoryStatusRejected  HistoryStatus = "rejected"
	HistoryStatusMissed    HistoryStatus = "missed"
	HistoryStatusCancelled HistoryStatus = "cancelled"
)

// CallHistory is the durable record of a concluded call attempt. It is an
// append-only log with no back-reference to the originating session, so
// history survives session cleanup.
type CallHistory struct {
	ID              uuid.UUID     `json:"id"`
	CallerID        uuid.UUID     `json:"caller_id"`
	ReceiverID      uuid.UUID     `json:"receiver_id"`
	CallType        CallType      `json:"call_type"`
	Status          HistoryStatus `json:"status"`
	DurationSeconds int64         `json:"duration_seconds"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
}

// DurationSeconds returns the whole-second duration between start and end,
// floored and never negative
func DurationSeconds(start, end time.Time) int64 {
	if end.Before(start) {
		return 0
	}
	return int64(end.Sub(start) / time.Second)
}
