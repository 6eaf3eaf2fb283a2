package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType represents the media type of a call
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// ValidCallType reports whether t is a known call type
func ValidCallType(t CallType) bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus is the lifecycle state of a call session
type CallStatus string

const (
	CallStatusCalling   CallStatus = "CALLING"
	CallStatusConnected CallStatus = "CONNECTED"
	CallStatusEnded     CallStatus = "ENDED"
	CallStatusDeclined  CallStatus = "DECLINED"
	CallStatusMissed    CallStatus = "MISSED"
	CallStatusFailed    CallStatus = "FAILED"
)

// callTransitions is the authoritative transition table. Anything not listed
// is illegal and rejected, including transitions out of terminal states.
var callTransitions = map[CallStatus]map[CallStatus]bool{
	CallStatusCalling: {
		CallStatusConnected: true,
		CallStatusEnded:     true,
		CallStatusDeclined:  true,
		CallStatusMissed:    true,
		CallStatusFailed:    true,
	},
	CallStatusConnected: {
		CallStatusEnded:  true,
		CallStatusFailed: true,
	},
}

// Terminal reports whether no further transition is valid from s
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusDeclined, CallStatusMissed, CallStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is a legal transition
func (s CallStatus) CanTransition(to CallStatus) bool {
	return callTransitions[s][to]
}

// CallSession is the authoritative, expiring record of one call's lifecycle.
// It lives in the shared key-value store so that no single process owns it;
// every transition re-reads then writes the record.
type CallSession struct {
	CallID     uuid.UUID  `json:"call_id"`
	CallerID   uuid.UUID  `json:"caller_id"`
	CalleeID   uuid.UUID  `json:"callee_id"`
	CallType   CallType   `json:"call_type"`
	Status     CallStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Participant reports whether id is the caller or the callee
func (c *CallSession) Participant(id uuid.UUID) bool {
	return id == c.CallerID || id == c.CalleeID
}

// OtherParty returns the counterpart of id, or uuid.Nil if id is not a
// participant
func (c *CallSession) OtherParty(id uuid.UUID) uuid.UUID {
	switch id {
	case c.CallerID:
		return c.CalleeID
	case c.CalleeID:
		return c.CallerID
	}
	return uuid.Nil
}

// TerminalStatus resolves the status to record for a terminating session.
// Rule: an explicit decline is DECLINED; anything else that terminates before
// the call was accepted is MISSED, regardless of which event triggered it;
// a call that was accepted ends as ENDED.
func (c *CallSession) TerminalStatus(declined bool) CallStatus {
	if declined {
		return CallStatusDeclined
	}
	if c.AcceptedAt == nil {
		return CallStatusMissed
	}
	return CallStatusEnded
}

// Duration returns the connected time, zero if the call never connected
func (c *CallSession) Duration() time.Duration {
	if c.AcceptedAt == nil || c.EndedAt == nil {
		return 0
	}
	d := c.EndedAt.Sub(*c.AcceptedAt)
	if d < 0 {
		return 0
	}
	return d
}

// CallHistoryRecord is the durable, append-only outcome of a terminated call.
// Exactly one record exists per call id; concurrent terminal events race to
// insert and the first writer wins.
type CallHistoryRecord struct {
	CallID       uuid.UUID  `json:"call_id" db:"call_id"`
	CallerID     uuid.UUID  `json:"caller_id" db:"caller_id"`
	CalleeID     uuid.UUID  `json:"callee_id" db:"callee_id"`
	CallType     CallType   `json:"call_type" db:"call_type"`
	Status       CallStatus `json:"status" db:"status"`
	DurationSecs int        `json:"duration_secs" db:"duration_secs"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// HistoryRecord builds the durable record for a session that has reached a
// terminal status
func (c *CallSession) HistoryRecord() *CallHistoryRecord {
	return &CallHistoryRecord{
		CallID:       c.CallID,
		CallerID:     c.CallerID,
		CalleeID:     c.CalleeID,
		CallType:     c.CallType,
		Status:       c.Status,
		DurationSecs: int(c.Duration().Seconds()),
		StartedAt:    c.StartedAt,
		EndedAt:      c.EndedAt,
	}
}
