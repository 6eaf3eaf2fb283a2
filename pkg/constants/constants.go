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

// Session registry constants
const (
	// RegistryEntryTTL is how long a registry entry survives without a heartbeat
	RegistryEntryTTL = 90 * time.Second

	// PresenceFreshness is the window within which last_seen still counts as online
	PresenceFreshness = 5 * time.Minute
)

// Call session constants
const (
	// CallRingTTL is the lifetime of an unanswered call session record
	CallRingTTL = 5 * time.Minute

	// CallActiveTTL is the lifetime of a connected call session record, a
	// server-side ceiling in case neither client ever ends the call
	CallActiveTTL = 4 * time.Hour

	// CallTerminalTTL keeps a terminal call session around so that late
	// duplicate events resolve as no-ops instead of errors
	CallTerminalTTL = 1 * time.Minute
)

// Message constants
const (
	// MaxMessageLength is the maximum allowed message length
	MaxMessageLength = 10000

	// SeenScanPageSize is how many rows a bulk seen update pulls per page
	// while walking a chat partition
	SeenScanPageSize = 500
)

// Push notification constants
const (
	// PushTokenTTL is the validity period for stored push tokens
	PushTokenTTL = 30 * 24 * time.Hour
)

// Realtime event names. These appear verbatim on the WebSocket wire and in
// broker envelopes, so clients and every service instance agree on them.
const (
	EventConnected        = "connected"
	EventHeartbeat        = "heartbeat"
	EventUserStatusChange = "user_status_change"

	EventOneToOneMessage = "one_to_one_message"
	EventSeenMessage     = "seen_message"

	EventCallUser     = "call-user"
	EventAcceptCall   = "accept-call"
	EventDeclineCall  = "decline-call"
	EventEndCall      = "end-call"
	EventIceCandidate = "ice-candidate"

	EventIncomingCall  = "incoming-call"
	EventCallInitiated = "call-initiated"
	EventCallAccepted  = "call-accepted"
	EventCallDeclined  = "call-declined"
	EventCallEnded     = "call-ended"
	EventCallTimeout   = "call-timeout"
	EventCallError     = "call-error"
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)
