package session

import (
	"time"

	"github.com/carelinehq/realtime/internal/domain"
)

// EventType classifies session events surfaced to the caller.
type EventType string

const (
	// EventStateChanged fires on every state machine transition.
	EventStateChanged EventType = "state_changed"
	// EventSessionStarted fires when the server confirms the session and
	// the identifier is bound.
	EventSessionStarted EventType = "session_started"
	// EventMessageDelta fires for each accumulated content fragment.
	EventMessageDelta EventType = "message_delta"
	// EventMessageComplete fires when a message is finalized.
	EventMessageComplete EventType = "message_complete"
	// EventCitations fires when citations attach to a message.
	EventCitations EventType = "citations"
	// EventReconnecting fires when an automatic retry is scheduled. The
	// caller should present this as "reconnecting", not a hard failure.
	EventReconnecting EventType = "reconnecting"
	// EventReconnectExhausted fires exactly once when the retry ceiling is
	// reached. Only a manual reconnect resets it.
	EventReconnectExhausted EventType = "reconnect_exhausted"
	// EventFatal fires on a server-signaled condition that must not be
	// retried, such as authentication failure or quota exhaustion.
	EventFatal EventType = "fatal"
)

// Event is one session notification.
type Event struct {
	Type      EventType
	State     State
	SessionID string
	Message   domain.Message
	// Fragment is the raw content fragment carried by a message_delta
	// event; Message holds the accumulated buffer so far.
	Fragment string
	Attempt  int
	Delay    time.Duration
	Err      error
}
