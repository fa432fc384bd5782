package domain

import (
	"encoding/json"
	"time"
)

// Mode is the conversation mode a session is opened with.
type Mode string

const (
	ModeTriage   Mode = "triage"
	ModeConsult  Mode = "consult"
	ModeFollowUp Mode = "follow_up"
)

// SessionInfo describes one logical realtime conversation binding.
// ClinicalContext is an opaque payload passed through to the server
// unmodified.
type SessionInfo struct {
	ID              string          `json:"id"`
	Mode            Mode            `json:"mode"`
	ClinicalContext json.RawMessage `json:"clinical_context,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ConnStatus is the lifecycle status of one transport connection attempt.
type ConnStatus string

const (
	ConnConnecting ConnStatus = "connecting"
	ConnOpen       ConnStatus = "open"
	ConnClosing    ConnStatus = "closing"
	ConnClosed     ConnStatus = "closed"
)

// ConnectionAttempt records one lifecycle of the transport socket.
type ConnectionAttempt struct {
	Attempt   int        `json:"attempt"`
	Status    ConnStatus `json:"status"`
	LastError string     `json:"last_error,omitempty"`
}
