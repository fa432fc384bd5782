// Package protocol defines the normalized frame set exchanged over a chat
// session socket and the error taxonomy shared by both ends.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/carelinehq/realtime/internal/domain"
)

// Kind discriminates frame types on the wire.
type Kind string

// Client -> server frames.
const (
	KindSessionStart Kind = "session.start"
	KindMessageSend  Kind = "message.send"
	KindPing         Kind = "ping"
)

// Server -> client frames.
const (
	KindSessionStarted  Kind = "session.started"
	KindMessageDelta    Kind = "message.delta"
	KindMessageComplete Kind = "message.complete"
	KindCitationList    Kind = "citation.list"
	KindError           Kind = "error"
	KindPong            Kind = "pong"
)

// Frame is one discrete protocol message.
type Frame interface {
	FrameKind() Kind
}

// SessionStartFrame opens or resumes a session. SessionID is empty for a new
// session and carries the bound identifier when resuming.
type SessionStartFrame struct {
	Type            Kind            `json:"type"`
	SessionID       string          `json:"session_id,omitempty"`
	Mode            domain.Mode     `json:"mode"`
	ClinicalContext json.RawMessage `json:"clinical_context,omitempty"`
}

func NewSessionStart(sessionID string, mode domain.Mode, clinicalContext json.RawMessage) *SessionStartFrame {
	return &SessionStartFrame{
		Type:            KindSessionStart,
		SessionID:       sessionID,
		Mode:            mode,
		ClinicalContext: clinicalContext,
	}
}

func (f *SessionStartFrame) FrameKind() Kind { return KindSessionStart }

func (f *SessionStartFrame) Validate() error {
	if f.Mode == "" {
		return fmt.Errorf("%w: session.start missing mode", ErrMalformedFrame)
	}
	return nil
}

// SessionStartedFrame confirms a session and binds its identifier.
type SessionStartedFrame struct {
	Type      Kind   `json:"type"`
	SessionID string `json:"session_id"`
}

func NewSessionStarted(sessionID string) *SessionStartedFrame {
	return &SessionStartedFrame{Type: KindSessionStarted, SessionID: sessionID}
}

func (f *SessionStartedFrame) FrameKind() Kind { return KindSessionStarted }

func (f *SessionStartedFrame) Validate() error {
	if f.SessionID == "" {
		return fmt.Errorf("%w: session.started missing session_id", ErrMalformedFrame)
	}
	return nil
}

// MessageSendFrame carries one outbound user message. MessageID is
// client-proposed so the local pending record and server echoes line up.
type MessageSendFrame struct {
	Type        Kind                `json:"type"`
	SessionID   string              `json:"session_id"`
	MessageID   string              `json:"message_id"`
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

func NewMessageSend(sessionID, messageID, content string, attachments []domain.Attachment) *MessageSendFrame {
	return &MessageSendFrame{
		Type:        KindMessageSend,
		SessionID:   sessionID,
		MessageID:   messageID,
		Content:     content,
		Attachments: attachments,
	}
}

func (f *MessageSendFrame) FrameKind() Kind { return KindMessageSend }

func (f *MessageSendFrame) Validate() error {
	if f.SessionID == "" {
		return fmt.Errorf("%w: message.send missing session_id", ErrMalformedFrame)
	}
	if f.Content == "" && len(f.Attachments) == 0 {
		return fmt.Errorf("%w: message.send has no content", ErrMalformedFrame)
	}
	return nil
}

// MessageDeltaFrame carries one incremental content fragment of a streaming
// assistant message.
type MessageDeltaFrame struct {
	Type      Kind        `json:"type"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id"`
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
}

func NewMessageDelta(sessionID, messageID string, role domain.Role, content string) *MessageDeltaFrame {
	return &MessageDeltaFrame{
		Type:      KindMessageDelta,
		SessionID: sessionID,
		MessageID: messageID,
		Role:      role,
		Content:   content,
	}
}

func (f *MessageDeltaFrame) FrameKind() Kind { return KindMessageDelta }

func (f *MessageDeltaFrame) Validate() error {
	if f.MessageID == "" {
		return fmt.Errorf("%w: message.delta missing message_id", ErrMalformedFrame)
	}
	return nil
}

// MessageCompleteFrame finalizes the referenced message.
type MessageCompleteFrame struct {
	Type      Kind   `json:"type"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

func NewMessageComplete(sessionID, messageID string) *MessageCompleteFrame {
	return &MessageCompleteFrame{Type: KindMessageComplete, SessionID: sessionID, MessageID: messageID}
}

func (f *MessageCompleteFrame) FrameKind() Kind { return KindMessageComplete }

func (f *MessageCompleteFrame) Validate() error {
	if f.MessageID == "" {
		return fmt.Errorf("%w: message.complete missing message_id", ErrMalformedFrame)
	}
	return nil
}

// CitationListFrame attaches citations to the referenced message. It may
// arrive while the message is still streaming or after it completed.
type CitationListFrame struct {
	Type      Kind              `json:"type"`
	SessionID string            `json:"session_id"`
	MessageID string            `json:"message_id"`
	Citations []domain.Citation `json:"citations"`
}

func NewCitationList(sessionID, messageID string, citations []domain.Citation) *CitationListFrame {
	return &CitationListFrame{Type: KindCitationList, SessionID: sessionID, MessageID: messageID, Citations: citations}
}

func (f *CitationListFrame) FrameKind() Kind { return KindCitationList }

func (f *CitationListFrame) Validate() error {
	if f.MessageID == "" {
		return fmt.Errorf("%w: citation.list missing message_id", ErrMalformedFrame)
	}
	return nil
}

// ErrorFrame reports a server-side failure. Whether it is fatal is decided
// by the code, see IsFatalCode.
type ErrorFrame struct {
	Type    Kind   `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, message string) *ErrorFrame {
	return &ErrorFrame{Type: KindError, Code: code, Message: message}
}

func (f *ErrorFrame) FrameKind() Kind { return KindError }

func (f *ErrorFrame) Validate() error {
	if f.Code == "" {
		return fmt.Errorf("%w: error frame missing code", ErrMalformedFrame)
	}
	return nil
}

// PingFrame is an in-band liveness probe. Acknowledgment is advisory.
type PingFrame struct {
	Type Kind `json:"type"`
}

func NewPing() *PingFrame { return &PingFrame{Type: KindPing} }

func (f *PingFrame) FrameKind() Kind { return KindPing }

// PongFrame acknowledges a ping.
type PongFrame struct {
	Type Kind `json:"type"`
}

func NewPong() *PongFrame { return &PongFrame{Type: KindPong} }

func (f *PongFrame) FrameKind() Kind { return KindPong }
