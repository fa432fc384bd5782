// Package audit emits structured audit entries for session lifecycle
// events through the shared logger.
package audit

import (
	"context"

	"github.com/carelinehq/realtime/pkg/log"
)

// Audit actions for the realtime session layer.
const (
	ActionSessionStart       = "session.start"
	ActionSessionResume      = "session.resume"
	ActionMessageSend        = "session.message_send"
	ActionFatal              = "session.fatal"
	ActionReconnectExhausted = "session.reconnect_exhausted"
	ActionDisconnect         = "session.disconnect"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, sessionID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldSessionID, sessionID).
		Msg(msg)
}

// LogWithDetail emits an audit log with an extra detail field.
func LogWithDetail(ctx context.Context, action, sessionID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldSessionID, sessionID).
		Str(FieldDetail, detail).
		Msg(msg)
}
