package log

const (
	// Session
	FieldSessionID = "session_id"
	FieldMessageID = "message_id"
	FieldFrameKind = "frame_kind"
	FieldState     = "state"
	FieldAttempt   = "attempt"

	// Actor
	FieldUserID = "user_id"

	// Service
	FieldService = "service"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
