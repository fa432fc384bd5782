package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame marks a frame that violates the expected shape. These
// are logged and skipped; the session continues.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// Server error codes.
const (
	CodeAuthFailed     = "AUTH_FAILED"
	CodeAuthExpired    = "AUTH_EXPIRED"
	CodeQuotaExceeded  = "QUOTA_EXCEEDED"
	CodeSessionRevoked = "SESSION_REVOKED"
	CodeBadRequest     = "BAD_REQUEST"
	CodeInternalError  = "INTERNAL_ERROR"
)

// IsFatalCode reports whether a server error code must not be retried
// automatically. Fatal codes require user action (re-authenticate,
// upgrade plan) before another connection makes sense.
func IsFatalCode(code string) bool {
	switch code {
	case CodeAuthFailed, CodeAuthExpired, CodeQuotaExceeded, CodeSessionRevoked:
		return true
	}
	return false
}

// ServerError is a server-signaled failure carried on an error frame.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// Fatal reports whether the error terminates the session.
func (e *ServerError) Fatal() bool { return IsFatalCode(e.Code) }
