package api

import (
	"errors"
	"fmt"

	"github.com/unicom/engagement/internal/engagement"
)

// Standard JSON-RPC error codes
const (
	ErrParseError     = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternalError  = -32603
	ErrServerError    = -32000
)

// Engagement error codes, one per error class.
const (
	ErrUnauthorized      = -32001
	ErrForbidden         = -32003
	ErrNotFound          = -32004
	ErrConflict          = -32009
	ErrInvalidTransition = -32010
	ErrInactive          = -32011
	ErrImmutable         = -32012
	ErrUnavailable       = -32503
)

// Error represents an API error
type Error struct {
	Code    int
	Message string
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// rpcCode maps an engagement error class onto its JSON-RPC code.
func rpcCode(code engagement.Code) int {
	switch code.Class() {
	case engagement.CodeValidation:
		return ErrInvalidParams
	case engagement.CodeNotFound:
		return ErrNotFound
	case engagement.CodeForbidden:
		return ErrForbidden
	case engagement.CodeConflict:
		return ErrConflict
	case engagement.CodeInvalidTransition:
		return ErrInvalidTransition
	case engagement.CodeInactive:
		return ErrInactive
	case engagement.CodeImmutable:
		return ErrImmutable
	case engagement.CodeUnavailable:
		return ErrUnavailable
	default:
		return ErrServerError
	}
}

// toRPCError converts a handler error into the wire error. Engagement errors
// keep their precise code in data so clients can tell already_voted from other
// conflicts.
func toRPCError(err error) *JSONRPCError {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return &JSONRPCError{Code: apiErr.Code, Message: apiErr.Message}
	}
	var engErr *engagement.Error
	if errors.As(err, &engErr) {
		msg := engErr.Message
		if msg == "" {
			msg = string(engErr.Code)
		}
		return &JSONRPCError{
			Code:    rpcCode(engErr.Code),
			Message: msg,
			Data:    map[string]interface{}{"code": engErr.Code, "op": engErr.Op},
		}
	}
	return &JSONRPCError{Code: ErrServerError, Message: "Server error"}
}
