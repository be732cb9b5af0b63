package engagement

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies every failure the aggregate can report to a caller.
type Code string

const (
	CodeValidation          Code = "validation"
	CodeInvalidKind         Code = "invalid_kind"
	CodeEmptyContent        Code = "empty_content"
	CodeMultiVoteNotAllowed Code = "multi_vote_not_allowed"
	CodeNotFound            Code = "not_found"
	CodeForbidden           Code = "forbidden"
	CodeConflict            Code = "conflict"
	CodeAlreadyVoted        Code = "already_voted"
	CodeInvalidTransition   Code = "invalid_transition"
	CodeInactive            Code = "inactive"
	CodeImmutable           Code = "immutable"
	CodeUnavailable         Code = "unavailable"
)

// Class folds the specialised codes back into the coarse taxonomy that
// callers map onto transport errors.
func (c Code) Class() Code {
	switch c {
	case CodeInvalidKind, CodeEmptyContent, CodeMultiVoteNotAllowed:
		return CodeValidation
	case CodeAlreadyVoted:
		return CodeConflict
	default:
		return c
	}
}

// Error is the canonical engagement error.
type Error struct {
	Code    Code
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an engagement error with an explicit code and operation.
func NewError(code Code, op, message string) error {
	return &Error{Code: code, Op: strings.TrimSpace(op), Message: strings.TrimSpace(message)}
}

// Unavailable reports that the store could not complete the operation even
// though the request itself was valid.
func Unavailable(op string, cause error) error {
	msg := "temporarily unavailable"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: CodeUnavailable, Op: strings.TrimSpace(op), Message: msg, Cause: cause}
}

// CodeOf extracts the code carried by err, or "" when err is not an engagement error.
func CodeOf(err error) Code {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}

// IsCode reports whether err carries code, either exactly or as its class.
func IsCode(err error, code Code) bool {
	c := CodeOf(err)
	if c == "" {
		return false
	}
	return c == code || c.Class() == code
}

func validation(op, msg string) error { return NewError(CodeValidation, op, msg) }
func notFound(op, msg string) error { return NewError(CodeNotFound, op, msg) }
func forbidden(op, msg string) error { return NewError(CodeForbidden, op, msg) }
func conflict(op, msg string) error { return NewError(CodeConflict, op, msg) }
func invalidTransition(op string, from Status) error {
	return NewError(CodeInvalidTransition, op, fmt.Sprintf("post is %s", from))
}
