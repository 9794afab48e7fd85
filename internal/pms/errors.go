package pms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code classifies PMS failures for callers and for the response envelope.
type Code string

const (
	CodeConfig           Code = "CONFIG_ERROR"
	CodeCredentials      Code = "CREDENTIALS_MISSING"
	CodeAuthFailed       Code = "AUTH_FAILED"
	CodeWritebackFailed  Code = "WRITEBACK_FAILED"
	CodeWritebackTimeout Code = "WRITEBACK_TIMEOUT"
	CodeUpstream         Code = "UPSTREAM_ERROR"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeCancelled        Code = "CANCELLED"
)

// Error is the typed failure returned by PMS integrations.
type Error struct {
	Code    Code
	Message string
	Status  int // upstream HTTP status, zero when not applicable
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrWritebackTimeout = &Error{Code: CodeWritebackTimeout, Message: "writeback did not reach a terminal state"}
	ErrWritebackFailed  = &Error{Code: CodeWritebackFailed}
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "resource not found"}
	ErrAuthFailed       = &Error{Code: CodeAuthFailed}
	ErrInvalidRequest   = &Error{Code: CodeInvalidRequest}
)

// NewError builds an *Error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Invalid builds an INVALID_REQUEST error.
func Invalid(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// CodeOf reports the code of err, mapping foreign errors onto the taxonomy.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancelled
	}
	return CodeUpstream
}

// HTTPStatus maps an error onto the status the HTTP API answers with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case "":
		return http.StatusOK
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConfig, CodeCredentials:
		return http.StatusPreconditionFailed
	case CodeWritebackTimeout, CodeCancelled:
		return http.StatusGatewayTimeout
	case CodeWritebackFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
