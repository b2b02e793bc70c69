package model

import (
	"errors"
	"fmt"

	"github.com/agentdex/agentdex/pkg/agentcard"
)

// ErrorCode is the closed taxonomy of error kinds the registry surfaces.
// Handlers translate codes to HTTP statuses exactly once, at the boundary.
type ErrorCode string

const (
	CodeInvalidCard      ErrorCode = "invalid_card"
	CodeUnauthenticated  ErrorCode = "unauthenticated"
	CodeForbidden        ErrorCode = "forbidden"
	CodeNotFound         ErrorCode = "not_found"
	CodeRateLimited      ErrorCode = "rate_limited"
	CodeOverloaded       ErrorCode = "overloaded"
	CodeDeadlineExceeded ErrorCode = "deadline_exceeded"
	CodeInvalidCursor    ErrorCode = "invalid_cursor"
	CodeInvalidRequest   ErrorCode = "invalid_request"
	CodeUpstream         ErrorCode = "upstream"
)

// Error is the registry's error value. Detail is safe for external display;
// wrapped causes are internal only.
type Error struct {
	Code       ErrorCode
	Detail     string
	Fields     []agentcard.FieldError // populated for CodeInvalidCard
	RetryAfter int                    // seconds; populated for CodeRateLimited
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is match on code, so sentinel-style comparisons work:
// errors.Is(err, &Error{Code: CodeNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// E builds an error with a code and display-safe detail.
func E(code ErrorCode, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Wrap attaches an internal cause to a coded error.
func Wrap(code ErrorCode, detail string, cause error) *Error {
	return &Error{Code: code, Detail: detail, cause: cause}
}

// NotFound is the uniform "absent or invisible" error. Record-level
// invisibility is always reported this way to avoid leaking existence.
func NotFound(what string) *Error {
	return &Error{Code: CodeNotFound, Detail: what + " not found"}
}

// InvalidCard converts an agentcard validation error, keeping field detail.
func InvalidCard(verr *agentcard.ValidationError) *Error {
	return &Error{Code: CodeInvalidCard, Detail: "agent card failed validation", Fields: verr.Errors}
}

// CodeOf extracts the taxonomy code from any error chain; unknown errors
// report as CodeUpstream.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUpstream
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
