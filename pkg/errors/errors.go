// Package errors carries typed API errors. A Code decides the HTTP status,
// whether the failure is worth retrying, and what the caller may see.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeDuplicate     Code = "DUPLICATE_SUBMISSION"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	// CodeUpstream marks a failure talking to a remote media or profile host.
	CodeUpstream Code = "UPSTREAM_ERROR"
	// CodeUnsupportedMedia marks bytes that cannot be normalized.
	CodeUnsupportedMedia Code = "UNSUPPORTED_MEDIA"
)

// Metadata is the fixed policy attached to a Code.
type Metadata struct {
	HTTPStatus    int
	Retryable     bool
	PublicMessage string
	// ExposeMessage lets the error's own message replace PublicMessage.
	ExposeMessage bool
	ExposeDetails bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:       {http.StatusBadRequest, false, "validation failed", true, true},
	CodeUnauthorized:     {http.StatusUnauthorized, false, "authentication required", true, false},
	CodeForbidden:        {http.StatusForbidden, false, "access denied", true, false},
	CodeNotFound:         {http.StatusNotFound, false, "resource not found", true, false},
	CodeConflict:         {http.StatusConflict, false, "conflict detected", true, false},
	CodeStateConflict:    {http.StatusUnprocessableEntity, false, "state transition disallowed", true, true},
	CodeDuplicate:        {http.StatusConflict, false, "duplicate submission", true, true},
	CodeRateLimit:        {http.StatusTooManyRequests, false, "rate limit exceeded", true, false},
	CodeInternal:         {http.StatusInternalServerError, true, "internal server error", false, false},
	CodeDependency:       {http.StatusServiceUnavailable, true, "dependency unavailable", false, true},
	CodeUpstream:         {http.StatusBadGateway, true, "upstream request failed", false, true},
	CodeUnsupportedMedia: {http.StatusUnsupportedMediaType, false, "unsupported media", false, true},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf is CodeInternal for untyped errors.
func CodeOf(err error) Code {
	return As(err).Code()
}

// IsRetryable reports whether err should be retried. Untyped errors are
// treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if typed := As(err); typed != nil {
		return MetadataFor(typed.Code()).Retryable
	}
	return true
}
