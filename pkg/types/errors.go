package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories reported to clients.
type ErrorKind string

const (
	Unauthorized ErrorKind = "unauthorized"
	Forbidden    ErrorKind = "forbidden"
	NotFound     ErrorKind = "not_found"
	Validation   ErrorKind = "validation"
	Conflict     ErrorKind = "conflict"
	Transient    ErrorKind = "transient"
	RateLimited  ErrorKind = "rate_limited"
	Internal     ErrorKind = "internal"
)

// ARCHITECTURAL DISCOVERY: Specific error values keep validation messages
// identical across the websocket and HTTP surfaces
var (
	ErrInvalidUserID  = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidClassID = errors.New("class ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrEmptyBody      = errors.New("message body cannot be empty")
	ErrBodyTooLong    = errors.New("message body exceeds maximum length")
	ErrInvalidEmoji   = errors.New("emoji must be 1-32 bytes")
	ErrUnknownFrame   = errors.New("unknown frame type")
	ErrMalformedFrame = errors.New("malformed frame")
)

// Error is a domain error tagged with its kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError tags a lower-level error with a kind.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind of err. Untyped errors are Internal; nil has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage is the text safe to show a client. Internal details stay in logs.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	return "internal error"
}
