// Package domainerrors carries failure categories from the consent core to
// its callers without tying them to HTTP. Transport code maps a Code to a
// status exactly once.
package domainerrors

import "errors"

// Code names what went wrong in consent terms.
type Code string

const (
	// CodeValidation covers malformed records and patches, such as an
	// unknown category or a missing version.
	CodeValidation Code = "validation_failed"
	// CodeBadRequest covers calls missing a required argument.
	CodeBadRequest   Code = "bad_request"
	CodeNotFound     Code = "not_found"
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden means the caller is known but acts on another user's consent.
	CodeForbidden Code = "forbidden"
	// CodeUnavailable marks a collaborator that could not be reached, most
	// often the remote consent sync.
	CodeUnavailable Code = "unavailable"
	CodeInternal    Code = "internal_error"
)

// Error is a coded failure. Message is safe to show to clients; Err is not.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err,
// &Error{Code: CodeNotFound}) works across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// New returns a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches msg to err. When err already carries a code that code wins
// over the one given, so a not-found from a store stays not-found.
func Wrap(err error, code Code, msg string) error {
	if inner, ok := asError(err); ok {
		code = inner.Code
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	inner, ok := asError(err)
	return ok && inner.Code == code
}

// CodeOf returns the code carried by err; uncoded errors are internal.
func CodeOf(err error) Code {
	if inner, ok := asError(err); ok {
		return inner.Code
	}
	return CodeInternal
}

func asError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
