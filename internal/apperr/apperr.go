// Package apperr holds the closed set of failure kinds the server reports.
// Components return *Error values; only the HTTP layer turns them into
// status codes and JSON bodies.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// KindUnknown is what KindOf reports for errors that are not *Error.
	KindUnknown Kind = iota
	PathEscape
	PathInvalid
	Unauthorized
	UnsupportedFormat
	NotFound
	Conflict
	BadRequest
	IOFailure
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	PathEscape:        "path_escape",
	PathInvalid:       "path_invalid",
	Unauthorized:      "unauthorized",
	UnsupportedFormat: "unsupported_format",
	NotFound:          "not_found",
	Conflict:          "conflict",
	BadRequest:        "bad_request",
	IOFailure:         "io_failure",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status maps a kind to the HTTP status used at the request boundary.
func (k Kind) Status() int {
	switch k {
	case PathEscape, PathInvalid, Unauthorized:
		return http.StatusForbidden
	case UnsupportedFormat, BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed failure. Msg is safe to show to clients; Err may carry
// filesystem details and is only logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-safe message for err. Errors outside the
// taxonomy get a generic message so internal paths never leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}
