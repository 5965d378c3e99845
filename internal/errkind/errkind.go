// Package errkind provides the kind-tagged error type shared by the
// supervisor, its network clients and the supporting stores.
//
// Every failure the supervisor can report carries a Kind. Callers branch on
// the kind with errors.Is against the package sentinels:
//
//	if errors.Is(err, errkind.ErrAlreadyRunning) {
//	    // ...
//	}
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors that carry no kind.
	KindUnknown Kind = iota

	// Supervisor start path.
	KindAlreadyRunning
	KindArtifactNotFound
	KindSpawnFailed

	// Raw HTTP exchange.
	KindConnectionFailed
	KindWriteFailed
	KindReadFailed
	KindInvalidEncoding

	// Shutdown negotiation.
	KindEndpointNotFound
	KindMethodNotAllowed
	KindAuthenticationRequired
	KindUnexpectedResponse
	KindTransportError

	// Supporting components.
	KindNotFound
	KindSettingsInvalid
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAlreadyRunning:
		return "already_running"
	case KindArtifactNotFound:
		return "artifact_not_found"
	case KindSpawnFailed:
		return "spawn_failed"
	case KindConnectionFailed:
		return "connection_failed"
	case KindWriteFailed:
		return "write_failed"
	case KindReadFailed:
		return "read_failed"
	case KindInvalidEncoding:
		return "invalid_encoding"
	case KindEndpointNotFound:
		return "endpoint_not_found"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	case KindAuthenticationRequired:
		return "authentication_required"
	case KindUnexpectedResponse:
		return "unexpected_response"
	case KindTransportError:
		return "transport_error"
	case KindNotFound:
		return "not_found"
	case KindSettingsInvalid:
		return "settings_invalid"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrAlreadyRunning         = &Error{Kind: KindAlreadyRunning}
	ErrArtifactNotFound       = &Error{Kind: KindArtifactNotFound}
	ErrSpawnFailed            = &Error{Kind: KindSpawnFailed}
	ErrConnectionFailed       = &Error{Kind: KindConnectionFailed}
	ErrWriteFailed            = &Error{Kind: KindWriteFailed}
	ErrReadFailed             = &Error{Kind: KindReadFailed}
	ErrInvalidEncoding        = &Error{Kind: KindInvalidEncoding}
	ErrEndpointNotFound       = &Error{Kind: KindEndpointNotFound}
	ErrMethodNotAllowed       = &Error{Kind: KindMethodNotAllowed}
	ErrAuthenticationRequired = &Error{Kind: KindAuthenticationRequired}
	ErrUnexpectedResponse     = &Error{Kind: KindUnexpectedResponse}
	ErrTransportError         = &Error{Kind: KindTransportError}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrSettingsInvalid        = &Error{Kind: KindSettingsInvalid}
)

// Error is an error tagged with a Kind.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Msg is the human-readable description.
	Msg string

	// Err is the underlying cause, if any.
	Err error
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind and a message. Returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
