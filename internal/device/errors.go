package device

import (
	"errors"
	"fmt"
)

// ErrorKind names a failure class that callers can match with errors.Is.
type ErrorKind string

const (
	PermissionDenied   ErrorKind = "permission_denied"
	AdapterUnavailable ErrorKind = "adapter_unavailable"
	NoSession          ErrorKind = "no_session"
	AlreadyConnected   ErrorKind = "already_connected"
	InvalidAddress     ErrorKind = "invalid_address"
	InvalidService     ErrorKind = "invalid_service"
	DiscoveryBusy      ErrorKind = "discovery_busy"
)

// Error is a classified failure.
type Error struct {
	Kind ErrorKind
	Msg  string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors
var (
	ErrPermissionDenied   = &Error{Kind: PermissionDenied}
	ErrAdapterUnavailable = &Error{Kind: AdapterUnavailable}
	ErrNoSession          = &Error{Kind: NoSession}
	ErrAlreadyConnected   = &Error{Kind: AlreadyConnected}
	ErrInvalidAddress     = &Error{Kind: InvalidAddress}
	ErrInvalidService     = &Error{Kind: InvalidService}
	ErrDiscoveryBusy      = &Error{Kind: DiscoveryBusy}
)

// ConnectError reports a failed connect; no session state is kept after it.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("connect failed: %v", e.Err)
	}
	return fmt.Sprintf("connect to %s failed: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// WriteError reports a failed or partial write.
type WriteError struct {
	Written int
	Err     error
}

func (e *WriteError) Error() string {
	if e.Written > 0 {
		return fmt.Sprintf("write failed after %d bytes: %v", e.Written, e.Err)
	}
	return fmt.Sprintf("write failed: %v", e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// DisconnectError carries close failures. The session is cleared regardless.
type DisconnectError struct {
	Err error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("disconnect failed: %v", e.Err)
}

func (e *DisconnectError) Unwrap() error { return e.Err }

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind == kind
	}
	return false
}
