package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every failure the bridge reports, synchronously or through callbacks.
type ErrorKind string

const (
	RadioUnavailable   ErrorKind = "RadioUnavailable"
	UnknownDevice      ErrorKind = "UnknownDevice"
	AlreadyPending     ErrorKind = "AlreadyPending"
	ConnectFailed      ErrorKind = "ConnectFailed"
	Timeout            ErrorKind = "Timeout"
	Cancelled          ErrorKind = "Cancelled"
	BridgeAttachFailed ErrorKind = "BridgeAttachFailed"
	NotConnected       ErrorKind = "NotConnected"
	NotInitialized     ErrorKind = "NotInitialized"
	AlreadyConnected   ErrorKind = "AlreadyConnected"
	InvalidState       ErrorKind = "InvalidState"
)

// Error is the structured error carried across the bridge.
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

// Predefined sentinel errors, one per kind
var (
	ErrRadioUnavailable   = &Error{Kind: RadioUnavailable}
	ErrUnknownDevice      = &Error{Kind: UnknownDevice}
	ErrAlreadyPending     = &Error{Kind: AlreadyPending}
	ErrConnectFailed      = &Error{Kind: ConnectFailed}
	ErrTimeout            = &Error{Kind: Timeout}
	ErrCancelled          = &Error{Kind: Cancelled}
	ErrBridgeAttachFailed = &Error{Kind: BridgeAttachFailed}
	ErrNotConnected       = &Error{Kind: NotConnected}
	ErrNotInitialized     = &Error{Kind: NotInitialized}
	ErrAlreadyConnected   = &Error{Kind: AlreadyConnected}
	ErrInvalidState       = &Error{Kind: InvalidState}
)

// Errorf builds an Error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the ErrorKind carried by err, or "" when err is nil or foreign.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// NormalizeError maps known radio stack error strings to structured Error kinds.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	case containsIgnoreCase(msg, "unauthorized"), containsIgnoreCase(msg, "not permitted"):
		return fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "deadline exceeded"), containsIgnoreCase(msg, "timed out"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case containsIgnoreCase(msg, "context canceled"):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
