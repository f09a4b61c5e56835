package serial

import (
	"errors"
	"fmt"
)

// ErrNotOpen is returned when an operation needs an Open connection
var ErrNotOpen = errors.New("connection is not open")

// ErrInvalidPortName is the cause of an InvalidConfig open of an empty name
var ErrInvalidPortName = errors.New("port name cannot be empty")

var (
	ErrAlreadyOpen     = errors.New("port already open")
	ErrBusy            = errors.New("port busy")
	ErrInvalidConfig   = errors.New("invalid port configuration")
	ErrPlatformFailure = errors.New("platform failed to open port")
)

// EnumerationError reports a failed platform port probe
type EnumerationError struct {
	Cause error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("failed to enumerate serial ports: %v", e.Cause)
}

func (e *EnumerationError) Unwrap() error {
	return e.Cause
}

// OpenErrorKind classifies why an open was rejected
type OpenErrorKind int

const (
	AlreadyOpen OpenErrorKind = iota + 1
	Busy
	InvalidConfig
	PlatformFailure
)

// String returns the string representation of OpenErrorKind
func (k OpenErrorKind) String() string {
	switch k {
	case AlreadyOpen:
		return "already open"
	case Busy:
		return "busy"
	case InvalidConfig:
		return "invalid config"
	case PlatformFailure:
		return "platform failure"
	default:
		return "unknown"
	}
}

func (k OpenErrorKind) sentinel() error {
	switch k {
	case AlreadyOpen:
		return ErrAlreadyOpen
	case Busy:
		return ErrBusy
	case InvalidConfig:
		return ErrInvalidConfig
	case PlatformFailure:
		return ErrPlatformFailure
	default:
		return nil
	}
}

// OpenError is returned by Registry.Open. errors.Is matches it against the
// sentinel for its kind as well as its cause.
type OpenError struct {
	Kind  OpenErrorKind
	Port  string
	Cause error
}

func (e *OpenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("open %s: %s: %v", e.Port, e.Kind, e.Cause)
	}
	return fmt.Sprintf("open %s: %s", e.Port, e.Kind)
}

func (e *OpenError) Unwrap() error {
	return e.Cause
}

func (e *OpenError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// IoError represents a transport failure on an open connection
type IoError struct {
	Op    string
	Port  string
	Cause error
}

// Error implements the error interface
func (e *IoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("serial %s operation failed on port %s: %v", e.Op, e.Port, e.Cause)
	}
	return fmt.Sprintf("serial %s operation failed on port %s", e.Op, e.Port)
}

func (e *IoError) Unwrap() error {
	return e.Cause
}
