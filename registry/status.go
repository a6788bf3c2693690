package registry

import (
	"errors"
	"fmt"
)

// Status is a native backend result code.
//
// Status implements error so a backend can return it directly, or wrap
// it, from any Backend method.
type Status int32

// Native status codes.
const (
	StatusOK Status = iota
	StatusAlreadyInitialized
	StatusInvalidArgument
	StatusInitializationFailed
)

// IsSuccess reports whether s counts as success. AlreadyInitialized does.
func (s Status) IsSuccess() bool {
	return s == StatusOK || s == StatusAlreadyInitialized
}

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusAlreadyInitialized:
		return "ALREADY_INITIALIZED"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusInitializationFailed:
		return "INITIALIZATION_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Error implements error.
func (s Status) Error() string {
	return "native status " + s.describe()
}

func (s Status) describe() string {
	return fmt.Sprintf("%s (%d)", s.String(), int32(s))
}

// StatusOf maps a backend error to a status. A nil error is OK; an error
// carrying no Status is InitializationFailed.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusInitializationFailed
}
