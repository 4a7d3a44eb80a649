package js8

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send when no transport is open
	ErrNotConnected = errors.New("not connected to JS8Call")

	// ErrConnectionFailed matches any ConnectionError via errors.Is
	ErrConnectionFailed = errors.New("connection failed")

	// ErrClientClosed is returned when the dispatcher has been shut down
	ErrClientClosed = errors.New("client closed")

	// ErrQueueFull is returned by TryPublish when delivery is a whole queue behind
	ErrQueueFull = errors.New("event queue full")
)

// ConnectionError reports a failed attempt to open the controller socket
type ConnectionError struct {
	Address string
	Cause   error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection to %s failed: %v", e.Address, e.Cause)
	}
	return fmt.Sprintf("connection to %s failed", e.Address)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrConnectionFailed) match
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

// MalformedFrameError is logged for a line that could not be parsed. It never
// reaches callers.
type MalformedFrameError struct {
	Line  string
	Cause error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame %q: %v", e.Line, e.Cause)
}

func (e *MalformedFrameError) Unwrap() error {
	return e.Cause
}
