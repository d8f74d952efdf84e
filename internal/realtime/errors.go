package realtime

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("connection closed")
	ErrTimeout      = errors.New("connect timeout")
	ErrNoTransport  = errors.New("no usable transport")
	ErrNoURL        = errors.New("socket url is not defined")
	ErrValidation   = errors.New("invalid argument")

	errServerClosed = errors.New("server closed the connection")
	errPingTimeout  = errors.New("connection stale (no pong)")
)

// ConnectError reports a connect attempt that never reached Connected.
type ConnectError struct {
	Attempt int // Manager attempt number, 1-based
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("connect failed (attempt %d): %v", e.Attempt, e.Err)
	}
	return fmt.Sprintf("connect failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// RuntimeError is a transport error raised after the connection was established.
// It is logged and never fails an operation.
type RuntimeError struct {
	TransportID string
	Err         error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("transport %s error: %v", e.TransportID, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// ValidationError is a locally rejected call, such as an empty room id.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
