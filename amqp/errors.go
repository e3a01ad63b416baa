package amqp

import (
	stdErrors "errors"
	"fmt"
	"syscall"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var (
	// ErrClientClosing is returned by Connect when Close is in progress.
	ErrClientClosing = errors.New("client is closing")

	// ErrConnectionClosed is reported when the broker library closes a connection without an *amqp.Error,
	// which is what happens on a graceful close.
	ErrConnectionClosed = errors.New("connection closed")
)

// ValidationError is returned for an exchange kind outside of the supported set.
type ValidationError struct {
	Value string
}

func (e *ValidationError) Error() string {
	return "Only 'topic', 'direct', 'fanout', and 'x-delayed-message' type are available"
}

// ConnectionError is a failure to establish a connection to the broker.
// It is never returned to callers, only reported to lifecycle observers.
type ConnectionError struct {
	Side string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot open %s connection: %s", e.Side, e.Err)
}

func (e *ConnectionError) Cause() error { return e.Err }

func (e *ConnectionError) Unwrap() error { return e.Err }

// OperationError is a failure of a declare, bind, consume or publish call.
type OperationError struct {
	Op    string
	Event string
	Err   error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %q failed: %s", e.Op, e.Event, e.Err)
}

func (e *OperationError) Cause() error { return e.Err }

func (e *OperationError) Unwrap() error { return e.Err }

// CloseError is returned by Close when the broker did not close the connections cleanly.
type CloseError struct {
	Err error
}

func (e *CloseError) Error() string {
	return "cannot close connections: " + e.Err.Error()
}

func (e *CloseError) Cause() error { return e.Err }

func (e *CloseError) Unwrap() error { return e.Err }

// PayloadError is reported when a delivered message body is not valid JSON.
type PayloadError struct {
	Event string
	Err   error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("malformed payload of %q: %s", e.Event, e.Err)
}

func (e *PayloadError) Cause() error { return e.Err }

func (e *PayloadError) Unwrap() error { return e.Err }

// IsAlreadyDisconnected reports whether err means the connection was already gone,
// either because the broker is unreachable or because the connection was closed before.
func IsAlreadyDisconnected(err error) bool {
	if err == nil {
		return false
	}

	cause := errors.Cause(err)

	if cause == amqp.ErrClosed {
		return true
	}
	if amqpErr, ok := cause.(*amqp.Error); ok && amqpErr.Code == amqp.ConnectionForced && !amqpErr.Recover {
		return true
	}

	return stdErrors.Is(cause, syscall.ECONNREFUSED) || stdErrors.Is(cause, amqp.ErrClosed)
}
