package amqp_test

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	stdAmqp "github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"

	"github.com/ThreeDotsLabs/rabbit/amqp"
	"github.com/ThreeDotsLabs/rabbit/amqp/amqptest"
)

func TestIsAlreadyDisconnected(t *testing.T) {
	testCases := []struct {
		Name     string
		Err      error
		Expected bool
	}{
		{Name: "nil", Err: nil, Expected: false},
		{Name: "connection_refused", Err: amqptest.ErrConnectionRefused, Expected: true},
		{Name: "wrapped_connection_refused", Err: errors.Wrap(amqptest.ErrConnectionRefused, "dial"), Expected: true},
		{Name: "closed", Err: stdAmqp.ErrClosed, Expected: true},
		{Name: "wrapped_closed", Err: errors.Wrap(stdAmqp.ErrClosed, "close"), Expected: true},
		{
			Name:     "connection_forced",
			Err:      &stdAmqp.Error{Code: stdAmqp.ConnectionForced, Reason: "CONNECTION_FORCED", Server: true},
			Expected: true,
		},
		{
			Name:     "precondition_failed",
			Err:      &stdAmqp.Error{Code: stdAmqp.PreconditionFailed, Reason: "PRECONDITION_FAILED", Recover: true},
			Expected: false,
		},
		{Name: "other", Err: errors.New("disk full"), Expected: false},
	}

	for _, c := range testCases {
		t.Run(c.Name, func(t *testing.T) {
			assert.Equal(t, c.Expected, amqp.IsAlreadyDisconnected(c.Err))
		})
	}
}

func TestErrors_cause(t *testing.T) {
	inner := errors.New("inner")

	for _, err := range []error{
		&amqp.ConnectionError{Side: "publish", Err: inner},
		&amqp.OperationError{Op: "declare", Event: "order.created", Err: inner},
		&amqp.CloseError{Err: inner},
		&amqp.PayloadError{Event: "order.created", Err: inner},
	} {
		assert.Equal(t, inner, errors.Cause(err), "%T", err)
		assert.Contains(t, err.Error(), "inner")
	}
}

func TestCloseError_with_multiple_failures(t *testing.T) {
	var err error
	err = multierror.Append(err, errors.New("publish side"), errors.New("subscribe side"))

	closeErr := &amqp.CloseError{Err: err}
	assert.Contains(t, closeErr.Error(), "publish side")
	assert.Contains(t, closeErr.Error(), "subscribe side")
}
