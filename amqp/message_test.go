package amqp_test

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	stdAmqp "github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThreeDotsLabs/rabbit/amqp"
)

type countingAcknowledger struct {
	lock    sync.Mutex
	acks    int
	nacks   []bool
	rejects int
	err     error
}

func (a *countingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.acks++
	return a.err
}

func (a *countingAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.nacks = append(a.nacks, requeue)
	return a.err
}

func (a *countingAcknowledger) Reject(tag uint64, requeue bool) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.rejects++
	return a.err
}

func (a *countingAcknowledger) total() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.acks + len(a.nacks) + a.rejects
}

func newTestMessage() (*amqp.Message, *countingAcknowledger) {
	acknowledger := &countingAcknowledger{}
	delivery := stdAmqp.Delivery{Acknowledger: acknowledger, DeliveryTag: 1, Body: []byte(`{"msg":"hello"}`)}

	return amqp.NewMessage(delivery, map[string]interface{}{"msg": "hello"}), acknowledger
}

func TestMessage_ack_is_idempotent(t *testing.T) {
	msg, acknowledger := newTestMessage()

	require.NoError(t, msg.Ack())
	require.NoError(t, msg.Ack())

	assert.Equal(t, 1, acknowledger.acks)
	assert.Equal(t, amqp.SettlementAcked, msg.State())
	assert.True(t, msg.Settled())
}

func TestMessage_only_first_settlement_takes_effect(t *testing.T) {
	testCases := []struct {
		Name          string
		Settle        func(m *amqp.Message) error
		ExpectedState amqp.SettlementState
	}{
		{
			Name:          "ack",
			Settle:        func(m *amqp.Message) error { return m.Ack() },
			ExpectedState: amqp.SettlementAcked,
		},
		{
			Name:          "nack",
			Settle:        func(m *amqp.Message) error { return m.Nack(true) },
			ExpectedState: amqp.SettlementNacked,
		},
		{
			Name:          "reject",
			Settle:        func(m *amqp.Message) error { return m.Reject() },
			ExpectedState: amqp.SettlementRejected,
		},
	}

	for _, c := range testCases {
		t.Run(c.Name, func(t *testing.T) {
			msg, acknowledger := newTestMessage()
			assert.False(t, msg.Settled())

			require.NoError(t, c.Settle(msg))

			assert.NoError(t, msg.Ack())
			assert.NoError(t, msg.Nack(false))
			assert.NoError(t, msg.Reject())

			assert.Equal(t, 1, acknowledger.total())
			assert.Equal(t, c.ExpectedState, msg.State())
		})
	}
}

func TestMessage_nack_requeue_flag(t *testing.T) {
	msg, acknowledger := newTestMessage()

	require.NoError(t, msg.Nack(false))
	assert.Equal(t, []bool{false}, acknowledger.nacks)
}

func TestMessage_concurrent_settlement(t *testing.T) {
	msg, acknowledger := newTestMessage()

	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); _ = msg.Ack() }()
		go func() { defer wg.Done(); _ = msg.Nack(true) }()
		go func() { defer wg.Done(); _ = msg.Reject() }()
	}
	wg.Wait()

	assert.Equal(t, 1, acknowledger.total())
}

func TestMessage_broker_error_is_returned_once(t *testing.T) {
	msg, acknowledger := newTestMessage()
	acknowledger.err = errors.New("channel closed")

	assert.EqualError(t, msg.Ack(), "channel closed")
	assert.NoError(t, msg.Ack())
	assert.Equal(t, 1, acknowledger.acks)
}

func TestSettlementState_String(t *testing.T) {
	assert.Equal(t, "pending", amqp.SettlementPending.String())
	assert.Equal(t, "acked", amqp.SettlementAcked.String())
	assert.Equal(t, "nacked", amqp.SettlementNacked.String())
	assert.Equal(t, "rejected", amqp.SettlementRejected.String())
	assert.Equal(t, "unknown", amqp.SettlementState(42).String())
}
