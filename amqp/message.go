package amqp

import (
	"sync"

	"github.com/streadway/amqp"
)

// Settlement settles a delivered message. Only the first of Ack, Nack and Reject
// takes effect, later calls do nothing and return nil.
type Settlement interface {
	Ack() error
	Nack(requeue bool) error
	Reject() error
	// Settled reports whether Ack, Nack or Reject was already called.
	Settled() bool
}

type SettlementState int

const (
	SettlementPending SettlementState = iota
	SettlementAcked
	SettlementNacked
	SettlementRejected
)

func (s SettlementState) String() string {
	switch s {
	case SettlementPending:
		return "pending"
	case SettlementAcked:
		return "acked"
	case SettlementNacked:
		return "nacked"
	case SettlementRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Message is a delivery in flight, it tracks whether it was settled.
type Message struct {
	Delivery amqp.Delivery
	Data     interface{}

	settleLock sync.Mutex
	state      SettlementState
}

var _ Settlement = (*Message)(nil)

func NewMessage(delivery amqp.Delivery, data interface{}) *Message {
	return &Message{
		Delivery: delivery,
		Data:     data,
	}
}

// Ack acknowledges the message.
func (m *Message) Ack() error {
	return m.settle(SettlementAcked, func() error {
		return m.Delivery.Ack(false)
	})
}

// Nack negatively acknowledges the message, the broker redelivers it when requeue is true.
func (m *Message) Nack(requeue bool) error {
	return m.settle(SettlementNacked, func() error {
		return m.Delivery.Nack(false, requeue)
	})
}

// Reject rejects the message without requeueing it.
func (m *Message) Reject() error {
	return m.settle(SettlementRejected, func() error {
		return m.Delivery.Reject(false)
	})
}

func (m *Message) Settled() bool {
	return m.State() != SettlementPending
}

func (m *Message) State() SettlementState {
	m.settleLock.Lock()
	defer m.settleLock.Unlock()

	return m.state
}

func (m *Message) settle(state SettlementState, send func() error) error {
	m.settleLock.Lock()
	defer m.settleLock.Unlock()

	if m.state != SettlementPending {
		return nil
	}
	m.state = state

	return send()
}
