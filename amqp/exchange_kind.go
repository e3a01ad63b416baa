package amqp

import (
	"strings"
)

// ExchangeKind is the routing algorithm of an exchange.
// The value is the exchange type sent to the broker.
type ExchangeKind string

const (
	ExchangeKindTopic  ExchangeKind = "topic"
	ExchangeKindDirect ExchangeKind = "direct"
	ExchangeKindFanout ExchangeKind = "fanout"
	// ExchangeKindDelayed requires the rabbitmq_delayed_message_exchange plugin.
	// Messages are routed with the topic algorithm once their x-delay header elapses.
	ExchangeKindDelayed ExchangeKind = "x-delayed-message"
)

const delayedExchangeTypeArgument = "x-delayed-type"

var exchangeNameSuffixes = map[ExchangeKind]string{
	ExchangeKindTopic:   ".tx",
	ExchangeKindDirect:  ".dx",
	ExchangeKindFanout:  ".fx",
	ExchangeKindDelayed: ".xdx",
}

// Valid reports whether k is one of the four supported kinds.
func (k ExchangeKind) Valid() bool {
	_, ok := exchangeNameSuffixes[k]
	return ok
}

func (k ExchangeKind) String() string {
	return string(k)
}

// ParseExchangeKind converts a broker exchange type to ExchangeKind.
func ParseExchangeKind(kind string) (ExchangeKind, error) {
	k := ExchangeKind(kind)
	if !k.Valid() {
		return "", &ValidationError{Value: kind}
	}

	return k, nil
}

// ExchangeName derives the exchange name for event.
// The part of event before the first dot is used as a prefix, followed by a suffix depending on kind:
//
//	order.created, topic             -> order.tx
//	order.created, direct            -> order.dx
//	order.created, fanout            -> order.fx
//	order.created, x-delayed-message -> order.xdx
func ExchangeName(event string, kind ExchangeKind) (string, error) {
	suffix, ok := exchangeNameSuffixes[kind]
	if !ok {
		return "", &ValidationError{Value: string(kind)}
	}

	prefix := event
	if i := strings.Index(event, "."); i >= 0 {
		prefix = event[:i]
	}

	return prefix + suffix, nil
}

// Topology is the broker topology used for a single event.
type Topology struct {
	ExchangeName string
	ExchangeKind ExchangeKind
	QueueName    string
	RoutingKey   string
}

// NewTopology derives the topology for event.
// The queue name and the routing key are the event itself.
func NewTopology(event string, kind ExchangeKind) (Topology, error) {
	exchangeName, err := ExchangeName(event, kind)
	if err != nil {
		return Topology{}, err
	}

	return Topology{
		ExchangeName: exchangeName,
		ExchangeKind: kind,
		QueueName:    event,
		RoutingKey:   event,
	}, nil
}
