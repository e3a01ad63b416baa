// Package amqptest provides an in-memory AMQP broker for testing code built on the amqp package.
//
// The broker keeps exchanges, queues and bindings in memory and routes messages the way RabbitMQ does
// for direct, fanout, topic and x-delayed-message exchanges. It can also simulate failures:
// an unreachable broker, connections dropped by the server and failing connection close.
package amqptest

import (
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/renstrom/shortuuid"
	stdAmqp "github.com/streadway/amqp"

	"github.com/ThreeDotsLabs/rabbit"
	"github.com/ThreeDotsLabs/rabbit/amqp"
)

// ErrConnectionRefused is the error a dial to a stopped broker fails with.
var ErrConnectionRefused error = &net.OpError{
	Op:  "dial",
	Net: "tcp",
	Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
}

type Config struct {
	// DeliveryBuffer is the buffer of each consumer's deliveries channel.
	DeliveryBuffer int
}

// ExchangeDeclaration is the declaration of an exchange as received by the broker.
type ExchangeDeclaration struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
	Internal   bool
	Arguments  stdAmqp.Table
}

// QueueDeclaration is the declaration of a queue as received by the broker.
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  stdAmqp.Table
}

type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// Published is a message accepted by an exchange.
type Published struct {
	Exchange   string
	RoutingKey string
	Publishing stdAmqp.Publishing
}

// Settlement is an ack, nack or reject received from a consumer.
type Settlement struct {
	Queue       string
	DeliveryTag uint64
	Kind        string
	Requeue     bool
}

// Broker is an in-memory broker. It implements amqp.Dialer.
type Broker struct {
	config Config
	logger rabbit.LoggerAdapter

	lock sync.Mutex

	exchanges map[string]ExchangeDeclaration
	queues    map[string]*queue
	bindings  []Binding

	connections map[*Connection]struct{}
	dials       int
	dialErr     error
	closeErr    error

	channelsOpened int
	published      []Published
	settlements    []Settlement
}

var _ amqp.Dialer = (*Broker)(nil)

func NewBroker(config Config, logger rabbit.LoggerAdapter) *Broker {
	if config.DeliveryBuffer <= 0 {
		config.DeliveryBuffer = 1024
	}
	if logger == nil {
		logger = rabbit.NopLogger{}
	}

	return &Broker{
		config:      config,
		logger:      logger.With(rabbit.LogFields{"broker_id": shortuuid.New()}),
		exchanges:   make(map[string]ExchangeDeclaration),
		queues:      make(map[string]*queue),
		connections: make(map[*Connection]struct{}),
	}
}

// Dial opens a connection, unless the broker was made unreachable with SetUnreachable.
func (b *Broker) Dial(uri string, name string) (amqp.Connection, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.dials++
	if b.dialErr != nil {
		b.logger.Debug("Refusing connection", rabbit.LogFields{"name": name})
		return nil, b.dialErr
	}

	conn := &Connection{broker: b, Name: name}
	b.connections[conn] = struct{}{}
	b.logger.Debug("Connection opened", rabbit.LogFields{"name": name})

	return conn, nil
}

// SetUnreachable makes every following Dial fail with err. A nil err makes the broker reachable again.
func (b *Broker) SetUnreachable(err error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.dialErr = err
}

// FailClose makes closing a connection fail with err. The connection is still torn down.
func (b *Broker) FailClose(err error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.closeErr = err
}

// DialCount returns the number of Dial calls, including refused ones.
func (b *Broker) DialCount() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.dials
}

// Connections returns the open connections.
func (b *Broker) Connections() []*Connection {
	b.lock.Lock()
	defer b.lock.Unlock()

	conns := make([]*Connection, 0, len(b.connections))
	for conn := range b.connections {
		conns = append(conns, conn)
	}

	return conns
}

// DropConnections closes all open connections from the server side, as a broker restart does.
func (b *Broker) DropConnections(reason *stdAmqp.Error) {
	for _, conn := range b.Connections() {
		conn.Drop(reason)
	}
}

func (b *Broker) Exchange(name string) (ExchangeDeclaration, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	e, ok := b.exchanges[name]
	return e, ok
}

func (b *Broker) Queue(name string) (QueueDeclaration, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return QueueDeclaration{}, false
	}

	return q.declaration, true
}

// QueueLength returns the number of messages waiting in the queue, without the unacked ones.
func (b *Broker) QueueLength(name string) int {
	b.lock.Lock()
	defer b.lock.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return 0
	}

	return len(q.messages)
}

func (b *Broker) Bindings() []Binding {
	b.lock.Lock()
	defer b.lock.Unlock()

	return append([]Binding(nil), b.bindings...)
}

func (b *Broker) Published() []Published {
	b.lock.Lock()
	defer b.lock.Unlock()

	return append([]Published(nil), b.published...)
}

func (b *Broker) Settlements() []Settlement {
	b.lock.Lock()
	defer b.lock.Unlock()

	return append([]Settlement(nil), b.settlements...)
}

// ChannelsOpened returns the number of channels opened on all connections so far.
func (b *Broker) ChannelsOpened() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.channelsOpened
}

// Publish routes msg through exchange, as if it was published by another client.
func (b *Broker) Publish(exchange, key string, msg stdAmqp.Publishing) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.publish(exchange, key, msg)
}

func (b *Broker) removeConnection(conn *Connection) {
	b.lock.Lock()
	defer b.lock.Unlock()

	delete(b.connections, conn)
}

func (b *Broker) declareExchange(d ExchangeDeclaration) error {
	if existing, ok := b.exchanges[d.Name]; ok && existing.Kind != d.Kind {
		return &stdAmqp.Error{
			Code:    stdAmqp.PreconditionFailed,
			Reason:  "PRECONDITION_FAILED - inequivalent arg 'type' for exchange '" + d.Name + "'",
			Server:  true,
			Recover: true,
		}
	}

	switch d.Kind {
	case "topic", "direct", "fanout", "x-delayed-message":
	default:
		return &stdAmqp.Error{
			Code:   stdAmqp.CommandInvalid,
			Reason: "COMMAND_INVALID - unknown exchange type '" + d.Kind + "'",
			Server: true,
		}
	}

	b.exchanges[d.Name] = d
	b.logger.Trace("Exchange declared", rabbit.LogFields{"exchange": d.Name, "kind": d.Kind})

	return nil
}

func (b *Broker) declareQueue(d QueueDeclaration) stdAmqp.Queue {
	q, ok := b.queues[d.Name]
	if !ok {
		q = &queue{declaration: d}
		b.queues[d.Name] = q
		b.logger.Trace("Queue declared", rabbit.LogFields{"queue": d.Name})
	}

	return stdAmqp.Queue{
		Name:      d.Name,
		Messages:  len(q.messages),
		Consumers: len(q.consumers),
	}
}

func (b *Broker) bindQueue(binding Binding) error {
	if _, ok := b.queues[binding.Queue]; !ok {
		return notFound("queue", binding.Queue)
	}
	if _, ok := b.exchanges[binding.Exchange]; !ok {
		return notFound("exchange", binding.Exchange)
	}

	for _, existing := range b.bindings {
		if existing == binding {
			return nil
		}
	}
	b.bindings = append(b.bindings, binding)

	return nil
}

func (b *Broker) publish(exchangeName, key string, msg stdAmqp.Publishing) error {
	exchange, ok := b.exchanges[exchangeName]
	if !ok {
		return notFound("exchange", exchangeName)
	}

	b.published = append(b.published, Published{Exchange: exchangeName, RoutingKey: key, Publishing: msg})

	kind := exchange.Kind
	if kind == "x-delayed-message" {
		kind, _ = exchange.Arguments["x-delayed-type"].(string)

		if delay := delayOf(msg); delay > 0 {
			time.AfterFunc(delay, func() {
				b.lock.Lock()
				defer b.lock.Unlock()

				b.route(exchangeName, kind, key, msg)
			})
			return nil
		}
	}

	b.route(exchangeName, kind, key, msg)

	return nil
}

func (b *Broker) route(exchangeName, kind, key string, msg stdAmqp.Publishing) {
	for _, binding := range b.bindings {
		if binding.Exchange != exchangeName || !routes(kind, binding.RoutingKey, key) {
			continue
		}

		q, ok := b.queues[binding.Queue]
		if !ok {
			continue
		}

		q.messages = append(q.messages, queuedMessage{exchange: exchangeName, routingKey: key, publishing: msg})
		b.dispatch(q)
	}
}

// dispatch hands out queued messages to the consumers of q, round robin.
func (b *Broker) dispatch(q *queue) {
	for len(q.messages) > 0 && len(q.consumers) > 0 {
		c := q.consumers[q.next%len(q.consumers)]
		q.next++

		msg := q.messages[0]
		tag := c.channel.nextDeliveryTag()

		delivery := stdAmqp.Delivery{
			Acknowledger:    c.channel,
			Headers:         msg.publishing.Headers,
			ContentType:     msg.publishing.ContentType,
			ContentEncoding: msg.publishing.ContentEncoding,
			DeliveryMode:    msg.publishing.DeliveryMode,
			Priority:        msg.publishing.Priority,
			CorrelationId:   msg.publishing.CorrelationId,
			ReplyTo:         msg.publishing.ReplyTo,
			Expiration:      msg.publishing.Expiration,
			MessageId:       msg.publishing.MessageId,
			Timestamp:       msg.publishing.Timestamp,
			Type:            msg.publishing.Type,
			UserId:          msg.publishing.UserId,
			AppId:           msg.publishing.AppId,
			ConsumerTag:     c.tag,
			DeliveryTag:     tag,
			Redelivered:     msg.redelivered,
			Exchange:        msg.exchange,
			RoutingKey:      msg.routingKey,
			Body:            msg.publishing.Body,
		}

		select {
		case c.deliveries <- delivery:
			q.messages = q.messages[1:]
			c.channel.unacked[tag] = unackedMessage{queue: q, message: msg}
		default:
			// consumer buffer is full, the message waits for the next dispatch
			return
		}
	}
}

func (b *Broker) settle(ch *Channel, tag uint64, kind string, requeue bool) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if ch.closed {
		return stdAmqp.ErrClosed
	}

	unacked, ok := ch.unacked[tag]
	if !ok {
		return &stdAmqp.Error{
			Code:   stdAmqp.PreconditionFailed,
			Reason: "PRECONDITION_FAILED - unknown delivery tag",
			Server: true,
		}
	}
	delete(ch.unacked, tag)

	b.settlements = append(b.settlements, Settlement{
		Queue:       unacked.queue.declaration.Name,
		DeliveryTag: tag,
		Kind:        kind,
		Requeue:     requeue,
	})

	if requeue {
		b.requeue(unacked)
	}

	return nil
}

func (b *Broker) requeue(unacked unackedMessage) {
	msg := unacked.message
	msg.redelivered = true

	q := unacked.queue
	q.messages = append([]queuedMessage{msg}, q.messages...)
	b.dispatch(q)
}

func notFound(kind, name string) error {
	return &stdAmqp.Error{
		Code:   stdAmqp.NotFound,
		Reason: "NOT_FOUND - no " + kind + " '" + name + "'",
		Server: true,
	}
}

func delayOf(msg stdAmqp.Publishing) time.Duration {
	switch delay := msg.Headers["x-delay"].(type) {
	case int:
		return time.Duration(delay) * time.Millisecond
	case int32:
		return time.Duration(delay) * time.Millisecond
	case int64:
		return time.Duration(delay) * time.Millisecond
	default:
		return 0
	}
}

type queue struct {
	declaration QueueDeclaration
	messages    []queuedMessage
	consumers   []*consumer
	next        int
}

type queuedMessage struct {
	exchange    string
	routingKey  string
	publishing  stdAmqp.Publishing
	redelivered bool
}

type unackedMessage struct {
	queue   *queue
	message queuedMessage
}

type consumer struct {
	tag        string
	channel    *Channel
	deliveries chan stdAmqp.Delivery
}

func (q *queue) removeConsumer(c *consumer) {
	for i, existing := range q.consumers {
		if existing == c {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			return
		}
	}
}
