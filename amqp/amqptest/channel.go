package amqptest

import (
	"github.com/renstrom/shortuuid"
	stdAmqp "github.com/streadway/amqp"

	"github.com/ThreeDotsLabs/rabbit/amqp"
)

// Channel is a channel of a Connection to the in-memory Broker.
// It is also the acknowledger of the deliveries it consumes.
type Channel struct {
	conn   *Connection
	broker *Broker

	// guarded by broker.lock
	closed        bool
	notifyClose   []chan *stdAmqp.Error
	consumers     []*consumer
	deliveryTag   uint64
	unacked       map[uint64]unackedMessage
	prefetchCount int
}

var (
	_ amqp.Channel         = (*Channel)(nil)
	_ stdAmqp.Acknowledger = (*Channel)(nil)
)

func (ch *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args stdAmqp.Table) error {
	ch.broker.lock.Lock()
	defer ch.broker.lock.Unlock()

	if ch.closed {
		return stdAmqp.ErrClosed
	}

	return ch.broker.declareExchange(ExchangeDeclaration{
		Name:       name,
		Kind:       kind,
		Durable:    durable,
		AutoDelete: autoDelete,
		Internal:   internal,
		Arguments:  args,
	})
}

func (ch *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args stdAmqp.Table) (stdAmqp.Queue, error) {
	ch.broker.lock.Lock()
	defer ch.broker.lock.Unlock()

	if ch.closed {
		return stdAmqp.Queue{}, stdAmqp.ErrClosed
	}
	if name == "" {
		name = "amq.gen-" + shortuuid.New()
	}

	return ch.broker.declareQueue(QueueDeclaration{
		Name:       name,
		Durable:    durable,
		AutoDelete: autoDelete,
		Exclusive:  exclusive,
		Arguments:  args,
	}), nil
}

func (ch *Channel) QueueBind(name, key, exchange string, noWait bool, args stdAmqp.Table) error {
	ch.broker.lock.Lock()
	defer ch.broker.lock.Unlock()

	if ch.closed {
		return stdAmqp.ErrClosed
	}

	return ch.broker.bindQueue(Binding{Queue: name, Exchange: exchange, RoutingKey: key})
}

// Qos stores the prefetch count. The in-memory broker does not limit deliveries by it.
func (ch *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.broker.lock.Lock()
	defer ch.broker.lock.Unlock()

	if ch.closed {
		return stdAmqp.ErrClosed
	}
	ch.prefetchCount = prefetchCount

	return nil
}

func (ch *Channel) PrefetchCount() int {
	ch.broker.lock.Lock()
	defer ch.broker.lock.Unlock()

	return ch.prefetchCount
}

func (ch *Channel) Publish(exchange, key string, mandatory, immediate bool, msg stdAmqp.Publishing) error {
	ch.broker.lock.Lock()
	defer ch.broker.lock.Unlock()

	if ch.closed {
		return stdAmqp.ErrClosed
	}

	return ch.broker.publish(exchange, key, msg)
}

func (ch *Channel) Consume(queueName, consumerTag string, autoAck, exclusive, noLocal, noWait bool, args stdAmqp.Table) (<-chan stdAmqp.Delivery, error) {
	ch.broker.lock.Lock()
	defer ch.broker.lock.Unlock()

	if ch.closed {
		return nil, stdAmqp.ErrClosed
	}

	q, ok := ch.broker.queues[queueName]
	if !ok {
		return nil, notFound("queue", queueName)
	}
	if consumerTag == "" {
		consumerTag = "ctag-" + shortuuid.New()
	}

	c := &consumer{
		tag:        consumerTag,
		channel:    ch,
		deliveries: make(chan stdAmqp.Delivery, ch.broker.config.DeliveryBuffer),
	}
	q.consumers = append(q.consumers, c)
	ch.consumers = append(ch.consumers, c)

	ch.broker.dispatch(q)

	return c.deliveries, nil
}

func (ch *Channel) NotifyClose(receiver chan *stdAmqp.Error) chan *stdAmqp.Error {
	ch.broker.lock.Lock()
	defer ch.broker.lock.Unlock()

	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notifyClose = append(ch.notifyClose, receiver)

	return receiver
}

func (ch *Channel) Close() error {
	ch.broker.lock.Lock()
	if ch.closed {
		ch.broker.lock.Unlock()
		return stdAmqp.ErrClosed
	}
	listeners := ch.shutdownLocked()
	ch.broker.lock.Unlock()

	for _, listener := range listeners {
		close(listener)
	}

	return nil
}

func (ch *Channel) Ack(tag uint64, multiple bool) error {
	return ch.broker.settle(ch, tag, "ack", false)
}

func (ch *Channel) Nack(tag uint64, multiple bool, requeue bool) error {
	return ch.broker.settle(ch, tag, "nack", requeue)
}

func (ch *Channel) Reject(tag uint64, requeue bool) error {
	return ch.broker.settle(ch, tag, "reject", requeue)
}

func (ch *Channel) nextDeliveryTag() uint64 {
	ch.deliveryTag++
	return ch.deliveryTag
}

// shutdownLocked stops the consumers of the channel and requeues its unacked messages.
// It returns the close listeners, which must be closed after releasing broker.lock.
func (ch *Channel) shutdownLocked() []chan *stdAmqp.Error {
	if ch.closed {
		return nil
	}
	ch.closed = true

	for _, c := range ch.consumers {
		for _, q := range ch.broker.queues {
			q.removeConsumer(c)
		}
		close(c.deliveries)
	}
	ch.consumers = nil

	for _, unacked := range ch.unacked {
		ch.broker.requeue(unacked)
	}
	ch.unacked = make(map[uint64]unackedMessage)

	listeners := ch.notifyClose
	ch.notifyClose = nil

	return listeners
}
