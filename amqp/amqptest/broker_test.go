package amqptest_test

import (
	"testing"
	"time"

	stdAmqp "github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThreeDotsLabs/rabbit/amqp"
	"github.com/ThreeDotsLabs/rabbit/amqp/amqptest"
)

func openChannel(t *testing.T, broker *amqptest.Broker) (amqp.Connection, amqp.Channel) {
	t.Helper()

	conn, err := broker.Dial("amqp://localhost", "test")
	require.NoError(t, err)

	ch, err := conn.Channel()
	require.NoError(t, err)

	return conn, ch
}

func declareBoundQueue(t *testing.T, ch amqp.Channel, exchange, kind, queue, key string, args stdAmqp.Table) {
	t.Helper()

	require.NoError(t, ch.ExchangeDeclare(exchange, kind, true, false, false, false, args))
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(queue, key, exchange, false, nil))
}

func nextDelivery(t *testing.T, deliveries <-chan stdAmqp.Delivery) stdAmqp.Delivery {
	t.Helper()

	select {
	case d, ok := <-deliveries:
		require.True(t, ok, "deliveries closed")
		return d
	case <-time.After(time.Second):
		t.Fatal("no delivery")
		return stdAmqp.Delivery{}
	}
}

func TestBroker_routes_to_bound_queues(t *testing.T) {
	broker := amqptest.NewBroker(amqptest.Config{}, nil)
	_, ch := openChannel(t, broker)

	declareBoundQueue(t, ch, "order.tx", "topic", "order.created", "order.created", nil)
	declareBoundQueue(t, ch, "order.tx", "topic", "order.all", "order.#", nil)

	require.NoError(t, ch.Publish("order.tx", "order.created", false, false, stdAmqp.Publishing{Body: []byte("1")}))
	require.NoError(t, ch.Publish("order.tx", "order.cancelled", false, false, stdAmqp.Publishing{Body: []byte("2")}))

	assert.Equal(t, 1, broker.QueueLength("order.created"))
	assert.Equal(t, 2, broker.QueueLength("order.all"))
	assert.Len(t, broker.Published(), 2)
}

func TestBroker_consume_and_settle(t *testing.T) {
	broker := amqptest.NewBroker(amqptest.Config{}, nil)
	_, ch := openChannel(t, broker)
	declareBoundQueue(t, ch, "order.dx", "direct", "order.created", "order.created", nil)

	require.NoError(t, ch.Publish("order.dx", "order.created", false, false, stdAmqp.Publishing{MessageId: "m1"}))

	deliveries, err := ch.Consume("order.created", "", false, false, false, false, nil)
	require.NoError(t, err)

	d := nextDelivery(t, deliveries)
	assert.Equal(t, "m1", d.MessageId)
	assert.Equal(t, uint64(1), d.DeliveryTag)
	assert.NotEmpty(t, d.ConsumerTag)
	assert.Equal(t, 0, broker.QueueLength("order.created"))

	require.NoError(t, d.Nack(false, true))
	redelivered := nextDelivery(t, deliveries)
	assert.True(t, redelivered.Redelivered)
	assert.Equal(t, "m1", redelivered.MessageId)

	require.NoError(t, redelivered.Ack(false))

	// unknown delivery tag
	assert.Error(t, redelivered.Ack(false))

	assert.Equal(t, []amqptest.Settlement{
		{Queue: "order.created", DeliveryTag: 1, Kind: "nack", Requeue: true},
		{Queue: "order.created", DeliveryTag: 2, Kind: "ack"},
	}, broker.Settlements())
}

func TestBroker_closing_channel_requeues_unacked(t *testing.T) {
	broker := amqptest.NewBroker(amqptest.Config{}, nil)
	_, ch := openChannel(t, broker)
	declareBoundQueue(t, ch, "order.fx", "fanout", "order.created", "", nil)

	require.NoError(t, ch.Publish("order.fx", "anything", false, false, stdAmqp.Publishing{}))

	deliveries, err := ch.Consume("order.created", "c1", false, false, false, false, nil)
	require.NoError(t, err)
	nextDelivery(t, deliveries)

	require.NoError(t, ch.Close())
	assert.Equal(t, stdAmqp.ErrClosed, ch.Close())

	_, open := <-deliveries
	assert.False(t, open)
	assert.Equal(t, 1, broker.QueueLength("order.created"))
}

func TestBroker_exchange_kind_mismatch(t *testing.T) {
	broker := amqptest.NewBroker(amqptest.Config{}, nil)
	_, ch := openChannel(t, broker)

	require.NoError(t, ch.ExchangeDeclare("order.tx", "topic", true, false, false, false, nil))

	err := ch.ExchangeDeclare("order.tx", "direct", true, false, false, false, nil)
	require.Error(t, err)
	assert.Equal(t, stdAmqp.PreconditionFailed, err.(*stdAmqp.Error).Code)

	err = ch.ExchangeDeclare("order.hx", "headers", true, false, false, false, nil)
	assert.Error(t, err)
}

func TestBroker_not_found(t *testing.T) {
	broker := amqptest.NewBroker(amqptest.Config{}, nil)
	_, ch := openChannel(t, broker)

	assert.Error(t, ch.Publish("missing.tx", "missing", false, false, stdAmqp.Publishing{}))
	assert.Error(t, ch.QueueBind("missing", "missing", "missing.tx", false, nil))

	_, err := ch.Consume("missing", "", false, false, false, false, nil)
	assert.Error(t, err)
}

func TestBroker_delayed_exchange(t *testing.T) {
	broker := amqptest.NewBroker(amqptest.Config{}, nil)
	_, ch := openChannel(t, broker)
	declareBoundQueue(t, ch, "reminder.xdx", "x-delayed-message", "reminder.due", "reminder.due", stdAmqp.Table{"x-delayed-type": "topic"})

	require.NoError(t, ch.Publish("reminder.xdx", "reminder.due", false, false, stdAmqp.Publishing{
		Headers: stdAmqp.Table{"x-delay": int32(100)},
	}))
	require.NoError(t, ch.Publish("reminder.xdx", "reminder.due", false, false, stdAmqp.Publishing{}))

	assert.Equal(t, 1, broker.QueueLength("reminder.due"))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, broker.QueueLength("reminder.due"))
}

func TestBroker_unreachable(t *testing.T) {
	broker := amqptest.NewBroker(amqptest.Config{}, nil)
	broker.SetUnreachable(amqptest.ErrConnectionRefused)

	_, err := broker.Dial("amqp://localhost", "test")
	assert.Equal(t, amqptest.ErrConnectionRefused, err)

	broker.SetUnreachable(nil)
	_, err = broker.Dial("amqp://localhost", "test")
	assert.NoError(t, err)

	assert.Equal(t, 2, broker.DialCount())
	assert.Len(t, broker.Connections(), 1)
}

func TestConnection_drop(t *testing.T) {
	broker := amqptest.NewBroker(amqptest.Config{}, nil)
	conn, ch := openChannel(t, broker)

	closed := conn.NotifyClose(make(chan *stdAmqp.Error, 1))
	declareBoundQueue(t, ch, "order.tx", "topic", "order.created", "order.created", nil)
	deliveries, err := ch.Consume("order.created", "", false, false, false, false, nil)
	require.NoError(t, err)

	broker.DropConnections(nil)

	reason, ok := <-closed
	require.True(t, ok)
	assert.Equal(t, stdAmqp.ConnectionForced, reason.Code)

	_, ok = <-closed
	assert.False(t, ok)

	_, ok = <-deliveries
	assert.False(t, ok)

	assert.Empty(t, broker.Connections())
	assert.Equal(t, stdAmqp.ErrClosed, conn.Close())

	_, err = conn.Channel()
	assert.Equal(t, stdAmqp.ErrClosed, err)
}

func TestConnection_close(t *testing.T) {
	broker := amqptest.NewBroker(amqptest.Config{}, nil)
	conn, _ := openChannel(t, broker)

	closed := conn.NotifyClose(make(chan *stdAmqp.Error, 1))
	broker.FailClose(amqptest.ErrConnectionRefused)

	assert.Equal(t, amqptest.ErrConnectionRefused, conn.Close())

	// client initiated close sends no reason
	_, ok := <-closed
	assert.False(t, ok)
	assert.Empty(t, broker.Connections())
}
