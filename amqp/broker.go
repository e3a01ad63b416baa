package amqp

import (
	"crypto/tls"
	"time"

	"github.com/streadway/amqp"
)

// Dialer opens connections to the broker.
type Dialer interface {
	Dial(uri string, name string) (Connection, error)
}

// Connection is the subset of *amqp.Connection used by the client.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Channel is the subset of *amqp.Channel used by the client. *amqp.Channel implements it.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

var _ Channel = (*amqp.Channel)(nil)

// DefaultDialer dials with github.com/streadway/amqp.
type DefaultDialer struct {
	AmqpConfig *amqp.Config
	TLSConfig  *tls.Config
}

// Dial opens a connection. name is sent as the connection_name client property,
// unless AmqpConfig already carries one.
func (d DefaultDialer) Dial(uri string, name string) (Connection, error) {
	amqpConfig := amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	}
	if d.AmqpConfig != nil {
		amqpConfig = *d.AmqpConfig
	}
	if amqpConfig.TLSClientConfig == nil && d.TLSConfig != nil {
		amqpConfig.TLSClientConfig = d.TLSConfig
	}

	properties := amqp.Table{"product": "github.com/ThreeDotsLabs/rabbit"}
	for k, v := range amqpConfig.Properties {
		properties[k] = v
	}
	if _, ok := properties["connection_name"]; !ok && name != "" {
		properties["connection_name"] = name
	}
	amqpConfig.Properties = properties

	conn, err := amqp.DialConfig(uri, amqpConfig)
	if err != nil {
		return nil, err
	}

	return connection{conn}, nil
}

type connection struct {
	*amqp.Connection
}

func (c connection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}

	return ch, nil
}
