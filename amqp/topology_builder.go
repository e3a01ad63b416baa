package amqp

import (
	"github.com/pkg/errors"

	"github.com/ThreeDotsLabs/rabbit"
)

type topologyBuilder interface {
	DeclareExchange(channel Channel, topology Topology, postprocess func(ExchangeConfig) ExchangeConfig) error
	BuildTopology(channel Channel, topology Topology, postprocess func(ExchangeConfig) ExchangeConfig) error
}

type defaultTopologyBuilder struct {
	logger rabbit.LoggerAdapter
}

// DeclareExchange declares the exchange of topology, postprocess may override the defaults.
func (b defaultTopologyBuilder) DeclareExchange(
	channel Channel,
	topology Topology,
	postprocess func(ExchangeConfig) ExchangeConfig,
) error {
	config := defaultExchangeConfig(topology.ExchangeKind)
	if postprocess != nil {
		config = postprocess(config)
	}

	if err := channel.ExchangeDeclare(
		topology.ExchangeName,
		string(topology.ExchangeKind),
		config.Durable,
		config.AutoDeleted,
		config.Internal,
		config.NoWait,
		config.Arguments,
	); err != nil {
		return errors.Wrap(err, "cannot declare exchange")
	}

	b.logger.Debug("Exchange declared", rabbit.LogFields{
		"amqp_exchange_name": topology.ExchangeName,
		"amqp_exchange_kind": topology.ExchangeKind,
	})

	return nil
}

// BuildTopology declares the exchange and a durable queue named after the event, and binds them with the event as the key.
func (b defaultTopologyBuilder) BuildTopology(
	channel Channel,
	topology Topology,
	postprocess func(ExchangeConfig) ExchangeConfig,
) error {
	logFields := rabbit.LogFields{
		"amqp_exchange_name": topology.ExchangeName,
		"amqp_queue_name":    topology.QueueName,
	}

	if err := b.DeclareExchange(channel, topology, postprocess); err != nil {
		return err
	}

	queueConfig := defaultQueueConfig()
	queue, err := channel.QueueDeclare(
		topology.QueueName,
		queueConfig.Durable,
		queueConfig.AutoDelete,
		queueConfig.Exclusive,
		queueConfig.NoWait,
		queueConfig.Arguments,
	)
	if err != nil {
		return errors.Wrap(err, "cannot declare queue")
	}
	b.logger.Debug("Queue declared", logFields)

	bindConfig := QueueBindConfig{}
	if err := channel.QueueBind(
		queue.Name,
		topology.RoutingKey,
		topology.ExchangeName,
		bindConfig.NoWait,
		bindConfig.Arguments,
	); err != nil {
		return errors.Wrap(err, "cannot bind queue")
	}
	b.logger.Debug("Queue bound to exchange", logFields.Add(rabbit.LogFields{"amqp_routing_key": topology.RoutingKey}))

	return nil
}
