package amqp

import (
	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/ThreeDotsLabs/rabbit"
)

// Subscribe declares the exchange derived from event, a durable queue named event bound to it
// with event as the key, and calls handler for every delivered message.
// Messages are consumed on a dedicated channel by a single goroutine, so handler calls are sequential.
//
// When the client is not connected, Subscribe returns nil and does nothing.
// Subscriptions end when their connection is lost, they are not restored after reconnecting.
func (c *Client) Subscribe(event string, options SubscribeOptions, handler HandlerFunc) (err error) {
	if handler == nil {
		return errors.New("handler is nil")
	}

	options = options.mergeOver(c.config.DefaultSubscribeOptions)
	logFields := rabbit.LogFields{"amqp_event": event}

	conn, closing, ok := c.subscribeConnection()
	if !ok {
		c.logger.Debug("Not connected to AMQP, not subscribing", logFields)
		return nil
	}

	started := false
	defer func() {
		if !started {
			c.subscribingWg.Done()
		}
	}()

	topology, err := NewTopology(event, options.Kind)
	if err != nil {
		return err
	}
	logFields["amqp_exchange_name"] = topology.ExchangeName
	logFields["amqp_queue_name"] = topology.QueueName

	channel, err := conn.Channel()
	if err != nil {
		return &OperationError{Op: "open channel", Event: event, Err: err}
	}
	c.logger.Debug("Channel opened", logFields)

	defer func() {
		if started {
			return
		}
		if closeErr := channel.Close(); closeErr != nil && !IsAlreadyDisconnected(closeErr) {
			c.logger.Error("Cannot close channel", closeErr, logFields)
		}
	}()

	if options.Qos != (QosConfig{}) {
		if err := channel.Qos(
			options.Qos.PrefetchCount,
			options.Qos.PrefetchSize,
			options.Qos.Global,
		); err != nil {
			return &OperationError{Op: "qos", Event: event, Err: err}
		}
		c.logger.Debug("Qos set", logFields)
	}

	if err := c.topologyBuilder.BuildTopology(channel, topology, options.PostprocessExchange); err != nil {
		return &OperationError{Op: "declare", Event: event, Err: err}
	}

	consumer := options.Consume.Consumer
	if consumer == "" {
		consumer = event + "-" + rabbit.NewShortUUID()
	}
	logFields["amqp_consumer"] = consumer

	deliveries, err := channel.Consume(
		topology.QueueName,
		consumer,
		false, // settled by the handler
		options.Consume.Exclusive,
		options.Consume.NoLocal,
		options.Consume.NoWait,
		options.Consume.Arguments,
	)
	if err != nil {
		return &OperationError{Op: "consume", Event: event, Err: err}
	}

	sub := &subscription{
		event:      event,
		channel:    channel,
		deliveries: deliveries,
		handler:    handler,
		marshaler:  c.config.Marshaler,
		logger:     c.logger,
		logFields:  logFields,
		notify:     c.notifyFromBackground,
		closing:    closing,
	}

	started = true
	go func() {
		defer c.subscribingWg.Done()
		sub.ProcessMessages()
	}()

	c.logger.Info("Subscribed", logFields)

	return nil
}

type subscription struct {
	event      string
	channel    Channel
	deliveries <-chan amqp.Delivery
	handler    HandlerFunc
	marshaler  Marshaler

	logger    rabbit.LoggerAdapter
	logFields rabbit.LogFields
	notify    func(LifecycleEvent)
	closing   chan struct{}
}

func (s *subscription) ProcessMessages() {
	defer func() {
		if err := s.channel.Close(); err != nil && !IsAlreadyDisconnected(err) {
			s.logger.Error("Cannot close channel", err, s.logFields)
		}
		s.logger.Info("Stopped consuming", s.logFields)
	}()

	s.logger.Info("Starting consuming", s.logFields)

	for {
		select {
		case delivery, ok := <-s.deliveries:
			if !ok {
				s.logger.Debug("Deliveries channel closed", s.logFields)
				return
			}
			s.processMessage(delivery)
		case <-s.closing:
			return
		}
	}
}

func (s *subscription) processMessage(delivery amqp.Delivery) {
	logFields := s.logFields.Add(rabbit.LogFields{
		"amqp_delivery_tag": delivery.DeliveryTag,
		"amqp_message_id":   delivery.MessageId,
	})

	data, err := s.marshaler.Unmarshal(delivery)
	if err != nil {
		payloadErr := &PayloadError{Event: s.event, Err: err}
		s.logger.Error("Cannot unmarshal message, rejecting", payloadErr, logFields)
		s.notify(LifecycleEvent{Kind: EventError, Err: payloadErr})

		if err := delivery.Reject(false); err != nil {
			s.logger.Error("Cannot reject message", err, logFields)
		}
		return
	}

	s.logger.Trace("Message received", logFields)

	msg := NewMessage(delivery, data)
	s.handler(data, delivery, msg)

	s.logger.Trace("Message handled", logFields.Add(rabbit.LogFields{"settlement": msg.State()}))
}
