package amqp

import (
	"github.com/ThreeDotsLabs/rabbit"
)

// Publish sends data, encoded by the configured Marshaler, to the exchange derived from event,
// with event as the routing key. A channel is opened for every call and closed afterwards.
//
// When the client is not connected, the message is dropped and Publish returns nil.
// Failures are returned as *OperationError and are not retried.
func (c *Client) Publish(event string, data interface{}, options PublishOptions) (err error) {
	options = options.mergeOver(c.config.DefaultPublishOptions)
	logFields := rabbit.LogFields{"amqp_event": event}

	conn, ok := c.publishConnection()
	if !ok {
		c.logger.Debug("Not connected to AMQP, message dropped", logFields)
		return nil
	}
	defer c.publishingWg.Done()

	topology, err := NewTopology(event, options.Kind)
	if err != nil {
		return err
	}
	logFields["amqp_exchange_name"] = topology.ExchangeName

	channel, err := conn.Channel()
	if err != nil {
		return &OperationError{Op: "open channel", Event: event, Err: err}
	}
	defer func() {
		closeErr := channel.Close()
		if closeErr == nil {
			return
		}
		if err == nil && !IsAlreadyDisconnected(closeErr) {
			err = &OperationError{Op: "close channel", Event: event, Err: closeErr}
			return
		}
		c.logger.Error("Cannot close channel", closeErr, logFields)
	}()

	if err := c.topologyBuilder.DeclareExchange(channel, topology, options.PostprocessExchange); err != nil {
		return &OperationError{Op: "declare", Event: event, Err: err}
	}

	publishing, err := c.config.Marshaler.Marshal(data)
	if err != nil {
		return &OperationError{Op: "marshal", Event: event, Err: err}
	}
	if options.PostprocessPublishing != nil {
		publishing = options.PostprocessPublishing(publishing)
	}
	logFields["amqp_message_id"] = publishing.MessageId

	c.logger.Trace("Publishing message", logFields)

	if err := channel.Publish(
		topology.ExchangeName,
		topology.RoutingKey,
		options.Mandatory,
		options.Immediate,
		publishing,
	); err != nil {
		return &OperationError{Op: "publish", Event: event, Err: err}
	}

	c.logger.Trace("Message published", logFields)

	return nil
}
