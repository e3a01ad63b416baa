// Package rabbit is a resilient client for AMQP brokers such as RabbitMQ.
//
// The client keeps two connections to the broker, one used for publishing and
// one used for consuming, and rebuilds both whenever either of them is lost.
// Exchanges, queues and bindings are derived from event names, so publishers
// and subscribers only need to agree on the event name and the exchange kind.
//
// The client itself lives in the amqp package. This package holds the logging
// adapters and id generators shared by the rest of the module.
package rabbit
