// Package amqp is a RabbitMQ client which publishes and subscribes to events.
//
// Supported features:
// - Reconnect support, with a constant retry delay and an optional retry limit
// - Lifecycle events: connected, reconnecting, error and close
// - Topic, direct, fanout and delayed (x-delayed-message) exchanges
// - Manual message settlement with Ack, Nack and Reject
// - Qos settings
// - TLS support
//
// Nomenclature
//
// An event is a dot separated name, for example "order.created".
// The part before the first dot, together with the exchange kind, names the exchange:
// "order.created" is published to "order.tx" for a topic exchange, "order.dx" for direct,
// "order.fx" for fanout and "order.xdx" for delayed. The event itself is the routing key
// and the name of the queue declared by Subscribe.
//
// The client keeps two connections to the broker, one for publishing and one for subscribing.
// When either of them is lost, both are replaced. Subscriptions are not restored after reconnecting,
// observe EventConnected to subscribe again.
//
// In case of any problem to find to what exchange and queue an event is mapped,
// just enable logging with debug level and check it in logs.
package amqp
