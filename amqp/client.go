package amqp

import (
	"github.com/streadway/amqp"

	"github.com/ThreeDotsLabs/rabbit"
	"github.com/ThreeDotsLabs/rabbit/internal"
)

// EventPublisher publishes event data.
type EventPublisher interface {
	Publish(event string, data interface{}, options PublishOptions) error
}

// HandlerFunc receives decoded data, the raw delivery and the settlement controls of one message.
// data is nil for a delivery without a body.
type HandlerFunc func(data interface{}, delivery amqp.Delivery, settlement Settlement)

// Client publishes and subscribes to events, keeping its broker connections alive.
// Each Client is independent, there is no shared state between instances.
type Client struct {
	*connectionWrapper

	config          Config
	logger          rabbit.LoggerAdapter
	notifier        *LifecycleNotifier
	topologyBuilder topologyBuilder
}

var _ EventPublisher = (*Client)(nil)

// NewClient creates a Client. It does not connect, call Connect for that.
func NewClient(config Config, logger rabbit.LoggerAdapter) (*Client, error) {
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = rabbit.NopLogger{}
	}
	logger = logger.With(rabbit.LogFields{"dialer": internal.StructName(config.Dialer)})

	notifier := NewLifecycleNotifier()

	return &Client{
		connectionWrapper: newConnectionWrapper(config, logger, notifier),
		config:            config,
		logger:            logger,
		notifier:          notifier,
		topologyBuilder:   defaultTopologyBuilder{logger: logger},
	}, nil
}

// On registers observer for lifecycle events of kind.
func (c *Client) On(kind EventKind, observer Observer) {
	c.notifier.On(kind, observer)
}
