package amqp

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/ThreeDotsLabs/rabbit"
	"github.com/ThreeDotsLabs/rabbit/internal"
	internalSync "github.com/ThreeDotsLabs/rabbit/internal/sync"
)

const (
	sidePublish   = "publish"
	sideSubscribe = "subscribe"
)

// connectionWrapper owns the publish-side and the subscribe-side connections.
// Both are replaced together whenever either of them closes.
type connectionWrapper struct {
	config   Config
	logger   rabbit.LoggerAdapter
	notifier *LifecycleNotifier

	connectionLock sync.Mutex
	publishConn    Connection
	subscribeConn  Connection
	connected      chan struct{}

	running          bool
	closeInProgress  bool
	cancelSupervisor context.CancelFunc
	closing          chan struct{}

	// established is set once both connections were installed, and cleared by Close.
	established bool
	// observing counts background goroutines currently inside lifecycle observers.
	observing   int

	supervisorWg  sync.WaitGroup
	publishingWg  sync.WaitGroup
	subscribingWg sync.WaitGroup
}

func newConnectionWrapper(config Config, logger rabbit.LoggerAdapter, notifier *LifecycleNotifier) *connectionWrapper {
	return &connectionWrapper{
		config:    config,
		logger:    logger,
		notifier:  notifier,
		connected: make(chan struct{}),
	}
}

// connections is one generation of connection handles, with their close notifications.
type connections struct {
	publish         Connection
	subscribe       Connection
	publishClosed   chan *amqp.Error
	subscribeClosed chan *amqp.Error
}

// Connect starts connecting in the background and returns immediately.
// Connection failures are retried every Config.RetryDelay and reported as reconnecting events.
// Calling Connect on a client that is already connecting or connected does nothing.
func (c *connectionWrapper) Connect() error {
	c.connectionLock.Lock()
	defer c.connectionLock.Unlock()

	if c.closeInProgress {
		return ErrClientClosing
	}
	if c.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancelSupervisor = cancel
	c.closing = make(chan struct{})

	c.supervisorWg.Add(1)
	go c.supervise(ctx)

	return nil
}

// Connected returns a channel which is closed once both connections are established.
// A new channel is created after every connection loss.
func (c *connectionWrapper) Connected() <-chan struct{} {
	c.connectionLock.Lock()
	defer c.connectionLock.Unlock()

	return c.connected
}

func (c *connectionWrapper) IsConnected() bool {
	c.connectionLock.Lock()
	defer c.connectionLock.Unlock()

	return internal.IsChannelClosed(c.connected)
}

func (c *connectionWrapper) supervise(ctx context.Context) {
	defer c.supervisorWg.Done()

	for {
		conns, err := c.dialWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Debug("Connection supervisor stopped while connecting", nil)
				return
			}

			c.logger.Error("Giving up connecting to AMQP", err, rabbit.LogFields{"max_retries": c.config.MaxRetries})
			c.connectionLock.Lock()
			c.running = false
			c.connectionLock.Unlock()

			c.notifyFromBackground(LifecycleEvent{Kind: EventError, Err: err})
			return
		}

		if !c.install(ctx, conns) {
			c.logger.Debug("Client closed while connecting, dropping new connections", nil)
			c.closeConnections(conns)
			return
		}

		c.logger.Info("Connected to AMQP", nil)
		c.notifyFromBackground(LifecycleEvent{Kind: EventConnected})

		closeErr := c.waitForClose(ctx, conns)
		if closeErr == nil {
			c.logger.Debug("Connection supervisor stopped", nil)
			return
		}

		c.logger.Error("Received close notification from AMQP, reconnecting", closeErr, nil)
		c.uninstall(conns)
		c.closeConnections(conns)

		if ctx.Err() != nil {
			return
		}
		c.notifyFromBackground(LifecycleEvent{Kind: EventReconnecting, Err: closeErr})
	}
}

func (c *connectionWrapper) dialWithRetry(ctx context.Context) (*connections, error) {
	var conns *connections

	err := backoff.RetryNotify(
		func() error {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}

			var err error
			conns, err = c.dial()
			return err
		},
		backoff.WithContext(c.config.retryBackOff(), ctx),
		func(err error, next time.Duration) {
			c.logger.Error("Cannot connect to AMQP, retrying", err, rabbit.LogFields{"retry_in": next})
			c.notifyFromBackground(LifecycleEvent{Kind: EventReconnecting, Err: err})
		},
	)
	if err != nil {
		return nil, err
	}

	return conns, nil
}

func (c *connectionWrapper) dial() (*connections, error) {
	publishConn, err := c.config.Dialer.Dial(c.config.URI, sidePublish+"-"+rabbit.NewUUID())
	if err != nil {
		return nil, &ConnectionError{Side: sidePublish, Err: err}
	}
	c.logger.Debug("Connection opened", rabbit.LogFields{"side": sidePublish})

	subscribeConn, err := c.config.Dialer.Dial(c.config.URI, sideSubscribe+"-"+rabbit.NewUUID())
	if err != nil {
		if closeErr := publishConn.Close(); closeErr != nil {
			c.logger.Debug("Cannot close publish connection after failed dial", rabbit.LogFields{"err": closeErr})
		}
		return nil, &ConnectionError{Side: sideSubscribe, Err: err}
	}
	c.logger.Debug("Connection opened", rabbit.LogFields{"side": sideSubscribe})

	// the broker library closes these channels after sending at most one error
	return &connections{
		publish:         publishConn,
		subscribe:       subscribeConn,
		publishClosed:   publishConn.NotifyClose(make(chan *amqp.Error, 1)),
		subscribeClosed: subscribeConn.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

// install publishes conns unless the client was closed meanwhile.
func (c *connectionWrapper) install(ctx context.Context, conns *connections) bool {
	c.connectionLock.Lock()
	defer c.connectionLock.Unlock()

	if ctx.Err() != nil {
		return false
	}

	c.publishConn = conns.publish
	c.subscribeConn = conns.subscribe
	c.established = true
	close(c.connected)

	return true
}

func (c *connectionWrapper) uninstall(conns *connections) {
	c.connectionLock.Lock()
	defer c.connectionLock.Unlock()

	if c.publishConn != conns.publish {
		// already taken by Close
		return
	}

	c.publishConn = nil
	c.subscribeConn = nil
	c.connected = make(chan struct{})
}

// waitForClose blocks until one of the connections closes or the supervisor is stopped.
// It returns the close reason, or nil when the supervisor was stopped.
func (c *connectionWrapper) waitForClose(ctx context.Context, conns *connections) error {
	var side string
	var amqpErr *amqp.Error

	select {
	case <-ctx.Done():
		return nil
	case amqpErr = <-conns.publishClosed:
		side = sidePublish
	case amqpErr = <-conns.subscribeClosed:
		side = sideSubscribe
	}

	if ctx.Err() != nil {
		// closed by Close
		return nil
	}

	if amqpErr == nil {
		return errors.Wrapf(ErrConnectionClosed, "%s connection", side)
	}

	return errors.Wrapf(amqpErr, "%s connection", side)
}

// closeConnections closes a stale generation of connections.
func (c *connectionWrapper) closeConnections(conns *connections) {
	err := closeConcurrently(conns.publish, conns.subscribe)
	if err == nil {
		return
	}

	c.logger.Error("Cannot close stale connection", err, nil)
	c.notifyFromBackground(LifecycleEvent{Kind: EventError, Err: &CloseError{Err: err}})
}

// notifyFromBackground notifies observers from the supervisor or a subscription goroutine.
// Close does not wait for these goroutines while they run observers, so observers may call Close.
func (c *connectionWrapper) notifyFromBackground(event LifecycleEvent) {
	c.connectionLock.Lock()
	c.observing++
	c.connectionLock.Unlock()

	defer func() {
		c.connectionLock.Lock()
		c.observing--
		c.connectionLock.Unlock()
	}()

	c.notifier.Notify(event)
}

// Close stops reconnecting and closes both connections.
// Closing a client which never established its connections does nothing. A client which lost its
// connections and is reconnecting stops retrying and emits the close event. Failures caused by the
// broker being already unreachable are ignored.
//
// Close may be called from a lifecycle observer. It must not be called from a HandlerFunc,
// as it waits for the handlers to return.
func (c *connectionWrapper) Close() error {
	c.connectionLock.Lock()
	if !c.running && !c.established {
		c.connectionLock.Unlock()
		return nil
	}

	if c.cancelSupervisor != nil {
		c.cancelSupervisor()
	}
	if c.closing != nil && !internal.IsChannelClosed(c.closing) {
		close(c.closing)
	}
	c.running = false
	c.closeInProgress = true

	established := c.established
	c.established = false

	// a background goroutine inside an observer exits by itself once the observer returns
	waitForBackground := c.observing == 0

	publishConn, subscribeConn := c.publishConn, c.subscribeConn
	c.publishConn = nil
	c.subscribeConn = nil
	c.connected = make(chan struct{})
	c.connectionLock.Unlock()

	defer func() {
		c.connectionLock.Lock()
		c.closeInProgress = false
		c.connectionLock.Unlock()
	}()

	if waitForBackground {
		if timeout := internalSync.WaitGroupTimeout(&c.supervisorWg, c.config.CloseTimeout); timeout {
			c.logger.Error("Connection supervisor did not stop in time", nil, rabbit.LogFields{"timeout": c.config.CloseTimeout})
		}
	} else {
		c.logger.Debug("Closing from a lifecycle observer, not waiting for background goroutines", nil)
	}

	if !established {
		return nil
	}

	c.logger.Info("Closing AMQP connections", nil)

	c.publishingWg.Wait()

	err := closeConcurrently(publishConn, subscribeConn)

	if waitForBackground {
		if timeout := internalSync.WaitGroupTimeout(&c.subscribingWg, c.config.CloseTimeout); timeout {
			c.logger.Error("Subscriptions did not stop in time", nil, rabbit.LogFields{"timeout": c.config.CloseTimeout})
		}
	}

	if err != nil {
		c.logger.Error("Cannot close AMQP connections", err, nil)
		return &CloseError{Err: err}
	}

	c.logger.Info("Closed AMQP connections", nil)
	c.notifier.Notify(LifecycleEvent{Kind: EventClose})

	return nil
}

// closeConcurrently closes conns in parallel. Errors meaning the connection was already gone are dropped.
func closeConcurrently(conns ...Connection) error {
	errs := make([]error, len(conns))

	wg := sync.WaitGroup{}
	for i, conn := range conns {
		if conn == nil {
			continue
		}

		wg.Add(1)
		go func(i int, conn Connection) {
			defer wg.Done()
			errs[i] = conn.Close()
		}(i, conn)
	}
	wg.Wait()

	var result error
	for _, err := range errs {
		if err == nil || IsAlreadyDisconnected(err) {
			continue
		}
		result = multierror.Append(result, err)
	}

	return result
}

// publishConnection returns the publish-side connection and registers an in-flight publish.
// The caller must call publishingWg.Done when it returned true.
func (c *connectionWrapper) publishConnection() (Connection, bool) {
	c.connectionLock.Lock()
	defer c.connectionLock.Unlock()

	if c.publishConn == nil {
		return nil, false
	}
	c.publishingWg.Add(1)

	return c.publishConn, true
}

// subscribeConnection returns the subscribe-side connection and registers a subscription.
// The caller must call subscribingWg.Done when it returned true.
func (c *connectionWrapper) subscribeConnection() (Connection, chan struct{}, bool) {
	c.connectionLock.Lock()
	defer c.connectionLock.Unlock()

	if c.subscribeConn == nil {
		return nil, nil, false
	}
	c.subscribingWg.Add(1)

	return c.subscribeConn, c.closing, true
}
