package amqptest

import (
	stdAmqp "github.com/streadway/amqp"

	"github.com/ThreeDotsLabs/rabbit"
	"github.com/ThreeDotsLabs/rabbit/amqp"
)

// Connection is a connection to the in-memory Broker.
type Connection struct {
	broker *Broker
	Name   string

	// guarded by broker.lock
	closed      bool
	notifyClose []chan *stdAmqp.Error
	channels    []*Channel
}

var _ amqp.Connection = (*Connection)(nil)

func (c *Connection) Channel() (amqp.Channel, error) {
	c.broker.lock.Lock()
	defer c.broker.lock.Unlock()

	if c.closed {
		return nil, stdAmqp.ErrClosed
	}

	ch := &Channel{
		conn:    c,
		broker:  c.broker,
		unacked: make(map[uint64]unackedMessage),
	}
	c.channels = append(c.channels, ch)
	c.broker.channelsOpened++

	return ch, nil
}

// NotifyClose registers a listener for the connection close, like amqp.Connection.NotifyClose.
// The listener receives the error of a server initiated close and is closed afterwards.
func (c *Connection) NotifyClose(receiver chan *stdAmqp.Error) chan *stdAmqp.Error {
	c.broker.lock.Lock()
	defer c.broker.lock.Unlock()

	if c.closed {
		close(receiver)
		return receiver
	}

	c.notifyClose = append(c.notifyClose, receiver)

	return receiver
}

// Close closes the connection from the client side.
func (c *Connection) Close() error {
	c.broker.lock.Lock()
	closed := c.closed
	closeErr := c.broker.closeErr
	c.broker.lock.Unlock()

	if closed {
		return stdAmqp.ErrClosed
	}

	c.shutdown(nil)

	return closeErr
}

// Drop closes the connection from the server side with reason.
func (c *Connection) Drop(reason *stdAmqp.Error) {
	if reason == nil {
		reason = &stdAmqp.Error{
			Code:   stdAmqp.ConnectionForced,
			Reason: "CONNECTION_FORCED - broker forced connection closure",
			Server: true,
		}
	}

	c.shutdown(reason)
}

func (c *Connection) IsClosed() bool {
	c.broker.lock.Lock()
	defer c.broker.lock.Unlock()

	return c.closed
}

func (c *Connection) shutdown(reason *stdAmqp.Error) {
	c.broker.lock.Lock()
	if c.closed {
		c.broker.lock.Unlock()
		return
	}
	c.closed = true

	listeners := c.notifyClose
	c.notifyClose = nil

	var channelListeners []chan *stdAmqp.Error
	for _, ch := range c.channels {
		channelListeners = append(channelListeners, ch.shutdownLocked()...)
	}
	c.channels = nil
	c.broker.lock.Unlock()

	c.broker.removeConnection(c)
	c.broker.logger.Debug("Connection closed", rabbit.LogFields{"name": c.Name, "server_initiated": reason != nil})

	for _, listener := range append(channelListeners, listeners...) {
		if reason != nil {
			listener <- reason
		}
		close(listener)
	}
}
