package amqp

import (
	"sync"
)

type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventReconnecting EventKind = "reconnecting"
	EventError        EventKind = "error"
	EventClose        EventKind = "close"
)

// LifecycleEvent is a connection state change. Err is set for reconnecting and error events.
type LifecycleEvent struct {
	Kind EventKind
	Err  error
}

type Observer func(LifecycleEvent)

// LifecycleNotifier delivers lifecycle events to observers registered for their kind.
// Observers of one kind are called synchronously, in registration order.
type LifecycleNotifier struct {
	observersLock sync.RWMutex
	observers     map[EventKind][]Observer
}

func NewLifecycleNotifier() *LifecycleNotifier {
	return &LifecycleNotifier{
		observers: make(map[EventKind][]Observer),
	}
}

// On registers observer for kind.
func (n *LifecycleNotifier) On(kind EventKind, observer Observer) {
	if observer == nil {
		return
	}

	n.observersLock.Lock()
	defer n.observersLock.Unlock()

	n.observers[kind] = append(n.observers[kind], observer)
}

// Notify calls the observers of event.Kind.
func (n *LifecycleNotifier) Notify(event LifecycleEvent) {
	n.observersLock.RLock()
	observers := make([]Observer, len(n.observers[event.Kind]))
	copy(observers, n.observers[event.Kind])
	n.observersLock.RUnlock()

	for _, observer := range observers {
		observer(event)
	}
}
