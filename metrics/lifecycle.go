package metrics

import (
	multierror "github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ThreeDotsLabs/rabbit/amqp"
)

// LifecycleObservable is implemented by *amqp.Client.
type LifecycleObservable interface {
	On(kind amqp.EventKind, observer amqp.Observer)
}

// LifecycleObserver counts lifecycle events and exposes whether the client is connected.
type LifecycleObserver struct {
	lifecycleEventsTotal *prometheus.CounterVec
	connected            prometheus.Gauge
}

func (b PrometheusMetricsBuilder) NewLifecycleObserver() (LifecycleObserver, error) {
	var err, registerErr error
	o := LifecycleObserver{}

	o.lifecycleEventsTotal, registerErr = b.registerCounterVec(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: b.Namespace,
			Subsystem: b.Subsystem,
			Name:      "lifecycle_events_total",
			Help:      "The total number of connection lifecycle events, by kind",
		},
		lifecycleLabelKeys,
	))
	if registerErr != nil {
		err = multierror.Append(err, registerErr)
	}

	o.connected, registerErr = b.registerGauge(prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: b.Namespace,
			Subsystem: b.Subsystem,
			Name:      "connected",
			Help:      "1 when the client is connected to the broker, 0 otherwise",
		},
	))
	if registerErr != nil {
		err = multierror.Append(err, registerErr)
	}

	if err != nil {
		return LifecycleObserver{}, err
	}

	return o, nil
}

// Observe registers the observer for every lifecycle event kind of client.
func (o LifecycleObserver) Observe(client LifecycleObservable) {
	for _, kind := range []amqp.EventKind{
		amqp.EventConnected,
		amqp.EventReconnecting,
		amqp.EventError,
		amqp.EventClose,
	} {
		client.On(kind, o.handle)
	}
}

func (o LifecycleObserver) handle(event amqp.LifecycleEvent) {
	o.lifecycleEventsTotal.With(prometheus.Labels{labelKeyEventKind: string(event.Kind)}).Inc()

	switch event.Kind {
	case amqp.EventConnected:
		o.connected.Set(1)
	case amqp.EventReconnecting, amqp.EventClose:
		o.connected.Set(0)
	}
}
