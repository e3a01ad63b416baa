package metrics

import (
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ThreeDotsLabs/rabbit/amqp"
)

type PublisherPrometheusMetricsDecorator struct {
	pub amqp.EventPublisher

	publisherSuccessTotal *prometheus.CounterVec
	publisherFailTotal    *prometheus.CounterVec
	publishTimeSeconds    *prometheus.HistogramVec
}

var _ amqp.EventPublisher = PublisherPrometheusMetricsDecorator{}

// Publish updates the relevant publisher metrics and calls the wrapped publisher's Publish.
// Messages dropped while disconnected count as successful, as the wrapped Publish returns nil for them.
func (m PublisherPrometheusMetricsDecorator) Publish(event string, data interface{}, options amqp.PublishOptions) (err error) {
	labels := publishLabels(event, options.Kind)
	now := time.Now()

	defer func() {
		m.publishTimeSeconds.With(labels).Observe(time.Since(now).Seconds())
		if err != nil {
			m.publisherFailTotal.With(labels).Inc()
			return
		}
		m.publisherSuccessTotal.With(labels).Inc()
	}()

	return m.pub.Publish(event, data, options)
}

// DecoratePublisher wraps pub with Prometheus metrics.
func (b PrometheusMetricsBuilder) DecoratePublisher(pub amqp.EventPublisher) (amqp.EventPublisher, error) {
	var err, registerErr error
	m := PublisherPrometheusMetricsDecorator{pub: pub}

	m.publisherSuccessTotal, registerErr = b.registerCounterVec(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: b.Namespace,
			Subsystem: b.Subsystem,
			Name:      "publisher_success_total",
			Help:      "Total number of successfully published messages",
		},
		publisherLabelKeys,
	))
	if registerErr != nil {
		err = multierror.Append(err, registerErr)
	}

	m.publisherFailTotal, registerErr = b.registerCounterVec(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: b.Namespace,
			Subsystem: b.Subsystem,
			Name:      "publisher_fail_total",
			Help:      "Total number of failed attempts to publish a message",
		},
		publisherLabelKeys,
	))
	if registerErr != nil {
		err = multierror.Append(err, registerErr)
	}

	m.publishTimeSeconds, registerErr = b.registerHistogramVec(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: b.Namespace,
			Subsystem: b.Subsystem,
			Name:      "publish_time_seconds",
			Help:      "The time that a publishing attempt (success or not) took in seconds",
		},
		publisherLabelKeys,
	))
	if registerErr != nil {
		err = multierror.Append(err, registerErr)
	}

	if err != nil {
		return nil, err
	}

	return m, nil
}
