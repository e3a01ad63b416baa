package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ThreeDotsLabs/rabbit/amqp"
)

// PrometheusMetricsBuilder creates the Prometheus decorators of a client.
type PrometheusMetricsBuilder struct {
	// PrometheusRegistry may be filled with a pre-existing Prometheus registry, or left empty for a new registry.
	PrometheusRegistry prometheus.Registerer

	Namespace string
	Subsystem string
}

func NewPrometheusMetricsBuilder(prometheusRegistry prometheus.Registerer, namespace string, subsystem string) PrometheusMetricsBuilder {
	if prometheusRegistry == nil {
		prometheusRegistry = prometheus.NewRegistry()
	}

	return PrometheusMetricsBuilder{
		PrometheusRegistry: prometheusRegistry,
		Namespace:          namespace,
		Subsystem:          subsystem,
	}
}

// AddPrometheusClientMetrics observes the lifecycle events of client and returns client decorated with publish metrics.
func AddPrometheusClientMetrics(client *amqp.Client, prometheusRegistry prometheus.Registerer, namespace string, subsystem string) (amqp.EventPublisher, error) {
	builder := NewPrometheusMetricsBuilder(prometheusRegistry, namespace, subsystem)

	observer, err := builder.NewLifecycleObserver()
	if err != nil {
		return nil, err
	}
	observer.Observe(client)

	return builder.DecoratePublisher(client)
}

func (b *PrometheusMetricsBuilder) registry() prometheus.Registerer {
	if b.PrometheusRegistry == nil {
		b.PrometheusRegistry = prometheus.NewRegistry()
	}

	return b.PrometheusRegistry
}

// register registers c, or returns the collector registered before under the same descriptor,
// so decorators built twice share their metrics.
func (b *PrometheusMetricsBuilder) register(c prometheus.Collector) (prometheus.Collector, error) {
	err := b.registry().Register(c)
	if err == nil {
		return c, nil
	}

	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return are.ExistingCollector, nil
	}

	return nil, err
}

func (b *PrometheusMetricsBuilder) registerCounterVec(c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	registered, err := b.register(c)
	if err != nil {
		return nil, err
	}

	return registered.(*prometheus.CounterVec), nil
}

func (b *PrometheusMetricsBuilder) registerHistogramVec(h *prometheus.HistogramVec) (*prometheus.HistogramVec, error) {
	registered, err := b.register(h)
	if err != nil {
		return nil, err
	}

	return registered.(*prometheus.HistogramVec), nil
}

func (b *PrometheusMetricsBuilder) registerGauge(g prometheus.Gauge) (prometheus.Gauge, error) {
	registered, err := b.register(g)
	if err != nil {
		return nil, err
	}

	return registered.(prometheus.Gauge), nil
}
