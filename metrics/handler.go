package metrics

import (
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	stdAmqp "github.com/streadway/amqp"

	"github.com/ThreeDotsLabs/rabbit/amqp"
)

type HandlerPrometheusMetricsMiddleware struct {
	handlerMessagesTotal        *prometheus.CounterVec
	handlerExecutionTimeSeconds *prometheus.HistogramVec
}

type settlementStater interface {
	State() amqp.SettlementState
}

// Middleware counts the messages handled by h for event, labelled with how the handler settled them.
func (m HandlerPrometheusMetricsMiddleware) Middleware(event string, h amqp.HandlerFunc) amqp.HandlerFunc {
	return func(data interface{}, delivery stdAmqp.Delivery, settlement amqp.Settlement) {
		now := time.Now()

		defer func() {
			labels := prometheus.Labels{
				labelKeyEvent:      event,
				labelKeySettlement: settlementLabel(settlement),
			}
			m.handlerExecutionTimeSeconds.With(labels).Observe(time.Since(now).Seconds())
			m.handlerMessagesTotal.With(labels).Inc()
		}()

		h(data, delivery, settlement)
	}
}

func settlementLabel(settlement amqp.Settlement) string {
	if s, ok := settlement.(settlementStater); ok {
		return s.State().String()
	}
	if settlement.Settled() {
		return "settled"
	}

	return amqp.SettlementPending.String()
}

func (b PrometheusMetricsBuilder) NewHandlerMiddleware() (HandlerPrometheusMetricsMiddleware, error) {
	var err, registerErr error
	m := HandlerPrometheusMetricsMiddleware{}

	m.handlerMessagesTotal, registerErr = b.registerCounterVec(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: b.Namespace,
			Subsystem: b.Subsystem,
			Name:      "handler_messages_total",
			Help:      "The total number of messages passed to a handler, by settlement",
		},
		handlerLabelKeys,
	))
	if registerErr != nil {
		err = multierror.Append(err, registerErr)
	}

	m.handlerExecutionTimeSeconds, registerErr = b.registerHistogramVec(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: b.Namespace,
			Subsystem: b.Subsystem,
			Name:      "handler_execution_time_seconds",
			Help:      "The total time elapsed while executing the handler function in seconds",
		},
		handlerLabelKeys,
	))
	if registerErr != nil {
		err = multierror.Append(err, registerErr)
	}

	if err != nil {
		return HandlerPrometheusMetricsMiddleware{}, err
	}

	return m, nil
}
