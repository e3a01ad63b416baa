package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ThreeDotsLabs/rabbit/amqp"
)

const (
	labelKeyEvent        = "event"
	labelKeyExchangeKind = "exchange_kind"
	labelKeySettlement   = "settlement"
	labelKeyEventKind    = "kind"
)

var (
	publisherLabelKeys = []string{
		labelKeyEvent,
		labelKeyExchangeKind,
	}
	handlerLabelKeys = []string{
		labelKeyEvent,
		labelKeySettlement,
	}
	lifecycleLabelKeys = []string{
		labelKeyEventKind,
	}
)

// exchangeKindDefault labels publishes which leave the kind to Config.DefaultPublishOptions.
const exchangeKindDefault = "default"

func publishLabels(event string, kind amqp.ExchangeKind) prometheus.Labels {
	if kind == "" {
		kind = exchangeKindDefault
	}

	return prometheus.Labels{
		labelKeyEvent:        event,
		labelKeyExchangeKind: string(kind),
	}
}
