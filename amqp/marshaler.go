package amqp

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/ThreeDotsLabs/rabbit"
)

const jsonContentType = "application/json"

// Marshaler converts event data to AMQP messages and back.
type Marshaler interface {
	Marshal(data interface{}) (amqp.Publishing, error)
	// Unmarshal returns nil data for a delivery without a body.
	Unmarshal(delivery amqp.Delivery) (interface{}, error)
}

// DefaultMarshaler encodes data as JSON. Messages are persistent unless NotPersistentDeliveryMode is set.
type DefaultMarshaler struct {
	PostprocessPublishing     func(amqp.Publishing) amqp.Publishing
	NotPersistentDeliveryMode bool
}

func (d DefaultMarshaler) Marshal(data interface{}) (amqp.Publishing, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return amqp.Publishing{}, errors.Wrap(err, "cannot encode data")
	}

	publishing := amqp.Publishing{
		ContentType: jsonContentType,
		MessageId:   rabbit.NewULID(),
		Timestamp:   time.Now(),
		Body:        body,
	}
	if !d.NotPersistentDeliveryMode {
		publishing.DeliveryMode = amqp.Persistent
	}

	if d.PostprocessPublishing != nil {
		publishing = d.PostprocessPublishing(publishing)
	}

	return publishing, nil
}

func (DefaultMarshaler) Unmarshal(delivery amqp.Delivery) (interface{}, error) {
	if len(delivery.Body) == 0 {
		return nil, nil
	}

	var data interface{}
	if err := json.Unmarshal(delivery.Body, &data); err != nil {
		return nil, errors.Wrap(err, "cannot decode body")
	}

	return data, nil
}
