package amqp_test

import (
	"testing"

	stdAmqp "github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThreeDotsLabs/rabbit/amqp"
)

func TestDefaultMarshaler(t *testing.T) {
	marshaler := amqp.DefaultMarshaler{}

	publishing, err := marshaler.Marshal(map[string]interface{}{"msg": "hello"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"msg":"hello"}`, string(publishing.Body))
	assert.Equal(t, "application/json", publishing.ContentType)
	assert.Equal(t, stdAmqp.Persistent, publishing.DeliveryMode)
	assert.NotEmpty(t, publishing.MessageId)
	assert.False(t, publishing.Timestamp.IsZero())

	data, err := marshaler.Unmarshal(stdAmqp.Delivery{Body: publishing.Body})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"msg": "hello"}, data)
}

func TestDefaultMarshaler_message_ids_are_unique(t *testing.T) {
	marshaler := amqp.DefaultMarshaler{}

	ids := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		publishing, err := marshaler.Marshal(i)
		require.NoError(t, err)
		ids[publishing.MessageId] = struct{}{}
	}

	assert.Len(t, ids, 100)
}

func TestDefaultMarshaler_not_persistent_delivery_mode(t *testing.T) {
	marshaler := amqp.DefaultMarshaler{NotPersistentDeliveryMode: true}

	publishing, err := marshaler.Marshal("x")
	require.NoError(t, err)

	assert.Equal(t, uint8(0), publishing.DeliveryMode)
}

func TestDefaultMarshaler_postprocess_publishing(t *testing.T) {
	marshaler := amqp.DefaultMarshaler{
		PostprocessPublishing: func(p stdAmqp.Publishing) stdAmqp.Publishing {
			p.CorrelationId = "correlation"
			return p
		},
	}

	publishing, err := marshaler.Marshal(struct {
		ID int `json:"id"`
	}{ID: 1})
	require.NoError(t, err)

	assert.Equal(t, "correlation", publishing.CorrelationId)
	assert.JSONEq(t, `{"id":1}`, string(publishing.Body))
}

func TestDefaultMarshaler_Unmarshal(t *testing.T) {
	marshaler := amqp.DefaultMarshaler{}

	data, err := marshaler.Unmarshal(stdAmqp.Delivery{})
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = marshaler.Unmarshal(stdAmqp.Delivery{Body: []byte(`[1,"a",null]`)})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{float64(1), "a", nil}, data)

	_, err = marshaler.Unmarshal(stdAmqp.Delivery{Body: []byte(`{not json`)})
	assert.Error(t, err)
}

func TestDefaultMarshaler_Marshal_unsupported(t *testing.T) {
	_, err := amqp.DefaultMarshaler{}.Marshal(make(chan int))
	assert.Error(t, err)
}
