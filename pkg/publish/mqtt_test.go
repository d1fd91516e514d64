package publish

import (
	"context"
	"encoding/json"
	"errors"
	"pacbridge/pkg/runtime"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool { return true }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error { return t.err }

type fakeClient struct {
	mqtt.Client
	topic   string
	qos     byte
	payload []byte
	err     error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topic = topic
	c.qos = qos
	c.payload = payload.([]byte)
	return &fakeToken{err: c.err}
}

func TestMQTTSinkPublish(t *testing.T) {
	client := &fakeClient{}
	s := newMQTTSink(client, MQTTOptions{Topic: "pacbridge/values", QoS: 1})

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Publish(context.Background(), []Point{
		{Name: "TT_11001.PV", Value: float32(42.5), Quality: "good", Timestamp: now},
	}))
	assert.Equal(t, "pacbridge/values", client.topic)
	assert.Equal(t, byte(1), client.qos)

	var data runtime.PublishData
	require.NoError(t, json.Unmarshal(client.payload, &data))
	require.Len(t, data.Payload.Data, 1)
	assert.Equal(t, "TT_11001.PV", data.Payload.Data[0].Values[0].DataPointId)
	assert.Equal(t, 42.5, data.Payload.Data[0].Values[0].Value)

	client.err = errors.New("not connected")
	assert.Error(t, s.Publish(context.Background(), []Point{{Name: "x", Timestamp: now}}))
}
