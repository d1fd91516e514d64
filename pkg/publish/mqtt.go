package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const mqttTimeout = 2 * time.Second

type MQTTOptions struct {
	Broker   string `json:"broker,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	QoS      byte   `json:"qos,omitempty"`
}

type MQTTSink struct {
	topic  string
	qos    byte
	client mqtt.Client
}

// NewMQTTSink connects to the broker. The client reconnects on its own after
// the first successful connect.
func NewMQTTSink(o MQTTOptions) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if len(o.Username) > 0 {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		klog.V(1).InfoS("Succeed to connect MQTT", "broker", o.Broker)
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		klog.V(1).InfoS("Lost MQTT connection", "broker", o.Broker, "err", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("connect to MQTT broker %s timed out", o.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connect to MQTT broker %s", o.Broker)
	}
	return newMQTTSink(client, o), nil
}

func newMQTTSink(client mqtt.Client, o MQTTOptions) *MQTTSink {
	return &MQTTSink{topic: o.Topic, qos: o.QoS, client: client}
}

func (s *MQTTSink) Publish(ctx context.Context, points []Point) error {
	marshal, err := json.Marshal(ToPublishData(points))
	if err != nil {
		return err
	}
	token := s.client.Publish(s.topic, s.qos, false, marshal)
	timeout := mqttTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		klog.V(1).InfoS("Failed to publish MQTT", "topic", s.topic, "err", "timeout")
		return fmt.Errorf("publish to %s timed out", s.topic)
	}
	if err := token.Error(); err != nil {
		klog.V(1).InfoS("Failed to publish MQTT", "topic", s.topic, "err", err)
		return errors.Wrapf(err, "publish to %s", s.topic)
	}
	klog.V(5).InfoS("Succeed to publish MQTT", "topic", s.topic, "points", len(points))
	return nil
}

func (s *MQTTSink) Close() {
	s.client.Disconnect(2000)
}
