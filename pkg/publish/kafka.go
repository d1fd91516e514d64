package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"k8s.io/klog/v2"
)

type KafkaOptions struct {
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic,omitempty"`
}

// messageWriter is the part of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes one message per point, keyed by variable name so that a
// variable's history stays on one partition.
type KafkaSink struct {
	topic  string
	writer messageWriter
}

func NewKafkaSink(o KafkaOptions) *KafkaSink {
	return &KafkaSink{
		topic: o.Topic,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(o.Brokers...),
			Topic:                  o.Topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

type pointMessage struct {
	Name      string      `json:"name"`
	Value     interface{} `json:"value"`
	Quality   string      `json:"quality,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func messagesOf(points []Point) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(points))
	for _, p := range points {
		data, err := json.Marshal(pointMessage{
			Name:      p.Name,
			Value:     p.Value,
			Quality:   p.Quality,
			Timestamp: p.Timestamp.UTC().Format(timestampLayout),
		})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(p.Name), Value: data, Time: p.Timestamp})
	}
	return msgs, nil
}

func (s *KafkaSink) Publish(ctx context.Context, points []Point) error {
	msgs, err := messagesOf(points)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		klog.V(1).InfoS("Failed to produce Kafka", "topic", s.topic, "err", err)
		return errors.Wrapf(err, "produce to %s", s.topic)
	}
	klog.V(5).InfoS("Succeed to produce Kafka", "topic", s.topic, "messages", len(msgs))
	return nil
}

func (s *KafkaSink) Close() {
	if err := s.writer.Close(); err != nil {
		klog.V(2).InfoS("Failed to close Kafka writer", "topic", s.topic, "err", err)
	}
}
