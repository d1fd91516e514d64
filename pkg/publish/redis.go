package publish

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"
)

type RedisOptions struct {
	Address  string `json:"address,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// RedisSink keeps the latest value of every variable at <prefix>:<name> and
// announces each change on a channel.
type RedisSink struct {
	prefix  string
	channel string
	client  *redis.Client
}

func NewRedisSink(o RedisOptions) *RedisSink {
	return &RedisSink{
		prefix:  o.Prefix,
		channel: o.Channel,
		client: redis.NewClient(&redis.Options{
			Addr:     o.Address,
			Password: o.Password,
			DB:       o.DB,
		}),
	}
}

func (s *RedisSink) Key(name string) string {
	return s.prefix + ":" + name
}

func (s *RedisSink) Publish(ctx context.Context, points []Point) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range points {
			data, err := json.Marshal(pointMessage{
				Name:      p.Name,
				Value:     p.Value,
				Quality:   p.Quality,
				Timestamp: p.Timestamp.UTC().Format(timestampLayout),
			})
			if err != nil {
				return err
			}
			pipe.Set(ctx, s.Key(p.Name), data, 0)
			if len(s.channel) > 0 {
				pipe.Publish(ctx, s.channel, data)
			}
		}
		return nil
	})
	if err != nil {
		klog.V(1).InfoS("Failed to publish Redis", "prefix", s.prefix, "err", err)
		return errors.Wrap(err, "publish to redis")
	}
	klog.V(5).InfoS("Succeed to publish Redis", "prefix", s.prefix, "points", len(points))
	return nil
}

func (s *RedisSink) Close() {
	if err := s.client.Close(); err != nil {
		klog.V(2).InfoS("Failed to close Redis client", "err", err)
	}
}
