package scheduler

import (
	"pacbridge/pkg/publish"
	"time"
)

const (
	DefaultUpdateInterval    = 2 * time.Second
	DefaultReconnectInterval = 10 * time.Second
	DefaultSingleGap         = 10 * time.Millisecond
	DefaultTableGap          = 50 * time.Millisecond
	DefaultWriteTimeout      = 5 * time.Second

	// FloatTolerance is the smallest float change pushed to a node.
	FloatTolerance = 0.001
)

type Options struct {
	Address             string        `json:"address"`
	Port                int           `json:"port"`
	UpdateInterval      time.Duration `json:"updateInterval"`
	ReconnectInterval   time.Duration `json:"reconnectInterval"`
	MarkBadOnDisconnect bool          `json:"markBadOnDisconnect"`
	// WriteHold suppresses polled values of a variable after a write.
	// Zero means twice the update interval.
	WriteHold    time.Duration `json:"writeHold"`
	SingleGap    time.Duration `json:"singleGap"`
	TableGap     time.Duration `json:"tableGap"`
	WriteTimeout time.Duration `json:"writeTimeout"`
}

func DefaultOptions() Options {
	return Options{
		UpdateInterval:      DefaultUpdateInterval,
		ReconnectInterval:   DefaultReconnectInterval,
		MarkBadOnDisconnect: true,
		SingleGap:           DefaultSingleGap,
		TableGap:            DefaultTableGap,
		WriteTimeout:        DefaultWriteTimeout,
	}
}

func (o Options) writeHold() time.Duration {
	if o.WriteHold > 0 {
		return o.WriteHold
	}
	return 2 * o.UpdateInterval
}

type Option func(*Scheduler)

// WithSink publishes the values changed by each cycle.
func WithSink(sink publish.Sink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}
