package publish

import (
	"context"
	"pacbridge/pkg/runtime"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Point is one variable value changed during a scheduler cycle.
type Point struct {
	Name      string
	Value     interface{}
	Quality   string
	Timestamp time.Time
}

// Sink receives the points changed by each scheduler cycle.
type Sink interface {
	Publish(ctx context.Context, points []Point) error
	Close()
}

// ToPublishData groups points into the gateway payload shape. Points are
// bucketed by timestamp in arrival order.
func ToPublishData(points []Point) runtime.PublishData {
	series := make([]runtime.TimeSeriesData, 0, 1)
	index := make(map[string]int)
	for _, p := range points {
		ts := p.Timestamp.UTC().Format(timestampLayout)
		i, ok := index[ts]
		if !ok {
			i = len(series)
			index[ts] = i
			series = append(series, runtime.TimeSeriesData{Timestamp: ts})
		}
		series[i].Values = append(series[i].Values, runtime.PointData{
			DataPointId: p.Name,
			Value:       p.Value,
			Quality:     p.Quality,
		})
	}
	return runtime.PublishData{Payload: runtime.Payload{Data: series}}
}

type fanout struct {
	sinks []Sink
}

// NewFanout publishes to every sink. A nil sink is skipped.
func NewFanout(sinks ...Sink) Sink {
	f := &fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *fanout) Publish(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, points); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

func (f *fanout) Close() {
	for i := len(f.sinks); i > 0; i-- {
		f.sinks[i-1].Close()
	}
}

// Discard drops every point.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(context.Context, []Point) error { return nil }

func (discard) Close() {}
