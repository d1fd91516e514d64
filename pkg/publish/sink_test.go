package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	batches [][]Point
	err     error
	closed  int
}

func (r *recordingSink) Publish(_ context.Context, points []Point) error {
	r.batches = append(r.batches, points)
	return r.err
}

func (r *recordingSink) Close() { r.closed++ }

func TestToPublishData(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)
	data := ToPublishData([]Point{
		{Name: "TT_11001.PV", Value: float32(42.5), Quality: "good", Timestamp: t0},
		{Name: "TT_11001.SetHH", Value: float32(1), Quality: "good", Timestamp: t0},
		{Name: "Sistema_General.Modo", Value: int32(2), Quality: "good", Timestamp: t1},
	})

	require.Len(t, data.Payload.Data, 2)
	assert.Equal(t, "2024-03-01T10:00:00.000Z", data.Payload.Data[0].Timestamp)
	require.Len(t, data.Payload.Data[0].Values, 2)
	assert.Equal(t, "TT_11001.PV", data.Payload.Data[0].Values[0].DataPointId)
	assert.Equal(t, float32(42.5), data.Payload.Data[0].Values[0].Value)
	assert.Equal(t, "Sistema_General.Modo", data.Payload.Data[1].Values[0].DataPointId)
}

func TestFanout(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("broker down")}
	f := NewFanout(a, nil, b)

	points := []Point{{Name: "x", Value: float32(1), Timestamp: time.Now()}}
	err := f.Publish(context.Background(), points)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, a.batches, 1)
	assert.Len(t, b.batches, 1)

	require.NoError(t, f.Publish(context.Background(), nil))
	assert.Len(t, a.batches, 1)

	f.Close()
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard.Publish(context.Background(), []Point{{Name: "x"}}))
	Discard.Close()
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkKeysByName(t *testing.T) {
	w := &fakeWriter{}
	s := &KafkaSink{topic: "pac", writer: w}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Publish(context.Background(), []Point{
		{Name: "TT_11001.PV", Value: float32(42.5), Quality: "good", Timestamp: now},
		{Name: "TT_11001.SetHH", Value: float32(1), Quality: "good", Timestamp: now},
	}))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, []byte("TT_11001.PV"), w.msgs[0].Key)
	assert.JSONEq(t, `{"name":"TT_11001.PV","value":42.5,"quality":"good","timestamp":"2024-03-01T10:00:00.000Z"}`, string(w.msgs[0].Value))

	w.err = errors.New("leader not available")
	assert.Error(t, s.Publish(context.Background(), []Point{{Name: "x", Timestamp: now}}))

	s.Close()
	assert.True(t, w.closed)
}

func TestRedisKey(t *testing.T) {
	s := NewRedisSink(RedisOptions{Address: "127.0.0.1:1", Prefix: "pac"})
	defer s.Close()
	assert.Equal(t, "pac:TT_11001.PV", s.Key("TT_11001.PV"))
}
