package scheduler

import (
	"context"
	"pacbridge/pkg/nodestore"
	"pacbridge/pkg/protocol/pac"
	"pacbridge/pkg/protocol/pac/pactest"
	"pacbridge/pkg/publish"
	"pacbridge/pkg/registry"
	"pacbridge/pkg/runtime/constant"
	v1 "pacbridge/pkg/v1"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]publish.Point
}

func (r *recordingSink) Publish(_ context.Context, points []publish.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, points)
	return nil
}

func (r *recordingSink) Close() {}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func testDocument() *v1.TagsDocument {
	return &v1.TagsDocument{
		Tags: []*v1.Tag{{
			Name:       "TT_11001",
			ValueTable: "TBL_TT_11001",
			Variables:  []string{"PV", "SetHH", "SIM_Value"},
			AlarmTable: "TBL_TA_11001",
			Alarms:     []string{"HH", "LL"},
		}},
		FloatVariables: []*v1.SingleVariable{{Name: "Presion_Linea", PacTag: "F_PRESION"}},
		Int32Variables: []*v1.SingleVariable{{Name: "E_Modo", PacTag: "I_MODO"}},
	}
}

type fixture struct {
	scheduler *Scheduler
	store     *nodestore.MemoryStore
	server    *pactest.Server
	registry  *registry.Registry
	clock     *fakeClock
}

func newFixture(t *testing.T, options ...Option) *fixture {
	t.Helper()
	server, err := pactest.NewServer()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	server.SetFloatTable("TBL_TT_11001", []float32{10, 1, 2, 3, 4, 5, 42.5, 7, 8, 9})
	server.SetInt32Table("TBL_TA_11001", []int32{1, 0, 0, 1, 0})
	server.SetTag("F_PRESION", "12.5")

	reg, err := registry.Build(testDocument())
	require.NoError(t, err)

	host, port := server.HostPort()
	opts := DefaultOptions()
	opts.Address = host
	opts.Port = port
	opts.SingleGap = 0
	opts.TableGap = 0

	pacOpts := pac.DefaultOptions()
	pacOpts.Timeout = 500 * time.Millisecond
	pacOpts.ConfirmTimeout = 200 * time.Millisecond
	pacOpts.Retry.Backoff = 0

	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := nodestore.NewMemoryStore()
	options = append([]Option{WithClock(clock.now)}, options...)
	s := New(opts, reg, store, PacClientFactory(pacOpts), options...)
	require.NoError(t, s.CreateNodes())
	require.True(t, s.Connect())
	t.Cleanup(s.Disconnect)
	return &fixture{scheduler: s, store: store, server: server, registry: reg, clock: clock}
}

func (f *fixture) value(t *testing.T, name string) nodestore.Value {
	t.Helper()
	v, ok := f.store.Value(name)
	require.True(t, ok, name)
	return v
}

func isTableWrite(c string) bool { return strings.HasSuffix(c, " TABLE!\r") }

func TestCycleFansOutTableValues(t *testing.T) {
	f := newFixture(t)
	f.scheduler.RunCycle(context.Background())

	assert.Equal(t, float32(42.5), f.value(t, "TT_11001.PV").Value)
	assert.Equal(t, float32(1), f.value(t, "TT_11001.SetHH").Value)
	assert.Equal(t, float32(5), f.value(t, "TT_11001.SIM_Value").Value)
	assert.Equal(t, int32(1), f.value(t, "TT_11001.HH").Value)
	assert.Equal(t, int32(1), f.value(t, "TT_11001.LL").Value)
	assert.Equal(t, float32(12.5), f.value(t, "Sistema_General.Presion_Linea").Value)
	assert.Equal(t, int32(0), f.value(t, "Sistema_General.E_Modo").Value)
	assert.Equal(t, nodestore.QualityGood, f.value(t, "TT_11001.PV").Quality)

	// one range read per table
	assert.Equal(t, 2, f.server.CountCommands(func(c string) bool { return strings.HasSuffix(c, " TRange.\r") }))
	assert.Equal(t, uint64(1), f.scheduler.Stats().Cycles)
	assert.Equal(t, uint64(7), f.scheduler.Stats().Pushes)
}

func TestCyclePushesOnlyChanges(t *testing.T) {
	sink := &recordingSink{}
	f := newFixture(t, WithSink(sink))
	f.scheduler.RunCycle(context.Background())
	require.Equal(t, 1, sink.count())
	assert.Len(t, sink.batches[0], 7)

	f.scheduler.RunCycle(context.Background())
	assert.Equal(t, uint64(7), f.scheduler.Stats().Pushes)
	assert.Equal(t, 1, sink.count())

	f.server.SetFloatTable("TBL_TT_11001", []float32{10, 1, 2, 3, 4, 5, 42.5005, 7, 8, 9})
	f.scheduler.RunCycle(context.Background())
	assert.Equal(t, uint64(7), f.scheduler.Stats().Pushes, "change below tolerance")

	f.server.SetFloatTable("TBL_TT_11001", []float32{10, 1, 2, 3, 4, 5, 43, 7, 8, 9})
	f.scheduler.RunCycle(context.Background())
	assert.Equal(t, uint64(8), f.scheduler.Stats().Pushes)
	require.Equal(t, 2, sink.count())
	assert.Equal(t, "TT_11001.PV", sink.batches[1][0].Name)
	assert.Equal(t, float32(43), f.value(t, "TT_11001.PV").Value)
}

func TestTableFailureKeepsPreviousValues(t *testing.T) {
	f := newFixture(t)
	f.scheduler.RunCycle(context.Background())

	f.server.SetHandler(func(command string) ([]byte, bool) {
		if strings.Contains(command, "}TBL_TT_11001 TRange.") {
			return []byte("\x00\x00Unknown table\r\n"), true
		}
		return nil, false
	})
	f.server.SetInt32Table("TBL_TA_11001", []int32{0, 0, 0, 0, 0})
	f.scheduler.RunCycle(context.Background())

	assert.Equal(t, float32(42.5), f.value(t, "TT_11001.PV").Value)
	assert.Equal(t, nodestore.QualityGood, f.value(t, "TT_11001.PV").Quality)
	assert.Equal(t, int32(0), f.value(t, "TT_11001.HH").Value, "other tables still update")
	assert.Equal(t, uint64(1), f.scheduler.Stats().TableFailures)
	assert.True(t, f.scheduler.Connected())
}

func TestRunCycleSkipsWhileUpdating(t *testing.T) {
	f := newFixture(t)
	f.scheduler.updating.Store(true)
	f.scheduler.RunCycle(context.Background())
	f.scheduler.updating.Store(false)

	assert.Equal(t, uint64(1), f.scheduler.Stats().SkippedCycles)
	assert.Equal(t, uint64(0), f.scheduler.Stats().Cycles)
	assert.Empty(t, f.server.Commands())
}

func TestExternalWriteHoldsPolledValue(t *testing.T) {
	f := newFixture(t)
	f.scheduler.RunCycle(context.Background())

	require.NoError(t, f.store.ExternalWrite("TT_11001.SetHH", 5.5))
	assert.Equal(t, float32(5.5), f.server.FloatTable("TBL_TT_11001")[1])
	assert.Equal(t, float32(5.5), f.value(t, "TT_11001.SetHH").Value)

	// the controller has not applied the setpoint yet
	f.server.SetFloatTable("TBL_TT_11001", []float32{10, 1, 2, 3, 4, 5, 42.5, 7, 8, 9})
	f.scheduler.RunCycle(context.Background())
	assert.Equal(t, float32(5.5), f.value(t, "TT_11001.SetHH").Value)

	f.clock.advance(5 * time.Second)
	f.scheduler.RunCycle(context.Background())
	assert.Equal(t, float32(1), f.value(t, "TT_11001.SetHH").Value)
	assert.Equal(t, uint64(1), f.scheduler.Stats().ExternalWrites)
}

func TestExternalWriteRejectedByController(t *testing.T) {
	f := newFixture(t)
	f.scheduler.RunCycle(context.Background())
	f.server.SetConfirmation([]byte{0x01, 0x00})

	err := f.store.ExternalWrite("TT_11001.SetHH", 9)
	assert.ErrorIs(t, err, nodestore.ErrWriteRejected)
	assert.Equal(t, float32(1), f.value(t, "TT_11001.SetHH").Value)
	assert.False(t, f.scheduler.held("TT_11001.SetHH"))
	assert.Equal(t, uint64(1), f.scheduler.Stats().RejectedWrites)
}

func TestExternalWriteToReadOnlyNode(t *testing.T) {
	f := newFixture(t)
	err := f.store.ExternalWrite("TT_11001.PV", 1)
	assert.ErrorIs(t, err, nodestore.ErrWriteRejected)
	assert.Equal(t, 0, f.server.CountCommands(isTableWrite))
}

func TestEchoOfPushedValueIsNotWritten(t *testing.T) {
	f := newFixture(t)
	f.scheduler.RunCycle(context.Background())

	v, ok := f.registry.Lookup("TT_11001.SetHH")
	require.True(t, ok)
	f.scheduler.internalWrite.Store(true)
	assert.True(t, f.scheduler.ShouldAcceptExternalWrite(v, float32(1)))
	f.scheduler.internalWrite.Store(false)
	assert.Equal(t, 0, f.server.CountCommands(isTableWrite))
}

func TestWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.scheduler.Write(ctx, "Sistema_General.E_Modo", 7))
	assert.Equal(t, "7", f.server.Tag("I_MODO"))
	assert.Equal(t, int32(7), f.value(t, "Sistema_General.E_Modo").Value)

	require.NoError(t, f.scheduler.Write(ctx, "TT_11001.SIM_Value", "12.25"))
	assert.Equal(t, float32(12.25), f.server.FloatTable("TBL_TT_11001")[5])
	assert.True(t, f.scheduler.held("TT_11001.SIM_Value"))

	assert.ErrorIs(t, f.scheduler.Write(ctx, "TT_11001.PV", 1), constant.ErrReadOnlyVariable)
	assert.ErrorIs(t, f.scheduler.Write(ctx, "TT_11001.Nope", 1), constant.ErrUnknownVariable)
	assert.ErrorIs(t, f.scheduler.Write(ctx, "Sistema_General.E_Modo", 1.5), constant.ErrTypeMismatch)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, f.scheduler.Write(cancelled, "TT_11001.SetHH", 2), context.Canceled)
}

func TestDisconnectMarksBadAndReconnects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.scheduler.RunCycle(ctx)

	f.server.DropConnections()
	assert.Eventually(t, func() bool {
		f.scheduler.RunCycle(ctx)
		return !f.scheduler.Connected()
	}, 2*time.Second, 50*time.Millisecond)

	f.scheduler.RunCycle(ctx)
	pv := f.value(t, "TT_11001.PV")
	assert.Equal(t, nodestore.QualityBad, pv.Quality)
	assert.Equal(t, float32(42.5), pv.Value)
	assert.ErrorIs(t, f.scheduler.Write(ctx, "TT_11001.SetHH", 2), constant.ErrNotConnected)

	// the reconnect interval has not elapsed
	f.scheduler.RunCycle(ctx)
	assert.False(t, f.scheduler.Connected())
	assert.Equal(t, uint64(0), f.scheduler.Stats().Reconnects)

	f.clock.advance(DefaultReconnectInterval + time.Second)
	f.scheduler.RunCycle(ctx)
	assert.True(t, f.scheduler.Connected())
	assert.Equal(t, uint64(1), f.scheduler.Stats().Reconnects)
	pv = f.value(t, "TT_11001.PV")
	assert.Equal(t, nodestore.QualityGood, pv.Quality)
	assert.Equal(t, float32(42.5), pv.Value)
}

// dialingController hangs in Connect until released.
type dialingController struct {
	Controller
	dialing chan struct{}
	release chan struct{}
}

func (d *dialingController) Connect(string, int) bool {
	close(d.dialing)
	<-d.release
	return false
}

func (d *dialingController) IsConnected() bool { return false }

func (d *dialingController) Disconnect() {}

func TestDialingDoesNotBlockReaders(t *testing.T) {
	f := newFixture(t)
	f.scheduler.RunCycle(context.Background())
	d := &dialingController{dialing: make(chan struct{}), release: make(chan struct{})}
	f.scheduler.factory = func() Controller { return d }

	connected := make(chan bool, 1)
	go func() { connected <- f.scheduler.Connect() }()
	<-d.dialing

	answered := make(chan StatusModel, 1)
	go func() { answered <- f.scheduler.Status() }()
	select {
	case status := <-answered:
		assert.True(t, status.Connected, "the previous controller serves while dialing")
	case <-time.After(time.Second):
		t.Fatal("status blocked behind a dial")
	}
	require.NoError(t, f.scheduler.Write(context.Background(), "TT_11001.SetHH", 3))

	close(d.release)
	assert.False(t, <-connected)
	assert.False(t, f.scheduler.Connected())
}

func TestStartsWithoutController(t *testing.T) {
	reg, err := registry.Build(testDocument())
	require.NoError(t, err)
	store := nodestore.NewMemoryStore()
	opts := DefaultOptions()
	opts.Address = "127.0.0.1"
	opts.Port = 1
	pacOpts := pac.DefaultOptions()
	pacOpts.Timeout = 200 * time.Millisecond

	s := New(opts, reg, store, PacClientFactory(pacOpts))
	require.NoError(t, s.CreateNodes())
	assert.False(t, s.Connect())

	s.RunCycle(context.Background())
	assert.False(t, s.Connected())
	v, ok := store.Value("TT_11001.PV")
	require.True(t, ok)
	assert.Equal(t, nodestore.QualityBad, v.Quality)
	assert.ErrorIs(t, s.Write(context.Background(), "TT_11001.SetHH", 2), constant.ErrNotConnected)
}

func TestConcurrentCyclesAndWritesNeverInterleave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			f.scheduler.RunCycle(ctx)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = f.scheduler.Write(ctx, "TT_11001.SIM_Value", float32(i))
		}
	}()
	wg.Wait()

	commands := f.server.Commands()
	assert.NotEmpty(t, commands)
	for _, c := range commands {
		assert.True(t, pactest.WellFormed(c), "%q", c)
	}
	assert.Equal(t, 20, f.server.CountCommands(isTableWrite))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.scheduler.opts.UpdateInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.scheduler.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return f.scheduler.Stats().Cycles >= 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, f.scheduler.Connected())
}
