package scheduler

import (
	"context"
	"math"
	"pacbridge/pkg/nodestore"
	"pacbridge/pkg/publish"
	"pacbridge/pkg/registry"
	"pacbridge/pkg/runtime"
	"pacbridge/pkg/runtime/constant"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

type Stats struct {
	Cycles         uint64    `json:"cycles"`
	SkippedCycles  uint64    `json:"skippedCycles"`
	TableFailures  uint64    `json:"tableFailures"`
	Reconnects     uint64    `json:"reconnects"`
	Pushes         uint64    `json:"pushes"`
	ExternalWrites uint64    `json:"externalWrites"`
	RejectedWrites uint64    `json:"rejectedWrites"`
	LastCycle      time.Time `json:"lastCycle"`
}

// Scheduler keeps node values in step with controller memory and arbitrates
// external writes against the polling cycle.
type Scheduler struct {
	opts     Options
	registry *registry.Registry
	store    nodestore.Store
	factory  ControllerFactory
	sink     publish.Sink
	now      func() time.Time

	mu          sync.RWMutex
	controller  Controller
	lastAttempt time.Time

	updating      *atomic.Bool
	internalWrite *atomic.Bool
	// markedBad is only touched by the goroutine holding updating.
	markedBad bool

	lastPushed *xsync.MapOf[string, interface{}]
	holds      *xsync.MapOf[string, time.Time]

	cycles         *atomic.Uint64
	skippedCycles  *atomic.Uint64
	tableFailures  *atomic.Uint64
	reconnects     *atomic.Uint64
	pushes         *atomic.Uint64
	externalWrites *atomic.Uint64
	rejectedWrites *atomic.Uint64
	lastCycle      *atomic.Int64
}

var _ WriteGate = (*Scheduler)(nil)

func New(opts Options, reg *registry.Registry, store nodestore.Store, factory ControllerFactory, options ...Option) *Scheduler {
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = DefaultUpdateInterval
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	s := &Scheduler{
		opts:           opts,
		registry:       reg,
		store:          store,
		factory:        factory,
		sink:           publish.Discard,
		now:            time.Now,
		updating:       atomic.NewBool(false),
		internalWrite:  atomic.NewBool(false),
		lastPushed:     xsync.NewMapOf[string, interface{}](),
		holds:          xsync.NewMapOf[string, time.Time](),
		cycles:         atomic.NewUint64(0),
		skippedCycles:  atomic.NewUint64(0),
		tableFailures:  atomic.NewUint64(0),
		reconnects:     atomic.NewUint64(0),
		pushes:         atomic.NewUint64(0),
		externalWrites: atomic.NewUint64(0),
		rejectedWrites: atomic.NewUint64(0),
		lastCycle:      atomic.NewInt64(0),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// CreateNodes creates one node per registry variable and routes client
// writes on writable nodes through the scheduler.
func (s *Scheduler) CreateNodes() error {
	for _, v := range s.registry.Variables() {
		h, err := s.store.CreateNode(nodestore.SpecOf(v))
		if err != nil {
			return errors.Wrapf(err, "create node %s", v.Name)
		}
		v.Handle = h
		v.HasNode = true
		if !v.Writable {
			continue
		}
		variable := v
		if err := s.store.RegisterWriteCallback(h, func(value interface{}) bool {
			return s.ShouldAcceptExternalWrite(variable, value)
		}); err != nil {
			return errors.Wrapf(err, "register write callback %s", v.Name)
		}
	}
	klog.V(1).InfoS("Created variable nodes", "count", s.registry.Len())
	return nil
}

// Connect makes the first connection attempt. A failure leaves the
// scheduler running without a controller until a reconnect succeeds.
func (s *Scheduler) Connect() bool {
	s.mu.Lock()
	s.lastAttempt = s.now()
	s.mu.Unlock()
	return s.connect()
}

// connect dials a fresh controller and swaps it in. Dialing happens
// outside mu so writers and status readers keep the old controller
// meanwhile.
func (s *Scheduler) connect() bool {
	c := s.factory()
	ok := c.Connect(s.opts.Address, s.opts.Port)

	s.mu.Lock()
	old := s.controller
	s.controller = c
	s.mu.Unlock()
	if old != nil {
		old.Disconnect()
	}

	if !ok {
		klog.V(1).InfoS("Failed to connect PAC", "address", s.opts.Address, "port", s.opts.Port)
		return false
	}
	klog.V(1).InfoS("Succeed to connect PAC", "address", s.opts.Address, "port", s.opts.Port)
	return true
}

func (s *Scheduler) currentController() Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controller
}

func (s *Scheduler) Connected() bool {
	c := s.currentController()
	return c != nil && c.IsConnected()
}

// Run polls until ctx is done and then disconnects. The interval is
// measured from the end of one cycle to the start of the next.
func (s *Scheduler) Run(ctx context.Context) {
	klog.V(1).InfoS("Started update scheduler", "interval", s.opts.UpdateInterval)
	wait.UntilWithContext(ctx, s.RunCycle, s.opts.UpdateInterval)
	s.Disconnect()
	klog.V(1).InfoS("Stopped update scheduler")
}

func (s *Scheduler) Disconnect() {
	if c := s.currentController(); c != nil {
		c.Disconnect()
	}
}

// RunCycle performs one update cycle. It returns at once if another cycle
// is in flight.
func (s *Scheduler) RunCycle(ctx context.Context) {
	if !s.updating.CAS(false, true) {
		s.skippedCycles.Inc()
		klog.V(3).InfoS("Skipped update cycle, previous cycle still running")
		return
	}
	defer func() {
		s.lastCycle.Store(s.now().UnixNano())
		s.updating.Store(false)
	}()
	s.cycles.Inc()

	if !s.Connected() {
		s.onDisconnected()
		if !s.maybeReconnect() {
			return
		}
	}

	s.internalWrite.Store(true)
	defer s.internalWrite.Store(false)

	c := s.currentController()
	changed := make([]publish.Point, 0)
	changed = s.readSingles(ctx, c, changed)
	changed = s.readTables(ctx, c, changed)

	if len(changed) > 0 {
		if err := s.sink.Publish(ctx, changed); err != nil {
			klog.V(2).InfoS("Failed to publish changed values", "count", len(changed), "err", err)
		}
	}
	klog.V(3).InfoS("Finished update cycle", "changed", len(changed), "connected", c.IsConnected())
}

func (s *Scheduler) onDisconnected() {
	if s.markedBad {
		return
	}
	s.markedBad = true
	s.lastPushed.Range(func(name string, _ interface{}) bool {
		s.lastPushed.Delete(name)
		return true
	})
	if !s.opts.MarkBadOnDisconnect {
		return
	}
	for _, v := range s.registry.Variables() {
		if !v.HasNode {
			continue
		}
		if err := s.store.MarkBad(v.Handle); err != nil {
			klog.V(2).InfoS("Failed to mark node bad", "name", v.Name, "err", err)
		}
	}
	klog.V(1).InfoS("Marked nodes bad, PAC disconnected", "count", s.registry.Len())
}

func (s *Scheduler) maybeReconnect() bool {
	s.mu.Lock()
	if s.now().Sub(s.lastAttempt) < s.opts.ReconnectInterval {
		s.mu.Unlock()
		return false
	}
	s.lastAttempt = s.now()
	s.mu.Unlock()

	s.reconnects.Inc()
	if !s.connect() {
		return false
	}
	s.markedBad = false
	return true
}

func (s *Scheduler) readSingles(ctx context.Context, c Controller, changed []publish.Point) []publish.Point {
	for i, v := range s.registry.SingleVariables() {
		if i > 0 && !sleep(ctx, s.opts.SingleGap) {
			return changed
		}
		if !c.IsConnected() {
			return changed
		}
		var value interface{}
		if v.DataType == constant.INT32 {
			value = c.ReadSingleInt32VariableByTag(v.Source)
		} else {
			value = c.ReadSingleFloatVariableByTag(v.Source)
		}
		// A failed read yields zero; only a lost connection is told apart.
		if !c.IsConnected() {
			return changed
		}
		changed = s.push(v, value, changed)
	}
	return changed
}

func (s *Scheduler) readTables(ctx context.Context, c Controller, changed []publish.Point) []publish.Point {
	for i, g := range s.registry.TableGroups() {
		if i > 0 && !sleep(ctx, s.opts.TableGap) {
			return changed
		}
		if !c.IsConnected() {
			return changed
		}
		var values []interface{}
		if g.DataType == constant.INT32 {
			for _, x := range c.ReadInt32Table(g.Table, g.Min, g.Max) {
				values = append(values, x)
			}
		} else {
			for _, x := range c.ReadFloatTable(g.Table, g.Min, g.Max) {
				values = append(values, x)
			}
		}
		if len(values) == 0 {
			s.tableFailures.Inc()
			klog.V(2).InfoS("Failed to read table, keeping previous values", "table", g.Table, "start", g.Min, "end", g.Max)
			continue
		}
		for _, v := range g.Variables {
			offset := v.Index - g.Min
			if offset >= len(values) {
				klog.V(2).InfoS("Failed to fan out table value, frame too short", "name", v.Name, "table", g.Table, "offset", offset)
				continue
			}
			changed = s.push(v, values[offset], changed)
		}
	}
	return changed
}

// push writes value to the variable's node when it differs from the last
// pushed value and no write hold is active.
func (s *Scheduler) push(v *runtime.Variable, value interface{}, changed []publish.Point) []publish.Point {
	if !v.HasNode || s.held(v.Name) {
		return changed
	}
	if last, ok := s.lastPushed.Load(v.Name); ok && sameValue(last, value) {
		return changed
	}
	if err := s.store.WriteNodeValue(v.Handle, value); err != nil {
		klog.V(2).InfoS("Failed to write node value", "name", v.Name, "err", err)
		return changed
	}
	s.lastPushed.Store(v.Name, value)
	s.pushes.Inc()
	klog.V(5).InfoS("Pushed node value", "name", v.Name, "value", value)
	return append(changed, publish.Point{
		Name:      v.Name,
		Value:     value,
		Quality:   nodestore.QualityGood.String(),
		Timestamp: s.now(),
	})
}

func (s *Scheduler) held(name string) bool {
	until, ok := s.holds.Load(name)
	if !ok {
		return false
	}
	if s.now().Before(until) {
		return true
	}
	s.holds.Delete(name)
	return false
}

func sameValue(a, b interface{}) bool {
	switch x := a.(type) {
	case float32:
		y, ok := b.(float32)
		return ok && math.Abs(float64(x)-float64(y)) <= FloatTolerance
	case int32:
		y, ok := b.(int32)
		return ok && x == y
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Value reads the node of a variable.
func (s *Scheduler) Value(name string) (nodestore.Value, error) {
	v, ok := s.registry.Lookup(name)
	if !ok {
		return nodestore.Value{}, errors.Wrap(constant.ErrUnknownVariable, name)
	}
	if !v.HasNode {
		return nodestore.Value{}, errors.Wrap(nodestore.ErrUnknownNode, name)
	}
	return s.store.ReadNodeValue(v.Handle)
}

func (s *Scheduler) Stats() Stats {
	var last time.Time
	if n := s.lastCycle.Load(); n > 0 {
		last = time.Unix(0, n)
	}
	return Stats{
		Cycles:         s.cycles.Load(),
		SkippedCycles:  s.skippedCycles.Load(),
		TableFailures:  s.tableFailures.Load(),
		Reconnects:     s.reconnects.Load(),
		Pushes:         s.pushes.Load(),
		ExternalWrites: s.externalWrites.Load(),
		RejectedWrites: s.rejectedWrites.Load(),
		LastCycle:      last,
	}
}
