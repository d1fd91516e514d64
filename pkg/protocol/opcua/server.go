package opcua

import (
	"context"
	"fmt"
	"pacbridge/pkg/nodestore"
	"pacbridge/pkg/runtime"
	"pacbridge/pkg/runtime/constant"
	"reflect"
	"sync"
	"time"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/server"
	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
	"k8s.io/klog/v2"
)

var _ nodestore.Store = (*Server)(nil)

// DefaultSweepInterval bounds how long a client write whose notification
// was dropped waits before it is settled.
const DefaultSweepInterval = time.Second

type Options struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	ServerName    string        `json:"serverName"`
	SweepInterval time.Duration `json:"sweepInterval"`
}

type entry struct {
	spec     nodestore.NodeSpec
	node     *server.Node
	value    nodestore.Value
	callback nodestore.WriteCallback
}

// Server exposes variables as OPC-UA nodes. Every variable is a string node
// ns=<namespace>;s=<name> organized under one folder per group.
type Server struct {
	opts Options
	srv  *server.Server
	ns   *server.NodeNameSpace

	mu      sync.Mutex
	folders map[string]*server.Node

	nodes  *xsync.MapOf[runtime.NodeHandle, *entry]
	byID   *xsync.MapOf[string, runtime.NodeHandle]
	handle *atomic.Uint32

	// pending wakes the settle loop. The namespace drops notifications it
	// cannot hand over at once, so the loop sweeps every node anyway.
	pending chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewServer(o Options) *Server {
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	srv := server.New(
		server.EndPoint(o.Host, o.Port),
		server.EnableSecurity("None", ua.MessageSecurityModeNone),
		server.EnableAuthMode(ua.UserTokenTypeAnonymous),
	)
	ns := server.NewNodeNameSpace(srv, o.ServerName)
	if root, err := srv.Namespace(0); err == nil {
		root.Objects().AddRef(ns.Objects(), id.HasComponent, true)
	} else {
		klog.V(1).InfoS("Failed to link namespace into objects folder", "err", err)
	}
	return &Server{
		opts:    o,
		srv:     srv,
		ns:      ns,
		folders: make(map[string]*server.Node),
		nodes:   xsync.NewMapOf[runtime.NodeHandle, *entry](),
		byID:    xsync.NewMapOf[string, runtime.NodeHandle](),
		handle:  atomic.NewUint32(0),
		pending: make(chan struct{}, 1),
	}
}

// Endpoint is the URL clients connect to.
func (s *Server) Endpoint() string {
	return fmt.Sprintf("opc.tcp://%s:%d", s.opts.Host, s.opts.Port)
}

// NamespaceIndex is the index of the namespace holding the variable nodes.
func (s *Server) NamespaceIndex() uint16 {
	return s.ns.ID()
}

// Start listens for clients and routes their writes to the registered
// callbacks until Close.
func (s *Server) Start(ctx context.Context) error {
	if err := s.srv.Start(ctx); err != nil {
		return errors.Wrapf(err, "start opc ua server on %s", s.Endpoint())
	}
	s.run(ctx)
	klog.V(1).InfoS("Started OPC-UA server", "endpoint", s.Endpoint(), "namespace", s.ns.ID(), "nodes", s.nodes.Size())
	return nil
}

func (s *Server) Close() error {
	s.stop()
	return s.srv.Close()
}

func (s *Server) run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(2)
	go s.watch(runCtx)
	go s.settle(runCtx)
}

func (s *Server) stop() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
}

// watch only forwards notifications so that it is ready for the next one
// as soon as possible.
func (s *Server) watch(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case nodeID, ok := <-s.ns.ExternalNotification:
			if !ok {
				return
			}
			klog.V(5).InfoS("Received client write notification", "node", nodeID.String())
			s.notify()
		}
	}
}

func (s *Server) notify() {
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

func (s *Server) settle(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.pending:
		case <-ticker.C:
		}
		s.Sweep()
	}
}

// nodeValue is the value currently held by the OPC-UA node.
func nodeValue(n *server.Node) (interface{}, bool) {
	dv := n.Value()
	if dv == nil || dv.Value == nil {
		return nil, false
	}
	return dv.Value.Value(), true
}

// clientValue returns the value a client wrote into e's node that has not
// been settled yet.
func clientValue(e *entry) (interface{}, bool) {
	written, ok := nodeValue(e.node)
	if !ok || reflect.DeepEqual(written, e.value.Value) {
		return nil, false
	}
	return written, true
}

// Sweep settles every node holding an unsettled client write and returns
// how many it settled.
func (s *Server) Sweep() int {
	var handles []runtime.NodeHandle
	s.nodes.Range(func(h runtime.NodeHandle, e *entry) bool {
		if _, ok := clientValue(e); ok {
			handles = append(handles, h)
		}
		return true
	})
	settled := 0
	for _, h := range handles {
		e, ok := s.nodes.Load(h)
		if !ok {
			continue
		}
		if written, ok := clientValue(e); ok {
			s.applyClientWrite(h, written)
			settled++
		}
	}
	return settled
}

// applyClientWrite settles a value a client wrote into a node. A rejected
// value is replaced by the latest value the node should hold.
func (s *Server) applyClientWrite(h runtime.NodeHandle, written interface{}) bool {
	e, ok := s.nodes.Load(h)
	if !ok {
		return false
	}
	accepted := e.spec.Writable
	var coerced interface{}
	if accepted {
		var err error
		coerced, err = runtime.CoerceValue(e.spec.DataType, written)
		if err != nil {
			klog.V(2).InfoS("Rejected client write", "node", e.spec.Name, "value", written, "err", err)
			accepted = false
		}
	}
	if accepted && e.callback != nil {
		accepted = e.callback(coerced)
	}

	s.nodes.Compute(h, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			return nil, true
		}
		updated := *old
		if accepted {
			updated.value = nodestore.Value{Value: coerced, Quality: nodestore.QualityGood, Timestamp: time.Now()}
		}
		// A newer client write stays in the node for the next sweep.
		if current, ok := nodeValue(old.node); ok && !reflect.DeepEqual(current, written) {
			s.notify()
			return &updated, false
		}
		s.setValue(updated.node, updated.value)
		return &updated, false
	})
	if !accepted {
		klog.V(3).InfoS("Restored node after rejected client write", "node", e.spec.Name, "value", written)
	}
	return accepted
}

func zeroValue(dt constant.DataType) interface{} {
	if dt == constant.INT32 {
		return int32(0)
	}
	return float32(0)
}

func (s *Server) folder(group string) *server.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.folders[group]; ok {
		return f
	}
	f := server.NewNode(
		ua.NewStringNodeID(s.ns.ID(), group),
		map[ua.AttributeID]*ua.DataValue{
			ua.AttributeIDNodeClass:   server.DataValueFromValue(uint32(ua.NodeClassObject)),
			ua.AttributeIDBrowseName:  server.DataValueFromValue(&ua.QualifiedName{NamespaceIndex: s.ns.ID(), Name: group}),
			ua.AttributeIDDisplayName: server.DataValueFromValue(&ua.LocalizedText{EncodingMask: ua.LocalizedTextText, Text: group}),
		},
		nil,
		nil,
	)
	s.ns.AddNode(f)
	s.ns.Objects().AddRef(f, id.Organizes, true)
	s.folders[group] = f
	return f
}

func (s *Server) CreateNode(spec nodestore.NodeSpec) (runtime.NodeHandle, error) {
	nodeID := ua.NewStringNodeID(s.ns.ID(), spec.Name)
	exists := false
	h, _ := s.byID.Compute(nodeID.String(), func(old runtime.NodeHandle, loaded bool) (runtime.NodeHandle, bool) {
		if loaded {
			exists = true
			return old, false
		}
		return runtime.NodeHandle(s.handle.Inc()), false
	})
	if exists {
		return 0, errors.Wrap(nodestore.ErrNodeExists, spec.Name)
	}

	value := nodestore.Value{Value: zeroValue(spec.DataType), Quality: nodestore.QualityGood, Timestamp: time.Now()}
	n := server.NewVariableNode(nodeID, spec.Name, value.Value)
	access := byte(ua.AccessLevelTypeCurrentRead)
	if spec.Writable {
		access |= byte(ua.AccessLevelTypeCurrentWrite)
	}
	n.SetAttribute(ua.AttributeIDAccessLevel, server.DataValueFromValue(access))
	n.SetAttribute(ua.AttributeIDUserAccessLevel, server.DataValueFromValue(access))
	s.setValue(n, value)
	s.ns.AddNode(n)
	s.folder(spec.Group).AddRef(n, id.HasComponent, true)

	s.nodes.Store(h, &entry{spec: spec, node: n, value: value})
	klog.V(4).InfoS("Created OPC-UA node", "node", nodeID.String(), "type", spec.DataType, "writable", spec.Writable)
	return h, nil
}

func dataValue(v nodestore.Value) *ua.DataValue {
	dv := &ua.DataValue{
		EncodingMask:    ua.DataValueValue | ua.DataValueSourceTimestamp | ua.DataValueServerTimestamp,
		Value:           ua.MustVariant(v.Value),
		SourceTimestamp: v.Timestamp,
		ServerTimestamp: time.Now(),
	}
	if v.Quality == nodestore.QualityBad {
		dv.EncodingMask |= ua.DataValueStatusCode
		dv.Status = ua.StatusBadCommunicationError
	}
	return dv
}

func (s *Server) setValue(n *server.Node, v nodestore.Value) {
	n.SetAttribute(ua.AttributeIDValue, dataValue(v))
}

func (s *Server) WriteNodeValue(handle runtime.NodeHandle, value interface{}) error {
	var err error
	s.nodes.Compute(handle, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			err = errors.Wrapf(nodestore.ErrUnknownNode, "handle %d", handle)
			return nil, true
		}
		coerced, cerr := runtime.CoerceValue(old.spec.DataType, value)
		if cerr != nil {
			err = cerr
			return old, false
		}
		updated := *old
		updated.value = nodestore.Value{Value: coerced, Quality: nodestore.QualityGood, Timestamp: time.Now()}
		s.show(old, &updated)
		return &updated, false
	})
	return err
}

// show puts updated's value into the node unless a client write is still
// waiting to be settled there. The sweep restores updated's value if that
// write is rejected.
func (s *Server) show(old, updated *entry) {
	if _, pending := clientValue(old); pending {
		s.notify()
		return
	}
	s.setValue(updated.node, updated.value)
}

func (s *Server) ReadNodeValue(handle runtime.NodeHandle) (nodestore.Value, error) {
	e, ok := s.nodes.Load(handle)
	if !ok {
		return nodestore.Value{}, errors.Wrapf(nodestore.ErrUnknownNode, "handle %d", handle)
	}
	return e.value, nil
}

func (s *Server) MarkBad(handle runtime.NodeHandle) error {
	var err error
	s.nodes.Compute(handle, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			err = errors.Wrapf(nodestore.ErrUnknownNode, "handle %d", handle)
			return nil, true
		}
		updated := *old
		updated.value.Quality = nodestore.QualityBad
		updated.value.Timestamp = time.Now()
		s.show(old, &updated)
		return &updated, false
	})
	return err
}

func (s *Server) RegisterWriteCallback(handle runtime.NodeHandle, fn nodestore.WriteCallback) error {
	var err error
	s.nodes.Compute(handle, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			err = errors.Wrapf(nodestore.ErrUnknownNode, "handle %d", handle)
			return nil, true
		}
		updated := *old
		updated.callback = fn
		return &updated, false
	})
	return err
}

// NodeID returns the OPC-UA node id of a variable.
func (s *Server) NodeID(name string) string {
	return ua.NewStringNodeID(s.ns.ID(), name).String()
}
