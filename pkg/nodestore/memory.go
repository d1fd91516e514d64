package nodestore

import (
	"pacbridge/pkg/runtime"
	"pacbridge/pkg/runtime/constant"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
	"k8s.io/klog/v2"
)

var _ Store = (*MemoryStore)(nil)

type memoryNode struct {
	spec     NodeSpec
	value    Value
	callback WriteCallback
}

// MemoryStore keeps node values in process. It backs tests and runs the
// bridge headless when no OPC-UA endpoint is wanted.
type MemoryStore struct {
	nodes  *xsync.MapOf[runtime.NodeHandle, *memoryNode]
	names  *xsync.MapOf[string, runtime.NodeHandle]
	handle *atomic.Uint32
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:  xsync.NewMapOf[runtime.NodeHandle, *memoryNode](),
		names:  xsync.NewMapOf[string, runtime.NodeHandle](),
		handle: atomic.NewUint32(0),
	}
}

func zeroValue(dt constant.DataType) interface{} {
	if dt == constant.INT32 {
		return int32(0)
	}
	return float32(0)
}

func (m *MemoryStore) CreateNode(spec NodeSpec) (runtime.NodeHandle, error) {
	exists := false
	h, _ := m.names.Compute(spec.Name, func(old runtime.NodeHandle, loaded bool) (runtime.NodeHandle, bool) {
		if loaded {
			exists = true
			return old, false
		}
		return runtime.NodeHandle(m.handle.Inc()), false
	})
	if exists {
		return 0, errors.Wrap(ErrNodeExists, spec.Name)
	}
	m.nodes.Store(h, &memoryNode{
		spec:  spec,
		value: Value{Value: zeroValue(spec.DataType), Quality: QualityGood, Timestamp: time.Now()},
	})
	return h, nil
}

func (m *MemoryStore) WriteNodeValue(handle runtime.NodeHandle, value interface{}) error {
	var err error
	m.nodes.Compute(handle, func(n *memoryNode, loaded bool) (*memoryNode, bool) {
		if !loaded {
			err = errors.Wrapf(ErrUnknownNode, "handle %d", handle)
			return nil, true
		}
		coerced, cerr := runtime.CoerceValue(n.spec.DataType, value)
		if cerr != nil {
			err = cerr
			return n, false
		}
		updated := *n
		updated.value = Value{Value: coerced, Quality: QualityGood, Timestamp: time.Now()}
		return &updated, false
	})
	return err
}

func (m *MemoryStore) ReadNodeValue(handle runtime.NodeHandle) (Value, error) {
	n, ok := m.nodes.Load(handle)
	if !ok {
		return Value{}, errors.Wrapf(ErrUnknownNode, "handle %d", handle)
	}
	return n.value, nil
}

func (m *MemoryStore) MarkBad(handle runtime.NodeHandle) error {
	var err error
	m.nodes.Compute(handle, func(n *memoryNode, loaded bool) (*memoryNode, bool) {
		if !loaded {
			err = errors.Wrapf(ErrUnknownNode, "handle %d", handle)
			return nil, true
		}
		updated := *n
		updated.value.Quality = QualityBad
		updated.value.Timestamp = time.Now()
		return &updated, false
	})
	return err
}

func (m *MemoryStore) RegisterWriteCallback(handle runtime.NodeHandle, fn WriteCallback) error {
	var err error
	m.nodes.Compute(handle, func(n *memoryNode, loaded bool) (*memoryNode, bool) {
		if !loaded {
			err = errors.Wrapf(ErrUnknownNode, "handle %d", handle)
			return nil, true
		}
		updated := *n
		updated.callback = fn
		return &updated, false
	})
	return err
}

// Handle returns the handle of a node by name.
func (m *MemoryStore) Handle(name string) (runtime.NodeHandle, bool) {
	return m.names.Load(name)
}

// Value reads a node by name.
func (m *MemoryStore) Value(name string) (Value, bool) {
	h, ok := m.names.Load(name)
	if !ok {
		return Value{}, false
	}
	v, err := m.ReadNodeValue(h)
	return v, err == nil
}

func (m *MemoryStore) Len() int {
	return m.nodes.Size()
}

// ExternalWrite plays a client write: the registered callback decides and
// the node only changes when it accepts. Nodes that are not writable
// reject without consulting the callback.
func (m *MemoryStore) ExternalWrite(name string, value interface{}) error {
	h, ok := m.names.Load(name)
	if !ok {
		return errors.Wrap(ErrUnknownNode, name)
	}
	n, ok := m.nodes.Load(h)
	if !ok {
		return errors.Wrap(ErrUnknownNode, name)
	}
	if !n.spec.Writable {
		return errors.Wrapf(ErrWriteRejected, "%s is read-only", name)
	}
	coerced, err := runtime.CoerceValue(n.spec.DataType, value)
	if err != nil {
		return err
	}
	if n.callback != nil && !n.callback(coerced) {
		klog.V(3).InfoS("External write rejected", "node", name, "value", coerced)
		return errors.Wrap(ErrWriteRejected, name)
	}
	return m.WriteNodeValue(h, coerced)
}
