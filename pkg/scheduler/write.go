package scheduler

import (
	"context"
	"pacbridge/pkg/nodestore"
	"pacbridge/pkg/publish"
	"pacbridge/pkg/runtime"
	"pacbridge/pkg/runtime/constant"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ShouldAcceptExternalWrite implements WriteGate. A callback carrying the
// value the scheduler itself is pushing is accepted without touching the
// controller. Any other value is written to the controller and accepted
// only when the controller confirms it.
func (s *Scheduler) ShouldAcceptExternalWrite(v *runtime.Variable, value interface{}) bool {
	if s.internalWrite.Load() {
		if last, ok := s.lastPushed.Load(v.Name); ok {
			if coerced, err := runtime.CoerceValue(v.DataType, value); err == nil && sameValue(last, coerced) {
				return true
			}
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()
	if _, err := s.write(ctx, v, value); err != nil {
		klog.V(2).InfoS("Rejected external write", "name", v.Name, "value", value, "err", err)
		return false
	}
	return true
}

// Write writes value to the controller location of the named variable.
func (s *Scheduler) Write(ctx context.Context, name string, value interface{}) error {
	v, ok := s.registry.Lookup(name)
	if !ok {
		return errors.Wrap(constant.ErrUnknownVariable, name)
	}
	coerced, err := s.write(ctx, v, value)
	if err != nil {
		return err
	}
	if v.HasNode {
		if err := s.store.WriteNodeValue(v.Handle, coerced); err != nil {
			klog.V(2).InfoS("Failed to write node value", "name", v.Name, "err", err)
		}
	}
	return nil
}

// write returns the value as stored in the controller.
func (s *Scheduler) write(ctx context.Context, v *runtime.Variable, value interface{}) (interface{}, error) {
	s.externalWrites.Inc()
	if !v.Writable {
		s.rejectedWrites.Inc()
		return nil, errors.Wrap(constant.ErrReadOnlyVariable, v.Name)
	}
	coerced, err := runtime.CoerceValue(v.DataType, value)
	if err != nil {
		s.rejectedWrites.Inc()
		return nil, errors.Wrap(err, v.Name)
	}
	if err := ctx.Err(); err != nil {
		s.rejectedWrites.Inc()
		return nil, err
	}
	c := s.currentController()
	if c == nil || !c.IsConnected() {
		s.rejectedWrites.Inc()
		return nil, errors.Wrap(constant.ErrNotConnected, v.Name)
	}

	// A critical write is held from before the controller sees it, so a
	// poll already in flight cannot put the old value back.
	if v.Critical {
		s.hold(v.Name)
	}
	if !writeController(c, v, coerced) {
		if v.Critical {
			s.holds.Delete(v.Name)
		}
		s.rejectedWrites.Inc()
		return nil, errors.Wrap(constant.ErrWriteRejected, v.Name)
	}
	s.hold(v.Name)
	s.lastPushed.Store(v.Name, coerced)
	klog.V(2).InfoS("Succeed to write variable", "name", v.Name, "source", v.Source, "value", coerced, "critical", v.Critical)

	if err := s.sink.Publish(ctx, []publish.Point{{
		Name:      v.Name,
		Value:     coerced,
		Quality:   nodestore.QualityGood.String(),
		Timestamp: s.now(),
	}}); err != nil {
		klog.V(2).InfoS("Failed to publish written value", "name", v.Name, "err", err)
	}
	return coerced, nil
}

func (s *Scheduler) hold(name string) {
	s.holds.Store(name, s.now().Add(s.opts.writeHold()))
}

func writeController(c Controller, v *runtime.Variable, value interface{}) bool {
	switch x := value.(type) {
	case int32:
		if v.IsTableIndexed() {
			return c.WriteInt32TableIndex(v.Table, v.Index, x)
		}
		return c.WriteSingleInt32Variable(v.Source, x)
	case float32:
		if v.IsTableIndexed() {
			return c.WriteFloatTableIndex(v.Table, v.Index, x)
		}
		return c.WriteSingleFloatVariable(v.Source, x)
	}
	return false
}
