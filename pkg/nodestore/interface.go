package nodestore

import (
	"errors"
	"pacbridge/pkg/runtime"
	"pacbridge/pkg/runtime/constant"
	"time"
)

var ErrUnknownNode = errors.New("unknown node")
var ErrNodeExists = errors.New("node already exists")
var ErrWriteRejected = errors.New("write rejected")

type Quality int8

const (
	QualityGood Quality = iota
	QualityBad
)

func (q Quality) String() string {
	if q == QualityBad {
		return "bad"
	}
	return "good"
}

// NodeSpec describes the external node for one variable. Group becomes the
// parent object, Field the browse name under it.
type NodeSpec struct {
	Name     string
	Group    string
	Field    string
	DataType constant.DataType
	Writable bool
}

func SpecOf(v *runtime.Variable) NodeSpec {
	return NodeSpec{
		Name:     v.Name,
		Group:    v.Group,
		Field:    v.Field,
		DataType: v.DataType,
		Writable: v.Writable,
	}
}

// WriteCallback decides on a value written by an external client. Returning
// false keeps the node's previous value.
type WriteCallback func(value interface{}) bool

type Value struct {
	Value     interface{} `json:"value"`
	Quality   Quality     `json:"-"`
	Timestamp time.Time   `json:"timestamp"`
}

// Store is the external address space the scheduler writes into.
type Store interface {
	CreateNode(spec NodeSpec) (runtime.NodeHandle, error)
	WriteNodeValue(handle runtime.NodeHandle, value interface{}) error
	ReadNodeValue(handle runtime.NodeHandle) (Value, error)
	MarkBad(handle runtime.NodeHandle) error
	RegisterWriteCallback(handle runtime.NodeHandle, fn WriteCallback) error
}
