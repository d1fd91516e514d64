package scheduler

import (
	"pacbridge/pkg/protocol/pac"
	"pacbridge/pkg/runtime"
)

// Controller is the PAC client surface the scheduler drives.
type Controller interface {
	Connect(ip string, port int) bool
	Disconnect()
	IsConnected() bool
	ReadFloatTable(table string, start, end int) []float32
	ReadInt32Table(table string, start, end int) []int32
	ReadSingleFloatVariableByTag(tag string) float32
	ReadSingleInt32VariableByTag(tag string) int32
	WriteFloatTableIndex(table string, index int, value float32) bool
	WriteInt32TableIndex(table string, index int, value int32) bool
	WriteSingleFloatVariable(tag string, value float32) bool
	WriteSingleInt32Variable(tag string, value int32) bool
}

var _ Controller = (*pac.Client)(nil)

// ControllerFactory returns a fresh, unconnected controller. The scheduler
// calls it once per connection attempt.
type ControllerFactory func() Controller

// PacClientFactory builds pac.Client controllers.
func PacClientFactory(opts pac.Options, options ...pac.Option) ControllerFactory {
	return func() Controller {
		return pac.NewClient(opts, options...)
	}
}

// WriteGate arbitrates values written to a node by an external client.
type WriteGate interface {
	ShouldAcceptExternalWrite(v *runtime.Variable, value interface{}) bool
}
