package pac

import (
	"math"
	pacruntime "pacbridge/pkg/protocol/pac/runtime"
	"pacbridge/pkg/runtime"
	"pacbridge/pkg/runtime/constant"

	"github.com/pkg/errors"
)

// MaxPlausibleMagnitude rejects frames torn by buffer drift. Real process
// values and alarm words stay well below it.
const MaxPlausibleMagnitude = 1e6

// ValidatePayload checks a table payload before it is decoded. The payload
// must hold either the requested number of elements or the table's native
// frame. An all-zero payload is valid.
func ValidatePayload(payload []byte, table string, dt constant.DataType, requested int) error {
	if len(payload) < pacruntime.ElementBytes {
		return errors.Wrapf(pacruntime.ErrIntegrity, "%s: %d bytes is less than one element", table, len(payload))
	}
	if len(payload)%pacruntime.ElementBytes != 0 {
		return errors.Wrapf(pacruntime.ErrIntegrity, "%s: %d bytes is not a whole number of elements", table, len(payload))
	}
	elements := len(payload) / pacruntime.ElementBytes
	if native := runtime.NativeFrameElements(table); elements != native && elements != requested {
		return errors.Wrapf(pacruntime.ErrIntegrity, "%s: %d elements, want %d or native %d", table, elements, requested, native)
	}

	switch dt {
	case constant.INT32:
		for i, v := range pacruntime.BytesToInt32s(payload) {
			if math.Abs(float64(v)) > MaxPlausibleMagnitude {
				return errors.Wrapf(pacruntime.ErrIntegrity, "%s[%d]=%d is implausible", table, i, v)
			}
		}
	default:
		for i, v := range pacruntime.BytesToFloats(payload) {
			if math.Abs(float64(v)) > MaxPlausibleMagnitude {
				return errors.Wrapf(pacruntime.ErrIntegrity, "%s[%d]=%g is implausible", table, i, v)
			}
		}
	}
	return nil
}
