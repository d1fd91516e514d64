package runtime

import (
	"fmt"
	"pacbridge/pkg/runtime/constant"
	"strconv"
	"strings"
)

// NodeHandle identifies the external node created for a Variable.
type NodeHandle uint32

// Variable is a logical point exposed to OPC-UA clients.
type Variable struct {
	Name       string              `json:"name"`            // external name, e.g. TT_11001.PV
	Group      string              `json:"group"`           // owning tag group
	Field      string              `json:"field"`           // short field name
	Source     string              `json:"source"`          // <table>:<index> or bare tag
	Table      string              `json:"table,omitempty"` // empty for single variables
	Index      int                 `json:"index"`           // -1 for single variables
	DataType   constant.DataType   `json:"dataType"`
	Family     constant.Family     `json:"-"`
	Writable   bool                `json:"-"`
	AccessMode constant.AccessMode `json:"accessMode"`
	Critical   bool                `json:"critical,omitempty"`
	HasNode    bool                `json:"-"`
	Handle     NodeHandle          `json:"-"`
}

func (v *Variable) IsTableIndexed() bool {
	return len(v.Table) > 0
}

// TableLocator renders the <table>:<index> source locator.
func TableLocator(table string, index int) string {
	return table + ":" + strconv.Itoa(index)
}

// ParseLocator splits a source locator. A locator without ':' is a bare tag
// and yields ok=false.
func ParseLocator(source string) (table string, index int, ok bool) {
	pos := strings.LastIndexByte(source, ':')
	if pos <= 0 {
		return "", -1, false
	}
	i, err := strconv.Atoi(source[pos+1:])
	if err != nil {
		return "", -1, false
	}
	return source[:pos], i, true
}

// IsAlarmTable reports whether table holds int32 alarm words.
func IsAlarmTable(table string) bool {
	for _, prefix := range constant.AlarmTablePrefixes {
		if strings.HasPrefix(table, prefix) {
			return true
		}
	}
	return false
}

// NativeFrameElements is the element count the controller answers with for
// a range read of table, independent of the requested range.
func NativeFrameElements(table string) int {
	if IsAlarmTable(table) {
		return constant.AlarmFrameElements
	}
	return constant.ValueFrameElements
}

// CoerceValue converts an arbitrary decoded value (JSON number, OPC-UA
// variant payload, string) into the Go type matching dt.
func CoerceValue(dt constant.DataType, value interface{}) (interface{}, error) {
	var f float64
	switch v := value.(type) {
	case float32:
		f = float64(v)
	case float64:
		f = v
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", constant.ErrTypeMismatch, v)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("%w: %T", constant.ErrTypeMismatch, value)
	}

	switch dt {
	case constant.INT32:
		if f != float64(int64(f)) || f > 2147483647 || f < -2147483648 {
			return nil, fmt.Errorf("%w: %v is not an int32", constant.ErrTypeMismatch, value)
		}
		return int32(f), nil
	default:
		return float32(f), nil
	}
}

type PublishData struct {
	Payload Payload `json:"payload"`
}

type Payload struct {
	Data []TimeSeriesData `json:"data"`
}

type TimeSeriesData struct {
	Timestamp string      `json:"timestamp"`
	Values    []PointData `json:"values"`
}

type PointData struct {
	DataPointId string      `json:"dataPointId"`
	Value       interface{} `json:"value"`
	Quality     string      `json:"quality,omitempty"`
}
