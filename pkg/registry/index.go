package registry

import (
	"pacbridge/pkg/runtime/constant"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// NoIndex marks a field name no table family knows.
const NoIndex = -1

// Offsets inside a float value table and an int32 alarm table. Both
// families share one lookup since field names never collide.
var valueIndex = map[string]int{
	"Input":     0,
	"SetHH":     1,
	"SetH":      2,
	"SetL":      3,
	"SetLL":     4,
	"SIM_Value": 5,
	"PV":        6,
	"min":       7,
	"max":       8,
	"percent":   9,
	"Min":       7,
	"Max":       8,
	"Percent":   9,

	"HH":       0,
	"H":        1,
	"L":        2,
	"LL":       3,
	"Color":    4,
	"ALARM_HH": 0,
	"ALARM_H":  1,
	"ALARM_L":  2,
	"ALARM_LL": 3,
	"COLOR":    4,
}

var apiIndex = map[string]int{
	"IV":       0,
	"NSV":      1,
	"GSV":      2,
	"CTL":      3,
	"CPL":      4,
	"VCF":      5,
	"API":      6,
	"DENSITY":  7,
	"TEMP":     8,
	"PRESSURE": 9,
}

var batchIndex = map[string]int{
	"Tanque":           0,
	"Cliente":          1,
	"Producto":         2,
	"Presion":          3,
	"Temperatura":      4,
	"Precision_Equipo": 5,
	"Volumen":          6,
	"Conductor":        7,
	"Cedula":           8,
	"Placa":            9,
}

var (
	writablePrefixes = []string{"SET", "Set", "SIM_", "E_"}
	apiWritable      = sets.New[string]("IV")
	apiPrefixes      = []string{"Set", "SIM_"}
	batchWritable    = sets.New[string]("Cliente", "Producto", "Conductor", "Cedula", "Placa")
	numberedPrefixes = []string{"SET_", "E_"}
)

// VariableIndex maps a value or alarm table field to its offset. SET_<n>
// and E_<n> address offset n directly.
func VariableIndex(field string) int {
	if i, ok := valueIndex[field]; ok {
		return i
	}
	for _, prefix := range numberedPrefixes {
		if strings.HasPrefix(field, prefix) {
			if n, err := strconv.Atoi(field[len(prefix):]); err == nil && n >= 0 {
				return n
			}
		}
	}
	return NoIndex
}

func APIVariableIndex(field string) int {
	if i, ok := apiIndex[field]; ok {
		return i
	}
	return NoIndex
}

func BatchVariableIndex(field string) int {
	if i, ok := batchIndex[field]; ok {
		return i
	}
	return NoIndex
}

// IndexOf dispatches to the lookup of the given family.
func IndexOf(family constant.Family, field string) int {
	switch family {
	case constant.FamilyAPI:
		return APIVariableIndex(field)
	case constant.FamilyBatch:
		return BatchVariableIndex(field)
	case constant.FamilyValue, constant.FamilyAlarm:
		return VariableIndex(field)
	}
	return NoIndex
}

// IsWritableField applies the naming convention of each family. Alarm
// words are never writable.
func IsWritableField(family constant.Family, field string) bool {
	switch family {
	case constant.FamilyAlarm:
		return false
	case constant.FamilyAPI:
		return apiWritable.Has(field) || hasAnyPrefix(field, apiPrefixes)
	case constant.FamilyBatch:
		return batchWritable.Has(field)
	default:
		return hasAnyPrefix(field, writablePrefixes)
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
