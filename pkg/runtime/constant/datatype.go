package constant

import (
	"encoding/json"
	"fmt"
)

type DataType int8

const (
	FLOAT DataType = iota
	INT32
)

var DataTypeToString = map[DataType]string{
	FLOAT: "FLOAT",
	INT32: "INT32",
}

var StringToDataType = map[string]DataType{
	"FLOAT":   FLOAT,
	"INT32":   INT32,
	"float":   FLOAT,
	"int32":   INT32,
	"float32": FLOAT,
}

func (dt DataType) String() string {
	if s, ok := DataTypeToString[dt]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", dt)
}

func (dt DataType) MarshalJSON() ([]byte, error) {
	if s, ok := DataTypeToString[dt]; ok {
		return json.Marshal(s)
	}
	return nil, fmt.Errorf("unknown data type %d", dt)
}

func (dt *DataType) UnmarshalJSON(bytes []byte) error {
	var s string
	if err := json.Unmarshal(bytes, &s); err != nil {
		return err
	}

	v, ok := StringToDataType[s]
	if !ok {
		return fmt.Errorf("unknown data type %s", s)
	}
	*dt = v
	return nil
}
