package constant

// Family identifies the kind of configuration entity a variable came from.
// Each family has its own field-to-offset table and writability rules.
type Family int8

const (
	FamilyValue Family = iota
	FamilyAlarm
	FamilyAPI
	FamilyBatch
	FamilySingle
)

var FamilyToString = map[Family]string{
	FamilyValue:  "value",
	FamilyAlarm:  "alarm",
	FamilyAPI:    "api",
	FamilyBatch:  "batch",
	FamilySingle: "single",
}

func (f Family) String() string {
	return FamilyToString[f]
}

// AlarmTablePrefixes name PAC tables holding int32 alarm words with a fixed
// five element frame.
var AlarmTablePrefixes = []string{"TBL_DA_", "TBL_PA_", "TBL_LA_", "TBL_TA_"}

const (
	AlarmFrameElements = 5
	ValueFrameElements = 10
)
