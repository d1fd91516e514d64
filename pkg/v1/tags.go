package v1

// TagsDocument is the tags file: controller and server settings plus every
// variable declaration exposed over OPC-UA.
type TagsDocument struct {
	PacConfig       *PacConfig        `json:"pac_config,omitempty"`
	ServerConfig    *ServerConfig     `json:"server_config,omitempty"`
	Tags            []*Tag            `json:"tbL_tags,omitempty"`
	APITags         []*APITag         `json:"TBL_tags_api,omitempty"`
	BatchTags       []*BatchTag       `json:"batch_tags,omitempty"`
	FloatVariables  []*SingleVariable `json:"float_variables,omitempty"` // group Sistema_General
	Int32Variables  []*SingleVariable `json:"int32_variables,omitempty"` // group Sistema_General
	SimpleVariables []*SimpleVariable `json:"simple_variables,omitempty"`
}

type PacConfig struct {
	IP        string `json:"ip,omitempty"`
	Port      int    `json:"port,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

type ServerConfig struct {
	OpcUaPort        int    `json:"opcua_port,omitempty"`
	UpdateIntervalMs int    `json:"update_interval_ms,omitempty"`
	ServerName       string `json:"server_name,omitempty"`
}

// Tag is an instrument with a float value table and an int32 alarm table.
type Tag struct {
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	ValueTable     string            `json:"value_table,omitempty"`
	AlarmTable     string            `json:"alarm_table,omitempty"`
	Variables      []string          `json:"variables,omitempty"`
	Alarms         []string          `json:"alarms,omitempty"`
	FloatVariables []*SingleVariable `json:"float_variables,omitempty"`
	Int32Variables []*SingleVariable `json:"int32_variables,omitempty"`
}

type APITag struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ValueTable  string   `json:"value_table"`
	Variables   []string `json:"variables,omitempty"`
}

type BatchTag struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Table       string   `json:"table"`
	Variables   []string `json:"variables,omitempty"`
}

// SingleVariable is a tag-addressed controller variable.
type SingleVariable struct {
	Name        string `json:"name"`
	PacTag      string `json:"pac_tag"`
	Description string `json:"description,omitempty"`
	Writable    *bool  `json:"writable,omitempty"`
}

// SimpleVariable maps one OPC-UA name to a <table>:<index> locator or a
// bare controller tag.
type SimpleVariable struct {
	OpcUaName string `json:"opcua_name"`
	PacSource string `json:"pac_source"`
	Type      string `json:"type,omitempty"` // FLOAT or INT32
	Writable  bool   `json:"writable,omitempty"`
}
