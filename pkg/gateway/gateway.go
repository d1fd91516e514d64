package gateway

import "time"

type GatewayMeta struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	StartTime  time.Time `json:"startTime"`
	Controller string    `json:"controller,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
}

func (g *GatewayMeta) GetVersion() string {
	return g.Version
}

type ResponseModel struct {
	Cpus  interface{} `json:"cpus,omitempty"`
	Mem   interface{} `json:"mem,omitempty"`
	Disks interface{} `json:"disk,omitempty"`
}

type CpuUsageInfo struct {
	Cores       int       `json:"cores"`
	UsedPercent []string  `json:"usedPercent"`
	Raw         []float64 `json:"-"`
}

type MemUsageInfo struct {
	Total       string
	Used        string
	UsedPercent string
}

type DiskUsageInfo struct {
	Path        string
	Total       string
	Used        string
	UsedPercent string
}
