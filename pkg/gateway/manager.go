package gateway

import (
	"pacbridge/pkg/utils/uuidutil"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"k8s.io/klog/v2"
)

const defaultCpuSample = 200 * time.Millisecond

type Option func(*Manager)

// WithDiskPaths sets the mount points reported by the disk handler.
func WithDiskPaths(paths ...string) Option {
	return func(m *Manager) {
		m.diskPaths = paths
	}
}

// WithEndpoints records where the bridge polls from and what it serves.
func WithEndpoints(controller, endpoint string) Option {
	return func(m *Manager) {
		m.gatewayMeta.Controller = controller
		m.gatewayMeta.Endpoint = endpoint
	}
}

type Manager struct {
	gatewayMeta *GatewayMeta
	diskPaths   []string
	cpuSample   time.Duration

	cpuPercent    func(interval time.Duration, percpu bool) ([]float64, error)
	virtualMemory func() (*mem.VirtualMemoryStat, error)
	diskUsage     func(path string) (*disk.UsageStat, error)
}

func NewGatewayManager(name, version string, opts ...Option) *Manager {
	m := &Manager{
		gatewayMeta: &GatewayMeta{
			ID:        uuidutil.UUID(),
			Name:      name,
			Version:   version,
			StartTime: time.Now(),
		},
		diskPaths:     []string{"/"},
		cpuSample:     defaultCpuSample,
		cpuPercent:    cpu.Percent,
		virtualMemory: mem.VirtualMemory,
		diskUsage:     disk.Usage,
	}
	for _, opt := range opts {
		opt(m)
	}
	klog.V(1).InfoS("Gateway information created", "gatewayId", m.gatewayMeta.ID, "name", name)
	return m
}

func (m *Manager) GetGatewayMeta() (*GatewayMeta, error) {
	return m.gatewayMeta, nil
}

func (m *Manager) getGatewayCpu() (*CpuUsageInfo, error) {
	percents, err := m.cpuPercent(m.cpuSample, true)
	if err != nil {
		klog.V(2).InfoS("Failed to get cpu usage", "err", err)
		return nil, err
	}
	info := &CpuUsageInfo{Cores: len(percents), Raw: percents, UsedPercent: make([]string, 0, len(percents))}
	for _, p := range percents {
		info.UsedPercent = append(info.UsedPercent, formatPercent(p))
	}
	return info, nil
}

func (m *Manager) getGatewayMem() (*MemUsageInfo, error) {
	vm, err := m.virtualMemory()
	if err != nil {
		klog.V(2).InfoS("Failed to get memory usage", "err", err)
		return nil, err
	}
	return &MemUsageInfo{
		Total:       formatBytes(vm.Total),
		Used:        formatBytes(vm.Used),
		UsedPercent: formatPercent(vm.UsedPercent),
	}, nil
}

func (m *Manager) getGatewayDisk() ([]*DiskUsageInfo, error) {
	disks := make([]*DiskUsageInfo, 0, len(m.diskPaths))
	for _, p := range m.diskPaths {
		u, err := m.diskUsage(p)
		if err != nil {
			klog.V(2).InfoS("Failed to get disk usage", "path", p, "err", err)
			return nil, err
		}
		disks = append(disks, &DiskUsageInfo{
			Path:        u.Path,
			Total:       formatBytes(u.Total),
			Used:        formatBytes(u.Used),
			UsedPercent: formatPercent(u.UsedPercent),
		})
	}
	return disks, nil
}
