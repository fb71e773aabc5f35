package collector

import (
	"github.com/dushixiang/tapir/internal/protocol"
	"github.com/shirou/gopsutil/v4/host"
)

// HostCollector 主机静态信息采集器
type HostCollector struct{}

// NewHostCollector 创建主机信息采集器
func NewHostCollector() *HostCollector {
	return &HostCollector{}
}

// Collect 采集主机信息，输出为 info 型指标（值恒为 1，信息都在标签上）
func (c *HostCollector) Collect() (*Observation, error) {
	info, err := host.Info()
	if err != nil {
		return nil, err
	}

	return &Observation{
		Name:  protocol.MetricSystemInfo,
		Value: 1,
		Labels: map[string]string{
			"hostname":         info.Hostname,
			"os":               info.OS,
			"platform":         info.Platform,
			"platform_version": info.PlatformVersion,
			"kernel_version":   info.KernelVersion,
			"kernel_arch":      info.KernelArch,
		},
		Help: protocol.HelpTexts[protocol.MetricSystemInfo],
		Type: "info",
	}, nil
}
