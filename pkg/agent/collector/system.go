package collector

import (
	"fmt"

	"github.com/dushixiang/tapir/internal/protocol"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemCollector 设备级 CPU / 内存采集器
type SystemCollector struct{}

// NewSystemCollector 创建设备级采集器
func NewSystemCollector() *SystemCollector {
	return &SystemCollector{}
}

// Collect 采集设备总 CPU 使用率和内存使用率。
// CPU 使用率是自上次调用以来的增量，首次调用返回 0。
func (c *SystemCollector) Collect() ([]Observation, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return nil, fmt.Errorf("采集 CPU 使用率失败: %w", err)
	}
	if len(percents) == 0 {
		return nil, fmt.Errorf("采集 CPU 使用率失败: 无数据")
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("采集内存使用率失败: %w", err)
	}

	return []Observation{
		{
			Name:  protocol.MetricTotalCPUUsagePercent,
			Value: percents[0],
			Help:  protocol.HelpTexts[protocol.MetricTotalCPUUsagePercent],
			Type:  "gauge",
		},
		{
			Name:  protocol.MetricTotalMemoryUsagePercent,
			Value: vm.UsedPercent,
			Help:  protocol.HelpTexts[protocol.MetricTotalMemoryUsagePercent],
			Type:  "gauge",
		},
	}, nil
}
