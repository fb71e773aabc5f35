package collector

import (
	"fmt"
	"time"

	"github.com/dushixiang/tapir/internal/protocol"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// NetworkCollector 设备级网络带宽采集器，基于相邻两次采样的计数差计算速率
type NetworkCollector struct {
	prevSent uint64
	prevRecv uint64
	prevAt   time.Time
}

// NewNetworkCollector 创建网络采集器
func NewNetworkCollector() *NetworkCollector {
	return &NetworkCollector{}
}

// Collect 采集全设备上下行带宽（Mbps）。首次调用没有基准，返回空结果。
// 返回的速率同时用于按连接数估算应用级网络占比。
func (c *NetworkCollector) Collect() ([]Observation, float64, float64, error) {
	counters, err := psnet.IOCounters(false)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("采集网络计数失败: %w", err)
	}
	if len(counters) == 0 {
		return nil, 0, 0, fmt.Errorf("采集网络计数失败: 无数据")
	}

	now := time.Now()
	cur := counters[0]

	var sentMbps, recvMbps float64
	hasBaseline := !c.prevAt.IsZero()
	if hasBaseline {
		elapsed := now.Sub(c.prevAt).Seconds()
		if elapsed > 0 {
			sentMbps = float64(cur.BytesSent-c.prevSent) * 8 / 1e6 / elapsed
			recvMbps = float64(cur.BytesRecv-c.prevRecv) * 8 / 1e6 / elapsed
		}
	}

	c.prevSent = cur.BytesSent
	c.prevRecv = cur.BytesRecv
	c.prevAt = now

	if !hasBaseline {
		return nil, 0, 0, nil
	}

	help := protocol.HelpTexts[protocol.MetricTotalNetworkUsageMbps]
	observations := []Observation{
		{
			Name:   protocol.MetricTotalNetworkUsageMbps,
			Value:  sentMbps,
			Labels: map[string]string{"direction": "sent"},
			Help:   help,
			Type:   "gauge",
		},
		{
			Name:   protocol.MetricTotalNetworkUsageMbps,
			Value:  recvMbps,
			Labels: map[string]string{"direction": "received"},
			Help:   help,
			Type:   "gauge",
		},
	}
	return observations, sentMbps, recvMbps, nil
}
