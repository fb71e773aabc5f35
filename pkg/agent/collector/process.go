package collector

import (
	"sort"
	"time"

	"github.com/dushixiang/tapir/internal/protocol"
	"github.com/go-orz/cache"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessCollector 应用级 CPU / 内存采集器。
// 进程句柄缓存在 TTL 缓存里复用：CPU 使用率是相对上次采样的增量，
// 每个 tick 重建句柄会让增量计算失效，也省去反复读取进程名。
type ProcessCollector struct {
	topN  int
	procs cache.Cache[int32, *process.Process]
}

// appUsage 按应用名合并后的资源占用
type appUsage struct {
	name        string
	cpuPercent  float64
	memoryMB    float64
	connections int
}

// NewProcessCollector 创建应用级采集器
func NewProcessCollector(topN int) *ProcessCollector {
	return &ProcessCollector{
		topN:  topN,
		procs: cache.New[int32, *process.Process](time.Minute),
	}
}

// Collect 采集占用最高的前 N 个应用的 CPU 和内存，
// 同时返回各应用的连接数（用于估算应用级网络占比）。
func (c *ProcessCollector) Collect() ([]Observation, map[string]int, error) {
	pids, err := process.Pids()
	if err != nil {
		return nil, nil, err
	}

	usage := make(map[string]*appUsage)
	for _, pid := range pids {
		p, ok := c.procs.Get(pid)
		if !ok {
			p, err = process.NewProcess(pid)
			if err != nil {
				// 进程已退出
				continue
			}
			c.procs.Set(pid, p, 10*time.Minute)
		}

		name, err := p.Name()
		if err != nil || name == "" {
			continue
		}

		app, ok := usage[name]
		if !ok {
			app = &appUsage{name: name}
			usage[name] = app
		}
		if cpuPct, err := p.Percent(0); err == nil {
			app.cpuPercent += cpuPct
		}
		if mi, err := p.MemoryInfo(); err == nil && mi != nil {
			app.memoryMB += float64(mi.RSS) / 1024 / 1024
		}
		if conns, err := p.Connections(); err == nil {
			app.connections += len(conns)
		}
	}

	apps := make([]*appUsage, 0, len(usage))
	for _, app := range usage {
		apps = append(apps, app)
	}

	var observations []Observation
	connsByApp := make(map[string]int)

	// CPU 占用前 N
	sort.Slice(apps, func(i, j int) bool { return apps[i].cpuPercent > apps[j].cpuPercent })
	for i, app := range apps {
		if i >= c.topN {
			break
		}
		observations = append(observations, Observation{
			Name:   protocol.MetricAppCPUUsagePercent,
			Value:  app.cpuPercent,
			Labels: map[string]string{"app_name": app.name},
			Help:   protocol.HelpTexts[protocol.MetricAppCPUUsagePercent],
			Type:   "gauge",
		})
		connsByApp[app.name] = app.connections
	}

	// 内存占用前 N
	sort.Slice(apps, func(i, j int) bool { return apps[i].memoryMB > apps[j].memoryMB })
	for i, app := range apps {
		if i >= c.topN {
			break
		}
		observations = append(observations, Observation{
			Name:   protocol.MetricAppMemoryUsageMB,
			Value:  app.memoryMB,
			Labels: map[string]string{"app_name": app.name},
			Help:   protocol.HelpTexts[protocol.MetricAppMemoryUsageMB],
			Type:   "gauge",
		})
	}

	return observations, connsByApp, nil
}
