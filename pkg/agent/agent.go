package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/dushixiang/tapir/internal/protocol"
	"github.com/dushixiang/tapir/pkg/agent/collector"
	"github.com/dushixiang/tapir/pkg/agent/config"
	"github.com/sourcegraph/conc"
)

// Agent 设备探针：定期采集 CPU / 内存 / 网络指标，
// 在本地批次里聚合后按推送周期上报到服务端
type Agent struct {
	cfg    *config.Config
	serial string

	batch   *Batch
	system  *collector.SystemCollector
	process *collector.ProcessCollector
	network *collector.NetworkCollector
	host    *collector.HostCollector
	pusher  *Pusher

	cancel context.CancelFunc
}

// New 创建探针
func New(cfg *config.Config) *Agent {
	serial := cfg.Agent.DeviceSerial
	if serial == "" {
		serial = DetectDeviceSerial()
	}
	return &Agent{
		cfg:     cfg,
		serial:  serial,
		batch:   NewBatch(),
		system:  collector.NewSystemCollector(),
		process: collector.NewProcessCollector(cfg.Agent.TopN),
		network: collector.NewNetworkCollector(),
		host:    collector.NewHostCollector(),
		pusher:  NewPusher(cfg.Server.Endpoint, time.Duration(cfg.Server.TimeoutSeconds)*time.Second),
	}
}

// Serial 探针使用的设备序列号
func (a *Agent) Serial() string {
	return a.serial
}

// Start 启动采集与上报循环，阻塞到 ctx 取消
func (a *Agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	slog.Info("探针已启动",
		"deviceSerial", a.serial,
		"endpoint", a.cfg.Server.Endpoint,
		"collectInterval", a.cfg.Agent.CollectIntervalSeconds,
		"pushInterval", a.cfg.Agent.PushIntervalSeconds,
		"aggregation", a.cfg.Agent.Aggregation)

	collectTicker := time.NewTicker(time.Duration(a.cfg.Agent.CollectIntervalSeconds) * time.Second)
	defer collectTicker.Stop()
	pushTicker := time.NewTicker(time.Duration(a.cfg.Agent.PushIntervalSeconds) * time.Second)
	defer pushTicker.Stop()

	// 先采一轮建立网络和 CPU 的基准
	a.collect()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-collectTicker.C:
			a.collect()
		case <-pushTicker.C:
			a.push(ctx)
		}
	}
}

// Stop 停止探针
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

// collect 并行执行各采集器，把观测值写入本地批次
func (a *Agent) collect() {
	var (
		sysObs  []collector.Observation
		procObs []collector.Observation
		netObs  []collector.Observation

		connsByApp         map[string]int
		sentMbps, recvMbps float64
	)

	wg := conc.NewWaitGroup()
	wg.Go(func() {
		obs, err := a.system.Collect()
		if err != nil {
			slog.Warn("采集系统指标失败", "error", err)
			return
		}
		sysObs = obs
	})
	wg.Go(func() {
		obs, conns, err := a.process.Collect()
		if err != nil {
			slog.Warn("采集进程指标失败", "error", err)
			return
		}
		procObs, connsByApp = obs, conns
	})
	wg.Go(func() {
		obs, sent, recv, err := a.network.Collect()
		if err != nil {
			slog.Warn("采集网络指标失败", "error", err)
			return
		}
		netObs, sentMbps, recvMbps = obs, sent, recv
	})
	wg.Wait()

	for _, obs := range sysObs {
		a.batch.Add(obs)
	}
	for _, obs := range procObs {
		a.batch.Add(obs)
	}
	for _, obs := range netObs {
		a.batch.Add(obs)
	}
	for _, obs := range appNetworkObservations(connsByApp, sentMbps, recvMbps) {
		a.batch.Add(obs)
	}
}

// appNetworkObservations 按连接数占比估算应用级带宽。
// 操作系统不提供可移植的按进程流量统计，连接数占比是探针侧的近似。
func appNetworkObservations(connsByApp map[string]int, sentMbps, recvMbps float64) []collector.Observation {
	total := 0
	for _, n := range connsByApp {
		total += n
	}
	if total == 0 {
		return nil
	}

	help := protocol.HelpTexts[protocol.MetricAppNetworkUsageMbps]
	var observations []collector.Observation
	for app, n := range connsByApp {
		if n == 0 {
			continue
		}
		share := float64(n) / float64(total)
		observations = append(observations,
			collector.Observation{
				Name:   protocol.MetricAppNetworkUsageMbps,
				Value:  sentMbps * share,
				Labels: map[string]string{"app_name": app, "direction": "sent"},
				Help:   help,
				Type:   "gauge",
			},
			collector.Observation{
				Name:   protocol.MetricAppNetworkUsageMbps,
				Value:  recvMbps * share,
				Labels: map[string]string{"app_name": app, "direction": "received"},
				Help:   help,
				Type:   "gauge",
			})
	}
	return observations
}

// push 聚合当前批次并上报
func (a *Agent) push(ctx context.Context) {
	metrics := a.batch.Flush(a.cfg.Agent.Aggregation)
	if len(metrics) == 0 {
		slog.Debug("本周期没有采集到数据，跳过上报")
		return
	}

	// 主机信息和批次大小随每次上报附带
	if hostObs, err := a.host.Collect(); err == nil {
		metrics = append(metrics, protocol.MetricPayload{
			Name:   hostObs.Name,
			Value:  protocol.FlexFloat(hostObs.Value),
			Labels: hostObs.Labels,
			Help:   hostObs.Help,
			Type:   hostObs.Type,
		})
	}
	metrics = append(metrics, protocol.MetricPayload{
		Name:  protocol.MetricPushedBatchSize,
		Value: protocol.FlexFloat(len(metrics)),
		Help:  protocol.HelpTexts[protocol.MetricPushedBatchSize],
		Type:  "gauge",
	})

	req := &protocol.PushRequest{
		DeviceSerial: a.serial,
		Job:          a.cfg.Agent.Job,
		Metrics:      metrics,
	}

	resp, err := a.pusher.Push(ctx, req)
	if err != nil {
		slog.Warn("上报指标失败", "error", err, "metrics", len(metrics))
		return
	}
	slog.Info("上报指标成功", "accepted", resp.Accepted)
}
