package service

import (
	"sync"
	"time"

	"github.com/dushixiang/tapir/internal/config"
	"github.com/dushixiang/tapir/internal/protocol"
	"github.com/dushixiang/tapir/internal/registry"
	"go.uber.org/zap"
)

// AnalyzerService 设备替换分析：对设备的汇总序列做窗口平均并评估阈值规则。
// 只读存储历史，从不修改。阈值配置支持热更新。
type AnalyzerService struct {
	logger   *zap.Logger
	registry *registry.Registry

	mu  sync.RWMutex
	cfg config.AnalyzerConfig
}

// NewAnalyzerService 创建替换分析服务
func NewAnalyzerService(logger *zap.Logger, reg *registry.Registry, cfg config.AnalyzerConfig) *AnalyzerService {
	return &AnalyzerService{
		logger:   logger,
		registry: reg,
		cfg:      cfg,
	}
}

// UpdateConfig 热更新分析阈值
func (s *AnalyzerService) UpdateConfig(cfg config.AnalyzerConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Info("替换分析阈值已更新",
		zap.Float64("cpuHigh", cfg.CPUHigh),
		zap.Float64("cpuLow", cfg.CPULow),
		zap.Float64("memoryHigh", cfg.MemoryHigh),
		zap.Float64("memoryLow", cfg.MemoryLow),
		zap.Int("windowMinutes", cfg.WindowMinutes))
}

// Analyze 对设备做替换分析。窗口内没有任何历史数据时返回
// replace_device=false 和空的平均值，缺数据不等于故障。
func (s *AnalyzerService) Analyze(deviceSerial string) protocol.ReplacementResponse {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	now := time.Now()
	window := time.Duration(cfg.WindowMinutes) * time.Minute
	cutoff := now.Add(-window)

	avgCPU := windowAverage(s.registry.HistoryFor(deviceSerial, cfg.CPUMetric), cutoff)
	avgMemory := windowAverage(s.registry.HistoryFor(deviceSerial, cfg.MemoryMetric), cutoff)

	// 四条规则全部评估，命中的原因全部收集
	reasons := []string{}
	if avgCPU != nil && *avgCPU > cfg.CPUHigh {
		reasons = append(reasons, "high CPU")
	}
	if avgCPU != nil && *avgCPU < cfg.CPULow {
		reasons = append(reasons, "low CPU (possible hardware fault)")
	}
	if avgMemory != nil && *avgMemory > cfg.MemoryHigh {
		reasons = append(reasons, "high memory")
	}
	if avgMemory != nil && *avgMemory < cfg.MemoryLow {
		reasons = append(reasons, "low memory (possible issue)")
	}

	resp := protocol.ReplacementResponse{
		ReplaceDevice:         len(reasons) > 0,
		DeviceSerial:          deviceSerial,
		Timestamp:             now.Format(time.RFC3339),
		AnalysisWindowMinutes: cfg.WindowMinutes,
		Thresholds: protocol.ReplacementThresholds{
			CPUHigh:    cfg.CPUHigh,
			CPULow:     cfg.CPULow,
			MemoryHigh: cfg.MemoryHigh,
			MemoryLow:  cfg.MemoryLow,
		},
		Metrics: protocol.ReplacementMetrics{
			AvgCPU:    avgCPU,
			AvgMemory: avgMemory,
		},
		Reasons: reasons,
	}

	s.logger.Info("设备替换分析",
		zap.String("deviceSerial", deviceSerial),
		zap.Bool("replaceDevice", resp.ReplaceDevice),
		zap.Strings("reasons", reasons))
	return resp
}

// windowAverage 计算 cutoff 之后数据点的算术平均，窗口内无数据返回 nil
func windowAverage(points []registry.Point, cutoff time.Time) *float64 {
	sum, count := 0.0, 0
	for _, p := range points {
		if p.Timestamp.Before(cutoff) {
			continue
		}
		sum += p.Value
		count++
	}
	if count == 0 {
		return nil
	}
	avg := sum / float64(count)
	return &avg
}
