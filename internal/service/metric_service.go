package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dushixiang/tapir/internal/protocol"
	"github.com/dushixiang/tapir/internal/registry"
	"go.uber.org/zap"
)

// DefaultJob 未指定 job 时的默认任务名
const DefaultJob = "device-metrics"

// ValidationError 批次校验失败（整批拒绝，存储不变）
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// MetricService 指标接入服务：校验设备上报的批次并写入存储
type MetricService struct {
	logger   *zap.Logger
	registry *registry.Registry
}

// NewMetricService 创建指标接入服务
func NewMetricService(logger *zap.Logger, reg *registry.Registry) *MetricService {
	return &MetricService{
		logger:   logger,
		registry: reg,
	}
}

// IngestBatch 处理一个上报批次。先整体校验，任何一个样本不合法则整批拒绝、
// 不产生任何写入；校验通过后逐个提交。返回接受的样本数量。
// 所有样本使用同一个服务端时间戳，客户端时间仅作参考，不参与排序和过期判断。
func (s *MetricService) IngestBatch(ctx context.Context, req *protocol.PushRequest) (int, error) {
	if req.DeviceSerial == "" {
		return 0, validationErrorf("device_serial 不能为空")
	}

	job := req.Job
	if job == "" {
		job = DefaultJob
	}
	now := time.Now()

	samples := make([]registry.Sample, 0, len(req.Metrics))
	for i, m := range req.Metrics {
		sample, err := s.buildSample(req.DeviceSerial, job, now, &m)
		if err != nil {
			return 0, validationErrorf("第 %d 个指标不合法: %v", i+1, err)
		}
		samples = append(samples, sample)
	}

	for _, sample := range samples {
		if err := s.registry.Upsert(sample); err != nil {
			// 校验阶段已经排除了非法样本，走到这里属于内部错误
			s.logger.Error("写入指标失败",
				zap.String("metric", sample.Name),
				zap.String("deviceSerial", req.DeviceSerial),
				zap.Error(err))
			return 0, err
		}
	}

	s.logger.Info("接收设备指标",
		zap.String("deviceSerial", req.DeviceSerial),
		zap.String("job", job),
		zap.Int("accepted", len(samples)))
	return len(samples), nil
}

// buildSample 把上报的指标转换为存储样本并完成单样本的全部校验
func (s *MetricService) buildSample(deviceSerial, job string, now time.Time, m *protocol.MetricPayload) (registry.Sample, error) {
	kind := registry.Kind(m.Type)
	if m.Type == "" {
		kind = registry.KindGauge
	}
	if !kind.Valid() {
		return registry.Sample{}, fmt.Errorf("未知的指标类型 %q", m.Type)
	}

	labels := make(map[string]string, len(m.Labels)+2)
	for k, v := range m.Labels {
		if k == "" {
			return registry.Sample{}, fmt.Errorf("指标 %s 存在空标签名", m.Name)
		}
		labels[k] = v
	}

	// 样本上的 device_serial 标签必须与批次的设备标识一致，缺失时注入
	if serial, ok := labels["device_serial"]; ok && serial != deviceSerial {
		return registry.Sample{}, fmt.Errorf("指标 %s 的 device_serial 标签 %q 与批次设备 %q 不一致", m.Name, serial, deviceSerial)
	}
	labels["device_serial"] = deviceSerial
	labels["job"] = job

	sample := registry.Sample{
		Name:       m.Name,
		Value:      float64(m.Value),
		Labels:     labels,
		Kind:       kind,
		Help:       m.Help,
		ReceivedAt: now,
	}
	if err := sample.Validate(); err != nil {
		return registry.Sample{}, err
	}
	return sample, nil
}

// Render 渲染当前存活序列的文本快照
func (s *MetricService) Render(ctx context.Context) string {
	return registry.RenderExposition(s.registry.SnapshotAll())
}

// Stats 存储层运行状态
func (s *MetricService) Stats(ctx context.Context) registry.Stats {
	return s.registry.Stats()
}
