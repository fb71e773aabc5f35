package scheduler

import (
	"fmt"
	"time"

	"github.com/dushixiang/tapir/internal/registry"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// EvictionScheduler 过期清理调度器：按固定周期清理超过 TTL 的序列。
// 它是唯一允许删除序列记录的组件，与请求处理只通过存储层的
// 逐序列锁协调，单次清理失败只记录日志，等下个周期重试。
type EvictionScheduler struct {
	cron            *cron.Cron
	registry        *registry.Registry
	logger          *zap.Logger
	intervalSeconds int
	entryID         cron.EntryID
}

// NewEvictionScheduler 创建过期清理调度器
func NewEvictionScheduler(logger *zap.Logger, reg *registry.Registry, intervalSeconds int) *EvictionScheduler {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	return &EvictionScheduler{
		cron:            cron.New(cron.WithSeconds()), // 支持秒级调度
		registry:        reg,
		logger:          logger,
		intervalSeconds: intervalSeconds,
	}
}

// Start 启动调度器
func (s *EvictionScheduler) Start() error {
	spec := fmt.Sprintf("@every %ds", s.intervalSeconds)
	entryID, err := s.cron.AddFunc(spec, s.Sweep)
	if err != nil {
		return fmt.Errorf("注册清理任务失败: %w", err)
	}
	s.entryID = entryID
	s.cron.Start()

	s.logger.Info("启动过期清理调度器",
		zap.Int("intervalSeconds", s.intervalSeconds),
		zap.Duration("ttl", s.registry.TTL()))
	return nil
}

// Stop 停止调度器，等待进行中的清理完成
func (s *EvictionScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("过期清理调度器已停止")
}

// Sweep 执行一轮清理
func (s *EvictionScheduler) Sweep() {
	removed := s.registry.EvictExpired(time.Now())
	if removed > 0 {
		s.logger.Info("清理过期序列", zap.Int("removed", removed))
	} else {
		s.logger.Debug("本轮没有过期序列")
	}
}
