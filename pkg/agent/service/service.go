package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dushixiang/tapir/pkg/agent"
	"github.com/dushixiang/tapir/pkg/agent/config"
	"github.com/kardianos/service"
)

// program 实现 service.Interface
type program struct {
	cfg    *config.Config
	agent  *agent.Agent
	ctx    context.Context
	cancel context.CancelFunc
}

// startAgent 在后台启动探针
func startAgent(ctx context.Context, cfg *config.Config) *agent.Agent {
	a := agent.New(cfg)
	go func() {
		if err := a.Start(ctx); err != nil {
			slog.Warn("探针运行出错", "error", err)
		}
	}()
	return a
}

func initLogger(cfg *config.Config) {
	agent.InitLogger(&agent.LogConfig{
		Level:      cfg.Agent.LogLevel,
		File:       cfg.Agent.LogFile,
		MaxSize:    cfg.Agent.LogMaxSize,
		MaxBackups: cfg.Agent.LogMaxBackups,
		MaxAge:     cfg.Agent.LogMaxAge,
		Compress:   cfg.Agent.LogCompress,
	})
}

// Start 启动服务
func (p *program) Start(s service.Service) error {
	initLogger(p.cfg)
	slog.Info("Tapir Agent 服务启动中...")

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.agent = startAgent(p.ctx, p.cfg)
	return nil
}

// Stop 停止服务
func (p *program) Stop(s service.Service) error {
	slog.Info("Tapir Agent 服务停止中...")

	if p.cancel != nil {
		p.cancel()
	}
	if p.agent != nil {
		p.agent.Stop()
	}

	slog.Info("Tapir Agent 服务已停止")
	return nil
}

// Manager 探针系统服务管理器
type Manager struct {
	cfg     *config.Config
	service service.Service
}

// NewManager 创建服务管理器
func NewManager(cfg *config.Config) (*Manager, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("获取可执行文件路径失败: %w", err)
	}

	svcConfig := &service.Config{
		Name:        "tapir-agent",
		DisplayName: "Tapir Agent",
		Description: "Tapir 设备探针 - 采集设备资源指标并上报到聚合服务端",
		Arguments:   []string{"agent", "run", "--config", cfg.Path},
		Executable:  execPath,
		Option: service.KeyValue{
			// Linux systemd 配置
			"Restart":            "always",
			"RestartSec":         "10",
			"StartLimitInterval": "0",
			"KillMode":           "process",

			// Windows 配置
			"OnFailure":    "restart",
			"ResetPeriod":  86400,
			"RestartDelay": 10000,

			// 其他 Unix 系统 (upstart/launchd)
			"KeepAlive": true,
			"RunAtLoad": true,
		},
	}

	s, err := service.New(&program{cfg: cfg}, svcConfig)
	if err != nil {
		return nil, fmt.Errorf("创建服务失败: %w", err)
	}

	return &Manager{cfg: cfg, service: s}, nil
}

// Install 安装服务
func (m *Manager) Install() error {
	return m.service.Install()
}

// Uninstall 卸载服务
func (m *Manager) Uninstall() error {
	_ = m.service.Stop()
	return m.service.Uninstall()
}

// Start 启动服务
func (m *Manager) Start() error {
	return m.service.Start()
}

// Stop 停止服务
func (m *Manager) Stop() error {
	return m.service.Stop()
}

// Status 查看服务状态
func (m *Manager) Status() (string, error) {
	status, err := m.service.Status()
	if err != nil {
		return "", err
	}

	switch status {
	case service.StatusRunning:
		return "运行中 (Running)", nil
	case service.StatusStopped:
		return "已停止 (Stopped)", nil
	default:
		return "未知 (Unknown)", nil
	}
}

// Run 前台或服务模式运行探针
func (m *Manager) Run() error {
	if !service.Interactive() {
		// 在服务管理器控制下运行
		return m.service.Run()
	}

	// 交互模式（前台运行）
	initLogger(m.cfg)
	slog.Info("配置加载成功",
		"endpoint", m.cfg.Server.Endpoint,
		"collectInterval", m.cfg.Agent.CollectIntervalSeconds,
		"pushInterval", m.cfg.Agent.PushIntervalSeconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	a := startAgent(ctx, m.cfg)

	<-interrupt
	slog.Info("收到中断信号，正在关闭...")
	cancel()
	a.Stop()
	slog.Info("探针已停止")
	return nil
}
