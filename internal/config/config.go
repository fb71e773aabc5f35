package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config 服务端配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Registry RegistryConfig `mapstructure:"registry"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig HTTP 监听配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr 监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RegistryConfig 指标存储配置
type RegistryConfig struct {
	TTLSeconds              int `mapstructure:"ttl_seconds"`
	EvictionIntervalSeconds int `mapstructure:"eviction_interval_seconds"`
}

// AnalyzerConfig 设备替换分析配置，支持热更新
type AnalyzerConfig struct {
	CPUHigh       float64 `mapstructure:"cpu_high"`
	CPULow        float64 `mapstructure:"cpu_low"`
	MemoryHigh    float64 `mapstructure:"memory_high"`
	MemoryLow     float64 `mapstructure:"memory_low"`
	WindowMinutes int     `mapstructure:"window_minutes"`
	// 设备级汇总序列的名称，默认跟随探针的命名。
	// 显式配置而不是猜测：分析器只消费设备级汇总序列，不聚合应用级序列。
	CPUMetric    string `mapstructure:"cpu_metric"`
	MemoryMetric string `mapstructure:"memory_metric"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Loader 基于 viper 的配置加载器，支持监听配置文件变化
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader 创建配置加载器，path 为空时全部使用默认值
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	}
	return &Loader{v: v, path: path}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("registry.ttl_seconds", 300)
	v.SetDefault("registry.eviction_interval_seconds", 60)
	v.SetDefault("analyzer.cpu_high", 80.0)
	v.SetDefault("analyzer.cpu_low", 5.0)
	v.SetDefault("analyzer.memory_high", 85.0)
	v.SetDefault("analyzer.memory_low", 10.0)
	v.SetDefault("analyzer.window_minutes", 10)
	v.SetDefault("analyzer.cpu_metric", "total_cpu_usage_percent")
	v.SetDefault("analyzer.memory_metric", "total_memory_usage_percent")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 7)
}

// Load 读取配置文件并解析
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return &cfg, nil
}

// Watch 监听配置文件变化，解析成功后回调新配置，解析失败保留当前配置。
// 目前只有分析阈值和分析窗口会被热更新，监听地址等需要重启生效。
func (l *Loader) Watch(logger *zap.Logger, onChange func(*Config)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := l.unmarshal()
		if err != nil {
			logger.Warn("配置热更新解析失败，保留当前配置",
				zap.String("path", l.path),
				zap.Error(err))
			return
		}
		logger.Info("配置文件已重新加载", zap.String("path", l.path))
		onChange(cfg)
	})
	l.v.WatchConfig()
}
