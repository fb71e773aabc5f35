package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 探针配置
type Config struct {
	Path string `yaml:"-"` // 配置文件路径（安装服务时需要）

	Server ServerConfig `yaml:"server"`
	Agent  AgentConfig  `yaml:"agent"`
}

// ServerConfig 服务端连接配置
type ServerConfig struct {
	// Endpoint 指标接收地址，例如 http://server:8080/metrics
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AgentConfig 采集与上报配置
type AgentConfig struct {
	// DeviceSerial 为空时自动探测（DMI 序列号 -> MAC 地址 -> 随机 ID）
	DeviceSerial           string `yaml:"device_serial"`
	Job                    string `yaml:"job"`
	CollectIntervalSeconds int    `yaml:"collect_interval_seconds"`
	PushIntervalSeconds    int    `yaml:"push_interval_seconds"`
	// Aggregation 本地聚合方式：last / avg / max
	Aggregation string `yaml:"aggregation"`
	// TopN 上报占用最高的前 N 个应用
	TopN int `yaml:"top_n"`

	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSize    int    `yaml:"log_max_size"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAge     int    `yaml:"log_max_age"`
	LogCompress   bool   `yaml:"log_compress"`
}

// Load 加载探针配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{Path: path}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	cfg.applyDefaults()

	if cfg.Server.Endpoint == "" {
		return nil, fmt.Errorf("server.endpoint 不能为空")
	}
	switch cfg.Agent.Aggregation {
	case "last", "avg", "max":
	default:
		return nil, fmt.Errorf("不支持的聚合方式 %q，可选 last/avg/max", cfg.Agent.Aggregation)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.TimeoutSeconds <= 0 {
		c.Server.TimeoutSeconds = 10
	}
	if c.Agent.Job == "" {
		c.Agent.Job = "device-metrics"
	}
	if c.Agent.CollectIntervalSeconds <= 0 {
		c.Agent.CollectIntervalSeconds = 1
	}
	if c.Agent.PushIntervalSeconds <= 0 {
		c.Agent.PushIntervalSeconds = 30
	}
	if c.Agent.Aggregation == "" {
		c.Agent.Aggregation = "last"
	}
	if c.Agent.TopN <= 0 {
		c.Agent.TopN = 10
	}
	if c.Agent.LogLevel == "" {
		c.Agent.LogLevel = "info"
	}
	if c.Agent.LogMaxSize <= 0 {
		c.Agent.LogMaxSize = 50
	}
	if c.Agent.LogMaxBackups <= 0 {
		c.Agent.LogMaxBackups = 3
	}
	if c.Agent.LogMaxAge <= 0 {
		c.Agent.LogMaxAge = 7
	}
}
