package protocol

// 服务端与探针共享的指标名称。
// 设备级汇总序列（device_serial 标签）供替换分析器做窗口平均，
// 应用级序列额外携带 app_name 标签。
const (
	MetricTotalCPUUsagePercent    = "total_cpu_usage_percent"
	MetricTotalMemoryUsagePercent = "total_memory_usage_percent"
	MetricTotalNetworkUsageMbps   = "total_network_usage_mbps"
	MetricAppCPUUsagePercent      = "app_cpu_usage_percent"
	MetricAppMemoryUsageMB        = "app_memory_usage_mb"
	MetricAppNetworkUsageMbps     = "app_network_usage_mbps"
	MetricSystemInfo              = "system_info"
	MetricPushedBatchSize         = "pushed_batch_size"
)

// HelpTexts 指标说明，渲染 # HELP 注释时使用
var HelpTexts = map[string]string{
	MetricTotalCPUUsagePercent:    "Total CPU usage percentage for all applications",
	MetricTotalMemoryUsagePercent: "Total memory usage percentage for all applications",
	MetricTotalNetworkUsageMbps:   "Total network bandwidth usage in Mbps",
	MetricAppCPUUsagePercent:      "CPU usage percentage by application (top N)",
	MetricAppMemoryUsageMB:        "Memory usage in MB by application (top N)",
	MetricAppNetworkUsageMbps:     "Network bandwidth usage in Mbps by application (top N)",
	MetricSystemInfo:              "System information",
	MetricPushedBatchSize:         "Number of samples aggregated into the last push",
}

// 替换分析响应（GET /device-replacement/:serial）

// ReplacementThresholds 替换分析阈值
type ReplacementThresholds struct {
	CPUHigh    float64 `json:"cpu_high"`
	CPULow     float64 `json:"cpu_low"`
	MemoryHigh float64 `json:"memory_high"`
	MemoryLow  float64 `json:"memory_low"`
}

// ReplacementMetrics 窗口平均值，无数据时为 null
type ReplacementMetrics struct {
	AvgCPU    *float64 `json:"avg_cpu"`
	AvgMemory *float64 `json:"avg_memory"`
}

// ReplacementResponse 替换分析结论
type ReplacementResponse struct {
	ReplaceDevice         bool                  `json:"replace_device"`
	DeviceSerial          string                `json:"device_serial"`
	Timestamp             string                `json:"timestamp"`
	AnalysisWindowMinutes int                   `json:"analysis_window_minutes"`
	Thresholds            ReplacementThresholds `json:"thresholds"`
	Metrics               ReplacementMetrics    `json:"metrics"`
	Reasons               []string              `json:"reasons"`
}
