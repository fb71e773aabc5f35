package collector

// Observation 一次采集得到的单个观测值，探针在本地批次里聚合后上报
type Observation struct {
	Name   string
	Value  float64
	Labels map[string]string
	Help   string
	Type   string
}
