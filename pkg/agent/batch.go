package agent

import (
	"sync"

	"github.com/dushixiang/tapir/internal/protocol"
	"github.com/dushixiang/tapir/internal/registry"
	"github.com/dushixiang/tapir/pkg/agent/collector"
)

// Batch 本地采集批次：按（名称 + 标签集）累积观测值，
// 上报时按配置的聚合方式压缩成每个序列一个值。
type Batch struct {
	mu    sync.Mutex
	items map[string]*batchSeries
	order []string // 保持加入顺序，上报内容稳定可预期
}

type batchSeries struct {
	name   string
	labels map[string]string
	help   string
	typ    string
	values []float64
}

// NewBatch 创建空批次
func NewBatch() *Batch {
	return &Batch{items: make(map[string]*batchSeries)}
}

// Add 追加一个观测值
func (b *Batch) Add(obs collector.Observation) {
	key := obs.Name + "{" + registry.CanonicalLabels(obs.Labels) + "}"

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.items[key]
	if !ok {
		s = &batchSeries{
			name:   obs.Name,
			labels: obs.Labels,
			help:   obs.Help,
			typ:    obs.Type,
		}
		b.items[key] = s
		b.order = append(b.order, key)
	}
	s.values = append(s.values, obs.Value)
}

// Flush 按聚合方式（last/avg/max）压缩批次并清空。
// 聚合是设备本地的决策，服务端只存储收到的值。
func (b *Batch) Flush(method string) []protocol.MetricPayload {
	b.mu.Lock()
	items, order := b.items, b.order
	b.items = make(map[string]*batchSeries)
	b.order = nil
	b.mu.Unlock()

	out := make([]protocol.MetricPayload, 0, len(order))
	for _, key := range order {
		s := items[key]
		if len(s.values) == 0 {
			continue
		}
		out = append(out, protocol.MetricPayload{
			Name:   s.name,
			Value:  protocol.FlexFloat(aggregate(s.values, method)),
			Labels: s.labels,
			Help:   s.help,
			Type:   s.typ,
		})
	}
	return out
}

func aggregate(values []float64, method string) float64 {
	switch method {
	case "avg":
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	case "max":
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	default: // last
		return values[len(values)-1]
	}
}
