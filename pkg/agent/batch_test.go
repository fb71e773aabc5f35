package agent

import (
	"testing"

	"github.com/dushixiang/tapir/pkg/agent/collector"
)

func TestBatchFlushLast(t *testing.T) {
	b := NewBatch()
	b.Add(collector.Observation{Name: "cpu", Value: 10})
	b.Add(collector.Observation{Name: "cpu", Value: 20})
	b.Add(collector.Observation{Name: "cpu", Value: 30})

	out := b.Flush("last")
	if len(out) != 1 {
		t.Fatalf("应压缩成 1 个序列，实际 %d", len(out))
	}
	if float64(out[0].Value) != 30 {
		t.Errorf("last 聚合应取最后一个值，实际 %v", out[0].Value)
	}
}

func TestBatchFlushAvg(t *testing.T) {
	b := NewBatch()
	b.Add(collector.Observation{Name: "cpu", Value: 10})
	b.Add(collector.Observation{Name: "cpu", Value: 20})

	out := b.Flush("avg")
	if len(out) != 1 || float64(out[0].Value) != 15 {
		t.Errorf("avg 聚合结果不符: %+v", out)
	}
}

func TestBatchFlushMax(t *testing.T) {
	b := NewBatch()
	b.Add(collector.Observation{Name: "cpu", Value: 10})
	b.Add(collector.Observation{Name: "cpu", Value: 50})
	b.Add(collector.Observation{Name: "cpu", Value: 20})

	out := b.Flush("max")
	if len(out) != 1 || float64(out[0].Value) != 50 {
		t.Errorf("max 聚合结果不符: %+v", out)
	}
}

func TestBatchSeparatesByLabels(t *testing.T) {
	b := NewBatch()
	b.Add(collector.Observation{Name: "app_cpu", Value: 1, Labels: map[string]string{"app_name": "nginx"}})
	b.Add(collector.Observation{Name: "app_cpu", Value: 2, Labels: map[string]string{"app_name": "redis"}})

	out := b.Flush("last")
	if len(out) != 2 {
		t.Fatalf("不同标签集应是不同序列，实际 %d", len(out))
	}
	// 保持加入顺序
	if out[0].Labels["app_name"] != "nginx" || out[1].Labels["app_name"] != "redis" {
		t.Errorf("输出顺序不符: %+v", out)
	}
}

func TestBatchFlushResets(t *testing.T) {
	b := NewBatch()
	b.Add(collector.Observation{Name: "cpu", Value: 10})

	if out := b.Flush("last"); len(out) != 1 {
		t.Fatalf("首次压缩应有 1 个序列，实际 %d", len(out))
	}
	if out := b.Flush("last"); len(out) != 0 {
		t.Errorf("压缩后批次应清空，实际 %+v", out)
	}
}

func TestBatchCarriesMetadata(t *testing.T) {
	b := NewBatch()
	b.Add(collector.Observation{Name: "cpu", Value: 1, Help: "CPU 使用率", Type: "gauge"})

	out := b.Flush("last")
	if out[0].Help != "CPU 使用率" || out[0].Type != "gauge" {
		t.Errorf("帮助文本和类型应保留: %+v", out[0])
	}
}
