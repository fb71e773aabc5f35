package registry

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ErrInvalidSample 非法样本（名称为空或数值非有限）
var ErrInvalidSample = errors.New("invalid sample")

// Kind 指标类型
type Kind string

const (
	KindGauge   Kind = "gauge"
	KindCounter Kind = "counter"
	KindInfo    Kind = "info"
)

// Valid 判断指标类型是否合法
func (k Kind) Valid() bool {
	switch k {
	case KindGauge, KindCounter, KindInfo:
		return true
	}
	return false
}

// Sample 单个指标观测值（写入后不可变）
type Sample struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Labels     map[string]string `json:"labels,omitempty"`
	Kind       Kind              `json:"kind"`
	Help       string            `json:"help,omitempty"`
	ReceivedAt time.Time         `json:"receivedAt"` // 服务端分配的接收时间，不信任客户端时间
}

// Validate 校验样本是否可入库
func (s *Sample) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: 指标名称不能为空", ErrInvalidSample)
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return fmt.Errorf("%w: 指标 %s 的值必须是有限数", ErrInvalidSample, s.Name)
	}
	return nil
}

// SeriesKey 序列标识：指标名称 + 规范化后的标签集
func (s *Sample) SeriesKey() string {
	return s.Name + "{" + CanonicalLabels(s.Labels) + "}"
}

// CanonicalLabels 将标签集按 key 排序后渲染成 k1="v1",k2="v2" 形式，
// 保证相同标签集产生相同的序列标识
func CanonicalLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(labels[k])
		sb.WriteByte('"')
	}
	return sb.String()
}

func cloneLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
