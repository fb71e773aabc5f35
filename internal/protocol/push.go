package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// PushRequest 设备批量上报请求体
type PushRequest struct {
	DeviceSerial string          `json:"device_serial" validate:"required"`
	Job          string          `json:"job"`
	Metrics      []MetricPayload `json:"metrics"`
}

// MetricPayload 上报的单个指标
type MetricPayload struct {
	Name   string            `json:"name"`
	Value  FlexFloat         `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
	Help   string            `json:"help,omitempty"`
	Type   string            `json:"type,omitempty"`
}

// PushResponse 上报成功响应
type PushResponse struct {
	Status       string `json:"status"`
	Accepted     int    `json:"accepted"`
	DeviceSerial string `json:"device_serial"`
	Timestamp    string `json:"timestamp"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}

// FlexFloat 兼容 JSON 数字和数字字符串两种形式的浮点值。
// 部分采集端把 NaN 这类值编码成字符串发送，这里先解析出来，
// 由入库校验统一拒绝非有限数。
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("无法解析指标值 %q: %w", s, err)
		}
		*f = FlexFloat(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

func (f FlexFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return json.Marshal(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return json.Marshal(v)
}
