package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dushixiang/tapir/internal/protocol"
	"github.com/jpillora/backoff"
)

const pushAttempts = 3

// Pusher 把聚合后的批次推送到服务端，失败时退避重试
type Pusher struct {
	endpoint string
	client   *http.Client
}

// NewPusher 创建推送器
func NewPusher(endpoint string, timeout time.Duration) *Pusher {
	return &Pusher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Push 推送一个批次。网络错误和 5xx 会重试，4xx 直接放弃：
// 校验失败的批次重试多少次结果都一样。
func (p *Pusher) Push(ctx context.Context, req *protocol.PushRequest) (*protocol.PushResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("编码批次失败: %w", err)
	}

	bo := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt < pushAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(bo.Duration()):
			}
		}

		resp, err := p.push(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var permErr *permanentError
		if errors.As(err, &permErr) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *Pusher) push(ctx context.Context, body []byte) (*protocol.PushResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &permanentError{fmt.Errorf("服务端拒绝批次: %d %s", resp.StatusCode, bytes.TrimSpace(data))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("服务端返回 %d", resp.StatusCode)
	}

	var pushResp protocol.PushResponse
	if err := json.Unmarshal(data, &pushResp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return &pushResp, nil
}

// permanentError 不值得重试的错误
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}
