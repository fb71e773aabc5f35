package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/dushixiang/tapir/internal/protocol"
	"github.com/dushixiang/tapir/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// MetricHandler 指标接入与暴露处理器
type MetricHandler struct {
	logger        *zap.Logger
	metricService *service.MetricService
	startedAt     time.Time
}

// NewMetricHandler 创建处理器
func NewMetricHandler(logger *zap.Logger, metricService *service.MetricService) *MetricHandler {
	return &MetricHandler{
		logger:        logger,
		metricService: metricService,
		startedAt:     time.Now(),
	}
}

// Ingest 接收设备上报的指标批次
// POST /metrics
func (h *MetricHandler) Ingest(c echo.Context) error {
	var req protocol.PushRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, protocol.ErrorResponse{
			Error: "请求体不是合法的 JSON",
		})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, protocol.ErrorResponse{
			Error: "device_serial 不能为空",
		})
	}

	accepted, err := h.metricService.IngestBatch(c.Request().Context(), &req)
	if err != nil {
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			return c.JSON(http.StatusBadRequest, protocol.ErrorResponse{Error: ve.Reason})
		}
		h.logger.Error("处理上报批次失败",
			zap.String("deviceSerial", req.DeviceSerial),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, protocol.ErrorResponse{Error: "内部错误"})
	}

	return c.JSON(http.StatusOK, protocol.PushResponse{
		Status:       "success",
		Accepted:     accepted,
		DeviceSerial: req.DeviceSerial,
		Timestamp:    time.Now().Format(time.RFC3339),
	})
}

// Exposition 输出抓取端消费的文本格式
// GET /metrics
func (h *MetricHandler) Exposition(c echo.Context) error {
	body := h.metricService.Render(c.Request().Context())
	return c.Blob(http.StatusOK, "text/plain; charset=utf-8", []byte(body))
}

// Health 存活探测，附带当前存活序列数量
// GET /health
func (h *MetricHandler) Health(c echo.Context) error {
	stats := h.metricService.Stats(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "healthy",
		"timestamp":     time.Now().Format(time.RFC3339),
		"metrics_count": stats.SeriesCount,
	})
}

// Status 存储层运行状态
// GET /status
func (h *MetricHandler) Status(c echo.Context) error {
	stats := h.metricService.Stats(c.Request().Context())

	lastEviction := ""
	if !stats.LastEvictionAt.IsZero() {
		lastEviction = stats.LastEvictionAt.Format(time.RFC3339)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":             "running",
		"timestamp":          time.Now().Format(time.RFC3339),
		"uptime_seconds":     int(time.Since(h.startedAt) / time.Second),
		"series_count":       stats.SeriesCount,
		"device_count":       stats.DeviceCount,
		"metrics_by_name":    stats.SamplesByName,
		"ttl_seconds":        stats.TTLSeconds,
		"last_eviction_at":   lastEviction,
		"last_evicted_count": stats.LastEvictedCount,
	})
}
