package handler

import (
	"net/http"

	"github.com/dushixiang/tapir/internal/protocol"
	"github.com/dushixiang/tapir/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// AnalyzerHandler 设备替换分析处理器
type AnalyzerHandler struct {
	logger   *zap.Logger
	analyzer *service.AnalyzerService
}

// NewAnalyzerHandler 创建处理器
func NewAnalyzerHandler(logger *zap.Logger, analyzer *service.AnalyzerService) *AnalyzerHandler {
	return &AnalyzerHandler{
		logger:   logger,
		analyzer: analyzer,
	}
}

// Check 判断设备是否需要更换
// GET /device-replacement/:serial
func (h *AnalyzerHandler) Check(c echo.Context) error {
	serial := c.Param("serial")
	if serial == "" {
		return c.JSON(http.StatusBadRequest, protocol.ErrorResponse{
			Error: "设备序列号不能为空",
		})
	}
	return c.JSON(http.StatusOK, h.analyzer.Analyze(serial))
}
