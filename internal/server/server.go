package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dushixiang/tapir/internal/config"
	"github.com/dushixiang/tapir/internal/handler"
	"github.com/dushixiang/tapir/internal/registry"
	"github.com/dushixiang/tapir/internal/scheduler"
	"github.com/dushixiang/tapir/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Server 指标聚合服务端：组装存储、接入、分析与清理组件。
// 指标存储由这里创建并以引用传给各组件，不存在包级全局状态。
type Server struct {
	logger   *zap.Logger
	cfg      *config.Config
	echo     *echo.Echo
	registry *registry.Registry
	analyzer *service.AnalyzerService
	sweeper  *scheduler.EvictionScheduler
}

// New 组装服务端
func New(cfg *config.Config, logger *zap.Logger) *Server {
	reg := registry.New(registry.Options{
		TTL:           time.Duration(cfg.Registry.TTLSeconds) * time.Second,
		HistoryWindow: time.Duration(cfg.Analyzer.WindowMinutes) * time.Minute,
	})

	metricService := service.NewMetricService(logger, reg)
	analyzerService := service.NewAnalyzerService(logger, reg, cfg.Analyzer)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	metricHandler := handler.NewMetricHandler(logger, metricService)
	analyzerHandler := handler.NewAnalyzerHandler(logger, analyzerService)

	e.POST("/metrics", metricHandler.Ingest)
	e.GET("/metrics", metricHandler.Exposition)
	e.GET("/health", metricHandler.Health)
	e.GET("/status", metricHandler.Status)

	// 替换分析接口允许跨域（给前端面板直接调用）
	replacement := e.Group("/device-replacement", middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:       86400,
	}))
	replacement.GET("/:serial", analyzerHandler.Check)

	return &Server{
		logger:   logger,
		cfg:      cfg,
		echo:     e,
		registry: reg,
		analyzer: analyzerService,
		sweeper:  scheduler.NewEvictionScheduler(logger, reg, cfg.Registry.EvictionIntervalSeconds),
	}
}

// UpdateAnalyzerConfig 由配置热更新回调触发。
// 分析窗口同步更新到存储层的历史保留窗口，保证调大窗口后平均值不会被旧窗口截断。
func (s *Server) UpdateAnalyzerConfig(cfg config.AnalyzerConfig) {
	s.registry.SetHistoryWindow(time.Duration(cfg.WindowMinutes) * time.Minute)
	s.analyzer.UpdateConfig(cfg)
}

// Run 启动服务并阻塞到 ctx 取消，随后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	if err := s.sweeper.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("指标聚合服务已启动",
		zap.String("addr", s.cfg.Server.Addr()),
		zap.Int("ttlSeconds", s.cfg.Registry.TTLSeconds),
		zap.Int("windowMinutes", s.cfg.Analyzer.WindowMinutes))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.sweeper.Stop()
		return err
	}

	s.logger.Info("正在关闭指标聚合服务...")
	s.sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("指标聚合服务已停止")
	return nil
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Debug("http 请求", fields...)
			return nil
		},
	})
}
