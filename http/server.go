package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"roadsafe/monitoring"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	MaxRequestSize int64
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		MaxRequestSize: 1 << 20,
	}
}

// NewHandler 组装路由和中间件
func NewHandler(config ServerConfig, predictor *Predictor, metrics *monitoring.ServiceMetrics, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewServiceMetrics()
	}
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = DefaultServerConfig().MaxRequestSize
	}

	mux := http.NewServeMux()
	RegisterHandlers(mux, predictor, metrics)

	chain := Chain(
		RecoveryMiddleware(logger),
		LoggerMiddleware(logger),
		MetricsMiddleware(metrics),
		SecurityHeadersMiddleware,
		RequestSizeMiddleware(config.MaxRequestSize),
		TimeoutMiddleware(config.Timeout),
	)
	return chain(mux)
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, predictor *Predictor, metrics *monitoring.ServiceMetrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      NewHandler(config, predictor, metrics, logger),
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout + 5*time.Second,
			IdleTimeout:  120 * time.Second,
		},
		config: config,
		logger: logger,
	}
}

// Start 启动服务器, 阻塞直到关闭
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
