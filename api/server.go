package api

import (
	"context"
	"net/http"
	"time"

	"stratus/logging"
)

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server 命令接口服务器
type Server struct {
	server *http.Server
	logger logging.Logger
}

// NewServer 创建服务器
func NewServer(handler *Handler, cfg ServerConfig) *Server {
	return &Server{
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler.Mux(),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		logger: logging.ComponentLogger("api"),
	}
}

// Start 阻塞启动
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "api server starting", logging.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
