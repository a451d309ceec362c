package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server API服务器
type Server struct {
	router *gin.Engine
	srv    *http.Server
	log    zerolog.Logger
}

// NewServer 创建新的API服务器
func NewServer(port string, readTimeout, writeTimeout time.Duration, log zerolog.Logger) *Server {
	log = log.With().Str("component", "api").Logger()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	return &Server{
		router: router,
		srv:    srv,
		log:    log,
	}
}

// SetupRoutes 设置路由
func (s *Server) SetupRoutes(handlers *Handlers) {
	s.router.GET("/health", handlers.HealthCheck)
	s.router.GET("/ready", handlers.ReadinessCheck)
	s.router.GET("/status", handlers.ComponentStatus)

	v1 := s.router.Group("/api/v1")
	{
		// 参考目录
		v1.GET("/securities/:id", handlers.GetSecurity)
		v1.POST("/securities", handlers.RegisterSecurity)

		// 行情
		v1.GET("/quotes/:id/latest", handlers.GetLatestPrice)
		v1.GET("/quotes/:id/daily", handlers.GetDailyRange)

		// 交易与持仓
		v1.POST("/trades", handlers.AppendTrade)
		v1.GET("/users/:uid/trades", handlers.GetTradeHistory)
		v1.GET("/users/:uid/holdings", handlers.GetHoldings)
		v1.GET("/users/:uid/holdings/:id", handlers.GetHolding)
	}
}

// Handler 返回路由, 用于测试
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 启动服务器, ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("API服务器启动")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("正在关闭服务器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("服务器已关闭")
	return nil
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Debug()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("请求完成")
	}
}
