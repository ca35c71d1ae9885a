// Package server 提供新闻聚合与解读生成的 HTTP 接口。
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/iabetor/newslens/internal/config"
	"github.com/iabetor/newslens/internal/insight"
	"github.com/iabetor/newslens/internal/logger"
	"github.com/iabetor/newslens/internal/news"
	"github.com/iabetor/newslens/internal/ratelimit"
)

const shutdownTimeout = 10 * time.Second

// NewsAggregator 新闻聚合能力。
type NewsAggregator interface {
	Aggregate(ctx context.Context) ([]news.NewsItem, error)
}

// InsightGenerator 解读生成能力。
type InsightGenerator interface {
	Generate(ctx context.Context, req insight.Request) (insight.Response, error)
}

// Route 一个受限流保护的接口。Limiter 为 nil 时不限流。
type Route struct {
	Limiter  ratelimit.Limiter
	Fallback map[string]any
}

// Deps 服务依赖。
type Deps struct {
	News         NewsAggregator
	Insight      InsightGenerator
	RSSRoute     Route
	InsightRoute Route
}

// Server HTTP 服务。
type Server struct {
	cfg     config.ServerConfig
	deps    Deps
	handler http.Handler
}

// New 创建 HTTP 服务并注册路由。
func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps}

	router := mux.NewRouter()
	router.Use(instrument)

	router.Handle("/api/rss", limit(deps.RSSRoute, "rss", http.HandlerFunc(s.handleRSS))).Methods(http.MethodGet)
	router.Handle("/api/generate-insight", limit(deps.InsightRoute, "insight", http.HandlerFunc(s.handleInsight))).Methods(http.MethodPost)
	router.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		ExposedHeaders: []string{
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
			"Retry-After", requestIDHeader,
		},
	})

	// recover → request id → access log → CORS → router
	s.handler = recoverer(requestID(accessLog(c.Handler(router))))
	return s
}

// Handler 返回完整的 HTTP handler（含中间件链）。
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run 启动监听，ctx 取消后优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[server] 监听 %s", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("[server] 启动失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("[server] 正在关闭...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("[server] 关闭超时: %w", err)
	}
	logger.Info("[server] 已关闭")
	return nil
}

func limit(rt Route, policy string, h http.Handler) http.Handler {
	if rt.Limiter == nil {
		return h
	}
	return ratelimit.Middleware(rt.Limiter, ratelimit.Options{Policy: policy, Fallback: rt.Fallback})(h)
}
