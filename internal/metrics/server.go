// =============================================================================
// 文件: internal/metrics/server.go
// 描述: 监控端点 - /metrics 抓取、活动文件与连接管理器的健康报告
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// 健康状态取值
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Health 健康报告
type Health struct {
	Status     string               `json:"status"`
	Version    string               `json:"version,omitempty"`
	Uptime     string               `json:"uptime"`
	CheckedAt  time.Time            `json:"checked_at"`
	Components map[string]Component `json:"components,omitempty"`
}

// Component 单个组件的状态
type Component struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HealthFunc 生成健康报告，在 HTTP 协程中调用
type HealthFunc func() Health

// ServerConfig 监控端点配置
type ServerConfig struct {
	Listen      string
	MetricsPath string
	HealthPath  string
	Pprof       bool
}

// Server 监控 HTTP 服务
//
// 使用独立 registry，业务指标通过 New(srv.Registry()) 注册。
type Server struct {
	cfg      ServerConfig
	log      *logrus.Entry
	registry *prometheus.Registry
	health   atomic.Pointer[HealthFunc]
	started  time.Time

	httpServer *http.Server
	listener   net.Listener
}

// NewServer 创建监控服务
func NewServer(cfg ServerConfig, log *logrus.Entry) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Server{
		cfg:      cfg,
		log:      log.WithField("component", "metrics"),
		registry: reg,
		started:  time.Now(),
	}
}

// Registry 指标 registry
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// SetHealthCheck 设置健康报告来源，未设置时始终报告 healthy
func (s *Server) SetHealthCheck(fn HealthFunc) { s.health.Store(&fn) }

// Addr 实际监听地址，Start 之前为 nil
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start 开始监听，ctx 结束时自动关闭
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("监控端口监听失败: %w", err)
	}
	s.listener = l
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("监控服务异常退出: %v", err)
		}
	}()
	context.AfterFunc(ctx, s.Stop)

	s.log.Infof("监控端点: http://%s%s (健康检查 %s)", l.Addr(), s.cfg.MetricsPath, s.cfg.HealthPath)
	return nil
}

// Stop 关闭服务，可重复调用
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          s.registry,
	}))

	mux.HandleFunc(s.cfg.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		h := s.check()
		w.Header().Set("Content-Type", "application/json")
		if h.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	})
	// 进程能应答即存活
	mux.HandleFunc(s.cfg.HealthPath+"/live", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	// degraded（例如客户端尚未同步）仍视为就绪
	mux.HandleFunc(s.cfg.HealthPath+"/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.check().Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))
			return
		}
		_, _ = w.Write([]byte("READY"))
	})

	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (s *Server) check() Health {
	h := Health{Status: StatusHealthy}
	if fn := s.health.Load(); fn != nil {
		h = (*fn)()
	}
	h.CheckedAt = time.Now()
	h.Uptime = time.Since(s.started).Truncate(time.Second).String()
	return h
}
