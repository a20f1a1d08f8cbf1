// =============================================================================
// 文件: cmd/zhc-server/main.go
// 描述: 服务端入口 - UDP 数据包载体、TCP/WebSocket 流载体、活动文件监视与监控
// =============================================================================
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/zhc/internal/config"
	"github.com/mrcgq/zhc/internal/content"
	"github.com/mrcgq/zhc/internal/logging"
	"github.com/mrcgq/zhc/internal/metrics"
	"github.com/mrcgq/zhc/internal/protocol"
	"github.com/mrcgq/zhc/internal/session"
	"github.com/mrcgq/zhc/internal/syncproto"
	"github.com/mrcgq/zhc/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type options struct {
	configPath string
	listen     string
	file       string
	logLevel   string
	genConfig  bool
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "zhc-server",
		Short:         "zhc 活动文件同步服务端",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.genConfig {
				if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
					return fmt.Errorf("生成配置失败: %w", err)
				}
				fmt.Println("已生成示例配置文件: config.example.yaml")
				return nil
			}
			return run(cmd.Context(), &opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "config.yaml", "配置文件路径")
	flags.StringVar(&opts.listen, "listen", "", "覆盖 server.listen")
	flags.StringVar(&opts.file, "file", "", "覆盖 server.file")
	flags.StringVar(&opts.logLevel, "log-level", "", "覆盖 log_level")
	flags.BoolVar(&opts.genConfig, "gen-config", false, "生成示例配置文件")

	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("zhc-server v%s\n", Version)
			fmt.Printf("  Protocol: %s\n", protocol.CurrentVersion)
			fmt.Printf("  Build: %s\n", BuildTime)
			fmt.Printf("  Commit: %s\n", GitCommit)
			fmt.Printf("  Go: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("配置错误: %w", err)
	}
	if opts.listen != "" {
		cfg.Server.Listen = opts.listen
	}
	if opts.file != "" {
		cfg.Server.File = opts.file
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置错误: %w", err)
	}
	if cfg.Server.File == "" {
		return nil, errors.New("配置错误: server.file 不能为空")
	}
	return cfg, nil
}

func run(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel)
	log := logrus.NewEntry(logger)

	// 监控
	var metricsServer *metrics.Server
	var mt *metrics.Metrics
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(metricsConfig(cfg), log)
		mt = metrics.New(metricsServer.Registry())
	}

	// 活动文件
	source := content.NewFileSource(cfg.Server.File, log)
	if changed, err := source.Refresh(); err != nil {
		log.Warnf("加载活动文件失败: %v", err)
	} else if c, ok := source.Snapshot(); changed && ok {
		mt.ContentUpdated(c.Size())
	}
	server := syncproto.NewServer(source, log, mt)

	// 数据包载体
	sock, err := transport.OpenUDP(cfg.Server.Listen, transport.DefaultPollTimeout, log)
	if err != nil {
		return fmt.Errorf("UDP 监听失败: %w", err)
	}
	defer sock.Close()

	packetServer := syncproto.NewPacketServer(server, log)
	mgr, err := session.NewManager(sock, packetServer, cfg.SessionConfig(),
		session.WithLogger(log),
		session.WithMetrics(mt),
	)
	if err != nil {
		return err
	}
	packetServer.Attach(mgr)

	g, gctx := errgroup.WithContext(ctx)

	// 流载体
	streamHandler := syncproto.NewStreamHandler(server, log)
	if cfg.Server.StreamListen != "" {
		tcpServer := transport.NewTCPServer(cfg.Server.StreamListen, streamHandler, log)
		if err := tcpServer.Start(gctx); err != nil {
			return fmt.Errorf("TCP 监听失败: %w", err)
		}
		defer tcpServer.Stop()
	}
	if cfg.Server.WebSocketListen != "" {
		wsServer := transport.NewWebSocketServer(cfg.Server.WebSocketListen, cfg.Server.WebSocketPath, streamHandler, log)
		if err := wsServer.Start(gctx); err != nil {
			return fmt.Errorf("WebSocket 监听失败: %w", err)
		}
		defer wsServer.Stop()
	}

	snap := metrics.NewSnapshot()

	if metricsServer != nil {
		metricsServer.Registry().MustRegister(metrics.NewSessionCollector(snap))
		metricsServer.SetHealthCheck(func() metrics.Health {
			return healthStatus(source, snap)
		})
		if err := metricsServer.Start(gctx); err != nil {
			log.Warnf("Metrics 启动失败: %v", err)
		} else {
			defer metricsServer.Stop()
		}
	}

	g.Go(func() error {
		return mgr.Run(gctx, cfg.TickInterval(), func(now time.Time) {
			st := mgr.Stats()
			snap.Store(metrics.SessionStats{
				Active:       int64(st.Active),
				Accepted:     st.Accepted,
				Rejected:     st.Rejected,
				Retransmits:  st.Retransmits,
				PacketsIn:    st.PacketsIn,
				PacketsOut:   st.PacketsOut,
				Dropped:      st.Dropped,
				ChunksSent:   st.ChunksSent,
				ChunksRecved: st.ChunksRecved,
			})
		})
	})

	g.Go(func() error {
		return watchFile(gctx, source, cfg.ReloadInterval(), mt, log)
	})

	printBanner(cfg, sock.LocalAddr().String(), source)

	err = g.Wait()
	log.Info("正在关闭...")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchFile 按间隔检查活动文件变化
func watchFile(ctx context.Context, source *content.FileSource, interval time.Duration, mt *metrics.Metrics, log *logrus.Entry) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			changed, err := source.Refresh()
			if err != nil {
				mt.Error("reload")
				log.Warnf("刷新活动文件失败: %v", err)
				continue
			}
			if !changed {
				continue
			}
			if c, ok := source.Snapshot(); ok {
				mt.ContentUpdated(c.Size())
			} else {
				mt.ContentUpdated(0)
			}
		}
	}
}

func healthStatus(source *content.FileSource, snap *metrics.Snapshot) metrics.Health {
	status := metrics.Health{
		Status:     metrics.StatusHealthy,
		Version:    Version,
		Components: make(map[string]metrics.Component),
	}

	if c, ok := source.Snapshot(); ok {
		status.Components["content"] = metrics.Component{
			Status: metrics.StatusHealthy,
			Detail: c.String(),
		}
	} else {
		status.Status = metrics.StatusDegraded
		status.Components["content"] = metrics.Component{
			Status: metrics.StatusDegraded,
			Detail: "活动文件未加载",
		}
	}

	st := snap.Load()
	loop := metrics.Component{
		Status: metrics.StatusHealthy,
		Detail: fmt.Sprintf("active: %d, accepted: %d, rejected: %d", st.Active, st.Accepted, st.Rejected),
	}
	// 管理器停止推进时快照不再更新
	if snap.Age() > 5*time.Second {
		loop.Status = metrics.StatusUnhealthy
		status.Status = metrics.StatusUnhealthy
	}
	status.Components["connections"] = loop
	return status
}

func printBanner(cfg *config.Config, udpAddr string, source *content.FileSource) {
	loaded := "(未加载)"
	if c, ok := source.Snapshot(); ok {
		loaded = c.String()
	}
	stream := "关闭"
	if cfg.Server.StreamListen != "" {
		stream = cfg.Server.StreamListen
	}
	ws := "关闭"
	if cfg.Server.WebSocketListen != "" {
		ws = cfg.Server.WebSocketListen + cfg.Server.WebSocketPath
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║  zhc-server v%-52s ║\n", Version)
	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  UDP: %-58s ║\n", udpAddr)
	fmt.Printf("║  TCP: %-58s ║\n", stream)
	fmt.Printf("║  WebSocket: %-52s ║\n", ws)
	fmt.Printf("║  活动文件: %-53s ║\n", truncateString(cfg.Server.File, 53))
	fmt.Printf("║  内容: %-57s ║\n", loaded)
	fmt.Printf("║  连接槽位: %-53d ║\n", cfg.Net.MaxConnections)
	if cfg.Metrics.Enabled {
		fmt.Printf("║  监控: %-57s ║\n", cfg.Metrics.Listen+cfg.Metrics.Path)
	}
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen+3:]
}

func metricsConfig(cfg *config.Config) metrics.ServerConfig {
	return metrics.ServerConfig{
		Listen:      cfg.Metrics.Listen,
		MetricsPath: cfg.Metrics.Path,
		HealthPath:  cfg.Metrics.HealthPath,
		Pprof:       cfg.Metrics.EnablePprof,
	}
}
