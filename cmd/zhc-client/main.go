// =============================================================================
// 文件: cmd/zhc-client/main.go
// 描述: 客户端入口 - 按配置选择载体轮询服务端，镜像活动文件到本地缓存
// =============================================================================
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/zhc/internal/config"
	"github.com/mrcgq/zhc/internal/content"
	"github.com/mrcgq/zhc/internal/logging"
	"github.com/mrcgq/zhc/internal/metrics"
	"github.com/mrcgq/zhc/internal/protocol"
	"github.com/mrcgq/zhc/internal/session"
	"github.com/mrcgq/zhc/internal/store"
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
	server     string
	transport  string
	cacheDir   string
	output     string
	logLevel   string
	genConfig  bool
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "zhc-client",
		Short:         "zhc 活动文件同步客户端",
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
	flags.StringVarP(&opts.server, "server", "s", "", "覆盖 client.server")
	flags.StringVarP(&opts.transport, "transport", "t", "", "覆盖 client.transport: udp/tcp/websocket")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "覆盖 client.cache_dir")
	flags.StringVarP(&opts.output, "output", "o", "", "内容更新后写入该文件")
	flags.StringVar(&opts.logLevel, "log-level", "", "覆盖 log_level")
	flags.BoolVar(&opts.genConfig, "gen-config", false, "生成示例配置文件")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("zhc-client v%s\n", Version)
			fmt.Printf("  Protocol: %s\n", protocol.CurrentVersion)
			fmt.Printf("  Build: %s\n", BuildTime)
			fmt.Printf("  Commit: %s\n", GitCommit)
			fmt.Printf("  Go: %s\n", runtime.Version())
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("配置错误: %w", err)
	}
	if opts.server != "" {
		cfg.Client.Server = opts.server
	}
	if opts.transport != "" {
		cfg.Client.Transport = opts.transport
	}
	if opts.cacheDir != "" {
		cfg.Client.CacheDir = opts.cacheDir
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置错误: %w", err)
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

	var metricsServer *metrics.Server
	var mt *metrics.Metrics
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(metricsConfig(cfg), log)
		mt = metrics.New(metricsServer.Registry())
	}

	mirrorOpts := []syncproto.MirrorOption{
		syncproto.WithMirrorLogger(log),
		syncproto.WithMirrorMetrics(mt),
		syncproto.WithUpdate(func(c content.Content) {
			log.Infof("活动文件已更新: %s", c)
			if opts.output == "" {
				return
			}
			if err := os.WriteFile(opts.output, c.Data, 0644); err != nil {
				log.Warnf("写入 %s 失败: %v", opts.output, err)
			}
		}),
	}

	// 本地缓存
	var cache *store.Cache
	if cfg.Client.CacheDir != "" {
		cache, err = store.Open(cfg.Client.CacheDir, log)
		if err != nil {
			return err
		}
		defer cache.Close()
		mirrorOpts = append(mirrorOpts, syncproto.WithCache(cache))
	}

	mirror := syncproto.NewMirror(cfg.PollInterval(), mirrorOpts...)
	if cache != nil {
		c, ok, err := cache.Load()
		if err != nil {
			log.Warnf("读取缓存失败: %v", err)
		} else if ok {
			mirror.Seed(c)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if metricsServer != nil {
		metricsServer.SetHealthCheck(func() metrics.Health {
			return healthStatus(mirror)
		})
		if err := metricsServer.Start(gctx); err != nil {
			log.Warnf("Metrics 启动失败: %v", err)
		} else {
			defer metricsServer.Stop()
		}
	}

	switch cfg.Client.Transport {
	case config.TransportUDP:
		err = runPacket(gctx, g, cfg, mirror, mt, log)
	case config.TransportTCP:
		client := syncproto.NewStreamClient(syncproto.TCPDialer(cfg.Client.Server), mirror, cfg.RequestTimeout(), log)
		g.Go(func() error { return client.Run(gctx) })
	case config.TransportWebSocket:
		client := syncproto.NewStreamClient(syncproto.WebSocketDialer(cfg.Client.Server), mirror, cfg.RequestTimeout(), log)
		g.Go(func() error { return client.Run(gctx) })
	}
	if err != nil {
		return err
	}

	log.Infof("zhc-client v%s: %s via %s", Version, cfg.Client.Server, cfg.Client.Transport)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runPacket(ctx context.Context, g *errgroup.Group, cfg *config.Config, mirror *syncproto.Mirror, mt *metrics.Metrics, log *logrus.Entry) error {
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.Client.Server)
	if err != nil {
		return fmt.Errorf("解析服务端地址失败: %w", err)
	}

	sock, err := transport.OpenUDP(":0", transport.DefaultPollTimeout, log)
	if err != nil {
		return err
	}

	client := syncproto.NewPacketClient(udpAddr.AddrPort(), mirror, log)
	mgr, err := session.NewManager(sock, client, cfg.SessionConfig(),
		session.WithLogger(log),
		session.WithMetrics(mt),
	)
	if err != nil {
		sock.Close()
		return err
	}
	client.Attach(mgr)

	g.Go(func() error {
		defer sock.Close()
		return mgr.Run(ctx, cfg.TickInterval(), client.Tick)
	})
	return nil
}

func healthStatus(mirror *syncproto.Mirror) metrics.Health {
	status := metrics.Health{
		Status:     metrics.StatusHealthy,
		Version:    Version,
		Components: make(map[string]metrics.Component),
	}
	if c, ok := mirror.Current(); ok {
		status.Components["content"] = metrics.Component{Status: metrics.StatusHealthy, Detail: c.String()}
	} else {
		status.Status = metrics.StatusDegraded
		status.Components["content"] = metrics.Component{Status: metrics.StatusDegraded, Detail: "尚未同步"}
	}
	return status
}

func metricsConfig(cfg *config.Config) metrics.ServerConfig {
	return metrics.ServerConfig{
		Listen:      cfg.Metrics.Listen,
		MetricsPath: cfg.Metrics.Path,
		HealthPath:  cfg.Metrics.HealthPath,
		Pprof:       cfg.Metrics.EnablePprof,
	}
}
