// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - YAML 加载、默认值、取值范围与端口冲突检测
// =============================================================================
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrcgq/zhc/internal/protocol"
	"github.com/mrcgq/zhc/internal/session"
)

// Config 主配置
type Config struct {
	LogLevel string `yaml:"log_level"`

	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Net     NetConfig     `yaml:"net"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig 服务端配置
type ServerConfig struct {
	Listen           string `yaml:"listen"`           // UDP 数据包载体
	StreamListen     string `yaml:"stream_listen"`    // TCP 流载体，空表示关闭
	WebSocketListen  string `yaml:"websocket_listen"` // WebSocket 流载体，空表示关闭
	WebSocketPath    string `yaml:"websocket_path"`
	File             string `yaml:"file"`               // 活动文件
	ReloadIntervalMs int    `yaml:"reload_interval_ms"` // 检查文件变化的间隔
}

// ClientConfig 客户端配置
type ClientConfig struct {
	Server           string `yaml:"server"`
	Transport        string `yaml:"transport"` // udp, tcp, websocket
	PollIntervalMs   int    `yaml:"poll_interval_ms"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
	CacheDir         string `yaml:"cache_dir"` // 空表示不持久化
}

// NetConfig 连接管理与分块传输参数
type NetConfig struct {
	MaxConnections       int `yaml:"max_connections"`
	MTU                  int `yaml:"mtu"`
	TickIntervalMs       int `yaml:"tick_interval_ms"`
	RetransmitIntervalMs int `yaml:"retransmit_interval_ms"`
	HandshakeTimeoutMs   int `yaml:"handshake_timeout_ms"`
	IdleTimeoutMs        int `yaml:"idle_timeout_ms"`
	KeepaliveIntervalMs  int `yaml:"keepalive_interval_ms"`
	ChunkTimeoutMs       int `yaml:"chunk_timeout_ms"`
	AckIntervalMs        int `yaml:"ack_interval_ms"`
	SlicesPerTick        int `yaml:"slices_per_tick"`
	MaxPacketsPerTick    int `yaml:"max_packets_per_tick"`
	ReplayWindowSec      int `yaml:"replay_window_sec"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// 客户端载体
const (
	TransportUDP       = "udp"
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.syncRelatedConfig()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",

		Server: ServerConfig{
			Listen:           ":27960",
			WebSocketPath:    "/sync",
			ReloadIntervalMs: 1000,
		},

		Client: ClientConfig{
			Server:           "127.0.0.1:27960",
			Transport:        TransportUDP,
			PollIntervalMs:   1000,
			RequestTimeoutMs: 5000,
		},

		Net: NetConfig{
			MaxConnections:       session.DefaultMaxConnections,
			MTU:                  protocol.DefaultMTU,
			TickIntervalMs:       16,
			RetransmitIntervalMs: int(session.DefaultRetransmitInterval / time.Millisecond),
			HandshakeTimeoutMs:   int(session.DefaultHandshakeTimeout / time.Millisecond),
			IdleTimeoutMs:        int(session.DefaultIdleTimeout / time.Millisecond),
			KeepaliveIntervalMs:  int(session.DefaultKeepaliveInterval / time.Millisecond),
			ChunkTimeoutMs:       int(session.DefaultChunkTimeout / time.Millisecond),
			AckIntervalMs:        int(session.DefaultAckInterval / time.Millisecond),
			SlicesPerTick:        session.DefaultSlicesPerTick,
			MaxPacketsPerTick:    session.DefaultMaxPacketsPerTick,
			ReplayWindowSec:      int(session.DefaultReplayWindow / time.Second),
		},

		Metrics: MetricsConfig{
			Enabled:     false,
			Listen:      ":9100",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("log_level 无效: %q (可选 error, warn, info, debug)", c.LogLevel)
	}

	if err := c.validateNet(); err != nil {
		return fmt.Errorf("net 配置错误: %w", err)
	}
	if err := c.validateServer(); err != nil {
		return fmt.Errorf("server 配置错误: %w", err)
	}
	if err := c.validateClient(); err != nil {
		return fmt.Errorf("client 配置错误: %w", err)
	}

	// 端口冲突检测：server.listen 为 UDP，可与 TCP 监听共用端口号
	if _, err := parsePort(c.Server.Listen); err != nil {
		return fmt.Errorf("server.listen 端口格式错误: %w", err)
	}
	ports := make(map[int]string)

	if c.Server.StreamListen != "" {
		if err := checkPort(ports, c.Server.StreamListen, "server.stream_listen"); err != nil {
			return err
		}
	}
	if c.Server.WebSocketListen != "" {
		if err := checkPort(ports, c.Server.WebSocketListen, "server.websocket_listen"); err != nil {
			return err
		}
	}
	if c.Metrics.Enabled {
		if err := checkPort(ports, c.Metrics.Listen, "metrics.listen"); err != nil {
			return err
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") || !strings.HasPrefix(c.Metrics.HealthPath, "/") {
			return fmt.Errorf("metrics.path 和 metrics.health_path 必须以 / 开头")
		}
		if c.Metrics.Path == c.Metrics.HealthPath {
			return fmt.Errorf("metrics.path 与 metrics.health_path 不能相同")
		}
	}

	return nil
}

func (c *Config) validateNet() error {
	n := c.Net
	if n.MaxConnections < 1 || n.MaxConnections > 65535 {
		return fmt.Errorf("max_connections 需在 1-65535 之间")
	}
	if n.MTU < protocol.MinSliceSize || n.MTU > protocol.MaxSliceSize {
		return fmt.Errorf("mtu 需在 %d-%d 之间", protocol.MinSliceSize, protocol.MaxSliceSize)
	}
	if n.TickIntervalMs < 1 || n.TickIntervalMs > 1000 {
		return fmt.Errorf("tick_interval_ms 需在 1-1000 之间")
	}
	if n.RetransmitIntervalMs < 10 || n.RetransmitIntervalMs > 5000 {
		return fmt.Errorf("retransmit_interval_ms 需在 10-5000 之间")
	}
	if n.HandshakeTimeoutMs < n.RetransmitIntervalMs || n.HandshakeTimeoutMs > 60000 {
		return fmt.Errorf("handshake_timeout_ms 需大于 retransmit_interval_ms 且不超过 60000")
	}
	if n.KeepaliveIntervalMs < 100 || n.KeepaliveIntervalMs > 60000 {
		return fmt.Errorf("keepalive_interval_ms 需在 100-60000 之间")
	}
	if n.IdleTimeoutMs <= n.KeepaliveIntervalMs {
		return fmt.Errorf("idle_timeout_ms (%d) 必须大于 keepalive_interval_ms (%d)", n.IdleTimeoutMs, n.KeepaliveIntervalMs)
	}
	if n.ChunkTimeoutMs < 100 || n.ChunkTimeoutMs > 300000 {
		return fmt.Errorf("chunk_timeout_ms 需在 100-300000 之间")
	}
	if n.AckIntervalMs < 1 || n.AckIntervalMs > n.ChunkTimeoutMs {
		return fmt.Errorf("ack_interval_ms 需大于 0 且不超过 chunk_timeout_ms")
	}
	if n.SlicesPerTick < 1 || n.SlicesPerTick > 4096 {
		return fmt.Errorf("slices_per_tick 需在 1-4096 之间")
	}
	if n.MaxPacketsPerTick < 1 || n.MaxPacketsPerTick > 65536 {
		return fmt.Errorf("max_packets_per_tick 需在 1-65536 之间")
	}
	if n.ReplayWindowSec < 1 || n.ReplayWindowSec > 3600 {
		return fmt.Errorf("replay_window_sec 需在 1-3600 之间")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.ReloadIntervalMs < 100 || c.Server.ReloadIntervalMs > 3600000 {
		return fmt.Errorf("reload_interval_ms 需在 100-3600000 之间")
	}
	if c.Server.WebSocketListen != "" && !strings.HasPrefix(c.Server.WebSocketPath, "/") {
		return fmt.Errorf("websocket_path 必须以 / 开头")
	}
	return nil
}

func (c *Config) validateClient() error {
	if c.Client.PollIntervalMs < 10 || c.Client.PollIntervalMs > 3600000 {
		return fmt.Errorf("poll_interval_ms 需在 10-3600000 之间")
	}
	if c.Client.RequestTimeoutMs < 10 || c.Client.RequestTimeoutMs > 600000 {
		return fmt.Errorf("request_timeout_ms 需在 10-600000 之间")
	}

	switch c.Client.Transport {
	case TransportUDP, TransportTCP:
		if _, err := parsePort(c.Client.Server); err != nil {
			return fmt.Errorf("server 地址格式错误: %w", err)
		}
	case TransportWebSocket:
		if !strings.HasPrefix(c.Client.Server, "ws://") && !strings.HasPrefix(c.Client.Server, "wss://") {
			return fmt.Errorf("websocket 载体的 server 必须是 ws:// 或 wss:// 地址")
		}
		u, err := url.Parse(c.Client.Server)
		if err != nil || u.Host == "" {
			return fmt.Errorf("server 地址格式错误: %q", c.Client.Server)
		}
	default:
		return fmt.Errorf("transport 无效: %q (可选 udp, tcp, websocket)", c.Client.Transport)
	}
	return nil
}

// syncRelatedConfig 规范化相互关联的字段
func (c *Config) syncRelatedConfig() {
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.Client.Transport = strings.ToLower(c.Client.Transport)

	if c.Server.WebSocketPath == "" {
		c.Server.WebSocketPath = "/sync"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.HealthPath == "" {
		c.Metrics.HealthPath = "/health"
	}
}

func checkPort(ports map[int]string, addr, name string) error {
	port, err := parsePort(addr)
	if err != nil {
		return fmt.Errorf("%s 端口格式错误: %w", name, err)
	}
	if existing, exists := ports[port]; exists {
		return fmt.Errorf("%s 端口 (%d) 与 %s 冲突", name, port, existing)
	}
	ports[port] = name
	return nil
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	var portStr string
	if strings.HasPrefix(addr, ":") {
		portStr = addr[1:]
	} else if _, p, err := net.SplitHostPort(addr); err == nil {
		portStr = p
	} else {
		portStr = addr
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, err
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("端口超出范围: %d", port)
	}
	return port, nil
}

// SessionConfig 转换为连接管理配置
func (c *Config) SessionConfig() *session.Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return &session.Config{
		MaxConnections:     c.Net.MaxConnections,
		MTU:                c.Net.MTU,
		Version:            protocol.CurrentVersion,
		RetransmitInterval: ms(c.Net.RetransmitIntervalMs),
		HandshakeTimeout:   ms(c.Net.HandshakeTimeoutMs),
		IdleTimeout:        ms(c.Net.IdleTimeoutMs),
		KeepaliveInterval:  ms(c.Net.KeepaliveIntervalMs),
		ChunkTimeout:       ms(c.Net.ChunkTimeoutMs),
		AckInterval:        ms(c.Net.AckIntervalMs),
		SlicesPerTick:      c.Net.SlicesPerTick,
		MaxPacketsPerTick:  c.Net.MaxPacketsPerTick,
		ReplayWindow:       time.Duration(c.Net.ReplayWindowSec) * time.Second,
	}
}

// TickInterval 连接管理器的 tick 间隔
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Net.TickIntervalMs) * time.Millisecond
}

// ReloadInterval 活动文件检查间隔
func (c *Config) ReloadInterval() time.Duration {
	return time.Duration(c.Server.ReloadIntervalMs) * time.Millisecond
}

// PollInterval 客户端轮询间隔
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Client.PollIntervalMs) * time.Millisecond
}

// RequestTimeout 流载体单次请求超时
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Client.RequestTimeoutMs) * time.Millisecond
}

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# zhc 配置文件示例
# =============================================================================

log_level: "info"                   # 日志级别: debug, info, warn, error

# 服务端
server:
  listen: ":27960"                  # UDP 数据包载体
  stream_listen: ""                 # TCP 流载体，例如 ":27961"，留空关闭
  websocket_listen: ""              # WebSocket 流载体，例如 ":27962"，留空关闭
  websocket_path: "/sync"
  file: "./active.dat"              # 活动文件 (不超过 1 MiB)
  reload_interval_ms: 1000          # 检查文件变化的间隔

# 客户端
client:
  server: "127.0.0.1:27960"         # websocket 载体使用 ws://host:port/sync
  transport: "udp"                  # udp, tcp, websocket
  poll_interval_ms: 1000            # 哈希轮询间隔
  request_timeout_ms: 5000          # 流载体单次请求超时
  cache_dir: ""                     # 本地缓存目录，留空不持久化

# 连接管理与分块传输
net:
  max_connections: 128              # 连接槽位数
  mtu: 1024                         # 分片大小 (64-1200)
  tick_interval_ms: 16              # tick 间隔
  retransmit_interval_ms: 100       # 握手包与分片重传间隔
  handshake_timeout_ms: 5000
  idle_timeout_ms: 10000
  keepalive_interval_ms: 1000
  chunk_timeout_ms: 10000           # 单个分块的最长传输时间
  ack_interval_ms: 50
  slices_per_tick: 32               # 每个连接每次 tick 最多发送的分片数
  max_packets_per_tick: 256         # 每次 tick 最多处理的数据报数
  replay_window_sec: 60             # 握手重放检测窗口

# 监控
metrics:
  enabled: false
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
