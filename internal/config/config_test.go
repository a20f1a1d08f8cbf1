// =============================================================================
// 文件: internal/config/config_test.go
// 描述: 配置鲁棒性测试 - 确保错误配置能在启动前被拦截
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// 默认值测试
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("基础配置默认值", func(t *testing.T) {
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel 默认值错误: got %s, want info", cfg.LogLevel)
		}
		if cfg.Server.Listen != ":27960" {
			t.Errorf("Server.Listen 默认值错误: got %s, want :27960", cfg.Server.Listen)
		}
		if cfg.Client.Transport != TransportUDP {
			t.Errorf("Client.Transport 默认值错误: got %s, want udp", cfg.Client.Transport)
		}
	})

	t.Run("连接参数默认值", func(t *testing.T) {
		if cfg.Net.MaxConnections != 128 {
			t.Errorf("Net.MaxConnections 默认值错误: got %d, want 128", cfg.Net.MaxConnections)
		}
		if cfg.Net.MTU != 1024 {
			t.Errorf("Net.MTU 默认值错误: got %d, want 1024", cfg.Net.MTU)
		}
		if cfg.Net.RetransmitIntervalMs != 100 {
			t.Errorf("Net.RetransmitIntervalMs 默认值错误: got %d, want 100", cfg.Net.RetransmitIntervalMs)
		}
		if cfg.Net.ReplayWindowSec != 60 {
			t.Errorf("Net.ReplayWindowSec 默认值错误: got %d, want 60", cfg.Net.ReplayWindowSec)
		}
	})

	t.Run("默认配置可通过验证", func(t *testing.T) {
		if err := cfg.Validate(); err != nil {
			t.Errorf("默认配置验证失败: %v", err)
		}
	})
}

func TestSessionConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Net.RetransmitIntervalMs = 250
	cfg.Net.ReplayWindowSec = 30

	sc := cfg.SessionConfig()
	if sc.RetransmitInterval != 250*time.Millisecond {
		t.Errorf("RetransmitInterval 转换错误: got %v", sc.RetransmitInterval)
	}
	if sc.ReplayWindow != 30*time.Second {
		t.Errorf("ReplayWindow 转换错误: got %v", sc.ReplayWindow)
	}
	if sc.MaxConnections != cfg.Net.MaxConnections || sc.MTU != cfg.Net.MTU {
		t.Error("MaxConnections / MTU 未同步")
	}
	if cfg.TickInterval() != 16*time.Millisecond {
		t.Errorf("TickInterval 错误: got %v", cfg.TickInterval())
	}
}

// =============================================================================
// 验证测试
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"无效日志级别", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"MTU 过小", func(c *Config) { c.Net.MTU = 10 }, "mtu"},
		{"MTU 过大", func(c *Config) { c.Net.MTU = 1500 }, "mtu"},
		{"槽位数为 0", func(c *Config) { c.Net.MaxConnections = 0 }, "max_connections"},
		{"空闲超时小于保活间隔", func(c *Config) { c.Net.IdleTimeoutMs = 500 }, "idle_timeout_ms"},
		{"握手超时小于重传间隔", func(c *Config) { c.Net.HandshakeTimeoutMs = 50 }, "handshake_timeout_ms"},
		{"无效载体", func(c *Config) { c.Client.Transport = "quic" }, "transport"},
		{"websocket 地址缺少协议", func(c *Config) {
			c.Client.Transport = TransportWebSocket
			c.Client.Server = "127.0.0.1:27962"
		}, "ws://"},
		{"监听端口格式错误", func(c *Config) { c.Server.Listen = ":abc" }, "server.listen"},
		{"WebSocket 端口冲突", func(c *Config) {
			c.Server.StreamListen = ":27961"
			c.Server.WebSocketListen = "0.0.0.0:27961"
		}, "冲突"},
		{"监控端口冲突", func(c *Config) {
			c.Server.StreamListen = ":27961"
			c.Metrics.Enabled = true
			c.Metrics.Listen = ":27961"
		}, "metrics.listen"},
		{"监控路径相同", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.HealthPath = "/metrics"
		}, "不能相同"},
		{"轮询间隔过小", func(c *Config) { c.Client.PollIntervalMs = 1 }, "poll_interval_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("期望错误包含 %q，实际无错误", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("错误信息不符: got %v, want contains %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStreamCarriers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.StreamListen = ":27961"
	cfg.Server.WebSocketListen = ":27962"
	cfg.Metrics.Enabled = true
	cfg.Client.Transport = TransportWebSocket
	cfg.Client.Server = "ws://127.0.0.1:27962/sync"

	if err := cfg.Validate(); err != nil {
		t.Errorf("合法配置验证失败: %v", err)
	}
}

func TestValidateUDPAndTCPSharePort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.StreamListen = ":27960"

	if err := cfg.Validate(); err != nil {
		t.Errorf("UDP 与 TCP 使用相同端口号应合法: %v", err)
	}

	cfg.Server.WebSocketListen = "0.0.0.0:27960"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "冲突") {
		t.Errorf("两个 TCP 监听使用相同端口应报冲突: %v", err)
	}
}

// =============================================================================
// 加载测试
// =============================================================================

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("部分字段覆盖默认值", func(t *testing.T) {
		path := filepath.Join(dir, "partial.yaml")
		data := `
log_level: DEBUG
server:
  file: /tmp/active.dat
client:
  transport: TCP
net:
  mtu: 512
`
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("加载失败: %v", err)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel 未规范化: %s", cfg.LogLevel)
		}
		if cfg.Client.Transport != TransportTCP {
			t.Errorf("Transport 未规范化: %s", cfg.Client.Transport)
		}
		if cfg.Net.MTU != 512 {
			t.Errorf("MTU 未覆盖: %d", cfg.Net.MTU)
		}
		if cfg.Net.MaxConnections != 128 {
			t.Errorf("未设置的字段应保留默认值: %d", cfg.Net.MaxConnections)
		}
		if cfg.Server.File != "/tmp/active.dat" {
			t.Errorf("Server.File 错误: %s", cfg.Server.File)
		}
	})

	t.Run("非法配置被拦截", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(path, []byte("net:\n  mtu: 9000\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("期望 mtu 越界报错")
		}
	})

	t.Run("YAML 格式错误", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		if err := os.WriteFile(path, []byte("net: [unterminated"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("期望解析错误")
		}
	})

	t.Run("文件不存在", func(t *testing.T) {
		if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
			t.Error("期望读取错误")
		}
	})
}

func TestExampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	if err := WriteExampleConfig(path); err != nil {
		t.Fatalf("写入示例配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("示例配置无法加载: %v", err)
	}
	if cfg.Server.File != "./active.dat" {
		t.Errorf("示例配置 server.file 错误: %s", cfg.Server.File)
	}
}
