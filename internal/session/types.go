// =============================================================================
// 文件: internal/session/types.go
// 描述: 连接管理 - 状态、配置、回调接口与错误定义
// =============================================================================
package session

import (
	"errors"
	"net/netip"
	"time"

	"github.com/mrcgq/zhc/internal/protocol"
)

// 默认参数
const (
	DefaultMaxConnections     = 128
	DefaultRetransmitInterval = 100 * time.Millisecond
	DefaultHandshakeTimeout   = 5 * time.Second
	DefaultIdleTimeout        = 10 * time.Second
	DefaultKeepaliveInterval  = time.Second
	DefaultChunkTimeout       = 10 * time.Second
	DefaultAckInterval        = 50 * time.Millisecond
	DefaultSlicesPerTick      = 32
	DefaultMaxPacketsPerTick  = 256
	DefaultReplayWindow       = 60 * time.Second
)

var (
	ErrSlotsExhausted   = errors.New("session: 连接槽位已满")
	ErrNotConnected     = errors.New("session: 连接未建立")
	ErrInvalidAddress   = errors.New("session: 无效地址")
	ErrDenied           = errors.New("session: 对端拒绝连接")
	ErrHandshakeTimeout = errors.New("session: 握手超时")
	ErrIdleTimeout      = errors.New("session: 连接空闲超时")
	ErrPeerDisconnected = errors.New("session: 对端断开连接")
	ErrLocalDisconnect  = errors.New("session: 本端主动断开")
	ErrSocketFault      = errors.New("session: 传输层故障")
)

// State 连接状态
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	names := []string{"DISCONNECTED", "CONNECTING", "CONNECTED"}
	if int(s) < len(names) {
		return names[s]
	}
	return "UNKNOWN"
}

// Config 连接管理配置
type Config struct {
	MaxConnections     int
	MTU                int
	Version            protocol.Version
	RetransmitInterval time.Duration
	HandshakeTimeout   time.Duration
	IdleTimeout        time.Duration
	KeepaliveInterval  time.Duration
	ChunkTimeout       time.Duration
	AckInterval        time.Duration
	SlicesPerTick      int
	MaxPacketsPerTick  int
	ReplayWindow       time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:     DefaultMaxConnections,
		MTU:                protocol.DefaultMTU,
		Version:            protocol.CurrentVersion,
		RetransmitInterval: DefaultRetransmitInterval,
		HandshakeTimeout:   DefaultHandshakeTimeout,
		IdleTimeout:        DefaultIdleTimeout,
		KeepaliveInterval:  DefaultKeepaliveInterval,
		ChunkTimeout:       DefaultChunkTimeout,
		AckInterval:        DefaultAckInterval,
		SlicesPerTick:      DefaultSlicesPerTick,
		MaxPacketsPerTick:  DefaultMaxPacketsPerTick,
		ReplayWindow:       DefaultReplayWindow,
	}
}

// Handler 连接事件回调，在 Tick 所在协程中同步调用
type Handler interface {
	OnConnected(addr netip.AddrPort)
	OnDisconnected(addr netip.AddrPort, reason error)
	OnMessage(addr netip.AddrPort, msgType protocol.MessageType, payload []byte)
}

// Stats 统计信息
type Stats struct {
	Active       int
	Accepted     uint64
	Rejected     uint64
	Retransmits  uint64
	PacketsIn    uint64
	PacketsOut   uint64
	Dropped      uint64
	ChunksSent   uint64
	ChunksRecved uint64
}
