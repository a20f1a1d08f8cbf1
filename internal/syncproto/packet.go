// =============================================================================
// 文件: internal/syncproto/packet.go
// 描述: 数据包载体 - 同步协议跑在连接管理器之上，大负载走分块传输
// =============================================================================
package syncproto

import (
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrcgq/zhc/internal/protocol"
	"github.com/mrcgq/zhc/internal/session"
	"github.com/mrcgq/zhc/internal/transport"
)

// DefaultReconnectInterval 断线后重连间隔
const DefaultReconnectInterval = time.Second

// =============================================================================
// 服务端
// =============================================================================

// PacketServer 作为 session.Handler 应答同步请求
type PacketServer struct {
	server *Server
	mgr    *session.Manager
	log    *logrus.Entry
}

// NewPacketServer 创建数据包载体服务端，使用前需调用 Attach
func NewPacketServer(server *Server, log *logrus.Entry) *PacketServer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PacketServer{server: server, log: log.WithField("component", "sync-udp")}
}

// Attach 绑定连接管理器
func (p *PacketServer) Attach(mgr *session.Manager) { p.mgr = mgr }

// OnConnected 实现 session.Handler
func (p *PacketServer) OnConnected(addr netip.AddrPort) {
	p.log.Infof("客户端已连接: %s", addr)
}

// OnDisconnected 实现 session.Handler
func (p *PacketServer) OnDisconnected(addr netip.AddrPort, reason error) {
	p.log.Infof("客户端断开: %s: %v", addr, reason)
}

// OnMessage 实现 session.Handler
func (p *PacketServer) OnMessage(addr netip.AddrPort, msgType protocol.MessageType, payload []byte) {
	resp, ok := p.server.Handle(protocol.NewMessage(msgType, payload))
	if !ok || p.mgr == nil {
		return
	}
	if err := p.mgr.Send(addr, resp.Type, resp.Payload, p.mgr.Now()); err != nil {
		p.log.Warnf("向 %s 发送 %s 失败: %v", addr, resp.Type, err)
	}
}

// =============================================================================
// 客户端
// =============================================================================

// PacketClient 作为 session.Handler 驱动 Mirror，断线后自动重连
type PacketClient struct {
	mirror    *Mirror
	mgr       *session.Manager
	server    netip.AddrPort
	reconnect time.Duration
	nextDial  time.Time
	log       *logrus.Entry
}

// NewPacketClient 创建数据包载体客户端，使用前需调用 Attach
func NewPacketClient(server netip.AddrPort, mirror *Mirror, log *logrus.Entry) *PacketClient {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PacketClient{
		mirror:    mirror,
		server:    transport.Normalize(server),
		reconnect: DefaultReconnectInterval,
		log:       log.WithField("component", "sync-udp"),
	}
}

// Attach 绑定连接管理器
func (p *PacketClient) Attach(mgr *session.Manager) { p.mgr = mgr }

// SetReconnectInterval 设置重连间隔
func (p *PacketClient) SetReconnectInterval(d time.Duration) { p.reconnect = d }

// Connected 是否已连接
func (p *PacketClient) Connected() bool {
	return p.mgr != nil && p.mgr.State(p.server) == session.StateConnected
}

// Tick 在每次 Manager.Tick 之后调用：未连接时发起连接，已连接时按间隔轮询
func (p *PacketClient) Tick(now time.Time) {
	if p.mgr == nil {
		return
	}

	switch p.mgr.State(p.server) {
	case session.StateDisconnected:
		if now.Before(p.nextDial) {
			return
		}
		p.nextDial = now.Add(p.reconnect)
		if err := p.mgr.Connect(p.server, now); err != nil {
			p.log.Warnf("连接 %s 失败: %v", p.server, err)
		}

	case session.StateConnected:
		req, ok := p.mirror.Poll(now)
		if !ok {
			return
		}
		p.send(req, now)
	}
}

// OnConnected 实现 session.Handler
func (p *PacketClient) OnConnected(addr netip.AddrPort) {
	if addr != p.server {
		return
	}
	p.log.Infof("已连接服务端: %s", addr)
	p.mirror.Reset()
}

// OnDisconnected 实现 session.Handler
func (p *PacketClient) OnDisconnected(addr netip.AddrPort, reason error) {
	if addr != p.server {
		return
	}
	p.log.Warnf("与服务端断开: %v", reason)
}

// OnMessage 实现 session.Handler
func (p *PacketClient) OnMessage(addr netip.AddrPort, msgType protocol.MessageType, payload []byte) {
	if addr != p.server {
		return
	}
	next, ok, err := p.mirror.Handle(protocol.NewMessage(msgType, payload))
	if err != nil {
		p.log.Warnf("处理 %s 失败: %v", msgType, err)
		return
	}
	if ok {
		p.send(next, p.mgr.Now())
	}
}

func (p *PacketClient) send(m protocol.Message, now time.Time) {
	if err := p.mgr.Send(p.server, m.Type, m.Payload, now); err != nil {
		p.log.Warnf("发送 %s 失败: %v", m.Type, err)
	}
}
