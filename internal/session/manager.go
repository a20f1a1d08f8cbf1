// =============================================================================
// 文件: internal/session/manager.go
// 描述: 连接管理器 - 固定槽位表、握手状态机、保留包重传、tick 驱动
// =============================================================================
package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrcgq/zhc/internal/chunk"
	"github.com/mrcgq/zhc/internal/content"
	"github.com/mrcgq/zhc/internal/metrics"
	"github.com/mrcgq/zhc/internal/protocol"
	"github.com/mrcgq/zhc/internal/replay"
	"github.com/mrcgq/zhc/internal/transport"
)

// Manager 连接管理器
//
// 所有状态只在调用 Tick / Connect / Send 等方法的协程中访问，不加锁。
// Handler 回调在同一协程中同步执行，回调内可以再调用 Send / Disconnect。
type Manager struct {
	// 配置
	cfg     *Config
	sock    transport.Socket
	handler Handler
	log     *logrus.Entry
	metrics *metrics.Metrics
	guard   *replay.Guard
	random  io.Reader

	// 槽位表
	slots []Connection
	index map[netip.AddrPort]int

	buf   []byte
	now   time.Time
	stats Stats
	fault error
}

// Option 管理器选项
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics 设置指标
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithRandom 设置 salt 随机源
func WithRandom(r io.Reader) Option {
	return func(m *Manager) { m.random = r }
}

// NewManager 创建连接管理器
func NewManager(sock transport.Socket, handler Handler, cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxConnections <= 0 {
		return nil, fmt.Errorf("最大连接数无效: %d", cfg.MaxConnections)
	}
	if !chunk.ValidMTU(cfg.MTU) {
		return nil, fmt.Errorf("%w: %d", chunk.ErrInvalidMTU, cfg.MTU)
	}
	if cfg.MaxPacketsPerTick <= 0 {
		cfg.MaxPacketsPerTick = DefaultMaxPacketsPerTick
	}
	if cfg.SlicesPerTick <= 0 {
		cfg.SlicesPerTick = DefaultSlicesPerTick
	}

	m := &Manager{
		cfg:     cfg,
		sock:    sock,
		handler: handler,
		log:     logrus.NewEntry(logrus.StandardLogger()),
		random:  rand.Reader,
		slots:   make([]Connection, cfg.MaxConnections),
		index:   make(map[netip.AddrPort]int, cfg.MaxConnections),
		buf:     make([]byte, protocol.MaxDatagramSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithField("component", "session")
	m.guard = replay.New(cfg.ReplayWindow, uint(cfg.MaxConnections)*16)
	return m, nil
}

// =============================================================================
// 对外操作
// =============================================================================

// LocalAddr 本地地址
func (m *Manager) LocalAddr() netip.AddrPort { return m.sock.LocalAddr() }

// Connect 向 addr 发起连接，已存在连接时直接返回
func (m *Manager) Connect(addr netip.AddrPort, now time.Time) error {
	if m.fault != nil {
		return m.fault
	}
	addr = transport.Normalize(addr)
	if transport.IsWildcard(addr) {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	if _, ok := m.index[addr]; ok {
		return nil
	}

	c, err := m.allocate(addr, now)
	if err != nil {
		m.metrics.Handshake("exhausted")
		return err
	}
	c.initiator = true
	c.state = StateConnecting
	c.localSalt = m.newSalt()

	m.log.Debugf("发起连接: %s", addr)
	return m.sendControl(c, &protocol.Packet{Type: protocol.PacketRequest, Salt: c.localSalt}, now)
}

// Disconnect 断开与 addr 的连接
func (m *Manager) Disconnect(addr netip.AddrPort, now time.Time) error {
	idx, ok := m.index[transport.Normalize(addr)]
	if !ok {
		return ErrNotConnected
	}
	c := &m.slots[idx]
	if c.state == StateConnected {
		_ = m.sendPacket(c, &protocol.Packet{Type: protocol.PacketDisconnect}, now)
	}
	m.teardown(idx, ErrLocalDisconnect)
	return nil
}

// Send 发送应用消息：不超过 MTU 的负载用单个 Payload 包，否则走分块传输
func (m *Manager) Send(addr netip.AddrPort, msgType protocol.MessageType, payload []byte, now time.Time) error {
	c, err := m.connected(addr)
	if err != nil {
		return err
	}
	if len(payload) <= m.cfg.MTU {
		return m.sendPacket(c, &protocol.Packet{Type: protocol.PacketPayload, MsgType: msgType, Payload: payload}, now)
	}
	return m.sendChunked(c, msgType, payload, now)
}

// SendChunked 强制走分块传输，会放弃该连接上未完成的发送分块
func (m *Manager) SendChunked(addr netip.AddrPort, msgType protocol.MessageType, payload []byte, now time.Time) error {
	c, err := m.connected(addr)
	if err != nil {
		return err
	}
	return m.sendChunked(c, msgType, payload, now)
}

// State 连接状态，不存在时为 StateDisconnected
func (m *Manager) State(addr netip.AddrPort) State {
	if idx, ok := m.index[transport.Normalize(addr)]; ok {
		return m.slots[idx].state
	}
	return StateDisconnected
}

// Connection 连接快照
func (m *Manager) Connection(addr netip.AddrPort) (ConnectionInfo, bool) {
	idx, ok := m.index[transport.Normalize(addr)]
	if !ok {
		return ConnectionInfo{}, false
	}
	return m.slots[idx].info(), true
}

// Connections 所有占用槽位的快照
func (m *Manager) Connections() []ConnectionInfo {
	out := make([]ConnectionInfo, 0, len(m.index))
	for i := range m.slots {
		if m.slots[i].used {
			out = append(out, m.slots[i].info())
		}
	}
	return out
}

// Stats 统计信息
func (m *Manager) Stats() Stats {
	s := m.stats
	s.Active = len(m.index)
	return s
}

// Now 当前 Tick 的时间，供 Handler 回调内发送时使用
func (m *Manager) Now() time.Time { return m.now }

// Err 传输层故障，nil 表示正常
func (m *Manager) Err() error { return m.fault }

// Close 向所有已连接对端发送 Disconnect 并释放全部槽位，不关闭套接字
func (m *Manager) Close(now time.Time) {
	for i := range m.slots {
		c := &m.slots[i]
		if !c.used {
			continue
		}
		if c.state == StateConnected && m.fault == nil {
			_ = m.sendPacket(c, &protocol.Packet{Type: protocol.PacketDisconnect}, now)
		}
		m.teardown(i, ErrLocalDisconnect)
	}
}

// Run 按 interval 驱动 Tick，onTick 在每次 Tick 之后调用
func (m *Manager) Run(ctx context.Context, interval time.Duration, onTick func(now time.Time)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Close(time.Now())
			return ctx.Err()
		case now := <-ticker.C:
			if err := m.Tick(now); err != nil {
				return err
			}
			if onTick != nil {
				onTick(now)
			}
		}
	}
}

// Tick 处理一轮输入并推进所有定时器
//
// 先按到达顺序处理最多 MaxPacketsPerTick 个数据报，再处理重传、超时、分块和保活。
// 套接字出错时断开所有连接并返回错误，之后的调用返回同一个错误。
func (m *Manager) Tick(now time.Time) error {
	if m.fault != nil {
		return m.fault
	}
	m.now = now

	for i := 0; i < m.cfg.MaxPacketsPerTick; i++ {
		var from netip.AddrPort
		n, err := m.sock.Receive(&from, m.buf)
		if err != nil {
			return m.socketFault(err)
		}
		if n == 0 {
			break
		}
		m.handleDatagram(transport.Normalize(from), m.buf[:n], now)
		if m.fault != nil {
			return m.fault
		}
	}
	if err := m.sock.Err(); err != nil {
		return m.socketFault(err)
	}

	for i := range m.slots {
		if m.slots[i].used {
			m.update(i, now)
		}
		if m.fault != nil {
			return m.fault
		}
	}
	return nil
}

// =============================================================================
// 输入处理
// =============================================================================

func (m *Manager) handleDatagram(from netip.AddrPort, data []byte, now time.Time) {
	pkt, err := protocol.Decode(data)
	if err != nil {
		m.drop("decode", "来自 %s 的数据包解码失败: %v", from, err)
		return
	}
	m.stats.PacketsIn++
	m.metrics.PacketReceived(pkt.Type.String(), len(data))

	if transport.IsWildcard(from) {
		m.drop("address", "来源地址无效: %s", from)
		return
	}
	// Denied 携带对端版本，由发起方按 salt 校验，不做版本检查
	if pkt.Type != protocol.PacketDenied && !pkt.Version.Compatible(m.cfg.Version) {
		if pkt.Type == protocol.PacketRequest {
			m.deny(from, pkt.Salt, now)
			m.metrics.Handshake("version")
		}
		m.drop("version", "%s 版本不兼容: %s", from, pkt.Version)
		return
	}

	idx, ok := m.index[from]
	if !ok {
		if pkt.Type == protocol.PacketRequest {
			m.accept(from, pkt, now)
			return
		}
		m.drop("unknown_peer", "未知来源 %s 的 %s 包", from, pkt.Type)
		return
	}

	if m.slots[idx].initiator {
		m.handleAsInitiator(idx, pkt, now)
	} else {
		m.handleAsResponder(idx, pkt, now)
	}
}

// accept 未知地址的 Request：分配槽位并回复 Challenge
func (m *Manager) accept(from netip.AddrPort, pkt *protocol.Packet, now time.Time) {
	if m.freeSlot() < 0 {
		m.stats.Rejected++
		m.metrics.Handshake("exhausted")
		m.log.Warnf("连接槽位已满 (%d)，拒绝 %s", len(m.slots), from)
		m.deny(from, pkt.Salt, now)
		return
	}
	if !m.guard.CheckAndMark(pkt.Salt, now) {
		m.stats.Rejected++
		m.metrics.Handshake("replayed")
		m.log.Warnf("拒绝重放的握手请求: %s", from)
		m.deny(from, pkt.Salt, now)
		return
	}

	c, err := m.allocate(from, now)
	if err != nil {
		return
	}
	c.state = StateConnecting
	c.localSalt = pkt.Salt
	c.salt = m.newSalt()

	m.log.Debugf("收到连接请求: %s", from)
	_ = m.sendControl(c, &protocol.Packet{Type: protocol.PacketChallenge, Salt: c.salt}, now)
}

func (m *Manager) handleAsResponder(idx int, pkt *protocol.Packet, now time.Time) {
	c := &m.slots[idx]

	if c.state == StateConnecting {
		switch pkt.Type {
		case protocol.PacketRequest:
			if pkt.Salt == c.localSalt {
				m.retransmit(c, now)
			}
		case protocol.PacketChallengeResponse:
			if pkt.Salt != c.salt {
				m.metrics.Handshake("salt_mismatch")
				m.drop("salt", "%s 的挑战应答 salt 不匹配", c.addr)
				return
			}
			c.lastRecv = now
			m.established(idx, now)
			if c.used {
				_ = m.sendPacket(c, &protocol.Packet{Type: protocol.PacketEmpty}, now)
			}
		default:
			m.drop("state", "%s 握手期间收到 %s 包", c.addr, pkt.Type)
		}
		return
	}

	switch pkt.Type {
	case protocol.PacketChallengeResponse:
		// 欢迎包丢失时对端会重发挑战应答
		if pkt.Salt == c.salt {
			c.lastRecv = now
			_ = m.sendPacket(c, &protocol.Packet{Type: protocol.PacketEmpty}, now)
		}
	case protocol.PacketRequest, protocol.PacketChallenge, protocol.PacketDenied:
		m.drop("state", "%s 已连接，忽略 %s 包", c.addr, pkt.Type)
	default:
		m.handleConnected(idx, pkt, now)
	}
}

func (m *Manager) handleAsInitiator(idx int, pkt *protocol.Packet, now time.Time) {
	c := &m.slots[idx]

	switch pkt.Type {
	case protocol.PacketDenied:
		if c.state == StateConnecting && pkt.Salt == c.localSalt {
			m.metrics.Handshake("denied")
			m.log.Warnf("连接被拒绝: %s", c.addr)
			m.teardown(idx, ErrDenied)
			return
		}
		m.drop("state", "忽略 %s 的 Denied 包", c.addr)

	case protocol.PacketChallenge:
		if c.state != StateConnecting {
			return
		}
		if c.salt != 0 && c.salt != pkt.Salt {
			m.drop("salt", "%s 的挑战 salt 变化", c.addr)
			return
		}
		c.salt = pkt.Salt
		c.lastRecv = now
		_ = m.sendControl(c, &protocol.Packet{Type: protocol.PacketChallengeResponse, Salt: c.salt}, now)

	case protocol.PacketRequest, protocol.PacketChallengeResponse:
		m.drop("state", "发起方收到 %s 包", pkt.Type)

	default:
		if c.state == StateConnecting {
			if c.salt == 0 || pkt.Salt != c.salt {
				m.drop("salt", "%s 握手未完成，忽略 %s 包", c.addr, pkt.Type)
				return
			}
			m.established(idx, now)
			if !c.used {
				return
			}
		}
		m.handleConnected(idx, pkt, now)
	}
}

func (m *Manager) established(idx int, now time.Time) {
	c := &m.slots[idx]
	c.state = StateConnected
	c.release()
	m.stats.Accepted++
	m.metrics.Handshake("accepted")
	m.log.Infof("连接已建立: %s (salt=%016x)", c.addr, c.salt)
	if m.handler != nil {
		m.handler.OnConnected(c.addr)
	}
}

func (m *Manager) handleConnected(idx int, pkt *protocol.Packet, now time.Time) {
	c := &m.slots[idx]
	if !pkt.Type.IsConnected() {
		m.drop("state", "%s 已连接，忽略 %s 包", c.addr, pkt.Type)
		return
	}
	if pkt.Salt != c.salt {
		m.drop("salt", "%s 的 %s 包 salt 不匹配", c.addr, pkt.Type)
		return
	}
	c.lastRecv = now

	switch pkt.Type {
	case protocol.PacketDisconnect:
		m.log.Infof("对端断开连接: %s", c.addr)
		m.teardown(idx, ErrPeerDisconnected)

	case protocol.PacketEmpty:

	case protocol.PacketPayload:
		m.deliver(c, pkt.MsgType, pkt.Payload)

	case protocol.PacketChunk:
		wasActive, prevHash := c.incoming.Active(), c.incoming.Hash()
		payload, complete, err := c.incoming.HandleChunk(pkt.Chunk, pkt.MsgType)
		if err != nil {
			m.drop("chunk", "%s 的分块公告无效: %v", c.addr, err)
			return
		}
		if wasActive && (!c.incoming.Active() || c.incoming.Hash() != prevHash) && !complete {
			m.metrics.Chunk("in", "abandoned")
		}
		if c.incoming.Active() && (!wasActive || c.incoming.Hash() != prevHash) {
			m.metrics.Chunk("in", "started")
		}
		if complete {
			m.chunkReceived(c, pkt.MsgType, payload)
		}

	case protocol.PacketSlice:
		payload, complete, err := c.incoming.HandleSlice(pkt.Slice, pkt.Payload)
		if err != nil {
			m.drop("slice", "%s 的分片无效: %v", c.addr, err)
			return
		}
		if complete {
			m.chunkReceived(c, c.incoming.MsgType(), payload)
		}

	case protocol.PacketAck:
		s := c.outgoing
		if s == nil {
			return
		}
		if s.HandleAck(pkt.Ack, now, m.cfg.RetransmitInterval) {
			m.stats.ChunksSent++
			m.metrics.Chunk("out", "completed")
			m.log.Debugf("分块发送完成: %s hash=%08x slices=%d", c.addr, s.Hash(), s.SliceCount())
			c.outgoing = nil
		}
	}
}

func (m *Manager) chunkReceived(c *Connection, msgType protocol.MessageType, payload []byte) {
	m.stats.ChunksRecved++
	m.metrics.Chunk("in", "completed")
	m.log.Debugf("分块接收完成: %s %s %d 字节", c.addr, msgType, len(payload))
	m.deliver(c, msgType, payload)
}

func (m *Manager) deliver(c *Connection, msgType protocol.MessageType, payload []byte) {
	if m.handler != nil {
		m.handler.OnMessage(c.addr, msgType, payload)
	}
}

// =============================================================================
// 定时处理
// =============================================================================

func (m *Manager) update(idx int, now time.Time) {
	c := &m.slots[idx]

	switch c.state {
	case StateConnecting:
		if now.Sub(c.startedAt) > m.cfg.HandshakeTimeout {
			m.metrics.Handshake("timeout")
			m.log.Warnf("握手超时: %s", c.addr)
			m.teardown(idx, ErrHandshakeTimeout)
			return
		}
		if c.retained != nil && now.Sub(c.retainedAt) >= m.cfg.RetransmitInterval {
			m.retransmit(c, now)
		}

	case StateConnected:
		if now.Sub(c.lastRecv) > m.cfg.IdleTimeout {
			m.log.Warnf("连接空闲超时: %s", c.addr)
			m.teardown(idx, ErrIdleTimeout)
			return
		}

		m.pumpChunk(c, now)
		if !c.used {
			return
		}

		if ack, ok := c.incoming.PendingAck(now, m.cfg.AckInterval); ok {
			if err := m.sendPacket(c, &protocol.Packet{Type: protocol.PacketAck, MsgType: c.incoming.MsgType(), Ack: ack}, now); err != nil {
				return
			}
		}

		if now.Sub(c.lastSend) >= m.cfg.KeepaliveInterval {
			_ = m.sendPacket(c, &protocol.Packet{Type: protocol.PacketEmpty}, now)
		}
	}
}

func (m *Manager) sendChunked(c *Connection, msgType protocol.MessageType, payload []byte, now time.Time) error {
	s, err := chunk.NewSender(content.Hash(payload), msgType, payload, m.cfg.MTU, now)
	if err != nil {
		return err
	}
	if c.outgoing != nil && !c.outgoing.Done() {
		m.metrics.Chunk("out", "abandoned")
		m.log.Debugf("放弃未完成的分块: %s hash=%08x", c.addr, c.outgoing.Hash())
	}
	c.outgoing = s
	m.metrics.Chunk("out", "started")
	m.pumpChunk(c, now)
	return m.fault
}

func (m *Manager) pumpChunk(c *Connection, now time.Time) {
	s := c.outgoing
	if s == nil {
		return
	}
	if s.Expired(now, m.cfg.ChunkTimeout) {
		m.metrics.Chunk("out", "abandoned")
		m.log.Warnf("分块发送超时: %s hash=%08x 未确认 %d/%d", c.addr, s.Hash(), s.Pending(), s.SliceCount())
		c.outgoing = nil
		return
	}

	resentBefore := s.Resent()
	announce, slices := s.Next(now, m.cfg.SlicesPerTick, m.cfg.RetransmitInterval)
	if announce {
		pkt := &protocol.Packet{Type: protocol.PacketChunk, MsgType: s.MsgType(), Chunk: s.Announcement()}
		if err := m.sendPacket(c, pkt, now); err != nil {
			return
		}
	}
	for _, i := range slices {
		pkt := &protocol.Packet{
			Type:    protocol.PacketSlice,
			MsgType: s.MsgType(),
			Slice:   protocol.SliceInfo{Hash: s.Hash(), Index: i},
			Payload: s.Slice(i),
		}
		if err := m.sendPacket(c, pkt, now); err != nil {
			return
		}
	}
	if n := s.Resent() - resentBefore; n > 0 {
		m.stats.Retransmits += uint64(n)
		m.metrics.Retransmit("slice", n)
	}
}

// =============================================================================
// 发送
// =============================================================================

// sendPacket 填充 ID / 版本 / 会话 salt 后发送
func (m *Manager) sendPacket(c *Connection, pkt *protocol.Packet, now time.Time) error {
	if pkt.Type.IsConnected() {
		pkt.Salt = c.salt
	}
	b, err := m.encode(c, pkt)
	if err != nil {
		return err
	}
	return m.transmit(c.addr, b, pkt.Type.String(), c, now)
}

// sendControl 发送握手包并作为保留包等待重传
func (m *Manager) sendControl(c *Connection, pkt *protocol.Packet, now time.Time) error {
	b, err := m.encode(c, pkt)
	if err != nil {
		return err
	}
	c.retain(b, pkt.Type.String(), now)
	return m.transmit(c.addr, b, pkt.Type.String(), c, now)
}

func (m *Manager) retransmit(c *Connection, now time.Time) {
	if c.retained == nil {
		return
	}
	c.retainedAt = now
	m.stats.Retransmits++
	m.metrics.Retransmit("handshake", 1)
	_ = m.transmit(c.addr, c.retained, c.retainedType, c, now)
}

// deny 回复 Denied，不占用槽位
func (m *Manager) deny(to netip.AddrPort, salt uint64, now time.Time) {
	b, err := protocol.Encode(&protocol.Packet{Version: m.cfg.Version, Type: protocol.PacketDenied, Salt: salt})
	if err != nil {
		return
	}
	_ = m.transmit(to, b, protocol.PacketDenied.String(), nil, now)
}

func (m *Manager) encode(c *Connection, pkt *protocol.Packet) ([]byte, error) {
	pkt.ID = c.nextID
	c.nextID++
	pkt.Version = m.cfg.Version
	b, err := protocol.Encode(pkt)
	if err != nil {
		m.metrics.Error("encode")
		return nil, err
	}
	return b, nil
}

func (m *Manager) transmit(to netip.AddrPort, b []byte, typ string, c *Connection, now time.Time) error {
	if m.fault != nil {
		return m.fault
	}
	if err := m.sock.Send(to, b); err != nil {
		return m.socketFault(err)
	}
	if c != nil {
		c.lastSend = now
	}
	m.stats.PacketsOut++
	m.metrics.PacketSent(typ, len(b))
	return nil
}

// =============================================================================
// 槽位管理
// =============================================================================

func (m *Manager) connected(addr netip.AddrPort) (*Connection, error) {
	if m.fault != nil {
		return nil, m.fault
	}
	idx, ok := m.index[transport.Normalize(addr)]
	if !ok || m.slots[idx].state != StateConnected {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	return &m.slots[idx], nil
}

func (m *Manager) freeSlot() int {
	for i := range m.slots {
		if !m.slots[i].used {
			return i
		}
	}
	return -1
}

func (m *Manager) allocate(addr netip.AddrPort, now time.Time) (*Connection, error) {
	idx := m.freeSlot()
	if idx < 0 {
		return nil, ErrSlotsExhausted
	}
	c := &m.slots[idx]
	*c = Connection{
		used:      true,
		addr:      addr,
		state:     StateConnecting,
		startedAt: now,
		lastRecv:  now,
		lastSend:  now,
	}
	m.index[addr] = idx
	m.metrics.ConnectionOpened()
	return c, nil
}

// teardown 释放槽位，丢弃保留包和分块状态，并通知 Handler
func (m *Manager) teardown(idx int, reason error) {
	c := &m.slots[idx]
	if !c.used {
		return
	}
	addr, state := c.addr, c.state
	if c.outgoing != nil && !c.outgoing.Done() {
		m.metrics.Chunk("out", "abandoned")
	}
	if c.incoming.Active() {
		m.metrics.Chunk("in", "abandoned")
	}

	delete(m.index, addr)
	m.slots[idx] = Connection{}
	m.metrics.ConnectionClosed(reasonLabel(reason))
	m.log.Debugf("连接已释放: %s (%s): %v", addr, state, reason)

	if m.handler != nil {
		m.handler.OnDisconnected(addr, reason)
	}
}

func (m *Manager) socketFault(err error) error {
	if m.fault != nil {
		return m.fault
	}
	m.fault = fmt.Errorf("%w: %v", ErrSocketFault, err)
	m.metrics.Error("socket")
	m.log.Errorf("传输层故障，断开所有连接: %v", err)
	for i := range m.slots {
		m.teardown(i, m.fault)
	}
	return m.fault
}

func (m *Manager) drop(kind, format string, args ...interface{}) {
	m.stats.Dropped++
	m.metrics.Error(kind)
	m.log.Debugf(format, args...)
}

func (m *Manager) newSalt() uint64 {
	var b [8]byte
	for {
		if _, err := io.ReadFull(m.random, b[:]); err != nil {
			m.log.Errorf("生成 salt 失败: %v", err)
			return uint64(time.Now().UnixNano()) | 1
		}
		if salt := binary.LittleEndian.Uint64(b[:]); salt != 0 {
			return salt
		}
	}
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrDenied):
		return "denied"
	case errors.Is(err, ErrHandshakeTimeout):
		return "handshake_timeout"
	case errors.Is(err, ErrIdleTimeout):
		return "idle_timeout"
	case errors.Is(err, ErrPeerDisconnected):
		return "peer"
	case errors.Is(err, ErrLocalDisconnect):
		return "local"
	case errors.Is(err, ErrSocketFault):
		return "socket"
	default:
		return "other"
	}
}
