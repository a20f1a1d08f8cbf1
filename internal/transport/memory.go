// =============================================================================
// 文件: internal/transport/memory.go
// 描述: 进程内数据报网络 - 用于本地回环和丢包场景测试
// =============================================================================
package transport

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
)

// ErrAddrInUse 地址已被占用
var ErrAddrInUse = errors.New("transport: 地址已被占用")

// DropFunc 返回 true 时丢弃该数据报
type DropFunc func(from, to netip.AddrPort, b []byte) bool

// MemoryNetwork 进程内网络，并发安全
type MemoryNetwork struct {
	mu      sync.Mutex
	sockets map[netip.AddrPort]*MemorySocket
	drop    DropFunc
}

// NewMemoryNetwork 创建进程内网络
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{sockets: make(map[netip.AddrPort]*MemorySocket)}
}

// SetDrop 设置丢包函数，nil 表示不丢包
func (n *MemoryNetwork) SetDrop(fn DropFunc) {
	n.mu.Lock()
	n.drop = fn
	n.mu.Unlock()
}

// Open 在 addr 上打开套接字
func (n *MemoryNetwork) Open(addr netip.AddrPort) (*MemorySocket, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if IsWildcard(addr) {
		return nil, fmt.Errorf("无效地址: %s", addr)
	}
	if _, ok := n.sockets[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAddrInUse, addr)
	}
	s := &MemorySocket{net: n, local: addr}
	n.sockets[addr] = s
	return s, nil
}

func (n *MemoryNetwork) deliver(from, to netip.AddrPort, b []byte) {
	n.mu.Lock()
	dst, ok := n.sockets[to]
	drop := n.drop
	n.mu.Unlock()

	if !ok || (drop != nil && drop(from, to, b)) {
		return
	}
	dst.push(datagram{from: from, data: append([]byte(nil), b...)})
}

func (n *MemoryNetwork) remove(addr netip.AddrPort) {
	n.mu.Lock()
	delete(n.sockets, addr)
	n.mu.Unlock()
}

type datagram struct {
	from netip.AddrPort
	data []byte
}

// MemorySocket 进程内套接字
type MemorySocket struct {
	net   *MemoryNetwork
	local netip.AddrPort

	mu    sync.Mutex
	queue []datagram
	err   error
}

// LocalAddr 本地地址
func (s *MemorySocket) LocalAddr() netip.AddrPort { return s.local }

// Err 出错状态
func (s *MemorySocket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Fail 模拟传输层故障
func (s *MemorySocket) Fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.net.remove(s.local)
}

// Send 发送数据报，对端不存在时静默丢弃
func (s *MemorySocket) Send(to netip.AddrPort, b []byte) error {
	if err := s.Err(); err != nil {
		return err
	}
	s.net.deliver(s.local, to, b)
	return nil
}

// Receive 非阻塞接收
func (s *MemorySocket) Receive(from *netip.AddrPort, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	for len(s.queue) > 0 {
		d := s.queue[0]
		s.queue = s.queue[1:]
		if len(d.data) == 0 || !accepts(from, d.from) {
			continue
		}
		return copy(buf, d.data), nil
	}
	return 0, nil
}

// Pending 队列中待读取的数据报数
func (s *MemorySocket) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close 关闭套接字
func (s *MemorySocket) Close() error {
	s.Fail(ErrClosed)
	return nil
}

func (s *MemorySocket) push(d datagram) {
	s.mu.Lock()
	if s.err == nil {
		s.queue = append(s.queue, d)
	}
	s.mu.Unlock()
}
