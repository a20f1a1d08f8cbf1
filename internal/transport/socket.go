// =============================================================================
// 文件: internal/transport/socket.go
// 描述: 数据报传输契约 - 打开/发送/非阻塞接收，通配源地址
// =============================================================================
package transport

import (
	"errors"
	"net/netip"
)

// ErrClosed 套接字已关闭
var ErrClosed = errors.New("transport: 套接字已关闭")

// Socket 数据报套接字
//
// Receive 没有可读数据时返回 0, nil。from 指向通配地址时接受任意来源并回填实际来源，
// 否则只返回来自该地址的数据报，其他来源的数据报被丢弃。
// 任一次发送或接收失败都会把套接字标记为出错并关闭，此后所有调用返回同一个错误，不做隐式重试。
type Socket interface {
	Send(to netip.AddrPort, b []byte) error
	Receive(from *netip.AddrPort, buf []byte) (int, error)
	LocalAddr() netip.AddrPort
	Err() error
	Close() error
}

// IsWildcard 空地址：主机无效/未指定或端口为 0
func IsWildcard(a netip.AddrPort) bool {
	return !a.Addr().IsValid() || a.Addr().IsUnspecified() || a.Port() == 0
}

// Normalize 去掉 IPv4-mapped IPv6 前缀，保证同一对端只有一种表示
func Normalize(a netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(a.Addr().Unmap(), a.Port())
}

// accepts 过滤地址是否接受来源
func accepts(filter *netip.AddrPort, from netip.AddrPort) bool {
	if IsWildcard(*filter) {
		*filter = from
		return true
	}
	return *filter == from
}
