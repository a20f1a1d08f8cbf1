// =============================================================================
// 文件: internal/transport/udp.go
// 描述: UDP 套接字 - 短超时读取实现非阻塞接收，出错即关闭
// =============================================================================
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultPollTimeout 单次接收的最长等待
	DefaultPollTimeout = time.Millisecond

	socketBufferSize = 4 * 1024 * 1024
)

// UDPSocket UDP 数据报套接字
type UDPSocket struct {
	conn        *net.UDPConn
	local       netip.AddrPort
	pollTimeout time.Duration
	err         error
	log         *logrus.Entry
}

// OpenUDP 绑定本地地址，":0" 表示任意端口
func OpenUDP(addr string, pollTimeout time.Duration, log *logrus.Entry) (*UDPSocket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("解析地址失败: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("监听失败: %w", err)
	}

	// 设置缓冲区，失败不影响使用
	_ = conn.SetReadBuffer(socketBufferSize)
	_ = conn.SetWriteBuffer(socketBufferSize)

	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	s := &UDPSocket{
		conn:        conn,
		local:       Normalize(conn.LocalAddr().(*net.UDPAddr).AddrPort()),
		pollTimeout: pollTimeout,
		log:         log.WithField("component", "udp"),
	}
	s.log.Debugf("UDP 套接字已打开: %s", s.local)
	return s, nil
}

// LocalAddr 本地地址
func (s *UDPSocket) LocalAddr() netip.AddrPort { return s.local }

// Err 出错状态
func (s *UDPSocket) Err() error { return s.err }

// Send 发送数据报
func (s *UDPSocket) Send(to netip.AddrPort, b []byte) error {
	if s.err != nil {
		return s.err
	}
	if _, err := s.conn.WriteToUDPAddrPort(b, to); err != nil {
		return s.fail(fmt.Errorf("发送到 %s 失败: %w", to, err))
	}
	return nil
}

// Receive 非阻塞接收
func (s *UDPSocket) Receive(from *netip.AddrPort, buf []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.pollTimeout)); err != nil {
			return 0, s.fail(err)
		}
		n, src, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return 0, nil
			}
			return 0, s.fail(fmt.Errorf("接收失败: %w", err))
		}
		// 空数据报与"无数据"无法区分，直接跳过
		if n == 0 {
			s.log.Debugf("丢弃空数据报: %s", src)
			continue
		}
		if accepts(from, Normalize(src)) {
			return n, nil
		}
		s.log.Debugf("丢弃非目标来源数据报: %s", src)
	}
}

// Close 关闭套接字
func (s *UDPSocket) Close() error {
	if s.err == nil {
		s.err = ErrClosed
	}
	return s.conn.Close()
}

func (s *UDPSocket) fail(err error) error {
	s.err = err
	s.log.Errorf("UDP 套接字出错: %v", err)
	_ = s.conn.Close()
	return err
}
