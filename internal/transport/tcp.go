// =============================================================================
// 文件: internal/transport/tcp.go
// 描述: TCP 流式传输 - 消息帧连接、拨号与服务器
// =============================================================================
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrcgq/zhc/internal/protocol"
)

const (
	// 读写超时
	ReadTimeout  = 5 * time.Minute
	WriteTimeout = 30 * time.Second
)

// MessageConn 以同步消息为单位收发的连接
type MessageConn interface {
	WriteMessage(m protocol.Message) error
	ReadMessage() (protocol.Message, error)
	SetDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// ConnHandler 流式连接处理接口
type ConnHandler interface {
	HandleConn(ctx context.Context, conn MessageConn)
}

// =============================================================================
// TCP 消息连接
// =============================================================================

type tcpMessageConn struct {
	conn net.Conn
	r    *bufio.Reader
	wmu  sync.Mutex
}

// NewTCPMessageConn 包装 net.Conn
func NewTCPMessageConn(conn net.Conn) MessageConn {
	return &tcpMessageConn{conn: conn, r: bufio.NewReaderSize(conn, 64*1024)}
}

// DialTCP 建立 TCP 消息连接
func DialTCP(ctx context.Context, addr string) (MessageConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return NewTCPMessageConn(conn), nil
}

func (c *tcpMessageConn) WriteMessage(m protocol.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.WriteMessage(c.conn, m)
}

func (c *tcpMessageConn) ReadMessage() (protocol.Message, error) {
	return protocol.ReadMessage(c.r)
}

func (c *tcpMessageConn) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }
func (c *tcpMessageConn) RemoteAddr() string            { return c.conn.RemoteAddr().String() }
func (c *tcpMessageConn) Close() error                  { return c.conn.Close() }

// =============================================================================
// TCP 服务器
// =============================================================================

// TCPServer TCP 服务器
type TCPServer struct {
	addr     string
	listener net.Listener
	handler  ConnHandler
	log      *logrus.Entry

	// 连接管理
	conns  sync.Map // net.Conn -> struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTCPServer 创建 TCP 服务器
func NewTCPServer(addr string, handler ConnHandler, log *logrus.Entry) *TCPServer {
	return &TCPServer{
		addr:    addr,
		handler: handler,
		log:     log.WithField("component", "tcp"),
		stopCh:  make(chan struct{}),
	}
}

// Start 启动服务器
func (s *TCPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	s.log.Infof("TCP 服务器已启动: %s", listener.Addr())
	return nil
}

// Addr 实际监听地址
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// acceptLoop 接受连接循环
func (s *TCPServer) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Debugf("Accept 错误: %v", err)
			continue
		}

		s.conns.Store(conn, struct{}{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.conns.Delete(conn)
			defer conn.Close()

			if tc, ok := conn.(*net.TCPConn); ok {
				_ = tc.SetNoDelay(true)
			}
			s.log.Debugf("新连接: %s", conn.RemoteAddr())
			s.handler.HandleConn(ctx, NewTCPMessageConn(conn))
		}()
	}
}

// Stop 停止服务器并等待所有连接退出
func (s *TCPServer) Stop() {
	select {
	case <-s.stopCh:
		return
	default:
		close(s.stopCh)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.conns.Range(func(key, _ interface{}) bool {
		_ = key.(net.Conn).Close()
		return true
	})
	s.wg.Wait()
	s.log.Info("TCP 服务器已停止")
}
