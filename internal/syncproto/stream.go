// =============================================================================
// 文件: internal/syncproto/stream.go
// 描述: 流载体 - TCP / WebSocket 上的消息头 + 负载请求应答
// =============================================================================
package syncproto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mrcgq/zhc/internal/protocol"
	"github.com/mrcgq/zhc/internal/transport"
)

const (
	// DefaultRequestTimeout 单次请求应答超时
	DefaultRequestTimeout = 5 * time.Second

	// DefaultStreamIdleTimeout 服务端等待下一条请求的时间
	DefaultStreamIdleTimeout = 60 * time.Second
)

// =============================================================================
// 服务端
// =============================================================================

// StreamHandler 实现 transport.ConnHandler
type StreamHandler struct {
	server      *Server
	idleTimeout time.Duration
	log         *logrus.Entry
}

// NewStreamHandler 创建流载体处理器
func NewStreamHandler(server *Server, log *logrus.Entry) *StreamHandler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &StreamHandler{
		server:      server,
		idleTimeout: DefaultStreamIdleTimeout,
		log:         log.WithField("component", "sync-stream"),
	}
}

// HandleConn 逐条读取请求并同步应答，直到连接关闭或出错
func (h *StreamHandler) HandleConn(ctx context.Context, conn transport.MessageConn) {
	remote := conn.RemoteAddr()
	h.log.Debugf("流连接: %s", remote)

	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetDeadline(time.Now().Add(h.idleTimeout))

		req, err := conn.ReadMessage()
		if errors.Is(err, protocol.ErrUnknownMessageType) {
			h.log.Debugf("%s: %v", remote, err)
			continue
		}
		if err != nil {
			if isClosed(err) {
				h.log.Debugf("流连接关闭: %s", remote)
			} else {
				h.log.Warnf("读取 %s 失败: %v", remote, err)
			}
			return
		}

		resp, ok := h.server.Handle(req)
		if !ok {
			continue
		}
		if err := conn.WriteMessage(resp); err != nil {
			h.log.Warnf("写入 %s 失败: %v", remote, err)
			return
		}
	}
}

// =============================================================================
// 客户端
// =============================================================================

// Dialer 建立流连接
type Dialer func(ctx context.Context) (transport.MessageConn, error)

// TCPDialer TCP 载体
func TCPDialer(addr string) Dialer {
	return func(ctx context.Context) (transport.MessageConn, error) {
		return transport.DialTCP(ctx, addr)
	}
}

// WebSocketDialer WebSocket 载体
func WebSocketDialer(url string) Dialer {
	return func(ctx context.Context) (transport.MessageConn, error) {
		return transport.DialWebSocket(ctx, url)
	}
}

// StreamClient 流载体客户端
//
// 连接懒建立并复用，出错后关闭，下一次 Sync 重新拨号。
// 并发的 Sync 调用合并为一次交换。
type StreamClient struct {
	dial    Dialer
	mirror  *Mirror
	timeout time.Duration
	log     *logrus.Entry

	group singleflight.Group

	mu   sync.Mutex
	conn transport.MessageConn
}

// NewStreamClient 创建流载体客户端
func NewStreamClient(dial Dialer, mirror *Mirror, timeout time.Duration, log *logrus.Entry) *StreamClient {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &StreamClient{
		dial:    dial,
		mirror:  mirror,
		timeout: timeout,
		log:     log.WithField("component", "sync-stream"),
	}
}

// Sync 执行一次哈希比对，必要时拉取内容
func (c *StreamClient) Sync(ctx context.Context) error {
	_, err, shared := c.group.Do("sync", func() (interface{}, error) {
		return nil, c.sync(ctx)
	})
	if shared {
		c.log.Debug("合并并发的同步请求")
	}
	return err
}

// Run 立即同步一次，之后按 Mirror 的轮询间隔同步，直到 ctx 结束
func (c *StreamClient) Run(ctx context.Context) error {
	defer c.Close()

	ticker := time.NewTicker(c.mirror.Interval())
	defer ticker.Stop()

	for {
		if err := c.Sync(ctx); err != nil && ctx.Err() == nil {
			c.log.Warnf("同步失败: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 关闭当前连接
func (c *StreamClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *StreamClient) sync(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	req := c.mirror.HashRequest()
	for {
		resp, err := c.exchange(ctx, conn, req)
		if err != nil {
			c.drop(conn)
			return err
		}
		next, ok, err := c.mirror.Handle(resp)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		req = next
	}
}

func (c *StreamClient) connect(ctx context.Context) (transport.MessageConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := c.dial(dctx)
	if err != nil {
		return nil, fmt.Errorf("连接服务端失败: %w", err)
	}
	c.log.Debugf("已连接服务端: %s", conn.RemoteAddr())
	c.conn = conn
	return conn, nil
}

// exchange 发送请求并读取应答，跳过未知类型的消息
func (c *StreamClient) exchange(ctx context.Context, conn transport.MessageConn, req protocol.Message) (protocol.Message, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return protocol.Message{}, err
	}

	// ctx 取消时通过过期的 deadline 打断阻塞读写
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := conn.WriteMessage(req); err != nil {
		return protocol.Message{}, fmt.Errorf("发送 %s 失败: %w", req.Type, err)
	}
	for {
		resp, err := conn.ReadMessage()
		if errors.Is(err, protocol.ErrUnknownMessageType) {
			c.log.Debugf("忽略未知消息: %v", err)
			continue
		}
		if err != nil {
			return protocol.Message{}, fmt.Errorf("读取应答失败: %w", err)
		}
		return resp, nil
	}
}

func (c *StreamClient) drop(conn transport.MessageConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}
