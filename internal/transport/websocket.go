// =============================================================================
// 文件: internal/transport/websocket.go
// 描述: WebSocket 流式传输 - 每个二进制帧承载一条同步消息
// =============================================================================
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mrcgq/zhc/internal/protocol"
)

// ErrUnexpectedFrame 非二进制帧
var ErrUnexpectedFrame = errors.New("transport: 非二进制 WebSocket 帧")

// =============================================================================
// WebSocket 消息连接
// =============================================================================

type wsMessageConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// NewWebSocketMessageConn 包装 websocket.Conn
func NewWebSocketMessageConn(conn *websocket.Conn) MessageConn {
	conn.SetReadLimit(protocol.MessageHeaderSize + protocol.MaxFileSize)
	return &wsMessageConn{conn: conn}
}

// DialWebSocket 建立 WebSocket 消息连接，url 形如 ws://host:port/path
func DialWebSocket(ctx context.Context, url string) (MessageConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   32 * 1024,
		WriteBufferSize:  32 * 1024,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket 连接 %s 失败: %w", url, err)
	}
	return NewWebSocketMessageConn(conn), nil
}

func (c *wsMessageConn) WriteMessage(m protocol.Message) error {
	buf, err := protocol.EncodeMessage(m)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, buf)
}

func (c *wsMessageConn) ReadMessage() (protocol.Message, error) {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return protocol.Message{}, err
		}
		switch typ {
		case websocket.BinaryMessage:
			return protocol.DecodeMessage(data)
		case websocket.TextMessage:
			return protocol.Message{}, ErrUnexpectedFrame
		}
	}
}

func (c *wsMessageConn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.conn.SetWriteDeadline(t)
}

func (c *wsMessageConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *wsMessageConn) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}

// =============================================================================
// WebSocket 服务器
// =============================================================================

// WebSocketServer WebSocket 服务器
type WebSocketServer struct {
	addr    string
	path    string
	handler ConnHandler
	log     *logrus.Entry

	listener   net.Listener
	httpServer *http.Server
	upgrader   websocket.Upgrader
	conns      sync.Map // *websocket.Conn -> struct{}
	ctx        context.Context
	wg         sync.WaitGroup

	// 统计
	activeConns int64
}

// NewWebSocketServer 创建 WebSocket 服务器
func NewWebSocketServer(addr, path string, handler ConnHandler, log *logrus.Entry) *WebSocketServer {
	if path == "" {
		path = "/ws"
	}
	return &WebSocketServer{
		addr:    addr,
		path:    path,
		handler: handler,
		log:     log.WithField("component", "websocket"),
		ctx:     context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源
			},
		},
	}
}

// Start 启动服务器
func (s *WebSocketServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}
	s.listener = listener
	s.ctx = ctx

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("HTTP 服务器错误: %v", err)
		}
	}()

	s.log.Infof("WebSocket 服务器已启动: %s%s", listener.Addr(), s.path)
	return nil
}

// Addr 实际监听地址
func (s *WebSocketServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleWebSocket 处理 WebSocket 连接
func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugf("WebSocket 升级失败: %v", err)
		return
	}

	atomic.AddInt64(&s.activeConns, 1)
	defer atomic.AddInt64(&s.activeConns, -1)

	s.conns.Store(conn, struct{}{})
	defer s.conns.Delete(conn)

	mc := NewWebSocketMessageConn(conn)
	defer mc.Close()

	s.log.Debugf("新 WebSocket 连接: %s", conn.RemoteAddr())
	s.handler.HandleConn(s.ctx, mc)
}

// GetActiveConns 当前连接数
func (s *WebSocketServer) GetActiveConns() int64 {
	return atomic.LoadInt64(&s.activeConns)
}

// Stop 停止服务器
func (s *WebSocketServer) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.conns.Range(func(key, _ interface{}) bool {
		_ = key.(*websocket.Conn).Close()
		return true
	})
	_ = s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	s.log.Info("WebSocket 服务器已停止")
}
