// =============================================================================
// 文件: internal/transport/transport_test.go
// 描述: 传输层测试 - 内存网络、UDP 回环、TCP/WebSocket 消息连接
// =============================================================================
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcgq/zhc/internal/protocol"
)

func nullEntry() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

var (
	addrA = netip.MustParseAddrPort("10.0.0.1:1000")
	addrB = netip.MustParseAddrPort("10.0.0.2:2000")
	addrC = netip.MustParseAddrPort("10.0.0.3:3000")
)

func TestIsWildcard(t *testing.T) {
	assert.True(t, IsWildcard(netip.AddrPort{}))
	assert.True(t, IsWildcard(netip.MustParseAddrPort("0.0.0.0:1000")))
	assert.True(t, IsWildcard(netip.MustParseAddrPort("10.0.0.1:0")))
	assert.False(t, IsWildcard(addrA))

	mapped := netip.MustParseAddrPort("[::ffff:10.0.0.1]:1000")
	assert.Equal(t, addrA, Normalize(mapped))
}

func TestMemorySocket(t *testing.T) {
	n := NewMemoryNetwork()
	a, err := n.Open(addrA)
	require.NoError(t, err)
	b, err := n.Open(addrB)
	require.NoError(t, err)
	c, err := n.Open(addrC)
	require.NoError(t, err)

	_, err = n.Open(addrA)
	assert.True(t, errors.Is(err, ErrAddrInUse))

	buf := make([]byte, 64)

	t.Run("无数据", func(t *testing.T) {
		var from netip.AddrPort
		got, err := b.Receive(&from, buf)
		require.NoError(t, err)
		assert.Equal(t, 0, got)
	})

	t.Run("通配来源", func(t *testing.T) {
		require.NoError(t, a.Send(addrB, []byte("hi")))
		var from netip.AddrPort
		got, err := b.Receive(&from, buf)
		require.NoError(t, err)
		assert.Equal(t, "hi", string(buf[:got]))
		assert.Equal(t, addrA, from)
	})

	t.Run("过滤来源", func(t *testing.T) {
		require.NoError(t, c.Send(addrB, []byte("from-c")))
		require.NoError(t, a.Send(addrB, []byte("from-a")))
		from := addrA
		got, err := b.Receive(&from, buf)
		require.NoError(t, err)
		assert.Equal(t, "from-a", string(buf[:got]))
		assert.Equal(t, 0, b.Pending())
	})

	t.Run("丢包", func(t *testing.T) {
		n.SetDrop(func(from, to netip.AddrPort, b []byte) bool { return true })
		require.NoError(t, a.Send(addrB, []byte("lost")))
		assert.Equal(t, 0, b.Pending())
		n.SetDrop(nil)
	})

	t.Run("故障后持续报错", func(t *testing.T) {
		boom := errors.New("boom")
		a.Fail(boom)
		assert.ErrorIs(t, a.Send(addrB, []byte("x")), boom)
		var from netip.AddrPort
		_, err := a.Receive(&from, buf)
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, a.Err(), boom)
	})
}

func TestUDPLoopback(t *testing.T) {
	a, err := OpenUDP("127.0.0.1:0", 5*time.Millisecond, nullEntry())
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenUDP("127.0.0.1:0", 5*time.Millisecond, nullEntry())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send(b.LocalAddr(), []byte("ping")))

	buf := make([]byte, 64)
	var from netip.AddrPort
	var n int
	deadline := time.Now().Add(2 * time.Second)
	for n == 0 && time.Now().Before(deadline) {
		n, err = b.Receive(&from, buf)
		require.NoError(t, err)
	}
	assert.Equal(t, "ping", string(buf[:n]))
	assert.Equal(t, a.LocalAddr(), from)

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(b.LocalAddr(), []byte("x")), ErrClosed)
}

func TestEmptyDatagramSkipped(t *testing.T) {
	t.Run("UDP", func(t *testing.T) {
		a, err := OpenUDP("127.0.0.1:0", 5*time.Millisecond, nullEntry())
		require.NoError(t, err)
		defer a.Close()
		b, err := OpenUDP("127.0.0.1:0", 5*time.Millisecond, nullEntry())
		require.NoError(t, err)
		defer b.Close()

		require.NoError(t, a.Send(b.LocalAddr(), nil))
		require.NoError(t, a.Send(b.LocalAddr(), []byte("pong")))
		time.Sleep(100 * time.Millisecond)

		// 两个数据报都已到达，一次 Receive 应越过空数据报
		buf := make([]byte, 64)
		var from netip.AddrPort
		n, err := b.Receive(&from, buf)
		require.NoError(t, err)
		assert.Equal(t, "pong", string(buf[:n]))
	})

	t.Run("Memory", func(t *testing.T) {
		mn := NewMemoryNetwork()
		a, err := mn.Open(netip.MustParseAddrPort("10.0.0.1:1"))
		require.NoError(t, err)
		b, err := mn.Open(netip.MustParseAddrPort("10.0.0.2:2"))
		require.NoError(t, err)

		require.NoError(t, a.Send(b.LocalAddr(), []byte{}))
		require.NoError(t, a.Send(b.LocalAddr(), []byte("pong")))

		buf := make([]byte, 64)
		var from netip.AddrPort
		n, err := b.Receive(&from, buf)
		require.NoError(t, err)
		assert.Equal(t, "pong", string(buf[:n]))
		assert.Equal(t, a.LocalAddr(), from)
	})
}

type echoHandler struct{}

func (echoHandler) HandleConn(ctx context.Context, conn MessageConn) {
	for {
		m, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(m); err != nil {
			return
		}
	}
}

func TestTCPMessageConn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewTCPServer("127.0.0.1:0", echoHandler{}, nullEntry())
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop()

	conn, err := DialTCP(ctx, srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	want := protocol.NewMessage(protocol.MsgDataRes, []byte("payload"))
	require.NoError(t, conn.WriteMessage(want))
	got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWebSocketMessageConn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewWebSocketServer("127.0.0.1:0", "/sync", echoHandler{}, nullEntry())
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop()

	conn, err := DialWebSocket(ctx, fmt.Sprintf("ws://%s/sync", srv.Addr()))
	require.NoError(t, err)
	defer conn.Close()

	want := protocol.NewMessage(protocol.MsgHashRes, protocol.HashPayload(0xDEADBEEF))
	require.NoError(t, conn.WriteMessage(want))
	got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
