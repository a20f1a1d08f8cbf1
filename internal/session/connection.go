// =============================================================================
// 文件: internal/session/connection.go
// 描述: 连接槽位 - 单个对端的握手状态、保留包和分块收发状态
// =============================================================================
package session

import (
	"net/netip"
	"time"

	"github.com/mrcgq/zhc/internal/chunk"
)

// Connection 连接槽位
type Connection struct {
	used      bool
	addr      netip.AddrPort
	state     State
	initiator bool

	// localSalt 发起方 Request 使用的 salt，salt 为握手确定的会话 salt
	localSalt uint64
	salt      uint64

	// 最近一个未确认的控制包（已编码），握手完成后释放
	retained     []byte
	retainedType string
	retainedAt   time.Time

	startedAt time.Time
	lastRecv  time.Time
	lastSend  time.Time
	nextID    uint32

	outgoing *chunk.Sender
	incoming chunk.Receiver
}

// ConnectionInfo 连接快照
type ConnectionInfo struct {
	Addr      netip.AddrPort
	State     State
	Salt      uint64
	Initiator bool
	Since     time.Time
	LastRecv  time.Time
	Sending   bool
	Receiving bool
}

func (c *Connection) info() ConnectionInfo {
	return ConnectionInfo{
		Addr:      c.addr,
		State:     c.state,
		Salt:      c.salt,
		Initiator: c.initiator,
		Since:     c.startedAt,
		LastRecv:  c.lastRecv,
		Sending:   c.outgoing != nil,
		Receiving: c.incoming.Active(),
	}
}

func (c *Connection) retain(b []byte, typ string, now time.Time) {
	c.retained = b
	c.retainedType = typ
	c.retainedAt = now
}

func (c *Connection) release() {
	c.retained = nil
	c.retainedType = ""
}
