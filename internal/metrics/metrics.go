// =============================================================================
// 文件: internal/metrics/metrics.go
// 描述: 会话统计快照 - 由单协程的连接管理器写入，供其他协程并发读取
// =============================================================================
package metrics

import (
	"sync/atomic"
	"time"
)

// SessionStats 连接管理器累计统计
type SessionStats struct {
	Active       int64
	Accepted     uint64
	Rejected     uint64
	Retransmits  uint64
	PacketsIn    uint64
	PacketsOut   uint64
	Dropped      uint64
	ChunksSent   uint64
	ChunksRecved uint64
}

// Snapshot 最近一次统计快照
type Snapshot struct {
	stats     atomic.Pointer[SessionStats]
	updatedAt atomic.Int64
	startTime time.Time
}

// NewSnapshot 创建快照
func NewSnapshot() *Snapshot {
	return &Snapshot{startTime: time.Now()}
}

// Store 写入新快照
func (s *Snapshot) Store(st SessionStats) {
	s.stats.Store(&st)
	s.updatedAt.Store(time.Now().UnixNano())
}

// Load 读取快照，未写入过时返回零值
func (s *Snapshot) Load() SessionStats {
	if p := s.stats.Load(); p != nil {
		return *p
	}
	return SessionStats{}
}

// Age 距上次写入的时长
func (s *Snapshot) Age() time.Duration {
	ts := s.updatedAt.Load()
	if ts == 0 {
		return time.Since(s.startTime)
	}
	return time.Since(time.Unix(0, ts))
}

// Uptime 运行时长
func (s *Snapshot) Uptime() time.Duration {
	return time.Since(s.startTime)
}
