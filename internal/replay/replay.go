// =============================================================================
// 文件: internal/replay/replay.go
// 描述: 握手防重放 - 按时间片轮换的布隆过滤器记录已见过的 Request salt
// =============================================================================

package replay

import (
	"encoding/binary"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	// 布隆过滤器参数
	defaultExpectedItems = 4096   // 每个时间片预期的握手数
	defaultFalsePositive = 0.0001 // 万分之一误报率

	// 窗口被切分成的时间片数
	sliceCount = 6
)

// Stats 统计信息
type Stats struct {
	TotalChecks   uint64
	ReplayBlocked uint64
}

// timeSlice 时间片
type timeSlice struct {
	bloom     *bloom.BloomFilter
	startTime time.Time
}

// Guard 防重放保护器
//
// 由连接管理器在 tick 中调用，时间片按调用时传入的 now 惰性轮换，不启动后台协程。
// 不是并发安全的。
type Guard struct {
	slices        [sliceCount]timeSlice
	current       int
	sliceDuration time.Duration
	expected      uint
	stats         Stats
}

// New 创建保护器，window 为 salt 被记住的最短时长
func New(window time.Duration, expected uint) *Guard {
	if expected == 0 {
		expected = defaultExpectedItems
	}
	d := window / (sliceCount - 1)
	if d <= 0 {
		d = time.Second
	}
	g := &Guard{sliceDuration: d, expected: expected}
	for i := range g.slices {
		g.slices[i].bloom = bloom.NewWithEstimates(expected, defaultFalsePositive)
	}
	return g
}

// CheckAndMark 检查并标记 salt
// 返回 true 表示是新 salt，false 表示重放
func (g *Guard) CheckAndMark(salt uint64, now time.Time) bool {
	g.rotate(now)
	g.stats.TotalChecks++

	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], salt)

	for i := range g.slices {
		if g.slices[i].bloom.Test(key[:]) {
			g.stats.ReplayBlocked++
			return false
		}
	}
	g.slices[g.current].bloom.Add(key[:])
	return true
}

// Stats 返回统计信息
func (g *Guard) Stats() Stats {
	return g.stats
}

func (g *Guard) rotate(now time.Time) {
	cur := &g.slices[g.current]
	if cur.startTime.IsZero() {
		cur.startTime = now
		return
	}

	// 长时间未调用时最多清空全部时间片
	for steps := 0; now.Sub(g.slices[g.current].startTime) >= g.sliceDuration && steps < sliceCount; steps++ {
		next := g.slices[g.current].startTime.Add(g.sliceDuration)
		g.current = (g.current + 1) % sliceCount
		g.slices[g.current].bloom.ClearAll()
		g.slices[g.current].startTime = next
	}
	if now.Sub(g.slices[g.current].startTime) >= g.sliceDuration {
		g.slices[g.current].startTime = now
	}
}
