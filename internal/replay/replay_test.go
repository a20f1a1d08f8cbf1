// =============================================================================
// 文件: internal/replay/replay_test.go
// =============================================================================

package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndMark(t *testing.T) {
	g := New(10*time.Second, 0)
	now := time.Unix(1700000000, 0)

	assert.True(t, g.CheckAndMark(1, now))
	assert.True(t, g.CheckAndMark(2, now))
	assert.False(t, g.CheckAndMark(1, now), "重复 salt 应被拦截")

	stats := g.Stats()
	assert.Equal(t, uint64(3), stats.TotalChecks)
	assert.Equal(t, uint64(1), stats.ReplayBlocked)
}

func TestWindowExpiry(t *testing.T) {
	window := 10 * time.Second
	g := New(window, 0)
	now := time.Unix(1700000000, 0)

	assert.True(t, g.CheckAndMark(42, now))
	assert.False(t, g.CheckAndMark(42, now.Add(window-time.Second)), "窗口内仍应记住")

	// 所有时间片轮换一遍之后被遗忘
	later := now.Add(window + 3*g.sliceDuration)
	assert.True(t, g.CheckAndMark(42, later))
}

func TestLongIdleClearsAll(t *testing.T) {
	g := New(5*time.Second, 0)
	now := time.Unix(1700000000, 0)
	for i := uint64(0); i < 100; i++ {
		g.CheckAndMark(i, now)
	}
	later := now.Add(time.Hour)
	for i := uint64(0); i < 100; i++ {
		assert.True(t, g.CheckAndMark(i, later))
	}
}
