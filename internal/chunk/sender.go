// =============================================================================
// 文件: internal/chunk/sender.go
// 描述: 分块发送端 - 公告、分片首轮发送、按确认位图选择性重传
// =============================================================================

package chunk

import (
	"fmt"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/mrcgq/zhc/internal/protocol"
)

// Sender 单个分块的发送状态
//
// 持有负载的拷贝直到对端确认全部分片或传输被放弃。
type Sender struct {
	hash     uint32
	msgType  protocol.MessageType
	data     []byte
	mtu      int
	count    uint32
	lastSize uint32

	acked    *bitset.BitSet
	queued   *bitset.BitSet
	queue    []uint32
	lastSent []time.Time

	announce     bool
	resent       int
	startedAt    time.Time
	lastProgress time.Time
	done         bool
}

// NewSender 创建发送端，第一个发出的单元总是分块公告
func NewSender(hash uint32, msgType protocol.MessageType, payload []byte, mtu int, now time.Time) (*Sender, error) {
	if !ValidMTU(mtu) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMTU, mtu)
	}
	if len(payload) > protocol.MaxFileSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(payload), protocol.MaxFileSize)
	}

	count := uint32(SliceCount(len(payload), mtu))
	s := &Sender{
		hash:         hash,
		msgType:      msgType,
		data:         append([]byte(nil), payload...),
		mtu:          mtu,
		count:        count,
		lastSize:     uint32(LastSliceSize(len(payload), mtu)),
		acked:        bitset.New(uint(count)),
		queued:       bitset.New(uint(count)),
		queue:        make([]uint32, 0, count),
		lastSent:     make([]time.Time, count),
		announce:     true,
		startedAt:    now,
		lastProgress: now,
	}
	for i := uint32(0); i < count; i++ {
		s.enqueue(i)
	}
	return s, nil
}

// Hash 分块哈希
func (s *Sender) Hash() uint32 { return s.hash }

// MsgType 负载的消息类型
func (s *Sender) MsgType() protocol.MessageType { return s.msgType }

// SliceCount 分片总数
func (s *Sender) SliceCount() uint32 { return s.count }

// Done 对端已确认全部分片
func (s *Sender) Done() bool { return s.done }

// Announcement 分块公告
func (s *Sender) Announcement() protocol.ChunkInfo {
	return protocol.ChunkInfo{Hash: s.hash, SliceCount: s.count, LastSliceSize: s.lastSize}
}

// Slice 第 i 片的内容
func (s *Sender) Slice(i uint32) []byte {
	start := int(i) * s.mtu
	end := start + s.mtu
	if i == s.count-1 {
		end = start + int(s.lastSize)
	}
	return s.data[start:end]
}

// Next 返回本次应发送的内容：是否发送公告，以及至多 budget 个分片索引
//
// 超过 resendAfter 没有任何进展时，重新公告并把所有未确认分片重新排队。
func (s *Sender) Next(now time.Time, budget int, resendAfter time.Duration) (announce bool, slices []uint32) {
	if s.done {
		return false, nil
	}

	if len(s.queue) == 0 && now.Sub(s.lastProgress) >= resendAfter {
		s.announce = true
		s.requeueUnacked(now, 0)
		s.lastProgress = now
	}

	announce = s.announce
	s.announce = false

	for len(s.queue) > 0 && len(slices) < budget {
		i := s.queue[0]
		s.queue = s.queue[1:]
		s.queued.Clear(uint(i))
		if s.acked.Test(uint(i)) {
			continue
		}
		if !s.lastSent[i].IsZero() {
			s.resent++
		}
		s.lastSent[i] = now
		slices = append(slices, i)
	}
	return announce, slices
}

// HandleAck 合并对端位图，返回是否全部确认
//
// 哈希或分片数不符的确认被忽略。未确认且距上次发送超过 resendAfter 的分片重新排队。
func (s *Sender) HandleAck(ack protocol.AckInfo, now time.Time, resendAfter time.Duration) bool {
	if s.done || ack.Hash != s.hash || ack.SliceCount != s.count {
		return s.done
	}

	before := s.acked.Count()
	s.acked.InPlaceUnion(fromWords(ack.Bitmap, s.count))
	if s.acked.Count() != before || s.count == 0 {
		s.lastProgress = now
	}

	if s.acked.Count() == uint(s.count) {
		s.done = true
		s.queue = nil
		s.data = nil
		return true
	}

	s.requeueUnacked(now, resendAfter)
	return false
}

// Expired 自开始起超过 timeout 仍未完成
func (s *Sender) Expired(now time.Time, timeout time.Duration) bool {
	return !s.done && now.Sub(s.startedAt) > timeout
}

// Resent 累计重传的分片数
func (s *Sender) Resent() int { return s.resent }

// Pending 未确认分片数
func (s *Sender) Pending() int {
	return int(s.count) - int(s.acked.Count())
}

func (s *Sender) enqueue(i uint32) {
	if s.queued.Test(uint(i)) {
		return
	}
	s.queued.Set(uint(i))
	s.queue = append(s.queue, i)
}

func (s *Sender) requeueUnacked(now time.Time, minAge time.Duration) {
	for i := uint32(0); i < s.count; i++ {
		if s.acked.Test(uint(i)) {
			continue
		}
		if !s.lastSent[i].IsZero() && now.Sub(s.lastSent[i]) < minAge {
			continue
		}
		s.enqueue(i)
	}
}
