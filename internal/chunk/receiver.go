// =============================================================================
// 文件: internal/chunk/receiver.go
// 描述: 分块接收端 - 按索引重组、位图记录、周期确认
// =============================================================================

package chunk

import (
	"fmt"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/mrcgq/zhc/internal/protocol"
)

// Receiver 单方向的分块接收状态，同一时刻最多一个进行中的分块
//
// 零值可直接使用。
type Receiver struct {
	active    bool
	hash      uint32
	msgType   protocol.MessageType
	count     uint32
	lastSize  uint32
	sliceSize int
	slices    [][]byte
	received  *bitset.BitSet

	// 最近完成的分块，用于识别重复公告
	completed     bool
	completedHash uint32
	completedN    uint32

	ackDue  bool
	lastAck time.Time
}

// Active 是否有进行中的分块
func (r *Receiver) Active() bool { return r.active }

// Hash 进行中分块的哈希
func (r *Receiver) Hash() uint32 { return r.hash }

// HandleChunk 处理分块公告
//
// 新哈希会放弃之前未完成的分块。空负载（0 片）在公告时即完成，返回非 nil 的空切片。
// 已完成分块的重复公告不会再次触发完成，只安排一次完整确认。
func (r *Receiver) HandleChunk(info protocol.ChunkInfo, msgType protocol.MessageType) (payload []byte, complete bool, err error) {
	if r.active && info.Hash == r.hash && info.SliceCount == r.count {
		r.ackDue = true
		return nil, false, nil
	}
	if r.completed && info.Hash == r.completedHash && info.SliceCount == r.completedN {
		r.ackDue = true
		return nil, false, nil
	}

	if err := validateAnnounce(info); err != nil {
		return nil, false, err
	}

	r.reset()
	r.hash = info.Hash
	r.msgType = msgType
	r.count = info.SliceCount
	r.lastSize = info.LastSliceSize
	r.ackDue = true

	if info.SliceCount == 0 {
		r.finish()
		return []byte{}, true, nil
	}

	r.active = true
	r.slices = make([][]byte, info.SliceCount)
	r.received = bitset.New(uint(info.SliceCount))
	return nil, false, nil
}

// HandleSlice 处理分片，到达顺序任意
//
// 未知或已完成哈希的分片被忽略。全部分片到齐时返回重组后的负载。
func (r *Receiver) HandleSlice(info protocol.SliceInfo, data []byte) (payload []byte, complete bool, err error) {
	if !r.active || info.Hash != r.hash {
		return nil, false, nil
	}
	if info.Index >= r.count {
		return nil, false, fmt.Errorf("%w: %d >= %d", ErrSliceIndex, info.Index, r.count)
	}
	if r.received.Test(uint(info.Index)) {
		return nil, false, nil
	}

	if err := r.checkSize(info.Index, len(data)); err != nil {
		return nil, false, err
	}

	r.slices[info.Index] = append([]byte(nil), data...)
	r.received.Set(uint(info.Index))

	if r.received.Count() < uint(r.count) {
		return nil, false, nil
	}

	payload = make([]byte, 0, r.sliceSize*int(r.count-1)+int(r.lastSize))
	for _, s := range r.slices {
		payload = append(payload, s...)
	}
	r.finish()
	r.ackDue = true
	return payload, true, nil
}

// MsgType 进行中或最近完成分块的消息类型
func (r *Receiver) MsgType() protocol.MessageType { return r.msgType }

// PendingAck 返回需要发送的确认
//
// 完成或收到公告后立即确认，进行中的分块每隔 interval 确认一次。
func (r *Receiver) PendingAck(now time.Time, interval time.Duration) (protocol.AckInfo, bool) {
	switch {
	case r.active:
		if !r.ackDue && now.Sub(r.lastAck) < interval {
			return protocol.AckInfo{}, false
		}
		r.ackDue = false
		r.lastAck = now
		return protocol.AckInfo{Hash: r.hash, SliceCount: r.count, Bitmap: toWords(r.received, r.count)}, true

	case r.completed && r.ackDue:
		r.ackDue = false
		r.lastAck = now
		full := bitset.New(uint(r.completedN))
		for i := uint(0); i < uint(r.completedN); i++ {
			full.Set(i)
		}
		return protocol.AckInfo{Hash: r.completedHash, SliceCount: r.completedN, Bitmap: toWords(full, r.completedN)}, true
	}
	return protocol.AckInfo{}, false
}

// Reset 丢弃所有状态（连接断开时调用）
func (r *Receiver) Reset() {
	*r = Receiver{}
}

func (r *Receiver) reset() {
	r.active = false
	r.slices = nil
	r.received = nil
	r.sliceSize = 0
}

func (r *Receiver) finish() {
	r.completed = true
	r.completedHash = r.hash
	r.completedN = r.count
	r.reset()
}

func (r *Receiver) checkSize(index uint32, n int) error {
	if index == r.count-1 {
		if uint32(n) != r.lastSize {
			return fmt.Errorf("%w: 最后一片 %d, 应为 %d", ErrSliceSize, n, r.lastSize)
		}
		if r.count == 1 {
			return nil
		}
		if r.sliceSize != 0 && n > r.sliceSize {
			return fmt.Errorf("%w: 最后一片 %d 大于分片大小 %d", ErrSliceSize, n, r.sliceSize)
		}
		return nil
	}

	if n < protocol.MinSliceSize || n > protocol.MaxSliceSize {
		return fmt.Errorf("%w: %d", ErrSliceSize, n)
	}
	if r.sliceSize == 0 {
		if int(r.lastSize) > n {
			return fmt.Errorf("%w: 分片 %d 小于最后一片 %d", ErrSliceSize, n, r.lastSize)
		}
		if uint64(n)*uint64(r.count-1)+uint64(r.lastSize) > protocol.MaxFileSize {
			return fmt.Errorf("%w: 重组后超过上限", ErrTooLarge)
		}
		r.sliceSize = n
		return nil
	}
	if n != r.sliceSize {
		return fmt.Errorf("%w: %d, 应为 %d", ErrSliceSize, n, r.sliceSize)
	}
	return nil
}

func validateAnnounce(info protocol.ChunkInfo) error {
	switch {
	case info.SliceCount > protocol.MaxSlices:
		return fmt.Errorf("%w: 分片数 %d", ErrBadAnnounce, info.SliceCount)
	case info.SliceCount == 0 && info.LastSliceSize != 0:
		return fmt.Errorf("%w: 空负载但最后一片 %d", ErrBadAnnounce, info.LastSliceSize)
	case info.SliceCount > 0 && (info.LastSliceSize == 0 || info.LastSliceSize > protocol.MaxSliceSize):
		return fmt.Errorf("%w: 最后一片 %d", ErrBadAnnounce, info.LastSliceSize)
	}
	return nil
}
