// =============================================================================
// 文件: internal/chunk/chunk.go
// 描述: 分块传输 - 分片计算与确认位图的线上表示
// =============================================================================

package chunk

import (
	"errors"
	"math/bits"

	"github.com/bits-and-blooms/bitset"

	"github.com/mrcgq/zhc/internal/protocol"
)

var (
	ErrInvalidMTU    = errors.New("chunk: 分片大小无效")
	ErrTooLarge      = errors.New("chunk: 负载超过上限")
	ErrBadAnnounce   = errors.New("chunk: 分块公告字段不一致")
	ErrSliceIndex    = errors.New("chunk: 分片索引越界")
	ErrSliceSize     = errors.New("chunk: 分片长度不符")
	ErrTransferAged  = errors.New("chunk: 分块传输超时")
	ErrTransferReset = errors.New("chunk: 分块传输被新传输取代")
)

// SliceCount ceil(size / mtu)，空负载为 0
func SliceCount(size, mtu int) int {
	if size <= 0 {
		return 0
	}
	return (size + mtu - 1) / mtu
}

// LastSliceSize 最后一片的长度，空负载为 0
func LastSliceSize(size, mtu int) int {
	n := SliceCount(size, mtu)
	if n == 0 {
		return 0
	}
	return size - mtu*(n-1)
}

// ValidMTU 分片大小是否在协议允许范围内
func ValidMTU(mtu int) bool {
	return mtu >= protocol.MinSliceSize && mtu <= protocol.MaxSliceSize
}

// toWords 位图转为线上 32 位字，索引 i 位于第 i/32 字的第 i%32 位
func toWords(b *bitset.BitSet, n uint32) []uint32 {
	words := make([]uint32, protocol.BitmapWords(n))
	for i, ok := b.NextSet(0); ok && i < uint(n); i, ok = b.NextSet(i + 1) {
		words[i/32] |= 1 << (i % 32)
	}
	return words
}

// fromWords toWords 的逆操作，超出 n 的位被忽略
func fromWords(words []uint32, n uint32) *bitset.BitSet {
	b := bitset.New(uint(n))
	for w, word := range words {
		for word != 0 {
			bit := uint(w*32) + uint(bits.TrailingZeros32(word))
			if bit < uint(n) {
				b.Set(bit)
			}
			word &= word - 1
		}
	}
	return b
}
