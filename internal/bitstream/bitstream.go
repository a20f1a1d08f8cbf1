// =============================================================================
// 文件: internal/bitstream/bitstream.go
// 描述: 位流编解码 - 按取值范围紧凑打包整数，64 位暂存区 + 32 位字输出
// =============================================================================
package bitstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

var (
	// ErrOverflow 读写超出缓冲区声明的字数
	ErrOverflow = errors.New("bitstream: 缓冲区溢出")
	// ErrValueOutOfRange 写入值不在 [min, max] 内
	ErrValueOutOfRange = errors.New("bitstream: 数值超出范围")
	// ErrBitCount 位数不在 0-32 之间
	ErrBitCount = errors.New("bitstream: 位数无效")
)

// BitsRequired 返回表示 [min, max] 所需的位数
//
// min == max 时为 0 位，[0, 0xFFFFFFFF] 为 32 位。
func BitsRequired(min, max uint32) int {
	if min >= max {
		return 0
	}
	return bits.Len32(max - min)
}

// Stream 读写共用的序列化接口
//
// 同一个 Serialize 函数在写模式下把字段写入流，在读模式下把流中的值
// 写回字段，保证两个方向的字段顺序和位宽完全一致。
type Stream interface {
	IsWriting() bool
	SerializeBits(v *uint32, n int) error
	SerializeInt(v *uint32, min, max uint32) error
	SerializeUint64(v *uint64) error
	BitsProcessed() int
	AlignedBytes() int
}

// =============================================================================
// Writer
// =============================================================================

// Writer 位流写入器
type Writer struct {
	words       []uint32
	scratch     uint64
	scratchBits int
	wordIndex   int
	bitsWritten int
}

// NewWriter 创建写入器，容量为 words 个 32 位字
func NewWriter(words int) *Writer {
	return &Writer{words: make([]uint32, words)}
}

// IsWriting 写模式
func (w *Writer) IsWriting() bool { return true }

// WriteBits 写入 value 的低 n 位
func (w *Writer) WriteBits(value uint32, n int) error {
	if n < 0 || n > 32 {
		return fmt.Errorf("%w: %d", ErrBitCount, n)
	}
	if n == 0 {
		return nil
	}
	if w.bitsWritten+n > len(w.words)*32 {
		return ErrOverflow
	}
	if n < 32 {
		value &= (1 << uint(n)) - 1
	}

	// scratchBits 不超过 31，加上最多 32 位仍在 64 位内
	w.scratch |= uint64(value) << uint(w.scratchBits)
	w.scratchBits += n
	if w.scratchBits >= 32 {
		w.words[w.wordIndex] = uint32(w.scratch)
		w.wordIndex++
		w.scratch >>= 32
		w.scratchBits -= 32
	}
	w.bitsWritten += n
	return nil
}

// WriteInt 按 [min, max] 所需位数写入 value-min
func (w *Writer) WriteInt(value, min, max uint32) error {
	if value < min || value > max {
		return fmt.Errorf("%w: %d 不在 [%d, %d]", ErrValueOutOfRange, value, min, max)
	}
	return w.WriteBits(value-min, BitsRequired(min, max))
}

// Flush 输出暂存区剩余位，不足一字的部分补零
func (w *Writer) Flush() error {
	if w.scratchBits == 0 {
		return nil
	}
	if w.wordIndex >= len(w.words) {
		return ErrOverflow
	}
	w.words[w.wordIndex] = uint32(w.scratch)
	w.wordIndex++
	w.scratch = 0
	w.scratchBits = 0
	return nil
}

// Words 返回已输出的字（Flush 之后才包含尾部）
func (w *Writer) Words() []uint32 {
	return w.words[:w.wordIndex]
}

// Bytes 以小端字节序输出已写入的字
func (w *Writer) Bytes() []byte {
	out := make([]byte, w.wordIndex*4)
	for i, word := range w.words[:w.wordIndex] {
		binary.LittleEndian.PutUint32(out[i*4:], word)
	}
	return out
}

// BitsProcessed 已写入位数
func (w *Writer) BitsProcessed() int { return w.bitsWritten }

// AlignedBytes 按字对齐后占用的字节数
func (w *Writer) AlignedBytes() int { return alignedBytes(w.bitsWritten) }

// SerializeBits 实现 Stream
func (w *Writer) SerializeBits(v *uint32, n int) error {
	return w.WriteBits(*v, n)
}

// SerializeInt 实现 Stream
func (w *Writer) SerializeInt(v *uint32, min, max uint32) error {
	return w.WriteInt(*v, min, max)
}

// SerializeUint64 低 32 位在前，高 32 位在后
func (w *Writer) SerializeUint64(v *uint64) error {
	if err := w.WriteBits(uint32(*v), 32); err != nil {
		return err
	}
	return w.WriteBits(uint32(*v>>32), 32)
}

// =============================================================================
// Reader
// =============================================================================

// Reader 位流读取器
type Reader struct {
	words       []uint32
	scratch     uint64
	scratchBits int
	wordIndex   int
	bitsRead    int
}

// NewReader 从字缓冲区创建读取器
func NewReader(words []uint32) *Reader {
	return &Reader{words: words}
}

// NewReaderBytes 从小端字节缓冲区创建读取器，末尾不足 4 字节的部分忽略
func NewReaderBytes(b []byte) *Reader {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return NewReader(words)
}

// IsWriting 读模式
func (r *Reader) IsWriting() bool { return false }

// ReadBits 读取 n 位
func (r *Reader) ReadBits(n int) (uint32, error) {
	if n < 0 || n > 32 {
		return 0, fmt.Errorf("%w: %d", ErrBitCount, n)
	}
	if n == 0 {
		return 0, nil
	}
	if r.bitsRead+n > len(r.words)*32 {
		return 0, ErrOverflow
	}
	if r.scratchBits < n {
		r.scratch |= uint64(r.words[r.wordIndex]) << uint(r.scratchBits)
		r.scratchBits += 32
		r.wordIndex++
	}
	value := uint32(r.scratch & ((uint64(1) << uint(n)) - 1))
	r.scratch >>= uint(n)
	r.scratchBits -= n
	r.bitsRead += n
	return value, nil
}

// ReadInt 读取 [min, max] 区间的值，越界时钳制到 max
func (r *Reader) ReadInt(min, max uint32) (uint32, error) {
	raw, err := r.ReadBits(BitsRequired(min, max))
	if err != nil {
		return 0, err
	}
	if min >= max {
		return min, nil
	}
	if raw > max-min {
		raw = max - min
	}
	return min + raw, nil
}

// BitsProcessed 已读取位数
func (r *Reader) BitsProcessed() int { return r.bitsRead }

// AlignedBytes 按字对齐后消耗的字节数
func (r *Reader) AlignedBytes() int { return alignedBytes(r.bitsRead) }

// SerializeBits 实现 Stream
func (r *Reader) SerializeBits(v *uint32, n int) error {
	value, err := r.ReadBits(n)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// SerializeInt 实现 Stream
func (r *Reader) SerializeInt(v *uint32, min, max uint32) error {
	value, err := r.ReadInt(min, max)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// SerializeUint64 实现 Stream
func (r *Reader) SerializeUint64(v *uint64) error {
	lo, err := r.ReadBits(32)
	if err != nil {
		return err
	}
	hi, err := r.ReadBits(32)
	if err != nil {
		return err
	}
	*v = uint64(hi)<<32 | uint64(lo)
	return nil
}

func alignedBytes(bitCount int) int {
	return (bitCount + 31) / 32 * 4
}
