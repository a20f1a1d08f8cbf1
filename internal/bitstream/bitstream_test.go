// =============================================================================
// 文件: internal/bitstream/bitstream_test.go
// 描述: 位流编解码测试
// =============================================================================
package bitstream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitsRequired(t *testing.T) {
	cases := []struct {
		min, max uint32
		want     int
	}{
		{0, 0, 0},
		{5, 5, 0},
		{0, 1, 1},
		{10, 12, 2},
		{120, 130, 4},
		{0, 255, 8},
		{0, 256, 9},
		{0, 0xFFFF, 16},
		{0, 0xFFFFFFFF, 32},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, BitsRequired(c.min, c.max), "[%d, %d]", c.min, c.max)
	}
}

func TestPackingExample(t *testing.T) {
	w := NewWriter(2)
	require.NoError(t, w.WriteInt(12, 10, 12))
	require.NoError(t, w.WriteInt(128, 120, 130))
	require.NoError(t, w.WriteInt(0xFFFFFFFF, 0, 0xFFFFFFFF))
	require.NoError(t, w.Flush())

	assert.Equal(t, []uint32{0xFFFFFFE2, 0x3F}, w.Words())
	assert.Equal(t, 38, w.BitsProcessed())
	assert.Equal(t, 8, w.AlignedBytes())

	r := NewReader(w.Words())
	v, err := r.ReadInt(10, 12)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), v)
	v, err = r.ReadInt(120, 130)
	require.NoError(t, err)
	assert.Equal(t, uint32(128), v)
	v, err = r.ReadInt(0, 0xFFFFFFFF)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), v)
}

func TestBytesLittleEndian(t *testing.T) {
	w := NewWriter(2)
	require.NoError(t, w.WriteInt(12, 10, 12))
	require.NoError(t, w.WriteInt(128, 120, 130))
	require.NoError(t, w.WriteInt(0xFFFFFFFF, 0, 0xFFFFFFFF))
	require.NoError(t, w.Flush())

	b := w.Bytes()
	assert.Equal(t, []byte{0xE2, 0xFF, 0xFF, 0xFF, 0x3F, 0, 0, 0}, b)

	r := NewReaderBytes(b)
	v, err := r.ReadInt(10, 12)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), v)
}

func TestRoundTripMixedWidths(t *testing.T) {
	type field struct{ v, min, max uint32 }
	fields := []field{
		{1, 0, 1},
		{7, 0, 7},
		{300, 0, 1023},
		{0xDEADBEEF, 0, 0xFFFFFFFF},
		{42, 42, 42},
		{65535, 0, 65535},
		{3, 1, 9},
	}

	w := NewWriter(8)
	for _, f := range fields {
		require.NoError(t, w.WriteInt(f.v, f.min, f.max))
	}
	require.NoError(t, w.Flush())

	r := NewReader(w.Words())
	for _, f := range fields {
		got, err := r.ReadInt(f.min, f.max)
		require.NoError(t, err)
		assert.Equal(t, f.v, got)
	}
	assert.Equal(t, w.BitsProcessed(), r.BitsProcessed())
}

func TestReadClampsOutOfRange(t *testing.T) {
	// 4 位可以表示 15，但区间只有 [0, 9]
	w := NewWriter(1)
	require.NoError(t, w.WriteBits(15, 4))
	require.NoError(t, w.Flush())

	r := NewReader(w.Words())
	v, err := r.ReadInt(0, 9)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), v)
}

func TestOverflow(t *testing.T) {
	t.Run("写溢出", func(t *testing.T) {
		w := NewWriter(1)
		require.NoError(t, w.WriteBits(1, 30))
		err := w.WriteBits(1, 3)
		assert.True(t, errors.Is(err, ErrOverflow))
	})

	t.Run("读溢出", func(t *testing.T) {
		r := NewReader([]uint32{0})
		_, err := r.ReadBits(32)
		require.NoError(t, err)
		_, err = r.ReadBits(1)
		assert.True(t, errors.Is(err, ErrOverflow))
	})

	t.Run("越界写入", func(t *testing.T) {
		w := NewWriter(1)
		err := w.WriteInt(13, 10, 12)
		assert.True(t, errors.Is(err, ErrValueOutOfRange))
	})
}

func TestUint64Halves(t *testing.T) {
	w := NewWriter(2)
	v := uint64(0xFFFF00000000FFFF)
	require.NoError(t, w.SerializeUint64(&v))
	require.NoError(t, w.Flush())
	assert.Equal(t, []uint32{0x0000FFFF, 0xFFFF0000}, w.Words())

	var got uint64
	r := NewReader(w.Words())
	require.NoError(t, r.SerializeUint64(&got))
	assert.Equal(t, v, got)
}
