// =============================================================================
// 文件: internal/protocol/protocol_test.go
// 描述: 数据包与消息帧测试
// =============================================================================

package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcgq/zhc/internal/bitstream"
)

func TestPacketRoundTripRequest(t *testing.T) {
	p := &Packet{
		ID:      0x9988,
		Version: Version{Major: 1, Minor: 2, Patch: 3},
		Type:    PacketRequest,
		Salt:    0xFFFF00000000FFFF,
	}

	w := bitstream.NewWriter(8)
	n, err := p.Serialize(w)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	assert.Equal(t, 20, n)
	assert.Len(t, w.Words(), 5)

	got := &Packet{}
	m, err := got.Serialize(bitstream.NewReader(w.Words()))
	require.NoError(t, err)
	assert.Equal(t, n, m)
	assert.Equal(t, p, got)
}

func TestPacketEncodeDecode(t *testing.T) {
	base := Packet{ID: 7, Version: CurrentVersion, Salt: 0x0123456789ABCDEF}

	t.Run("握手包", func(t *testing.T) {
		for _, typ := range []PacketType{PacketDenied, PacketRequest, PacketChallenge, PacketChallengeResponse} {
			p := base
			p.Type = typ
			buf, err := Encode(&p)
			require.NoError(t, err)
			assert.Len(t, buf, 20)

			got, err := Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, typ, got.Type)
			assert.Equal(t, p.Salt, got.Salt)
		}
	})

	t.Run("负载包", func(t *testing.T) {
		p := base
		p.Type = PacketPayload
		p.MsgType = MsgHashRes
		p.Payload = []byte{1, 2, 3, 4, 5}

		buf, err := Encode(&p)
		require.NoError(t, err)
		got, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, MsgHashRes, got.MsgType)
		assert.Equal(t, p.Payload, got.Payload)
	})

	t.Run("分块公告", func(t *testing.T) {
		p := base
		p.Type = PacketChunk
		p.MsgType = MsgDataRes
		p.Chunk = ChunkInfo{Hash: 0xCAFEBABE, SliceCount: 1025, LastSliceSize: 1}

		buf, err := Encode(&p)
		require.NoError(t, err)
		got, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, p.Chunk, got.Chunk)
		assert.Empty(t, got.Payload)
	})

	t.Run("分片", func(t *testing.T) {
		p := base
		p.Type = PacketSlice
		p.MsgType = MsgDataRes
		p.Slice = SliceInfo{Hash: 0xCAFEBABE, Index: 1024}
		p.Payload = bytes.Repeat([]byte{0xAB}, MaxSliceSize)

		buf, err := Encode(&p)
		require.NoError(t, err)
		got, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, p.Slice, got.Slice)
		assert.Equal(t, p.Payload, got.Payload)
	})

	t.Run("确认位图", func(t *testing.T) {
		p := base
		p.Type = PacketAck
		p.Ack = AckInfo{Hash: 0xCAFEBABE, SliceCount: 40, Bitmap: []uint32{0xFFFFFFFF, 0x5}}

		buf, err := Encode(&p)
		require.NoError(t, err)
		got, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, p.Ack, got.Ack)
	})
}

func TestPacketEncodeErrors(t *testing.T) {
	t.Run("控制包不能携带负载", func(t *testing.T) {
		p := &Packet{Type: PacketChunk, Payload: []byte{1}}
		_, err := Encode(p)
		assert.True(t, errors.Is(err, ErrUnexpectedPayload))
	})

	t.Run("负载过大", func(t *testing.T) {
		p := &Packet{Type: PacketPayload, Payload: make([]byte, MaxSliceSize+1)}
		_, err := Encode(p)
		assert.True(t, errors.Is(err, ErrPayloadTooLarge))
	})

	t.Run("位图长度不符", func(t *testing.T) {
		p := &Packet{Type: PacketAck, Ack: AckInfo{SliceCount: 33, Bitmap: []uint32{1}}}
		_, err := Encode(p)
		assert.True(t, errors.Is(err, ErrBitmapSize))
	})

	t.Run("截断输入", func(t *testing.T) {
		_, err := Decode([]byte{1, 2, 3, 4, 5, 6, 7, 8})
		assert.True(t, errors.Is(err, bitstream.ErrOverflow))
	})
}

func TestVersion(t *testing.T) {
	v, err := ParseVersion("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, Version{1, 2, 3}, v)
	assert.Equal(t, "1.2.3", v.String())
	assert.Equal(t, v, UnpackVersion(v.Pack()))
	assert.True(t, v.Compatible(Version{1, 9, 9}))
	assert.False(t, v.Compatible(Version{2, 0, 0}))

	_, err = ParseVersion("1.2")
	assert.Error(t, err)
	_, err = ParseVersion("1.2.300")
	assert.Error(t, err)
}

func TestMessageStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, NewMessage(MsgHashReq, nil)))
	require.NoError(t, WriteMessage(&buf, NewMessage(MsgHashRes, HashPayload(0x11223344))))

	m, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgHashReq, m.Type)
	assert.Empty(t, m.Payload)
	assert.Equal(t, CurrentVersion, m.Version)

	m, err = ReadMessage(&buf)
	require.NoError(t, err)
	h, ok, err := ParseHashPayload(m.Payload)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(0x11223344), h)

	_, err = ReadMessage(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMessageFaults(t *testing.T) {
	t.Run("未知类型后流仍对齐", func(t *testing.T) {
		var buf bytes.Buffer
		hdr := make([]byte, MessageHeaderSize)
		MessageHeader{Version: CurrentVersion.Pack(), Type: 9, Size: 3}.Encode(hdr)
		buf.Write(hdr)
		buf.Write([]byte{1, 2, 3})
		require.NoError(t, WriteMessage(&buf, NewMessage(MsgDataReq, nil)))

		_, err := ReadMessage(&buf)
		assert.True(t, errors.Is(err, ErrUnknownMessageType))

		m, err := ReadMessage(&buf)
		require.NoError(t, err)
		assert.Equal(t, MsgDataReq, m.Type)
	})

	t.Run("超大负载", func(t *testing.T) {
		hdr := make([]byte, MessageHeaderSize)
		MessageHeader{Version: CurrentVersion.Pack(), Type: uint32(MsgDataRes), Size: MaxFileSize + 1}.Encode(hdr)
		_, err := ReadMessage(bytes.NewReader(hdr))
		assert.True(t, errors.Is(err, ErrPayloadTooLarge))
	})

	t.Run("负载截断", func(t *testing.T) {
		hdr := make([]byte, MessageHeaderSize)
		MessageHeader{Version: CurrentVersion.Pack(), Type: uint32(MsgDataRes), Size: 10}.Encode(hdr)
		_, err := ReadMessage(bytes.NewReader(append(hdr, 1, 2)))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("消息型载体", func(t *testing.T) {
		b, err := EncodeMessage(NewMessage(MsgDataRes, []byte("hello")))
		require.NoError(t, err)
		m, err := DecodeMessage(b)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), m.Payload)

		_, err = DecodeMessage(b[:len(b)-1])
		assert.Error(t, err)
	})
}
