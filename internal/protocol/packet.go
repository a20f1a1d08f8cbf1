// =============================================================================
// 文件: internal/protocol/packet.go
// 描述: 数据包模型 - 位打包头部 + 可选原始负载，读写共用 Serialize
// =============================================================================

package protocol

import (
	"fmt"

	"github.com/mrcgq/zhc/internal/bitstream"
)

// ChunkInfo 分块公告：大负载开始传输前先发送
type ChunkInfo struct {
	Hash          uint32
	SliceCount    uint32
	LastSliceSize uint32
}

// SliceInfo 分片索引
type SliceInfo struct {
	Hash  uint32
	Index uint32
}

// AckInfo 分块确认位图
//
// 分片 i 对应 Bitmap[i/32] 的第 i%32 位，最低位对应最小索引。
type AckInfo struct {
	Hash       uint32
	SliceCount uint32
	Bitmap     []uint32
}

// BitmapWords 表示 n 个分片所需的位图字数
func BitmapWords(n uint32) int {
	return int((n + 31) / 32)
}

// Packet 数据包
//
// Chunk、Slice、Ack 三个字段构成按 Type 选择的联合体，只有被选中的一个参与序列化。
// Payload 不参与位打包，编码时紧随对齐后的头部。
type Packet struct {
	ID      uint32
	Version Version
	Salt    uint64
	Type    PacketType
	MsgType MessageType

	Chunk ChunkInfo
	Slice SliceInfo
	Ack   AckInfo

	Payload []byte
}

// Serialize 按固定字段顺序读写数据包头部
//
// 返回按 32 位字对齐后的字节数，写入与读取同一个包时结果相同。
func (p *Packet) Serialize(s bitstream.Stream) (int, error) {
	if err := s.SerializeBits(&p.ID, 32); err != nil {
		return 0, err
	}
	if err := p.Version.serialize(s); err != nil {
		return 0, err
	}
	if err := s.SerializeUint64(&p.Salt); err != nil {
		return 0, err
	}

	typ := uint32(p.Type)
	if err := s.SerializeInt(&typ, 0, uint32(packetTypeCount-1)); err != nil {
		return 0, err
	}
	p.Type = PacketType(typ)

	if !p.Type.IsConnected() {
		return s.AlignedBytes(), nil
	}

	msgType := uint32(p.MsgType)
	if err := s.SerializeInt(&msgType, 0, MaxMessageType); err != nil {
		return 0, err
	}
	p.MsgType = MessageType(msgType)

	var err error
	switch p.Type {
	case PacketChunk:
		err = p.serializeChunk(s)
	case PacketSlice:
		err = p.serializeSlice(s)
	case PacketAck:
		err = p.serializeAck(s)
	}
	if err != nil {
		return 0, err
	}
	return s.AlignedBytes(), nil
}

func (p *Packet) serializeChunk(s bitstream.Stream) error {
	if err := s.SerializeBits(&p.Chunk.Hash, 32); err != nil {
		return err
	}
	if err := s.SerializeInt(&p.Chunk.SliceCount, 0, MaxSlices); err != nil {
		return err
	}
	return s.SerializeInt(&p.Chunk.LastSliceSize, 0, MaxSliceSize)
}

func (p *Packet) serializeSlice(s bitstream.Stream) error {
	if err := s.SerializeBits(&p.Slice.Hash, 32); err != nil {
		return err
	}
	return s.SerializeInt(&p.Slice.Index, 0, MaxSlices-1)
}

func (p *Packet) serializeAck(s bitstream.Stream) error {
	if err := s.SerializeBits(&p.Ack.Hash, 32); err != nil {
		return err
	}
	if err := s.SerializeInt(&p.Ack.SliceCount, 0, MaxSlices); err != nil {
		return err
	}

	words := BitmapWords(p.Ack.SliceCount)
	if s.IsWriting() {
		if len(p.Ack.Bitmap) != words {
			return fmt.Errorf("%w: %d 字, 需要 %d", ErrBitmapSize, len(p.Ack.Bitmap), words)
		}
	} else {
		p.Ack.Bitmap = make([]uint32, words)
	}
	for i := range p.Ack.Bitmap {
		if err := s.SerializeBits(&p.Ack.Bitmap[i], 32); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// 编解码
// =============================================================================

// Encode 编码数据包：对齐头部 + 原始负载
func Encode(p *Packet) ([]byte, error) {
	if len(p.Payload) > 0 && !p.Type.CarriesPayload() {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedPayload, p.Type)
	}
	if len(p.Payload) > MaxSliceSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(p.Payload), MaxSliceSize)
	}

	w := bitstream.NewWriter(MaxHeaderBytes / 4)
	if _, err := p.Serialize(w); err != nil {
		return nil, fmt.Errorf("编码 %s 包失败: %w", p.Type, err)
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}

	header := w.Bytes()
	buf := make([]byte, len(header)+len(p.Payload))
	copy(buf, header)
	copy(buf[len(header):], p.Payload)
	return buf, nil
}

// Decode 解码数据包，负载为输入的拷贝
func Decode(data []byte) (*Packet, error) {
	r := bitstream.NewReaderBytes(data)
	p := &Packet{}
	n, err := p.Serialize(r)
	if err != nil {
		return nil, fmt.Errorf("解码数据包失败: %w", err)
	}

	if p.Type.CarriesPayload() && len(data) > n {
		if len(data)-n > MaxSliceSize {
			return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(data)-n, MaxSliceSize)
		}
		p.Payload = make([]byte, len(data)-n)
		copy(p.Payload, data[n:])
	}
	return p, nil
}
