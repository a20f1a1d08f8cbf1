// =============================================================================
// 文件: internal/protocol/message.go
// 描述: 同步消息帧 - 3 x uint32 头部 (version, type, size) + 负载
// =============================================================================

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageHeaderSize 消息头大小
const MessageHeaderSize = 12

// Message 同步协议消息
type Message struct {
	Version Version
	Type    MessageType
	Payload []byte
}

// NewMessage 以当前协议版本创建消息
func NewMessage(t MessageType, payload []byte) Message {
	return Message{Version: CurrentVersion, Type: t, Payload: payload}
}

// MessageHeader 消息头，各字段大端序
type MessageHeader struct {
	Version uint32
	Type    uint32
	Size    uint32
}

// Encode 写入 b[:MessageHeaderSize]
func (h MessageHeader) Encode(b []byte) {
	binary.BigEndian.PutUint32(b[0:4], h.Version)
	binary.BigEndian.PutUint32(b[4:8], h.Type)
	binary.BigEndian.PutUint32(b[8:12], h.Size)
}

// DecodeMessageHeader 解析消息头
//
// size 超过 MaxFileSize 返回 ErrPayloadTooLarge，此时流无法继续对齐；
// 未知 type 不在这里报错，由调用方在读完负载后处理。
func DecodeMessageHeader(b []byte) (MessageHeader, error) {
	if len(b) < MessageHeaderSize {
		return MessageHeader{}, ErrShortHeader
	}
	h := MessageHeader{
		Version: binary.BigEndian.Uint32(b[0:4]),
		Type:    binary.BigEndian.Uint32(b[4:8]),
		Size:    binary.BigEndian.Uint32(b[8:12]),
	}
	if h.Size > MaxFileSize {
		return h, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.Size, MaxFileSize)
	}
	return h, nil
}

func (m Message) header() (MessageHeader, error) {
	if len(m.Payload) > MaxFileSize {
		return MessageHeader{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(m.Payload), MaxFileSize)
	}
	if !m.Type.Valid() {
		return MessageHeader{}, fmt.Errorf("%w: %d", ErrUnknownMessageType, m.Type)
	}
	return MessageHeader{
		Version: m.Version.Pack(),
		Type:    uint32(m.Type),
		Size:    uint32(len(m.Payload)),
	}, nil
}

// EncodeMessage 编码为单个缓冲区（用于消息型载体，如 WebSocket）
func EncodeMessage(m Message) ([]byte, error) {
	h, err := m.header()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, MessageHeaderSize+len(m.Payload))
	h.Encode(buf)
	copy(buf[MessageHeaderSize:], m.Payload)
	return buf, nil
}

// DecodeMessage 解码单个缓冲区
func DecodeMessage(b []byte) (Message, error) {
	h, err := DecodeMessageHeader(b)
	if err != nil {
		return Message{}, err
	}
	if uint32(len(b)-MessageHeaderSize) != h.Size {
		return Message{}, fmt.Errorf("消息长度不符: 头部 %d, 实际 %d", h.Size, len(b)-MessageHeaderSize)
	}
	return toMessage(h, b[MessageHeaderSize:])
}

// WriteMessage 写入一条消息
func WriteMessage(w io.Writer, m Message) error {
	buf, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadMessage 从流中读取一条消息
//
// 未知消息类型在负载读完后返回 ErrUnknownMessageType，流仍然对齐，调用方可继续读取。
func ReadMessage(r io.Reader) (Message, error) {
	var hb [MessageHeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Message{}, err
	}
	h, err := DecodeMessageHeader(hb[:])
	if err != nil {
		return Message{}, err
	}

	payload := make([]byte, h.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}
	return toMessage(h, payload)
}

func toMessage(h MessageHeader, payload []byte) (Message, error) {
	m := Message{Version: UnpackVersion(h.Version), Type: MessageType(h.Type), Payload: payload}
	if h.Type > MaxMessageType {
		return m, fmt.Errorf("%w: %d", ErrUnknownMessageType, h.Type)
	}
	return m, nil
}

// =============================================================================
// 哈希负载
// =============================================================================

// HashPayload 4 字节大端哈希
func HashPayload(h uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, h)
	return b
}

// ParseHashPayload 解析 HashRes 负载，空负载表示服务端没有内容
func ParseHashPayload(b []byte) (hash uint32, ok bool, err error) {
	switch len(b) {
	case 0:
		return 0, false, nil
	case 4:
		return binary.BigEndian.Uint32(b), true, nil
	default:
		return 0, false, fmt.Errorf("哈希负载长度错误: %d", len(b))
	}
}
