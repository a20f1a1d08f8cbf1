// =============================================================================
// 文件: internal/protocol/protocol.go
// 描述: 协议常量与类型 - 包类型、消息类型、分片上限
// =============================================================================

package protocol

import (
	"errors"
	"fmt"
)

// =============================================================================
// 尺寸上限
// =============================================================================

const (
	// MaxFileSize 单个内容（活动文件）上限 1 MiB
	MaxFileSize = 1 << 20

	// DefaultMTU 单个分片默认字节数
	DefaultMTU = 1024

	// MinSliceSize / MaxSliceSize 分片大小取值范围
	// 上限留出 UDP/IP 头部余量，保证单个 Slice 包不超过常见链路 MTU
	MinSliceSize = 64
	MaxSliceSize = 1200

	// MaxSlices 最小分片下传输 MaxFileSize 所需的分片数
	MaxSlices = MaxFileSize / MinSliceSize

	// 公共头部位数: ID(32) + Version(16+8+8) + Salt(64) + Type(4)
	baseHeaderBits = 32 + 32 + 64 + 4

	// 最大联合体位数: MsgType(3) + Hash(32) + SliceCount(15) + 位图(MaxSlices)
	maxUnionBits = 3 + 32 + 15 + MaxSlices

	// MaxHeaderBytes 对齐到 32 位字后的最大头部字节数
	MaxHeaderBytes = (baseHeaderBits + maxUnionBits + 31) / 32 * 4

	// MaxDatagramSize 单个数据报上限
	MaxDatagramSize = MaxHeaderBytes + MaxSliceSize
)

var (
	ErrPayloadTooLarge    = errors.New("protocol: 负载超过上限")
	ErrUnexpectedPayload  = errors.New("protocol: 该包类型不携带负载")
	ErrBitmapSize         = errors.New("protocol: 确认位图长度与分片数不符")
	ErrUnknownMessageType = errors.New("protocol: 未知消息类型")
	ErrShortHeader        = errors.New("protocol: 头部不完整")
)

// =============================================================================
// 包类型
// =============================================================================

// PacketType 包类型
//
// 握手阶段: Denied, Request, Challenge, ChallengeResponse
// 连接阶段: Disconnect 及之后的所有类型，只有连接阶段的包携带联合体字段
type PacketType uint8

const (
	PacketDenied PacketType = iota
	PacketRequest
	PacketChallenge
	PacketChallengeResponse
	PacketDisconnect
	PacketEmpty
	PacketPayload
	PacketChunk
	PacketSlice
	PacketAck

	packetTypeCount
)

// PacketTypeConnected 连接阶段起始标记
const PacketTypeConnected = PacketDisconnect

// IsConnected 是否为连接阶段包类型
func (t PacketType) IsConnected() bool {
	return t >= PacketTypeConnected
}

// CarriesPayload 是否在头部之后携带原始负载
func (t PacketType) CarriesPayload() bool {
	return t == PacketPayload || t == PacketSlice
}

func (t PacketType) String() string {
	switch t {
	case PacketDenied:
		return "denied"
	case PacketRequest:
		return "request"
	case PacketChallenge:
		return "challenge"
	case PacketChallengeResponse:
		return "challenge_response"
	case PacketDisconnect:
		return "disconnect"
	case PacketEmpty:
		return "empty"
	case PacketPayload:
		return "payload"
	case PacketChunk:
		return "chunk"
	case PacketSlice:
		return "slice"
	case PacketAck:
		return "ack"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// =============================================================================
// 消息类型（同步协议）
// =============================================================================

// MessageType 同步协议消息类型
type MessageType uint8

const (
	MsgNoop MessageType = iota
	MsgHashReq
	MsgHashRes
	MsgDataReq
	MsgDataRes

	messageTypeCount
)

// MaxMessageType 最大合法消息类型值
const MaxMessageType = uint32(messageTypeCount - 1)

// Valid 是否为已知消息类型
func (m MessageType) Valid() bool {
	return m < messageTypeCount
}

func (m MessageType) String() string {
	switch m {
	case MsgNoop:
		return "noop"
	case MsgHashReq:
		return "hash_req"
	case MsgHashRes:
		return "hash_res"
	case MsgDataReq:
		return "data_req"
	case MsgDataRes:
		return "data_res"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}
