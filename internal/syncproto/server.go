// =============================================================================
// 文件: internal/syncproto/server.go
// 描述: 哈希比对同步 - 服务端应答 (HashReq -> HashRes, DataReq -> DataRes)
// =============================================================================
package syncproto

import (
	"github.com/sirupsen/logrus"

	"github.com/mrcgq/zhc/internal/content"
	"github.com/mrcgq/zhc/internal/metrics"
	"github.com/mrcgq/zhc/internal/protocol"
)

// Source 活动内容来源，content.Store 与 content.FileSource 均满足
type Source interface {
	Snapshot() (content.Content, bool)
}

// Server 同步服务端，无状态，可被多个载体并发调用
type Server struct {
	source  Source
	log     *logrus.Entry
	metrics *metrics.Metrics
}

// NewServer 创建服务端
func NewServer(source Source, log *logrus.Entry, m *metrics.Metrics) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{source: source, log: log.WithField("component", "sync"), metrics: m}
}

// Handle 处理一条请求，ok 为 false 表示不需要应答
func (s *Server) Handle(req protocol.Message) (resp protocol.Message, ok bool) {
	s.metrics.SyncMessage("in", req.Type.String())

	switch req.Type {
	case protocol.MsgHashReq:
		c, has := s.source.Snapshot()
		if !has {
			resp = protocol.NewMessage(protocol.MsgHashRes, nil)
		} else {
			resp = protocol.NewMessage(protocol.MsgHashRes, protocol.HashPayload(c.Hash))
		}

	case protocol.MsgDataReq:
		c, has := s.source.Snapshot()
		if !has {
			resp = protocol.NewMessage(protocol.MsgDataRes, nil)
		} else {
			resp = protocol.NewMessage(protocol.MsgDataRes, c.Data)
			s.log.Debugf("发送内容: %s", c)
		}

	default:
		s.log.Debugf("忽略 %s 消息", req.Type)
		return protocol.Message{}, false
	}

	s.metrics.SyncMessage("out", resp.Type.String())
	return resp, true
}
