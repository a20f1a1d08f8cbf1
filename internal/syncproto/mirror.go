// =============================================================================
// 文件: internal/syncproto/mirror.go
// 描述: 哈希比对同步 - 客户端缓存状态机 (轮询、比对、替换)
// =============================================================================
package syncproto

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrcgq/zhc/internal/content"
	"github.com/mrcgq/zhc/internal/metrics"
	"github.com/mrcgq/zhc/internal/protocol"
)

// DefaultPollInterval 默认轮询间隔
const DefaultPollInterval = time.Second

// Cache 内容持久化，store.Cache 满足
type Cache interface {
	Save(c content.Content) error
}

// UpdateFunc 缓存内容被替换后调用
type UpdateFunc func(c content.Content)

// Mirror 客户端缓存
//
// 保存最近一次 DataRes 的内容与哈希。轮询时若上一次请求仍未得到应答，
// 本次轮询直接跳过，下一次再发，不设重试计数。
type Mirror struct {
	mu       sync.Mutex
	interval time.Duration
	current  content.Content
	has      bool
	awaiting bool
	lastPoll time.Time

	cache    Cache
	onUpdate UpdateFunc
	log      *logrus.Entry
	metrics  *metrics.Metrics
}

// MirrorOption 缓存选项
type MirrorOption func(*Mirror)

// WithCache 内容替换后写入持久化缓存
func WithCache(c Cache) MirrorOption {
	return func(m *Mirror) { m.cache = c }
}

// WithUpdate 内容替换回调
func WithUpdate(fn UpdateFunc) MirrorOption {
	return func(m *Mirror) { m.onUpdate = fn }
}

// WithMirrorLogger 设置日志
func WithMirrorLogger(log *logrus.Entry) MirrorOption {
	return func(m *Mirror) { m.log = log }
}

// WithMirrorMetrics 设置指标
func WithMirrorMetrics(mt *metrics.Metrics) MirrorOption {
	return func(m *Mirror) { m.metrics = mt }
}

// NewMirror 创建客户端缓存
func NewMirror(interval time.Duration, opts ...MirrorOption) *Mirror {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	m := &Mirror{
		interval: interval,
		log:      logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithField("component", "mirror")
	return m
}

// Interval 轮询间隔
func (m *Mirror) Interval() time.Duration { return m.interval }

// Seed 用持久化缓存中的内容初始化，不触发回调
func (m *Mirror) Seed(c content.Content) {
	m.mu.Lock()
	m.current = c
	m.has = true
	m.mu.Unlock()
	m.log.Infof("从缓存恢复内容: %s", c)
}

// Current 当前缓存的内容
func (m *Mirror) Current() (content.Content, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.has
}

// Reset 清除等待标记，连接重建后调用
func (m *Mirror) Reset() {
	m.mu.Lock()
	m.awaiting = false
	m.lastPoll = time.Time{}
	m.mu.Unlock()
}

// HashRequest 构造 HashReq
func (m *Mirror) HashRequest() protocol.Message {
	m.metrics.SyncMessage("out", protocol.MsgHashReq.String())
	return protocol.NewMessage(protocol.MsgHashReq, nil)
}

// Poll 到达轮询时间时返回需要发送的 HashReq
func (m *Mirror) Poll(now time.Time) (protocol.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastPoll.IsZero() && now.Sub(m.lastPoll) < m.interval {
		return protocol.Message{}, false
	}
	m.lastPoll = now

	if m.awaiting {
		m.awaiting = false
		m.log.Debug("上一次请求未得到应答，跳过本次轮询")
		return protocol.Message{}, false
	}
	m.awaiting = true
	return m.HashRequest(), true
}

// Handle 处理服务端应答，next 为需要继续发送的请求
func (m *Mirror) Handle(resp protocol.Message) (next protocol.Message, ok bool, err error) {
	m.metrics.SyncMessage("in", resp.Type.String())

	switch resp.Type {
	case protocol.MsgHashRes:
		return m.handleHash(resp.Payload)
	case protocol.MsgDataRes:
		m.handleData(resp.Payload)
		return protocol.Message{}, false, nil
	default:
		m.log.Debugf("忽略 %s 消息", resp.Type)
		return protocol.Message{}, false, nil
	}
}

func (m *Mirror) handleHash(payload []byte) (protocol.Message, bool, error) {
	hash, present, err := protocol.ParseHashPayload(payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.awaiting = false

	if err != nil {
		return protocol.Message{}, false, err
	}
	if !present {
		m.log.Debug("服务端没有内容")
		return protocol.Message{}, false, nil
	}
	if m.has && m.current.Hash == hash {
		return protocol.Message{}, false, nil
	}

	m.log.Debugf("哈希不一致 (本地=%08x, 服务端=%08x)，请求内容", m.current.Hash, hash)
	m.awaiting = true
	m.metrics.SyncMessage("out", protocol.MsgDataReq.String())
	return protocol.NewMessage(protocol.MsgDataReq, nil), true, nil
}

func (m *Mirror) handleData(payload []byte) {
	m.mu.Lock()
	m.awaiting = false
	if len(payload) == 0 {
		m.mu.Unlock()
		m.log.Debug("服务端内容不可用")
		return
	}
	c := content.New(payload)
	m.current = c
	m.has = true
	m.mu.Unlock()

	m.metrics.ContentUpdated(c.Size())
	m.log.Infof("内容已更新: %s", c)

	if m.cache != nil {
		if err := m.cache.Save(c); err != nil {
			m.log.Warnf("写入缓存失败: %v", err)
		}
	}
	if m.onUpdate != nil {
		m.onUpdate(c)
	}
}
