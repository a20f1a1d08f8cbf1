// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 实时埋点指标（Counter/Gauge）- 连接、数据包、分块、同步
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zhc"

// Metrics 指标集合
//
// 所有方法对 nil 接收者安全，组件可以在不启用监控时直接传 nil。
type Metrics struct {
	// 连接相关
	ActiveConnections prometheus.Gauge
	Handshakes        *prometheus.CounterVec
	Disconnects       *prometheus.CounterVec

	// 流量相关
	Packets *prometheus.CounterVec
	Bytes   *prometheus.CounterVec

	// 可靠性
	Retransmits *prometheus.CounterVec
	Chunks      *prometheus.CounterVec

	// 同步协议
	SyncMessages   *prometheus.CounterVec
	ContentUpdates prometheus.Counter
	ContentBytes   prometheus.Gauge

	// 错误相关
	Errors *prometheus.CounterVec
}

// New 创建指标集合并注册到 reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active_connections",
			Help:      "Number of occupied connection slots",
		}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "handshakes_total",
			Help:      "Handshake outcomes",
		}, []string{"result"}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "disconnects_total",
			Help:      "Connection teardowns by reason",
		}, []string{"reason"}),

		Packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "packets_total",
			Help:      "Packets processed",
		}, []string{"direction", "type"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "bytes_total",
			Help:      "Datagram bytes",
		}, []string{"direction"}),

		Retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "retransmits_total",
			Help:      "Retransmitted units",
		}, []string{"kind"}),
		Chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunk",
			Name:      "transfers_total",
			Help:      "Chunk transfers by direction and result",
		}, []string{"direction", "result"}),

		SyncMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "messages_total",
			Help:      "Sync protocol messages",
		}, []string{"direction", "type"}),
		ContentUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "content_updates_total",
			Help:      "Times the active content was replaced",
		}),
		ContentBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "content_bytes",
			Help:      "Size of the current content",
		}),

		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by type",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.ActiveConnections, m.Handshakes, m.Disconnects,
		m.Packets, m.Bytes,
		m.Retransmits, m.Chunks,
		m.SyncMessages, m.ContentUpdates, m.ContentBytes,
		m.Errors,
	)
	return m
}

// =============================================================================
// 便捷方法
// =============================================================================

// ConnectionOpened 槽位被占用
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed 槽位被释放
func (m *Metrics) ConnectionClosed(reason string) {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
	m.Disconnects.WithLabelValues(reason).Inc()
}

// Handshake 握手结果
func (m *Metrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.Handshakes.WithLabelValues(result).Inc()
}

// PacketSent 发送数据包
func (m *Metrics) PacketSent(typ string, n int) {
	if m == nil {
		return
	}
	m.Packets.WithLabelValues("out", typ).Inc()
	m.Bytes.WithLabelValues("out").Add(float64(n))
}

// PacketReceived 接收数据包
func (m *Metrics) PacketReceived(typ string, n int) {
	if m == nil {
		return
	}
	m.Packets.WithLabelValues("in", typ).Inc()
	m.Bytes.WithLabelValues("in").Add(float64(n))
}

// Retransmit 重传
func (m *Metrics) Retransmit(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Retransmits.WithLabelValues(kind).Add(float64(n))
}

// Chunk 分块传输事件
func (m *Metrics) Chunk(direction, result string) {
	if m == nil {
		return
	}
	m.Chunks.WithLabelValues(direction, result).Inc()
}

// SyncMessage 同步协议消息
func (m *Metrics) SyncMessage(direction, typ string) {
	if m == nil {
		return
	}
	m.SyncMessages.WithLabelValues(direction, typ).Inc()
}

// ContentUpdated 内容被替换
func (m *Metrics) ContentUpdated(size int) {
	if m == nil {
		return
	}
	m.ContentUpdates.Inc()
	m.ContentBytes.Set(float64(size))
}

// Error 错误计数
func (m *Metrics) Error(typ string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(typ).Inc()
}
