// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 收集器 - 在抓取时读取连接管理器的累计统计
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SessionStatsProvider 会话统计数据接口
type SessionStatsProvider interface {
	Load() SessionStats
}

// SessionCollector 会话统计收集器
type SessionCollector struct {
	provider SessionStatsProvider

	acceptedDesc    *prometheus.Desc
	rejectedDesc    *prometheus.Desc
	retransmitsDesc *prometheus.Desc
	packetsInDesc   *prometheus.Desc
	packetsOutDesc  *prometheus.Desc
	droppedDesc     *prometheus.Desc
	chunksOutDesc   *prometheus.Desc
	chunksInDesc    *prometheus.Desc
}

// NewSessionCollector 创建会话统计收集器
func NewSessionCollector(provider SessionStatsProvider) *SessionCollector {
	subsystem := "manager"
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil)
	}

	return &SessionCollector{
		provider:        provider,
		acceptedDesc:    desc("accepted_total", "Connections accepted by the manager"),
		rejectedDesc:    desc("rejected_total", "Connection requests denied"),
		retransmitsDesc: desc("retransmits_total", "Control packets and slices sent again"),
		packetsInDesc:   desc("packets_received_total", "Datagrams read from the socket"),
		packetsOutDesc:  desc("packets_sent_total", "Datagrams written to the socket"),
		droppedDesc:     desc("dropped_total", "Datagrams discarded before dispatch"),
		chunksOutDesc:   desc("chunks_sent_total", "Chunks fully acknowledged by peers"),
		chunksInDesc:    desc("chunks_received_total", "Chunks fully reassembled"),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acceptedDesc
	ch <- c.rejectedDesc
	ch <- c.retransmitsDesc
	ch <- c.packetsInDesc
	ch <- c.packetsOutDesc
	ch <- c.droppedDesc
	ch <- c.chunksOutDesc
	ch <- c.chunksInDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.provider.Load()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.acceptedDesc, st.Accepted)
	counter(c.rejectedDesc, st.Rejected)
	counter(c.retransmitsDesc, st.Retransmits)
	counter(c.packetsInDesc, st.PacketsIn)
	counter(c.packetsOutDesc, st.PacketsOut)
	counter(c.droppedDesc, st.Dropped)
	counter(c.chunksOutDesc, st.ChunksSent)
	counter(c.chunksInDesc, st.ChunksRecved)
}
