// =============================================================================
// 文件: internal/metrics/metrics_test.go
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed("timeout")
		m.Handshake("accepted")
		m.PacketSent("payload", 10)
		m.PacketReceived("payload", 10)
		m.Retransmit("slice", 3)
		m.Chunk("out", "completed")
		m.SyncMessage("in", "hash_req")
		m.ContentUpdated(100)
		m.Error("decode")
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed("peer")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Disconnects.WithLabelValues("peer")))

	m.PacketSent("slice", 100)
	m.PacketSent("slice", 50)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Packets.WithLabelValues("out", "slice")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.Bytes.WithLabelValues("out")))

	m.Retransmit("handshake", 0)
	m.Retransmit("handshake", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Retransmits.WithLabelValues("handshake")))

	m.ContentUpdated(4096)
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.ContentBytes))
}

func TestServer(t *testing.T) {
	l, _ := test.NewNullLogger()
	srv := NewServer(ServerConfig{Listen: "127.0.0.1:0", MetricsPath: "/metrics", HealthPath: "/health"}, logrus.NewEntry(l))
	m := New(srv.Registry())
	m.Handshake("accepted")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))

	base := fmt.Sprintf("http://%s", srv.Addr())
	get := func(path string) (int, []byte) {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, body
	}

	code, body := get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(string(body), `zhc_session_handshakes_total{result="accepted"} 1`))

	code, _ = get("/health/live")
	assert.Equal(t, http.StatusOK, code)

	t.Run("未设置检查时为 healthy", func(t *testing.T) {
		code, body := get("/health")
		assert.Equal(t, http.StatusOK, code)
		var h Health
		require.NoError(t, json.Unmarshal(body, &h))
		assert.Equal(t, StatusHealthy, h.Status)
		assert.NotEmpty(t, h.Uptime)
	})

	t.Run("degraded 仍然就绪", func(t *testing.T) {
		srv.SetHealthCheck(func() Health {
			return Health{Status: StatusDegraded, Components: map[string]Component{"content": {Status: StatusDegraded}}}
		})
		code, body := get("/health")
		assert.Equal(t, http.StatusOK, code)
		var h Health
		require.NoError(t, json.Unmarshal(body, &h))
		assert.Equal(t, StatusDegraded, h.Components["content"].Status)

		code, _ = get("/health/ready")
		assert.Equal(t, http.StatusOK, code)
	})

	t.Run("unhealthy 返回 503", func(t *testing.T) {
		srv.SetHealthCheck(func() Health { return Health{Status: StatusUnhealthy} })
		code, _ := get("/health")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		code, _ = get("/health/ready")
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})

	// ctx 结束后停止服务
	cancel()
	assert.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health/live")
		if err != nil {
			return true
		}
		resp.Body.Close()
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSnapshot(t *testing.T) {
	snap := NewSnapshot()
	assert.Equal(t, SessionStats{}, snap.Load())

	snap.Store(SessionStats{Active: 3, Accepted: 5})
	assert.Equal(t, int64(3), snap.Load().Active)
	assert.Equal(t, uint64(5), snap.Load().Accepted)
	assert.Less(t, snap.Age(), time.Minute)
}

func TestSessionCollector(t *testing.T) {
	snap := NewSnapshot()
	snap.Store(SessionStats{Accepted: 7, Rejected: 2, ChunksRecved: 4})

	c := NewSessionCollector(snap)
	assert.Equal(t, 8, testutil.CollectAndCount(c))

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, f := range families {
		values[f.GetName()] = f.GetMetric()[0].GetCounter().GetValue()
	}
	assert.Equal(t, 7.0, values["zhc_manager_accepted_total"])
	assert.Equal(t, 2.0, values["zhc_manager_rejected_total"])
	assert.Equal(t, 4.0, values["zhc_manager_chunks_received_total"])

	snap.Store(SessionStats{Accepted: 9})
	families, err = reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "zhc_manager_accepted_total" {
			assert.Equal(t, 9.0, f.GetMetric()[0].GetCounter().GetValue())
		}
	}
}
