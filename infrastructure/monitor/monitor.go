package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器。nil *Monitor 上的所有方法都是空操作。
type Monitor struct {
	registry *prometheus.Registry

	// 轮询指标
	pollRequests *prometheus.CounterVec
	connected    prometheus.Gauge
	orders       *prometheus.GaugeVec

	// 用户操作指标
	actionRequests *prometheus.CounterVec
	actionLatency  *prometheus.HistogramVec

	// 浏览器连接
	browserClients prometheus.Gauge
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "oems",
		Subsystem: "dashboard",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Monitor{
		registry: reg,
		pollRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "poll_requests_total",
			Help:      "轮询请求数，按数据源和结果区分",
		}, []string{"source", "outcome"}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "connected",
			Help:      "FIX 会话是否已登录（1/0）",
		}),
		orders: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders",
			Help:      "最近一次订单快照的统计",
		}, []string{"bucket"}),
		actionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "action_requests_total",
			Help:      "下单/改单/撤单请求数",
		}, []string{"kind", "outcome"}),
		actionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "action_latency_seconds",
			Help:      "写请求延迟分布（秒）",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind"}),
		browserClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "browser_clients",
			Help:      "当前 websocket 连接数",
		}),
	}
}

// RecordPoll outcome is one of ok, error.
func (m *Monitor) RecordPoll(source, outcome string) {
	if m == nil {
		return
	}
	m.pollRequests.WithLabelValues(source, outcome).Inc()
}

func (m *Monitor) SetConnected(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// UpdateOrderStats 按统计卡片的分桶更新。
func (m *Monitor) UpdateOrderStats(buckets map[string]int) {
	if m == nil {
		return
	}
	for k, v := range buckets {
		m.orders.WithLabelValues(k).Set(float64(v))
	}
}

// RecordAction outcome is one of ok, rejected (local validation), failed.
func (m *Monitor) RecordAction(kind, outcome string) {
	if m == nil {
		return
	}
	m.actionRequests.WithLabelValues(kind, outcome).Inc()
}

func (m *Monitor) RecordActionLatency(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.actionLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *Monitor) BrowserConnected() {
	if m == nil {
		return
	}
	m.browserClients.Inc()
}

func (m *Monitor) BrowserDisconnected() {
	if m == nil {
		return
	}
	m.browserClients.Dec()
}

// Handler 返回 /metrics handler
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
