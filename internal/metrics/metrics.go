// Package metrics 定义控制台的 Prometheus 指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iotconsole"

// Registry 独立注册表，避免与默认注册表冲突
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests handled by the console, by route template.",
	}, []string{"route", "method", "status"})

	HTTPDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route template.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	UpstreamRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Calls made to the upstream REST API.",
	}, []string{"method", "status"})

	UpstreamDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Upstream REST API latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	TokenRefreshes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refreshes_total",
		Help:      "Access token refresh attempts by result.",
	}, []string{"result"})

	BreakerState = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upstream_breaker_state",
		Help:      "Upstream circuit breaker state (0 closed, 1 half-open, 2 open).",
	})

	StaleListResponses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "list_stale_responses_total",
		Help:      "List responses discarded because a newer request superseded them.",
	}, []string{"entity"})

	ActiveSessions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Console sessions currently stored.",
	})

	BrokerProbes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_broker_probes_total",
		Help:      "Operator-triggered MQTT broker probes by result.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler /metrics 处理器
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveHTTP 记录一次 HTTP 请求
func ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveUpstream 记录一次上游调用；status 为 0 表示传输层失败
func ObserveUpstream(method string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	UpstreamRequests.WithLabelValues(method, label).Inc()
	UpstreamDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
