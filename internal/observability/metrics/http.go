// Package metrics 提供轻量级的 Prometheus 文本格式指标输出。
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"XGov-Mesh/pkg/logger"
)

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type httpStats struct {
	requests     uint64
	errors       uint64
	latencySum   float64
	latencyCount uint64
	buckets      []uint64
}

// Collector 聚合服务的运行指标。
type Collector struct {
	mu             sync.Mutex
	perRoute       map[string]*httpStats
	payments       map[string]uint64
	orchestrations map[string]uint64
}

// NewCollector 创建一个空的指标收集器。
func NewCollector() *Collector {
	return &Collector{
		perRoute:       make(map[string]*httpStats),
		payments:       make(map[string]uint64),
		orchestrations: make(map[string]uint64),
	}
}

// ObserveHTTPRequest 记录一次 HTTP 请求的结果和耗时。
func (c *Collector) ObserveHTTPRequest(route string, status int, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats, ok := c.perRoute[route]
	if !ok {
		stats = &httpStats{buckets: make([]uint64, len(latencyBuckets))}
		c.perRoute[route] = stats
	}
	stats.requests++
	if status >= 500 {
		stats.errors++
	}
	seconds := elapsed.Seconds()
	stats.latencySum += seconds
	stats.latencyCount++
	for i, bound := range latencyBuckets {
		if seconds <= bound {
			stats.buckets[i]++
		}
	}
}

// ObservePayment 记录一次链上支付尝试，status 为 delivered/denied/failed。
func (c *Collector) ObservePayment(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payments[status]++
}

// ObserveOrchestration 记录一次任务编排的最终结果。
func (c *Collector) ObserveOrchestration(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orchestrations[result]++
}

// Render 输出 Prometheus 文本格式的指标快照。
func (c *Collector) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.WriteString("# HELP xgov_http_requests_total Total HTTP requests by route.\n")
	b.WriteString("# TYPE xgov_http_requests_total counter\n")
	for _, route := range sortedKeys(c.perRoute) {
		fmt.Fprintf(&b, "xgov_http_requests_total{route=%q} %d\n", route, c.perRoute[route].requests)
	}

	b.WriteString("# HELP xgov_http_errors_total Total HTTP 5xx responses by route.\n")
	b.WriteString("# TYPE xgov_http_errors_total counter\n")
	for _, route := range sortedKeys(c.perRoute) {
		fmt.Fprintf(&b, "xgov_http_errors_total{route=%q} %d\n", route, c.perRoute[route].errors)
	}

	b.WriteString("# HELP xgov_http_request_duration_seconds HTTP request latency.\n")
	b.WriteString("# TYPE xgov_http_request_duration_seconds histogram\n")
	for _, route := range sortedKeys(c.perRoute) {
		stats := c.perRoute[route]
		for i, bound := range latencyBuckets {
			fmt.Fprintf(&b, "xgov_http_request_duration_seconds_bucket{route=%q,le=%q} %d\n", route, formatBound(bound), stats.buckets[i])
		}
		fmt.Fprintf(&b, "xgov_http_request_duration_seconds_bucket{route=%q,le=\"+Inf\"} %d\n", route, stats.latencyCount)
		fmt.Fprintf(&b, "xgov_http_request_duration_seconds_sum{route=%q} %f\n", route, stats.latencySum)
		fmt.Fprintf(&b, "xgov_http_request_duration_seconds_count{route=%q} %d\n", route, stats.latencyCount)
	}

	b.WriteString("# HELP xgov_payments_total Payment attempts by outcome.\n")
	b.WriteString("# TYPE xgov_payments_total counter\n")
	for _, status := range sortedCounterKeys(c.payments) {
		fmt.Fprintf(&b, "xgov_payments_total{status=%q} %d\n", status, c.payments[status])
	}

	b.WriteString("# HELP xgov_orchestrations_total Orchestration runs by result.\n")
	b.WriteString("# TYPE xgov_orchestrations_total counter\n")
	for _, result := range sortedCounterKeys(c.orchestrations) {
		fmt.Fprintf(&b, "xgov_orchestrations_total{result=%q} %d\n", result, c.orchestrations[result])
	}
	return b.String()
}

// Handler 返回用于暴露指标的 HTTP 处理器。
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(c.Render()))
	})
}

// StartServer 启动独立的指标服务。
func (c *Collector) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L().Error("指标服务异常退出", "error", err)
		}
	}()
	return server
}

func formatBound(bound float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", bound), "0"), ".")
}

func sortedKeys(m map[string]*httpStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCounterKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
