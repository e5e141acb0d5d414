// Package metrics 以 Prometheus 文本格式暴露进程内指标。
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type toolKey struct {
	tool    string
	outcome string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	tools    map[toolKey]uint64
	latency  map[string]*histogram
}

var defaultCollector = &collector{
	requests: make(map[requestKey]uint64),
	tools:    make(map[toolKey]uint64),
	latency:  make(map[string]*histogram),
}

// ObserveHTTPRequest 记录一次 HTTP 请求的结果与耗时。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()

	key := requestKey{handler: handler, method: method, code: strconv.Itoa(status)}
	defaultCollector.requests[key]++

	hist := defaultCollector.latency[handler]
	if hist == nil {
		hist = newHistogram()
		defaultCollector.latency[handler] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveToolInvocation 记录一次工具调用的结果。
func ObserveToolInvocation(tool string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	defaultCollector.tools[toolKey{tool: tool, outcome: outcome}]++
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

// Handler 以 Prometheus 文本格式输出全部指标。
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	reqKeys := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqKeys = append(reqKeys, key)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].handler != reqKeys[j].handler {
			return reqKeys[i].handler < reqKeys[j].handler
		}
		if reqKeys[i].method != reqKeys[j].method {
			return reqKeys[i].method < reqKeys[j].method
		}
		return reqKeys[i].code < reqKeys[j].code
	})
	builder.WriteString("# HELP pochipo_http_requests_total Total number of HTTP requests processed.\n")
	builder.WriteString("# TYPE pochipo_http_requests_total counter\n")
	for _, key := range reqKeys {
		builder.WriteString(fmt.Sprintf("pochipo_http_requests_total{handler=%q,method=%q,code=%q} %d\n",
			key.handler, key.method, key.code, c.requests[key]))
	}

	toolKeys := make([]toolKey, 0, len(c.tools))
	for key := range c.tools {
		toolKeys = append(toolKeys, key)
	}
	sort.Slice(toolKeys, func(i, j int) bool {
		if toolKeys[i].tool != toolKeys[j].tool {
			return toolKeys[i].tool < toolKeys[j].tool
		}
		return toolKeys[i].outcome < toolKeys[j].outcome
	})
	builder.WriteString("# HELP pochipo_tool_invocations_total Total number of tool invocations by outcome.\n")
	builder.WriteString("# TYPE pochipo_tool_invocations_total counter\n")
	for _, key := range toolKeys {
		builder.WriteString(fmt.Sprintf("pochipo_tool_invocations_total{tool=%q,outcome=%q} %d\n",
			key.tool, key.outcome, c.tools[key]))
	}

	latKeys := make([]string, 0, len(c.latency))
	for key := range c.latency {
		latKeys = append(latKeys, key)
	}
	sort.Strings(latKeys)
	builder.WriteString("# HELP pochipo_http_request_duration_seconds HTTP request duration in seconds.\n")
	builder.WriteString("# TYPE pochipo_http_request_duration_seconds histogram\n")
	for _, key := range latKeys {
		hist := c.latency[key]
		for idx, bound := range hist.buckets {
			builder.WriteString(fmt.Sprintf("pochipo_http_request_duration_seconds_bucket{handler=%q,le=%q} %d\n",
				key, strconv.FormatFloat(bound, 'f', -1, 64), hist.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("pochipo_http_request_duration_seconds_bucket{handler=%q,le=\"+Inf\"} %d\n", key, hist.count))
		builder.WriteString(fmt.Sprintf("pochipo_http_request_duration_seconds_sum{handler=%q} %s\n",
			key, strconv.FormatFloat(hist.sum, 'f', -1, 64)))
		builder.WriteString(fmt.Sprintf("pochipo_http_request_duration_seconds_count{handler=%q} %d\n", key, hist.count))
	}

	return builder.String()
}
