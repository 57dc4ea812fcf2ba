// Package metrics keeps in-process counters for the agent: messages, model
// rounds, tool executions and approval outcomes. Values are read back by the
// /status chat command and logged at gateway shutdown.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector.
var Collector = NewCollector()

// MetricsCollector aggregates counters, gauges, and histograms keyed by
// name and label string.
type MetricsCollector struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

type Counter struct {
	name   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

type Gauge struct {
	name   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks count and sum of observations plus cumulative buckets.
type Histogram struct {
	name    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Mean returns the average observation, or 0 when nothing was observed.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Bucket returns how many observations were <= le. le must be one of the
// bounds the histogram was created with.
func (h *Histogram) Bucket(le float64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.bounds {
		if b == le {
			return h.buckets[i]
		}
	}
	return 0
}

func metricKey(name, labels string) string {
	return name + "{" + labels + "}"
}

// Counter returns or creates a counter.
func (c *MetricsCollector) Counter(name, labels string) *Counter {
	key := metricKey(name, labels)
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(key, &Counter{name: name, labels: labels})
	return actual.(*Counter)
}

// Gauge returns or creates a gauge.
func (c *MetricsCollector) Gauge(name, labels string) *Gauge {
	key := metricKey(name, labels)
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(key, &Gauge{name: name, labels: labels})
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram. Buckets are only used on first
// creation.
func (c *MetricsCollector) Histogram(name, labels string, buckets []float64) *Histogram {
	key := metricKey(name, labels)
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	h := &Histogram{name: name, labels: labels, bounds: bounds, buckets: make([]int64, len(bounds))}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// Sum adds up every counter with the given name across label sets.
func (c *MetricsCollector) Sum(name string) int64 {
	var total int64
	c.counters.Range(func(_, v any) bool {
		if ctr := v.(*Counter); ctr.name == name {
			total += ctr.Value()
		}
		return true
	})
	return total
}

// Snapshot returns "name{labels} value" lines for all counters and gauges,
// sorted by key.
func (c *MetricsCollector) Snapshot() []string {
	var lines []string
	add := func(name, labels string, v int64) {
		if labels == "" {
			lines = append(lines, fmt.Sprintf("%s %d", name, v))
			return
		}
		lines = append(lines, fmt.Sprintf("%s{%s} %d", name, labels, v))
	}
	c.counters.Range(func(_, v any) bool {
		ctr := v.(*Counter)
		add(ctr.name, ctr.labels, ctr.Value())
		return true
	})
	c.gauges.Range(func(_, v any) bool {
		g := v.(*Gauge)
		add(g.name, g.labels, g.Value())
		return true
	})
	sort.Strings(lines)
	return lines
}

// ToolExecutions is the name of the per-tool, per-outcome counter.
const ToolExecutions = "clawgate_tool_executions_total"

// ToolOutcome increments the per-tool execution counter. Outcome is one of
// ok, error, denied, invalid, unknown.
func ToolOutcome(tool, outcome string) {
	labels := fmt.Sprintf("tool=%q,outcome=%q", tool, strings.ToLower(outcome))
	Collector.Counter(ToolExecutions, labels).Inc()
}

var (
	MessagesTotal    = Collector.Counter("clawgate_messages_total", "")
	TurnsFailed      = Collector.Counter("clawgate_turns_failed_total", "")
	LLMRequestsTotal = Collector.Counter("clawgate_llm_requests_total", "")
	BusDropped       = Collector.Counter("clawgate_bus_dropped_total", "")
	ActiveTurns      = Collector.Gauge("clawgate_active_turns", "")

	LLMLatency = Collector.Histogram("clawgate_llm_latency_seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	ToolLatency = Collector.Histogram("clawgate_tool_latency_seconds", "",
		[]float64{0.1, 0.5, 1, 5, 10, 30})
)
