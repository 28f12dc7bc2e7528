package monitoring

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric 指标
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Help      string            `json:"help,omitempty"`
}

// MetricsCollector 指标收集器, 每个名称+标签组合保存一个当前值
type MetricsCollector struct {
	series      map[string]*Metric
	help        map[string]string
	metricsLock sync.RWMutex

	startTime time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		series:    make(map[string]*Metric),
		help:      make(map[string]string),
		startTime: time.Now(),
	}
}

// Describe 设置指标说明, 导出时作为HELP行
func (mc *MetricsCollector) Describe(name, help string) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	mc.help[name] = help
}

// IncrCounter 增加计数器
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.update(name, MetricTypeCounter, labels, func(m *Metric) { m.Value += value })
}

// SetGauge 设置仪表
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.update(name, MetricTypeGauge, labels, func(m *Metric) { m.Value = value })
}

// ObserveDuration 记录耗时, 累加到 name_count 和 name_sum
func (mc *MetricsCollector) ObserveDuration(name string, d time.Duration, labels map[string]string) {
	mc.update(name+"_count", MetricTypeHistogram, labels, func(m *Metric) { m.Value++ })
	mc.update(name+"_sum", MetricTypeHistogram, labels, func(m *Metric) { m.Value += d.Seconds() })
}

func (mc *MetricsCollector) update(name string, typ MetricType, labels map[string]string, apply func(*Metric)) {
	key := seriesKey(name, labels)

	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	m, ok := mc.series[key]
	if !ok {
		m = &Metric{Name: name, Type: typ, Labels: copyLabels(labels)}
		mc.series[key] = m
	}
	apply(m)
	m.Timestamp = time.Now()
}

// GetMetric 获取某个标签组合的当前值
func (mc *MetricsCollector) GetMetric(name string, labels map[string]string) (float64, bool) {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	m, ok := mc.series[seriesKey(name, labels)]
	if !ok {
		return 0, false
	}
	return m.Value, true
}

// GetAllMetrics 获取所有指标副本, 按名称和标签排序
func (mc *MetricsCollector) GetAllMetrics() []Metric {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	keys := make([]string, 0, len(mc.series))
	for k := range mc.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]Metric, 0, len(keys))
	for _, k := range keys {
		m := *mc.series[k]
		m.Labels = copyLabels(m.Labels)
		m.Help = mc.help[baseName(m)]
		result = append(result, m)
	}
	return result
}

// Run 定期收集运行时指标, 阻塞直到ctx结束
func (mc *MetricsCollector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	mc.CollectSystemMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mc.CollectSystemMetrics()
		}
	}
}

// CollectSystemMetrics 收集内存和协程指标
func (mc *MetricsCollector) CollectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mc.SetGauge("roadsafe_memory_heap_alloc_bytes", float64(m.HeapAlloc), nil)
	mc.SetGauge("roadsafe_memory_heap_sys_bytes", float64(m.HeapSys), nil)
	mc.SetGauge("roadsafe_memory_gc_cycles", float64(m.NumGC), nil)
	mc.SetGauge("roadsafe_goroutines", float64(runtime.NumGoroutine()), nil)
	mc.SetGauge("roadsafe_uptime_seconds", mc.GetUptime().Seconds(), nil)
}

// ExportPrometheus 导出Prometheus文本格式
func (mc *MetricsCollector) ExportPrometheus(w io.Writer) error {
	var b strings.Builder
	described := make(map[string]bool)

	for _, m := range mc.GetAllMetrics() {
		base := baseName(m)
		if !described[base] {
			described[base] = true
			help := m.Help
			if help == "" {
				help = fmt.Sprintf("Metric %s", base)
			}
			typ := m.Type
			if typ == MetricTypeHistogram {
				typ = "summary"
			}
			fmt.Fprintf(&b, "# HELP %s %s\n", base, help)
			fmt.Fprintf(&b, "# TYPE %s %s\n", base, typ)
		}
		fmt.Fprintf(&b, "%s%s %g\n", m.Name, formatLabels(m.Labels), m.Value)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

func baseName(m Metric) string {
	name := m.Name
	if m.Type != MetricTypeHistogram {
		return name
	}
	for _, suffix := range []string{"_count", "_sum"} {
		if base, ok := strings.CutSuffix(name, suffix); ok && base != "" {
			return base
		}
	}
	return name
}

func seriesKey(name string, labels map[string]string) string {
	return name + formatLabels(labels)
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf(`%s="%s"`, k, labelEscaper.Replace(labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
