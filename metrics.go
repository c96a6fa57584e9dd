package aidefense

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MetricsCollector receives operational counters, gauges and histogram
// observations from the detection path.
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	HealthCheck() error
	ExportPrometheus() string
}

// InMemoryMetricsCollector is the default MetricsCollector, holding all
// series in process memory and exporting them in Prometheus text format.
type InMemoryMetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]map[string]int64
	gauges     map[string]map[string]float64
	histograms map[string][]float64
}

func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		counters:   make(map[string]map[string]int64),
		gauges:     make(map[string]map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (m *InMemoryMetricsCollector) IncrementCounter(name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[name] == nil {
		m.counters[name] = make(map[string]int64)
	}
	m.counters[name][labelKey(labels)]++
}

func (m *InMemoryMetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = append(m.histograms[name], value)
}

func (m *InMemoryMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges[name] == nil {
		m.gauges[name] = make(map[string]float64)
	}
	m.gauges[name][labelKey(labels)] = value
}

// labelKey renders labels in sorted order so the same label set always maps
// to the same series.
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return "default"
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return strings.Join(parts, ",")
}

// CounterValue returns the current value of a counter series, mainly for
// tests.
func (m *InMemoryMetricsCollector) CounterValue(name string, labels map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if series, ok := m.counters[name]; ok {
		return series[labelKey(labels)]
	}
	return 0
}

// GaugeValue returns the current value of a gauge series, mainly for tests.
func (m *InMemoryMetricsCollector) GaugeValue(name string, labels map[string]string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if series, ok := m.gauges[name]; ok {
		return series[labelKey(labels)]
	}
	return 0
}

func (m *InMemoryMetricsCollector) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_ = len(m.counters)
	_ = len(m.gauges)
	_ = len(m.histograms)
	return nil
}

// ExportPrometheus renders all series in Prometheus text format. Histograms
// are exported as sum and count only.
func (m *InMemoryMetricsCollector) ExportPrometheus() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var output strings.Builder

	names := sortedKeys(m.counters)
	for _, name := range names {
		output.WriteString(fmt.Sprintf("# HELP %s Counter\n", name))
		output.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
		for _, labelK := range sortedKeys(m.counters[name]) {
			output.WriteString(fmt.Sprintf("%s{%s} %d\n", name, labelK, m.counters[name][labelK]))
		}
	}

	for _, name := range sortedKeys(m.gauges) {
		output.WriteString(fmt.Sprintf("# HELP %s Gauge\n", name))
		output.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
		for _, labelK := range sortedKeys(m.gauges[name]) {
			output.WriteString(fmt.Sprintf("%s{%s} %f\n", name, labelK, m.gauges[name][labelK]))
		}
	}

	for _, name := range sortedKeys(m.histograms) {
		values := m.histograms[name]
		if len(values) == 0 {
			continue
		}
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		output.WriteString(fmt.Sprintf("# HELP %s Histogram\n", name))
		output.WriteString(fmt.Sprintf("# TYPE %s histogram\n", name))
		output.WriteString(fmt.Sprintf("%s_sum %f\n", name, sum))
		output.WriteString(fmt.Sprintf("%s_count %d\n", name, len(values)))
	}

	return output.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
