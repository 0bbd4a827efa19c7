package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector tracks orchestrator run metrics internally, generalized
// from the teacher's disk-cleanup counters (bytes freed, items cleaned) to
// run/wave/plugin outcomes. When a real OTel SDK is wired, these feed
// directly into OTel instruments without changing call sites.
type MetricsCollector struct {
	runsTotal         int64
	pluginsSucceeded  int64
	pluginsFailed     int64
	pluginsTimedOut   int64
	pluginsSkipped    int64
	packagesUpdated   int64
	bytesDownloaded   int64

	mu               sync.RWMutex
	pluginDuration   map[string]time.Duration
	pluginDurations  map[string][]float64
	waveDurationHist []float64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		pluginDuration:  make(map[string]time.Duration),
		pluginDurations: make(map[string][]float64),
	}
}

// RecordRun increments the completed-run counter.
func (m *MetricsCollector) RecordRun() {
	atomic.AddInt64(&m.runsTotal, 1)
}

// RecordPluginOutcome tallies a terminal plugin state.
func (m *MetricsCollector) RecordPluginOutcome(state string) {
	switch state {
	case "SUCCESS":
		atomic.AddInt64(&m.pluginsSucceeded, 1)
	case "FAILED":
		atomic.AddInt64(&m.pluginsFailed, 1)
	case "TIMEOUT":
		atomic.AddInt64(&m.pluginsTimedOut, 1)
	case "SKIPPED":
		atomic.AddInt64(&m.pluginsSkipped, 1)
	}
}

// RecordPackagesUpdated adds to the packages-updated counter.
func (m *MetricsCollector) RecordPackagesUpdated(n int64) {
	atomic.AddInt64(&m.packagesUpdated, n)
}

// RecordBytesDownloaded adds to the bytes-downloaded counter.
func (m *MetricsCollector) RecordBytesDownloaded(n int64) {
	atomic.AddInt64(&m.bytesDownloaded, n)
}

// RecordPluginDuration records a plugin's wall-clock duration and keeps a
// 100-sample sliding window for percentile estimation.
func (m *MetricsCollector) RecordPluginDuration(plugin string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pluginDuration[plugin] = d
	hist := m.pluginDurations[plugin]
	if len(hist) >= 100 {
		hist = hist[1:]
	}
	m.pluginDurations[plugin] = append(hist, d.Seconds())
}

// RecordWaveDuration records a wave's wall-clock duration.
func (m *MetricsCollector) RecordWaveDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.waveDurationHist) > 100 {
		m.waveDurationHist = m.waveDurationHist[1:]
	}
	m.waveDurationHist = append(m.waveDurationHist, d.Seconds())
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *MetricsCollector) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	durations := make(map[string]float64, len(m.pluginDuration))
	for k, v := range m.pluginDuration {
		durations[k] = v.Seconds()
	}

	return map[string]interface{}{
		"runs_total":          atomic.LoadInt64(&m.runsTotal),
		"plugins_succeeded":   atomic.LoadInt64(&m.pluginsSucceeded),
		"plugins_failed":      atomic.LoadInt64(&m.pluginsFailed),
		"plugins_timed_out":   atomic.LoadInt64(&m.pluginsTimedOut),
		"plugins_skipped":     atomic.LoadInt64(&m.pluginsSkipped),
		"packages_updated":    atomic.LoadInt64(&m.packagesUpdated),
		"bytes_downloaded":    atomic.LoadInt64(&m.bytesDownloaded),
		"plugin_duration_sec": durations,
	}
}
