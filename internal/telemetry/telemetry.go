// Package telemetry provides lightweight observability for the update-all
// engine, adapted from the teacher's otel/ package: a fallback-mode
// provider that writes JSON metrics/heartbeat/trace files and serves a
// /healthz endpoint, rather than depending on a live OTel collector. When a
// real collector is available, the Provider can be wired to OTLP exporters
// without changing call sites.
package telemetry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinyland/update-all/internal/config"
)

// Config wraps the observability config for validation.
type Config struct {
	Enabled          bool
	MetricsEnabled   bool
	TracesEnabled    bool
	HeartbeatEnabled bool
	HeartbeatPath    string
	HealthPort       int
	FallbackPath     string
}

// FromConfig converts config.ObservabilityConfig to telemetry.Config.
func FromConfig(cfg config.ObservabilityConfig) *Config {
	return &Config{
		Enabled:          cfg.Enabled,
		MetricsEnabled:   cfg.MetricsEnabled,
		TracesEnabled:    cfg.TracesEnabled,
		HeartbeatEnabled: cfg.HeartbeatEnabled,
		HeartbeatPath:    cfg.HeartbeatPath,
		HealthPort:       cfg.HealthPort,
		FallbackPath:     cfg.FallbackPath,
	}
}

// Provider manages observability resources (metrics, traces, heartbeat)
// for one orchestrator run. A no-op provider is returned when disabled, so
// callers never need a nil check.
type Provider struct {
	cfg      *Config
	logger   *slog.Logger
	metrics  *MetricsCollector
	tracer   *Tracer
	hb       *Heartbeat
	health   *HealthServer
	mu       sync.Mutex
	shutdown bool
}

// NewProvider creates a new observability provider.
func NewProvider(cfg *Config, logger *slog.Logger) *Provider {
	p := &Provider{cfg: cfg, logger: logger}

	if !cfg.Enabled {
		logger.Debug("observability disabled")
		return p
	}

	if cfg.MetricsEnabled {
		p.metrics = NewMetricsCollector()
		logger.Info("metrics collector initialized (fallback mode)")
	}

	if cfg.TracesEnabled {
		p.tracer = NewTracer(cfg.FallbackPath)
		logger.Info("tracer initialized (fallback mode)", "path", cfg.FallbackPath)
	}

	if cfg.HeartbeatEnabled && cfg.HeartbeatPath != "" {
		p.hb = NewHeartbeat(cfg.HeartbeatPath)
		logger.Info("heartbeat initialized", "path", cfg.HeartbeatPath)
	}

	if cfg.HealthPort > 0 {
		p.health = NewHealthServer(cfg.HealthPort, logger)
		go p.health.Start()
		logger.Info("health server started", "port", cfg.HealthPort)
	}

	return p
}

// Metrics returns the metrics collector (nil if disabled).
func (p *Provider) Metrics() *MetricsCollector { return p.metrics }

// Tracer returns the tracer (nil if disabled).
func (p *Provider) Tracer() *Tracer { return p.tracer }

// Heartbeat returns the heartbeat writer (nil if disabled).
func (p *Provider) Heartbeat() *Heartbeat { return p.hb }

// RecordHeartbeat writes a heartbeat tick; a no-op when disabled.
func (p *Provider) RecordHeartbeat() {
	if p.hb != nil {
		p.hb.Tick()
	}
}

// Shutdown cleanly shuts down every observability component, flushing
// metrics and traces to their fallback files exactly once.
func (p *Provider) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return
	}
	p.shutdown = true

	if p.health != nil {
		p.health.Stop()
	}
	if p.metrics != nil && p.cfg.FallbackPath != "" {
		p.flushMetrics()
	}
	if p.tracer != nil {
		p.tracer.Flush()
	}
	if p.logger != nil {
		p.logger.Info("observability shutdown complete")
	}
}

func (p *Provider) flushMetrics() {
	snapshot := p.metrics.Snapshot()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		p.logger.Warn("failed to marshal metrics", "error", err)
		return
	}

	dir := filepath.Dir(p.cfg.FallbackPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		p.logger.Warn("failed to create fallback directory", "error", err)
		return
	}

	metricsPath := p.cfg.FallbackPath + ".metrics"
	if err := os.WriteFile(metricsPath, data, 0644); err != nil {
		p.logger.Warn("failed to write metrics fallback", "error", err)
	}
}

// ResourceAttributes returns common attributes for all telemetry.
func ResourceAttributes() map[string]string {
	hostname, _ := os.Hostname()
	return map[string]string{
		"service.name":    "update-all",
		"service.version": "0.1.0",
		"host.name":       hostname,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
}
