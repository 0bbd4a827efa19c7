// Package config provides configuration parsing for the update-all engine.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the orchestrator configuration.
type Config struct {
	// PluginDir is scanned for plugin executables and their sidecar
	// descriptor files (see internal/pluginproc.DiscoverDescriptors).
	PluginDir string `yaml:"plugin_dir"`

	// PollIntervalSeconds drives the optional watch mode's fixed-interval
	// ticker; ignored when WatchCron is set.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// WatchCron, if set, drives watch mode on a cron schedule instead of a
	// plain ticker (see runWatchLoop in cmd/updatectl).
	WatchCron string `yaml:"watch_cron"`

	// Resources configures the Resource Controller.
	Resources ResourceConfig `yaml:"resources"`

	// Download configures the Download Manager.
	Download DownloadConfig `yaml:"download"`

	// Snapshot configures the Snapshot/Rollback subsystem.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Observability configures the fallback-mode telemetry provider.
	Observability ObservabilityConfig `yaml:"observability"`

	// Plugins holds per-plugin overrides keyed by plugin name.
	Plugins map[string]PluginOverride `yaml:"plugins"`

	// ContinueOnError lets the orchestrator proceed to later waves after a
	// plugin FAILED/TIMEOUT, per spec.md §4.7 step 4c.
	ContinueOnError bool `yaml:"continue_on_error"`

	// DryRun, when true, runs every plugin's `update --dry-run`.
	DryRun bool `yaml:"dry_run"`

	// LogFile path for the text log handler, mirroring the teacher's single
	// log-file-plus-stderr convention.
	LogFile string `yaml:"log_file"`

	// Preflight configures the disk-headroom gate checked before each
	// plugin's EXECUTE phase.
	Preflight PreflightConfig `yaml:"preflight"`
}

// PreflightConfig configures the disk-headroom gate (internal/preflight).
// A zero value disables the check entirely.
type PreflightConfig struct {
	Path           string  `yaml:"path"`
	MinFreeMiB     int64   `yaml:"min_free_mib"`
	MinFreePercent float64 `yaml:"min_free_percent"`
}

// PluginOverride lets config disable a plugin or override its declared
// mutexes/dependencies/timeout without touching its descriptor file,
// per spec.md §4.7's "optional per-plugin configs (enabled, timeout,
// dependency overrides)".
type PluginOverride struct {
	Enabled      *bool    `yaml:"enabled"`
	TimeoutSecs  int      `yaml:"timeout_seconds"`
	DependsOn    []string `yaml:"depends_on"`
	Mutexes      []string `yaml:"mutexes"`
}

// IsEnabled reports whether the override allows the plugin to run (true
// when unset).
func (o PluginOverride) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// ResourceConfig configures the Resource Controller's semaphores.
type ResourceConfig struct {
	MaxParallelTasks int   `yaml:"max_parallel_tasks"`
	MaxDownloads     int   `yaml:"max_downloads"`
	MemoryCeilingMiB int64 `yaml:"memory_ceiling_mib"`
}

// DownloadConfig configures the Download Manager's defaults.
type DownloadConfig struct {
	CacheDir                  string `yaml:"cache_dir"`
	MaxRetries                int    `yaml:"max_retries"`
	RetryDelaySeconds         int    `yaml:"retry_delay_seconds"`
	BandwidthLimitBytesPerSec int64  `yaml:"bandwidth_limit_bytes_per_sec"`
	CacheMaxAgeDays           int    `yaml:"cache_max_age_days"`
}

// SnapshotConfig configures where snapshots and rollback state live, and
// their GC policy.
type SnapshotConfig struct {
	DataDir           string `yaml:"data_dir"`
	MaxAgeDays        int    `yaml:"max_age_days"`
	MaxPerPlugin      int    `yaml:"max_per_plugin"`
}

// ObservabilityConfig configures the fallback-mode telemetry provider
// (internal/telemetry), following the teacher's otel.Config shape.
type ObservabilityConfig struct {
	Enabled          bool   `yaml:"enabled"`
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	TracesEnabled    bool   `yaml:"traces_enabled"`
	HeartbeatEnabled bool   `yaml:"heartbeat_enabled"`
	HeartbeatPath    string `yaml:"heartbeat_path"`
	HealthPort       int    `yaml:"health_port"`
	FallbackPath     string `yaml:"fallback_path"`
}

// DefaultConfig returns the default configuration, mirroring the teacher's
// DefaultConfig() convention: compute platform defaults once, then let
// LoadConfig overlay a user file on top.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".local", "state", "update-all")

	return &Config{
		PluginDir:           filepath.Join(home, ".local", "share", "update-all", "plugins"),
		PollIntervalSeconds: 3600,
		Resources: ResourceConfig{
			MaxParallelTasks: 4,
			MaxDownloads:     2,
		},
		Download: DownloadConfig{
			CacheDir:          filepath.Join(tempOrDataDir(home), "update-all-cache"),
			MaxRetries:        3,
			RetryDelaySeconds: 1,
			CacheMaxAgeDays:   30,
		},
		Snapshot: SnapshotConfig{
			DataDir:      filepath.Join(xdgDataHome(home), "update-all", "snapshots"),
			MaxAgeDays:   14,
			MaxPerPlugin: 5,
		},
		Observability: ObservabilityConfig{
			Enabled:          true,
			MetricsEnabled:   true,
			HeartbeatEnabled: true,
			HeartbeatPath:    filepath.Join(stateDir, "heartbeat"),
			FallbackPath:     filepath.Join(stateDir, "telemetry.jsonl"),
		},
		LogFile: filepath.Join(home, ".local", "log", "update-all.log"),
		Preflight: PreflightConfig{
			Path:           "/",
			MinFreeMiB:     500,
			MinFreePercent: 5.0,
		},
	}
}

func tempOrDataDir(home string) string {
	if dir := os.TempDir(); dir != "" {
		return dir
	}
	return home
}

func xdgDataHome(home string) string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".local", "share")
}

// LoadConfig loads configuration from a YAML file, merging with defaults;
// a missing file is not an error (matches the teacher's LoadConfig).
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// RollbackStatePath returns the persisted rollback state file path under
// the snapshot data directory's parent, per spec.md §6's persisted state
// layout (`<XDG_DATA_HOME>/update-all/rollback/rollback_state.json`).
func (c *Config) RollbackStatePath() string {
	return filepath.Join(filepath.Dir(c.Snapshot.DataDir), "rollback", "rollback_state.json")
}

// PluginTimeout resolves the effective timeout for plugin name, given its
// descriptor-declared default, applying any config override.
func (c *Config) PluginTimeout(name string, declared time.Duration) time.Duration {
	if o, ok := c.Plugins[name]; ok && o.TimeoutSecs > 0 {
		return time.Duration(o.TimeoutSecs) * time.Second
	}
	return declared
}
