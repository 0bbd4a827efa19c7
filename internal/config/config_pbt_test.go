package config

import (
	"os"
	"path/filepath"
	"testing"

	"pgregory.net/rapid"
)

// TestConfigRoundtrip verifies that saving and loading a config preserves
// its resource and snapshot settings for arbitrary values within the
// ranges the orchestrator actually uses.
func TestConfigRoundtrip(t *testing.T) {
	tmpDir := t.TempDir()

	rapid.Check(t, func(rt *rapid.T) {
		cfg := DefaultConfig()
		cfg.Resources.MaxParallelTasks = rapid.IntRange(1, 32).Draw(rt, "max_parallel_tasks")
		cfg.Resources.MaxDownloads = rapid.IntRange(1, 16).Draw(rt, "max_downloads")
		cfg.Snapshot.MaxAgeDays = rapid.IntRange(1, 365).Draw(rt, "max_age_days")
		cfg.Snapshot.MaxPerPlugin = rapid.IntRange(1, 50).Draw(rt, "max_per_plugin")
		cfg.ContinueOnError = rapid.Bool().Draw(rt, "continue_on_error")
		cfg.DryRun = rapid.Bool().Draw(rt, "dry_run")

		suffix := rapid.StringMatching(`[a-z0-9]{8}`).Draw(rt, "suffix")
		path := filepath.Join(tmpDir, "config-"+suffix+".yaml")

		if err := SaveConfig(cfg, path); err != nil {
			rt.Fatalf("SaveConfig failed: %v", err)
		}
		defer os.Remove(path)

		loaded, err := LoadConfig(path)
		if err != nil {
			rt.Fatalf("LoadConfig failed: %v", err)
		}

		if loaded.Resources.MaxParallelTasks != cfg.Resources.MaxParallelTasks {
			rt.Fatalf("MaxParallelTasks mismatch: expected %d, got %d", cfg.Resources.MaxParallelTasks, loaded.Resources.MaxParallelTasks)
		}
		if loaded.Resources.MaxDownloads != cfg.Resources.MaxDownloads {
			rt.Fatalf("MaxDownloads mismatch: expected %d, got %d", cfg.Resources.MaxDownloads, loaded.Resources.MaxDownloads)
		}
		if loaded.Snapshot.MaxAgeDays != cfg.Snapshot.MaxAgeDays {
			rt.Fatalf("MaxAgeDays mismatch: expected %d, got %d", cfg.Snapshot.MaxAgeDays, loaded.Snapshot.MaxAgeDays)
		}
		if loaded.Snapshot.MaxPerPlugin != cfg.Snapshot.MaxPerPlugin {
			rt.Fatalf("MaxPerPlugin mismatch: expected %d, got %d", cfg.Snapshot.MaxPerPlugin, loaded.Snapshot.MaxPerPlugin)
		}
		if loaded.ContinueOnError != cfg.ContinueOnError {
			rt.Fatalf("ContinueOnError mismatch: expected %v, got %v", cfg.ContinueOnError, loaded.ContinueOnError)
		}
		if loaded.DryRun != cfg.DryRun {
			rt.Fatalf("DryRun mismatch: expected %v, got %v", cfg.DryRun, loaded.DryRun)
		}
	})
}
