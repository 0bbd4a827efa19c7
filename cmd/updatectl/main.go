// updatectl drives the update orchestration engine: discover plugins,
// build a dependency- and mutex-aware schedule, run them in waves with
// bounded resource use, and record snapshots sufficient to roll back a
// failed run.
//
// Usage:
//
//	updatectl [flags]
//	updatectl -rollback RUN_ID
//	updatectl -watch
//
// Flags:
//
//	-config string    Path to configuration file (default: ~/.config/update-all/config.yaml)
//	-plugin-dir string Override the plugin directory from config
//	-watch            Run repeatedly on the configured interval or cron schedule
//	-dry-run          Pass --dry-run through to every plugin's update
//	-continue-on-error Keep running later waves after a plugin FAILED/TIMEOUT
//	-rollback string  Roll back a previous run by its run_id instead of running
//	-list-rollbacks   Print every run_id with a pending rollback point and exit
//	-verbose          Enable debug logging
//	-version          Print version and exit
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tinyland/update-all/internal/config"
	"github.com/tinyland/update-all/internal/download"
	"github.com/tinyland/update-all/internal/events"
	"github.com/tinyland/update-all/internal/mutex"
	"github.com/tinyland/update-all/internal/orchestrator"
	"github.com/tinyland/update-all/internal/pluginproc"
	"github.com/tinyland/update-all/internal/preflight"
	"github.com/tinyland/update-all/internal/resource"
	"github.com/tinyland/update-all/internal/snapshot"
	"github.com/tinyland/update-all/internal/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath      = flag.String("config", "", "Path to configuration file")
		pluginDir       = flag.String("plugin-dir", "", "Override the plugin directory from config")
		watch           = flag.Bool("watch", false, "Run repeatedly on the configured interval or cron schedule")
		dryRun          = flag.Bool("dry-run", false, "Pass --dry-run through to every plugin's update")
		continueOnError = flag.Bool("continue-on-error", false, "Keep running later waves after a plugin FAILED/TIMEOUT")
		rollbackRunID   = flag.String("rollback", "", "Roll back a previous run by its run_id instead of running")
		listRollbacks   = flag.Bool("list-rollbacks", false, "Print every run_id with a pending rollback point and exit")
		verbose         = flag.Bool("verbose", false, "Enable debug logging")
		showVersion     = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("updatectl %s (%s) built %s\n", version, commit, date)
		os.Exit(0)
	}

	if *configPath == "" {
		home, _ := os.UserHomeDir()
		*configPath = filepath.Join(home, ".config", "update-all", "config.yaml")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *pluginDir != "" {
		cfg.PluginDir = *pluginDir
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if *continueOnError {
		cfg.ContinueOnError = true
	}

	logger, closeLog, err := setupLogger(cfg, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	store := snapshot.NewStore(cfg.Snapshot.DataDir)
	rollbackMgr, err := snapshot.NewManager(store, cfg.RollbackStatePath())
	if err != nil {
		logger.Error("failed to load rollback state", "error", err)
		os.Exit(1)
	}

	if *listRollbacks {
		for _, id := range rollbackMgr.Points() {
			fmt.Println(id)
		}
		return
	}

	if *rollbackRunID != "" {
		outcome, results, err := rollbackMgr.Rollback(*rollbackRunID)
		if err != nil {
			logger.Error("rollback failed", "error", err)
			os.Exit(1)
		}
		printRollbackReport(outcome, results)
		if outcome != snapshot.RestoreCompleted {
			os.Exit(1)
		}
		return
	}

	telemetryProvider := telemetry.NewProvider(telemetry.FromConfig(cfg.Observability), logger)
	defer telemetryProvider.Shutdown()

	runBus := events.NewBus(256)
	wireRunEventLogging(runBus, logger, telemetryProvider)
	defer runBus.Close()

	if *watch {
		runWatchLoop(ctx, cfg, logger, runBus, store, rollbackMgr, telemetryProvider)
		return
	}

	summary, err := runOnce(ctx, cfg, logger, runBus, store, rollbackMgr, telemetryProvider)
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
	printSummary(summary)
	if summary.Failures > 0 {
		os.Exit(1)
	}
}

// runOnce performs exactly one orchestrator run, wiring snapshot creation
// and its rollback-point bookkeeping as the orchestrator's pre_execute hook
// and per-plugin outcome/duration metrics as its post_execute hook, per
// spec.md §4.9's "each plugin about to run EXECUTE appends its snapshot to
// the point" rule.
func runOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger, runBus *events.Bus, store *snapshot.Store, rollbackMgr *snapshot.Manager, tel *telemetry.Provider) (orchestrator.ExecutionSummary, error) {
	descriptors, err := pluginproc.DiscoverDescriptors(cfg.PluginDir)
	if err != nil {
		return orchestrator.ExecutionSummary{}, fmt.Errorf("discovering plugins: %w", err)
	}

	res := resource.New(resource.Limits{
		MaxParallelTasks: cfg.Resources.MaxParallelTasks,
		MaxDownloads:     cfg.Resources.MaxDownloads,
		MemoryCeilingMiB: cfg.Resources.MemoryCeilingMiB,
	}, logger, nil)
	mtx := mutex.New()
	byName := make(map[string]pluginproc.Descriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}
	estimator := pluginproc.New()
	diskGuard := preflight.NewDiskGuard(cfg.Preflight.MinFreeMiB, cfg.Preflight.MinFreePercent)
	diskGuardPath := cfg.Preflight.Path
	if diskGuardPath == "" {
		diskGuardPath = "/"
	}

	var runID string
	hooks := orchestrator.Hooks{
		OnRunEvent: func(e events.RunEvent) {
			if e.Type == events.RunEventStarted {
				runID, _ = e.Payload.(string)
				if err := rollbackMgr.OpenPoint(runID); err != nil {
					logger.Warn("failed to open rollback point", "run_id", runID, "error", err)
				}
			}
			runBus.Publish(e)
		},
		// PreExecute records a best-effort PACKAGE_LIST snapshot from
		// estimate-update's reported package count before the plugin
		// touches anything; plugins that declare no estimate-update simply
		// get an empty snapshot, which is enough to keep the rollback
		// point's bookkeeping consistent even when there is nothing to
		// restore.
		PreExecute: func(ctx context.Context, plugin string) error {
			if err := diskGuard.Check(diskGuardPath); err != nil {
				return err
			}
			desc, ok := byName[plugin]
			if !ok {
				return nil
			}
			var data json.RawMessage
			if est, err := estimator.EstimateUpdate(ctx, desc); err == nil {
				if encoded, err := json.Marshal(est); err == nil {
					data = encoded
				}
			}
			snap, err := store.Create(plugin, snapshot.TypePackageList, data, nil)
			if err != nil {
				return err
			}
			if runID != "" {
				return rollbackMgr.AppendSnapshot(runID, snap)
			}
			return nil
		},
		PostExecute: func(_ context.Context, plugin string, result orchestrator.ExecutionResult) {
			if tel.Metrics() != nil {
				tel.Metrics().RecordPluginOutcome(string(result.State))
				tel.Metrics().RecordPluginDuration(plugin, result.Duration)
			}
		},
	}

	orch := orchestrator.New(descriptors, res, mtx, logger, hooks)

	if downloader, err := download.NewManager(cfg.Download.CacheDir, res); err != nil {
		logger.Warn("download manager unavailable, plugins will perform their own downloads", "error", err)
	} else {
		orch.EnableMultiPhase(downloader, false)
	}

	pluginConfigs := make(map[string]orchestrator.PluginConfig, len(cfg.Plugins))
	for name, override := range cfg.Plugins {
		pluginConfigs[name] = orchestrator.PluginConfig{
			Enabled:       override.Enabled,
			Timeout:       time.Duration(override.TimeoutSecs) * time.Second,
			DependsOn:     override.DependsOn,
			MutexOverride: override.Mutexes,
		}
	}

	opts := orchestrator.RunOptions{
		PluginConfigs:   pluginConfigs,
		DryRun:          cfg.DryRun,
		ContinueOnError: cfg.ContinueOnError,
		Sink: func(e events.Event) {
			if e.Type == events.TypeOutput {
				logger.Debug("plugin output", "plugin", e.Plugin, "stream", e.Stream, "line", e.Line)
			}
		},
	}

	summary, err := orch.Run(ctx, opts)
	if err != nil {
		return summary, err
	}

	if tel.Metrics() != nil {
		tel.Metrics().RecordRun()
	}
	tel.RecordHeartbeat()

	if summary.Failures == 0 && runID != "" {
		if err := rollbackMgr.MarkSuccess(runID); err != nil {
			logger.Warn("failed to clear rollback point for successful run", "run_id", runID, "error", err)
		}
	}

	if err := store.CleanupOldSnapshots(cfg.Snapshot.MaxAgeDays, cfg.Snapshot.MaxPerPlugin); err != nil {
		logger.Warn("snapshot GC failed", "error", err)
	}
	if err := rollbackMgr.Cleanup(cfg.Snapshot.MaxAgeDays); err != nil {
		logger.Warn("rollback point GC failed", "error", err)
	}

	return summary, nil
}

// runWatchLoop re-runs the orchestrator either on WatchCron (when set) or a
// fixed-interval ticker, mirroring the teacher daemon's Run loop generalized
// to an optional cron schedule per SPEC_FULL.md's watch-mode addition.
func runWatchLoop(ctx context.Context, cfg *config.Config, logger *slog.Logger, runBus *events.Bus, store *snapshot.Store, rollbackMgr *snapshot.Manager, tel *telemetry.Provider) {
	runFn := func() {
		if _, err := runOnce(ctx, cfg, logger, runBus, store, rollbackMgr, tel); err != nil {
			logger.Error("watch run failed", "error", err)
		}
	}

	runFn()

	if cfg.WatchCron != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.WatchCron, runFn); err != nil {
			logger.Error("invalid watch cron expression", "expr", cfg.WatchCron, "error", err)
			return
		}
		c.Start()
		defer c.Stop()
		<-ctx.Done()
		return
	}

	interval := cfg.PollIntervalSeconds
	if interval <= 0 {
		interval = 3600
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runFn()
		}
	}
}

func printSummary(summary orchestrator.ExecutionSummary) {
	fmt.Printf("run %s: %d succeeded, %d failed, %d skipped\n",
		summary.RunID, summary.Successes, summary.Failures, summary.Skipped)
	for _, r := range summary.Results {
		if r.State == orchestrator.StateFailed || r.State == orchestrator.StateTimeout {
			fmt.Printf("  %s: %s (%s)\n", r.Plugin, r.State, r.Error)
		}
	}
}

func printRollbackReport(outcome snapshot.RestoreOutcome, results []snapshot.Result) {
	fmt.Printf("rollback: %s\n", outcome)
	for _, r := range results {
		if r.Error != "" {
			fmt.Printf("  %s (%s): %s\n", r.Plugin, r.SnapshotDir, r.Error)
		} else {
			fmt.Printf("  %s (%s): restored\n", r.Plugin, r.SnapshotDir)
		}
	}
}

func wireRunEventLogging(bus *events.Bus, logger *slog.Logger, tel *telemetry.Provider) {
	bus.Subscribe("log", func(e events.RunEvent) {
		switch e.Type {
		case events.RunEventPluginStarted:
			logger.Debug("plugin started", "plugin", e.Payload)
		case events.RunEventPluginCompleted:
			logger.Info("plugin completed", "plugin", e.Payload)
		case events.RunEventPluginFailed:
			logger.Warn("plugin failed", "plugin", e.Payload)
		case events.RunEventWaveStarted:
			logger.Debug("wave started", "wave", e.Payload)
		case events.RunEventWaveCompleted:
			logger.Debug("wave completed", "wave", e.Payload)
		case events.RunEventCompleted:
			if summary, ok := e.Payload.(orchestrator.ExecutionSummary); ok {
				data, _ := json.Marshal(summary)
				logger.Info("run completed", "summary", string(data))
			}
		}
	})

	if tel.Metrics() != nil {
		bus.Subscribe("heartbeat", func(e events.RunEvent) {
			if e.Type == events.RunEventCompleted {
				tel.RecordHeartbeat()
			}
		})
	}
}

func setupLogger(cfg *config.Config, verbose bool) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if cfg.LogFile == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		return nil, nil, err
	}
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}

	writer := io.MultiWriter(os.Stderr, logFile)
	logger := slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level}))
	return logger, func() { logFile.Close() }, nil
}
