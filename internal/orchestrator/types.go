// Package orchestrator drives a single-phase update run: it asks the
// scheduler for waves, spawns a supervision goroutine per plugin in each
// wave, gates them through the mutex manager and resource controller, and
// assembles the run's ExecutionSummary. It generalizes the teacher's
// daemon.Pool/Daemon pairing (resource-group semaphore + cycle-event bus)
// from a fixed cleanup cycle to an arbitrary plugin DAG.
package orchestrator

import (
	"time"

	"github.com/tinyland/update-all/internal/events"
)

// PluginState is the terminal (or transient) state of one plugin within a run.
type PluginState string

const (
	StatePending PluginState = "PENDING"
	StateRunning PluginState = "RUNNING"
	StateSuccess PluginState = "SUCCESS"
	StateFailed  PluginState = "FAILED"
	StateSkipped PluginState = "SKIPPED"
	StateTimeout PluginState = "TIMEOUT"
)

// ExecutionResult records the outcome of one plugin's run within a single
// Orchestrator.Run invocation.
type ExecutionResult struct {
	Plugin   string        `json:"plugin"`
	State    PluginState   `json:"state"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	ExitCode int           `json:"exit_code,omitempty"`
}

// ExecutionSummary is the final, immutable report of one orchestrator run.
type ExecutionSummary struct {
	RunID     string            `json:"run_id"`
	Start     time.Time         `json:"start"`
	End       time.Time         `json:"end"`
	Results   []ExecutionResult `json:"results"`
	Successes int               `json:"successes"`
	Failures  int               `json:"failures"`
	Skipped   int               `json:"skipped"`
}

// PluginConfig is the per-plugin override an Orchestrator.Run caller may
// supply, layered over the plugin's own Descriptor.
type PluginConfig struct {
	Enabled       *bool
	Timeout       time.Duration
	DependsOn     []string
	MutexOverride []string
}

// IsEnabled reports whether the plugin should run at all; nil means enabled.
func (c PluginConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RunOptions configures a single Orchestrator.Run call.
type RunOptions struct {
	// PluginConfigs maps plugin name to its per-run override. A plugin with
	// no entry runs with its descriptor's own settings.
	PluginConfigs map[string]PluginConfig
	DryRun        bool
	ContinueOnError bool
	// Sink receives every streaming event produced by every plugin in the
	// run, tagged with the plugin name the event already carries.
	Sink func(events.Event)
}
