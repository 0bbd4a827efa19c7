package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland/update-all/internal/download"
	"github.com/tinyland/update-all/internal/events"
	"github.com/tinyland/update-all/internal/mutex"
	"github.com/tinyland/update-all/internal/phase"
	"github.com/tinyland/update-all/internal/pluginproc"
	"github.com/tinyland/update-all/internal/resource"
	"github.com/tinyland/update-all/internal/scheduler"
)

// Hooks lets a caller observe or extend the per-plugin lifecycle without the
// Orchestrator depending on the snapshot or telemetry packages directly,
// mirroring the arena-style ownership the scheduling model calls for: the
// Orchestrator owns the run, everything else receives borrowed callbacks.
type Hooks struct {
	// PreExecute runs after check-available passes and before execute; a
	// non-nil error fails the plugin without invoking execute. Typically
	// wired to snapshot creation.
	PreExecute func(ctx context.Context, plugin string) error
	// PostExecute runs after execute regardless of its outcome, so
	// bookkeeping can observe the terminal result of every plugin that
	// reached execute. Plugins that end earlier (slot or mutex timeout,
	// is-applicable error or false, pre_execute error) do not reach it.
	PostExecute func(ctx context.Context, plugin string, result ExecutionResult)
	// OnRunEvent receives run-scoped notifications (wave/plugin lifecycle),
	// typically wired to an events.Bus for logging/metrics/heartbeat fanout.
	OnRunEvent func(events.RunEvent)
}

// Orchestrator drives single-phase runs: build waves, then for every wave
// spawn one supervision goroutine per plugin, gated by the resource
// controller and mutex manager, matching the teacher Pool's
// goroutine-per-group/semaphore shape generalized from resource groups to
// a full dependency+mutex DAG.
type Orchestrator struct {
	descriptors map[string]pluginproc.Descriptor
	adapter     *pluginproc.Adapter
	scheduler   *scheduler.Scheduler
	mutexes     *mutex.Manager
	resources   *resource.Controller
	logger      *slog.Logger
	hooks       Hooks

	// phaseController/phaseRunner are nil until EnableMultiPhase is called;
	// every plugin keeps taking the legacy single-phase RunUpdate path until
	// then, and afterward still does unless its own descriptor opts in via
	// MultiPhase.
	phaseController *phase.Controller
	phaseRunner     *phase.Runner
}

// EnableMultiPhase turns on CHECK/DOWNLOAD/EXECUTE driving for any
// descriptor with MultiPhase set. downloader, if non-nil, lets those
// plugins' DOWNLOAD phase hand off to the centralized Download Manager
// instead of always re-invoking the plugin's own `download` sub-operation;
// pauseBetweenPhases mirrors the phase Controller's own pause/resume gate.
func (o *Orchestrator) EnableMultiPhase(downloader *download.Manager, pauseBetweenPhases bool) {
	o.phaseController = phase.NewController(pauseBetweenPhases)
	o.phaseRunner = phase.NewRunner(o.phaseController, downloader)
}

// New creates an Orchestrator over a fixed set of plugin descriptors valid
// for the lifetime of every Run call.
func New(descriptors []pluginproc.Descriptor, res *resource.Controller, mtx *mutex.Manager, logger *slog.Logger, hooks Hooks) *Orchestrator {
	byName := make(map[string]pluginproc.Descriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}
	return &Orchestrator{
		descriptors: byName,
		adapter:     pluginproc.New(),
		scheduler:   scheduler.New(),
		mutexes:     mtx,
		resources:   res,
		logger:      logger,
		hooks:       hooks,
	}
}

// Run executes one full pass over every descriptor the Orchestrator was
// built with, per spec step 1-5: assign a run_id, skip disabled plugins,
// build the DAG/waves, run wave by wave, and assemble the summary.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (ExecutionSummary, error) {
	runID := uuid.NewString()[:8]
	start := time.Now()

	o.publish(events.RunEventStarted, runID)

	specs := make([]scheduler.PluginSpec, 0, len(o.descriptors))
	names := make([]string, 0, len(o.descriptors))
	for name := range o.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		specs = append(specs, specForPlugin(o.descriptors[name], opts))
	}

	dag, err := o.scheduler.BuildDAG(specs)
	if err != nil {
		return ExecutionSummary{}, fmt.Errorf("building schedule: %w", err)
	}
	waves, err := o.scheduler.ExecutionWaves(dag)
	if err != nil {
		return ExecutionSummary{}, fmt.Errorf("computing waves: %w", err)
	}

	var (
		mu      sync.Mutex
		results []ExecutionResult
		stop    bool
	)

	for waveIdx, wave := range waves {
		if stop {
			for _, name := range wave {
				mu.Lock()
				results = append(results, ExecutionResult{Plugin: name, State: StateSkipped, Error: "run halted after earlier failure"})
				mu.Unlock()
			}
			continue
		}

		o.publish(events.RunEventWaveStarted, waveIdx)
		waveStart := time.Now()

		var wg sync.WaitGroup
		for _, name := range wave {
			name := name
			cfg := opts.PluginConfigs[name]
			if !cfg.IsEnabled() {
				mu.Lock()
				results = append(results, ExecutionResult{Plugin: name, State: StateSkipped, Start: time.Now(), End: time.Now()})
				mu.Unlock()
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				result := o.runPlugin(ctx, name, cfg, opts)
				mu.Lock()
				results = append(results, result)
				if (result.State == StateFailed || result.State == StateTimeout) && !opts.ContinueOnError {
					stop = true
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		o.publish(events.RunEventWaveCompleted, waveIdx)
		_ = time.Since(waveStart)
	}

	summary := ExecutionSummary{RunID: runID, Start: start, End: time.Now(), Results: results}
	for _, r := range results {
		switch r.State {
		case StateSuccess:
			summary.Successes++
		case StateFailed, StateTimeout:
			summary.Failures++
		case StateSkipped:
			summary.Skipped++
		}
	}

	o.publish(events.RunEventCompleted, summary)
	return summary, nil
}

// runPlugin supervises exactly one plugin's check/pre_execute/execute/
// post_execute sequence, per spec §4.7 step 4a.
func (o *Orchestrator) runPlugin(ctx context.Context, name string, cfg PluginConfig, opts RunOptions) ExecutionResult {
	result := ExecutionResult{Plugin: name, Start: time.Now()}
	desc := o.descriptors[name]

	timeout := desc.Timeout()
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	pluginCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	release, err := o.resources.Acquire(pluginCtx, true, false)
	defer release()
	if err != nil {
		return o.finish(result, StateTimeout, "", err.Error())
	}

	mutexSet := desc.Mutexes
	if len(cfg.MutexOverride) > 0 {
		mutexSet = cfg.MutexOverride
	}
	if !o.mutexes.Acquire(name, mutexSet, timeout) {
		return o.finish(result, StateFailed, "", "mutex timeout")
	}
	defer o.mutexes.Release(name, mutexSet)

	o.publish(events.RunEventPluginStarted, name)

	applicable, diagnostic, err := o.adapter.IsApplicable(pluginCtx, desc)
	if err != nil {
		o.publish(events.RunEventPluginFailed, name)
		return o.finish(result, StateFailed, "", err.Error())
	}
	if !applicable {
		if diagnostic != "" && o.logger != nil {
			o.logger.Debug("plugin not applicable", "plugin", name, "diagnostic", diagnostic)
		}
		return o.finish(result, StateSkipped, "", "")
	}

	if o.hooks.PreExecute != nil {
		if err := o.hooks.PreExecute(pluginCtx, name); err != nil {
			o.publish(events.RunEventPluginFailed, name)
			return o.finish(result, StateFailed, "", fmt.Sprintf("pre_execute: %s", err))
		}
	}

	// Wrap the caller's sink with a bounded drop-newest queue: the
	// subprocess pipe readers inside the adapter (or the Download Manager's
	// own HTTP response reader) must never stall behind a slow downstream
	// consumer. drain() blocks until every queued event has reached
	// opts.Sink, so callers observing Run()'s return have seen every event
	// the queue accepted; Output/Progress events past its capacity are
	// dropped, and phase/completion events may arrive ahead of earlier
	// Output/Progress events (see events.Queue).
	queuedSink, drain := events.QueuedSink(events.DefaultQueueCapacity, o.logger, func(e events.Event) {
		if opts.Sink != nil {
			opts.Sink(e)
		}
	})

	var completion events.Event
	if desc.MultiPhase && o.phaseRunner != nil {
		o.phaseRunner.RunPlugin(pluginCtx, desc, opts.DryRun, queuedSink)
		completion = completionFromPhases(o.phaseController, name)
	} else {
		completion = o.adapter.RunUpdate(pluginCtx, desc, opts.DryRun, queuedSink)
	}
	drain()

	state := StateSuccess
	errMsg := ""
	exitCode := 0
	if completion.ExitCode != nil {
		exitCode = *completion.ExitCode
	}
	if completion.Success == nil || !*completion.Success {
		if pluginCtx.Err() == context.DeadlineExceeded {
			state = StateTimeout
		} else {
			state = StateFailed
		}
		errMsg = completion.Error
		o.publish(events.RunEventPluginFailed, name)
	} else {
		o.publish(events.RunEventPluginCompleted, name)
	}

	final := o.finish(result, state, "", errMsg)
	final.ExitCode = exitCode

	if o.hooks.PostExecute != nil {
		o.hooks.PostExecute(pluginCtx, name, final)
	}

	return final
}

// completionFromPhases collapses a multi-phase plugin's three independent
// phase results into the single Completion event the rest of runPlugin
// expects, mirroring the single-phase adapter's own completion shape: the
// first FAILED phase wins, otherwise success tracks EXECUTE (or its having
// been legitimately SKIPPED).
func completionFromPhases(c *phase.Controller, name string) events.Event {
	for _, ph := range phase.Order {
		r := c.Result(name, ph)
		if r.State == phase.StateFailed {
			return events.Completion(name, false, r.ExitCode, r.Error)
		}
	}
	execResult := c.Result(name, phase.Execute)
	if execResult.State == phase.StateCompleted || execResult.State == phase.StateSkipped {
		return events.Completion(name, true, 0, "")
	}
	return events.Completion(name, false, -1, "multi-phase run did not complete")
}

func (o *Orchestrator) finish(result ExecutionResult, state PluginState, _ string, errMsg string) ExecutionResult {
	result.State = state
	result.Error = errMsg
	result.End = time.Now()
	result.Duration = result.End.Sub(result.Start)
	return result
}

func (o *Orchestrator) publish(t events.RunEventType, payload interface{}) {
	if o.hooks.OnRunEvent != nil {
		o.hooks.OnRunEvent(events.RunEvent{Type: t, Payload: payload})
	}
}

func specForPlugin(d pluginproc.Descriptor, opts RunOptions) scheduler.PluginSpec {
	spec := scheduler.PluginSpec{Name: d.Name, Mutexes: d.Mutexes, DependsOn: d.DependsOn}
	if cfg, ok := opts.PluginConfigs[d.Name]; ok {
		if len(cfg.DependsOn) > 0 {
			spec.DependsOn = cfg.DependsOn
		}
		if len(cfg.MutexOverride) > 0 {
			spec.Mutexes = cfg.MutexOverride
		}
	}
	return spec
}
