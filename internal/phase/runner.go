package phase

import (
	"context"
	"strings"

	"github.com/tinyland/update-all/internal/download"
	"github.com/tinyland/update-all/internal/events"
	"github.com/tinyland/update-all/internal/pluginproc"
)

// Runner drives one plugin through CHECK → DOWNLOAD → EXECUTE against a
// Controller, the multi-phase analogue of the single-phase Orchestrator's
// direct call to Adapter.RunUpdate. A plugin that declines a phase by
// exiting with code 2 has that phase marked SKIPPED rather than FAILED.
type Runner struct {
	adapter    *pluginproc.Adapter
	controller *Controller
	downloader *download.Manager
}

// NewRunner creates a phase Runner over the given Controller. downloader may
// be nil, in which case every plugin's DOWNLOAD phase runs the plugin's own
// `download` sub-operation unconditionally (the single-phase-legacy path for
// that one phase); when non-nil, a plugin that reports
// can-separate-download=true and hands back a spec via the optional
// `download-spec` auxiliary has its DOWNLOAD phase routed through the
// centralized Download Manager instead, per spec.md §2's "Download Manager
// is called either by the Orchestrator ... or by the plugin itself".
func NewRunner(controller *Controller, downloader *download.Manager) *Runner {
	return &Runner{adapter: pluginproc.New(), controller: controller, downloader: downloader}
}

// unsupportedExitCode is the convention a multi-phase plugin uses to report
// that it does not implement a given phase at all, distinct from that
// phase legitimately having nothing to do (which it reports by completing
// normally with no download/execute work).
const unsupportedExitCode = 2

// RunPlugin executes every phase in Order for plugin against its
// descriptor, honoring pause_between_phases and stopping at the first
// FAILED phase.
func (r *Runner) RunPlugin(ctx context.Context, d pluginproc.Descriptor, dryRun bool, sink func(events.Event)) {
	for _, ph := range Order {
		if !r.controller.CanStart(d.Name, ph) {
			return
		}

		r.controller.AwaitResume(d.Name)
		if ctx.Err() != nil {
			r.controller.Complete(d.Name, ph, StateFailed, -1, ctx.Err().Error(), nil)
			return
		}

		r.controller.Start(d.Name, ph)
		sink(events.PhaseStart(d.Name, string(ph)))

		var output []string
		relay := func(e events.Event) {
			if e.Type == events.TypeOutput {
				output = append(output, e.Line)
			}
			sink(e)
		}

		var completion events.Event
		if ph == Download && r.downloader != nil {
			completion = r.runManagedDownload(ctx, d, relay)
		} else {
			completion = r.adapter.RunPhase(ctx, d, phaseOp(ph), dryRun, relay)
		}

		exitCode := -1
		if completion.ExitCode != nil {
			exitCode = *completion.ExitCode
		}

		switch {
		case exitCode == unsupportedExitCode:
			r.controller.Skip(d.Name, ph)
			sink(events.PhaseEnd(d.Name, string(ph), true, ""))
			continue
		case completion.Success != nil && *completion.Success:
			r.controller.Complete(d.Name, ph, StateCompleted, exitCode, "", output)
			sink(events.PhaseEnd(d.Name, string(ph), true, ""))
		default:
			errMsg := completion.Error
			if errMsg == "" && len(output) > 0 {
				errMsg = strings.Join(tail(output, 5), "\n")
			}
			r.controller.Complete(d.Name, ph, StateFailed, exitCode, errMsg, output)
			sink(events.PhaseEnd(d.Name, string(ph), false, errMsg))
			return
		}
	}
}

// runManagedDownload asks the plugin whether it can separate its download
// step and hand off a spec; if so, the Download Manager fetches it directly
// instead of the plugin's own `download` sub-operation running at all. Any
// "no" along the way (not separable, no spec offered) falls back to the
// plugin's own download, preserving exactly the behavior a nil downloader
// would have given.
func (r *Runner) runManagedDownload(ctx context.Context, d pluginproc.Descriptor, sink func(events.Event)) events.Event {
	canSeparate, err := r.adapter.CanSeparateDownload(ctx, d)
	if err != nil || !canSeparate {
		return r.adapter.RunPhase(ctx, d, pluginproc.OpDownload, false, sink)
	}

	payload, ok, err := r.adapter.GetDownloadSpec(ctx, d)
	if err != nil || !ok {
		return r.adapter.RunPhase(ctx, d, pluginproc.OpDownload, false, sink)
	}

	spec := download.Spec{
		URL:                       payload.URL,
		Destination:               payload.Destination,
		ExpectedSize:              payload.ExpectedSize,
		Extract:                   payload.Extract,
		ExtractFormat:             download.ExtractFormat(payload.ExtractFormat),
		Headers:                   payload.Headers,
		MaxRetries:                payload.MaxRetries,
		BandwidthLimitBytesPerSec: payload.BandwidthLimitBytesPerSec,
	}
	if payload.Checksum != nil {
		spec.Checksum = &download.Checksum{Algorithm: payload.Checksum.Algorithm, Hex: payload.Checksum.Hex}
	}

	// The Manager emits its own PhaseStart/PhaseEnd/Completion tagged with a
	// synthetic "download:<file>" plugin name; the Runner's loop already owns
	// that framing for d.Name, so relabel only the Output/Progress events it
	// streams and swallow its own framing events here.
	result := r.downloader.Download(ctx, spec, func(e events.Event) {
		switch e.Type {
		case events.TypePhaseStart, events.TypePhaseEnd, events.TypeCompletion:
			return
		default:
			e.Plugin = d.Name
			sink(e)
		}
	})

	if result.Success {
		return events.Completion(d.Name, true, 0, "")
	}
	return events.Completion(d.Name, false, -1, result.Error)
}

func phaseOp(ph Name) pluginproc.SubOperation {
	switch ph {
	case Check:
		return pluginproc.OpCheck
	case Download:
		return pluginproc.OpDownload
	default:
		return pluginproc.OpExecute
	}
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
