// Package resource provides the counting semaphores and optional memory
// ceiling that gate how many plugins and downloads run concurrently.
package resource

import (
	"context"
	"log/slog"
	"time"

	gopsproc "github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/semaphore"
)

// Defaults per the resource controller's component design.
const (
	DefaultTaskSlots     = 4
	DefaultDownloadSlots = 2
	memoryPollInterval   = 200 * time.Millisecond
)

// Limits configures the Resource Controller.
type Limits struct {
	MaxParallelTasks int
	MaxDownloads     int
	// MemoryCeilingMiB is an optional ceiling on the combined RSS of
	// tracked child PIDs; zero disables the check.
	MemoryCeilingMiB int64
}

// DefaultLimits returns the component design's documented defaults.
func DefaultLimits() Limits {
	return Limits{MaxParallelTasks: DefaultTaskSlots, MaxDownloads: DefaultDownloadSlots}
}

// Controller owns the two counting semaphores and the best-effort memory
// ceiling gate. It is the sole authority for how many plugins/downloads run
// at once; its semaphores are released exactly once per successful
// acquisition, never out of order, via the Acquire return value.
type Controller struct {
	limits   Limits
	tasks    *semaphore.Weighted
	downloads *semaphore.Weighted
	logger   *slog.Logger

	// pidSource supports the memory ceiling check: it returns the PIDs
	// whose combined RSS counts against MemoryCeilingMiB; nil disables the
	// check.
	pidSource func() []int32
}

// New creates a Resource Controller. pidSource, if non-nil, returns the set
// of PIDs whose combined RSS counts against MemoryCeilingMiB; a nil source
// disables the memory check even if a ceiling is configured (best-effort
// per spec: "zero when such information is unavailable").
func New(limits Limits, logger *slog.Logger, pidSource func() []int32) *Controller {
	if limits.MaxParallelTasks <= 0 {
		limits.MaxParallelTasks = DefaultTaskSlots
	}
	if limits.MaxDownloads <= 0 {
		limits.MaxDownloads = DefaultDownloadSlots
	}
	return &Controller{
		limits:    limits,
		tasks:     semaphore.NewWeighted(int64(limits.MaxParallelTasks)),
		downloads: semaphore.NewWeighted(int64(limits.MaxDownloads)),
		logger:    logger,
		pidSource: pidSource,
	}
}

// Release is returned by Acquire; calling it frees exactly the slots that
// were actually taken, regardless of which ones the caller requested.
type Release func()

// Acquire takes a task slot, a download slot, or both, as requested,
// blocking (subject to ctx) until the slots are available and, for task
// slots, until the memory ceiling (if any) is satisfied. On any return path
// the caller must invoke the returned Release exactly once; Release is safe
// to call even if acquisition partially failed (it only releases what was
// actually taken), mirroring the scoped-acquisition guarantee of the
// original resource context manager.
func (c *Controller) Acquire(ctx context.Context, wantTask, wantDownload bool) (Release, error) {
	var gotTask, gotDownload bool

	release := func() {
		if gotDownload {
			c.downloads.Release(1)
		}
		if gotTask {
			c.tasks.Release(1)
		}
	}

	if wantDownload {
		if err := c.downloads.Acquire(ctx, 1); err != nil {
			return release, err
		}
		gotDownload = true
	}

	if wantTask {
		if err := c.waitForMemoryCeiling(ctx); err != nil {
			release()
			return func() {}, err
		}
		if err := c.tasks.Acquire(ctx, 1); err != nil {
			release()
			return func() {}, err
		}
		gotTask = true
	}

	return release, nil
}

// AcquireDownload satisfies download.Slotter: it gates one concurrent
// download through the same download-slot semaphore Acquire(ctx, false,
// true) uses, so the Download Manager and the Orchestrator's own plugin
// supervision draw from one shared pool of download slots.
func (c *Controller) AcquireDownload(ctx context.Context) (func(), error) {
	release, err := c.Acquire(ctx, false, true)
	if err != nil {
		return func() {}, err
	}
	return func() { release() }, nil
}

// waitForMemoryCeiling blocks until the combined RSS of tracked PIDs is
// under the configured ceiling, or ctx is done. It is a no-op when no
// ceiling is configured or no PID source was supplied.
func (c *Controller) waitForMemoryCeiling(ctx context.Context) error {
	if c.limits.MemoryCeilingMiB <= 0 || c.pidSource == nil {
		return nil
	}

	for {
		used, err := c.totalRSSMiB()
		if err != nil {
			// Best-effort: if memory information is unavailable, do not
			// block task scheduling on it.
			if c.logger != nil {
				c.logger.Debug("memory ceiling check unavailable", "error", err)
			}
			return nil
		}
		if used <= c.limits.MemoryCeilingMiB {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(memoryPollInterval):
		}
	}
}

func (c *Controller) totalRSSMiB() (int64, error) {
	var total int64
	for _, pid := range c.pidSource() {
		proc, err := gopsproc.NewProcess(pid)
		if err != nil {
			continue
		}
		info, err := proc.MemoryInfo()
		if err != nil || info == nil {
			continue
		}
		total += int64(info.RSS) / (1024 * 1024)
	}
	return total, nil
}
