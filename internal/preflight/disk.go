// Package preflight gates an EXECUTE phase behind a disk-headroom check:
// large package updates and archive extraction need scratch space, and a
// plugin that starts EXECUTE mid-download and then hits ENOSPC can leave a
// package manager's own state half-written. This generalizes the teacher's
// monitor.DiskMonitor threshold ladder (built for deciding how aggressively
// to clean up) into a single pass/fail gate checked once before each
// plugin's EXECUTE phase.
package preflight

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// Headroom is the disk usage snapshot a DiskGuard checks against its
// thresholds, mirroring the teacher's DiskStats fields.
type Headroom struct {
	Path        string
	TotalBytes  uint64
	UsedBytes   uint64
	FreeBytes   uint64
	UsedPercent float64
}

// FreeMiB returns free space in mebibytes.
func (h Headroom) FreeMiB() float64 {
	return float64(h.FreeBytes) / (1024 * 1024)
}

// Inspect returns the current disk usage for path.
func Inspect(path string) (Headroom, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return Headroom{}, fmt.Errorf("inspecting disk usage for %s: %w", path, err)
	}
	return Headroom{
		Path:        path,
		TotalBytes:  usage.Total,
		UsedBytes:   usage.Used,
		FreeBytes:   usage.Free,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// DiskGuard gates a path behind a minimum free-space requirement, expressed
// as both an absolute floor and a percentage-free floor; either breach fails
// the gate, so a huge disk that's 99% full and a tiny disk with only a few
// free megabytes are both caught.
type DiskGuard struct {
	MinFreeMiB     int64
	MinFreePercent float64
}

// NewDiskGuard creates a DiskGuard. Zero thresholds disable that check.
func NewDiskGuard(minFreeMiB int64, minFreePercent float64) DiskGuard {
	return DiskGuard{MinFreeMiB: minFreeMiB, MinFreePercent: minFreePercent}
}

// Disabled reports whether this guard has no thresholds configured, i.e. it
// would never reject any path.
func (g DiskGuard) Disabled() bool {
	return g.MinFreeMiB <= 0 && g.MinFreePercent <= 0
}

// Check inspects path and returns a non-nil error describing the breached
// threshold if headroom is insufficient.
func (g DiskGuard) Check(path string) error {
	if g.Disabled() {
		return nil
	}
	h, err := Inspect(path)
	if err != nil {
		return err
	}
	freePercent := 100.0 - h.UsedPercent
	if g.MinFreeMiB > 0 && h.FreeMiB() < float64(g.MinFreeMiB) {
		return fmt.Errorf("insufficient disk headroom on %s: %.0fMiB free, need %dMiB", path, h.FreeMiB(), g.MinFreeMiB)
	}
	if g.MinFreePercent > 0 && freePercent < g.MinFreePercent {
		return fmt.Errorf("insufficient disk headroom on %s: %.1f%% free, need %.1f%%", path, freePercent, g.MinFreePercent)
	}
	return nil
}
