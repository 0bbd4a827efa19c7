// Package snapshot implements the Snapshot/Rollback subsystem: a
// content-addressed-by-name snapshot store plus a persisted rollback
// point per run, so a failed run can be undone. GC eviction is grounded
// on the teacher's BackupManager (plugins/backup.go): evict oldest-first
// by count and age rather than a generic LRU cache, generalized from one
// backup file per disk path to one snapshot directory per plugin update.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tinyland/update-all/pkg/fsops"
)

// Type classifies what a snapshot captures.
type Type string

const (
	TypeFull        Type = "FULL"
	TypePlugin      Type = "PLUGIN"
	TypePackageList Type = "PACKAGE_LIST"
)

// Snapshot is the metadata sidecar written alongside a snapshot's copied
// files. The engine is content-agnostic: Data is whatever the plugin
// handed the Store, opaque beyond JSON-serializability.
type Snapshot struct {
	Plugin        string          `json:"plugin"`
	Type          Type            `json:"type"`
	CreatedAt     time.Time       `json:"created_at"`
	Data          json.RawMessage `json:"data,omitempty"`
	OriginalPaths []string        `json:"original_paths"`
	Dir           string          `json:"-"`
}

// Store creates and restores snapshots under a single data directory.
type Store struct {
	dataDir string
}

// NewStore creates a Store rooted at dataDir (typically
// config.SnapshotConfig.DataDir).
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// Create snapshots the given files for plugin, per spec.md §4.9: a
// directory named "<plugin>_<ISO8601.microseconds>" holding a copy of
// every file (preserving structure) plus a metadata.json sidecar.
func (s *Store) Create(plugin string, typ Type, data json.RawMessage, files []string) (Snapshot, error) {
	name := fmt.Sprintf("%s_%s", plugin, time.Now().UTC().Format("20060102T150405.000000"))
	dir := filepath.Join(s.dataDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Snapshot{}, fmt.Errorf("creating snapshot dir: %w", err)
	}

	snap := Snapshot{
		Plugin:        plugin,
		Type:          typ,
		CreatedAt:     time.Now().UTC(),
		Data:          data,
		OriginalPaths: files,
		Dir:           dir,
	}

	for _, f := range files {
		if !fsops.PathExists(f) {
			continue
		}
		dest := filepath.Join(dir, "files", f)
		if err := fsops.CopyTree(f, dest); err != nil {
			return Snapshot{}, fmt.Errorf("copying %s into snapshot: %w", f, err)
		}
	}

	if err := s.writeMetadata(snap); err != nil {
		return Snapshot{}, err
	}

	return snap, nil
}

func (s *Store) writeMetadata(snap Snapshot) error {
	meta, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot metadata: %w", err)
	}
	return os.WriteFile(filepath.Join(snap.Dir, "metadata.json"), meta, 0644)
}

// Load reads a snapshot's metadata.json back from its directory.
func (s *Store) Load(dir string) (Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	snap.Dir = dir
	return snap, nil
}

// RestoreOutcome is the aggregate result of restoring one rollback point.
type RestoreOutcome string

const (
	RestoreCompleted RestoreOutcome = "COMPLETED"
	RestoreFailed    RestoreOutcome = "FAILED"
	RestorePartial   RestoreOutcome = "PARTIAL"
)

// Restore reverts every original path in snap to its snapshotted content:
// remove the current path, then copy the snapshot's copy back over it.
// Restoration is best-effort per file; the first error is returned but
// every path is still attempted.
func (s *Store) Restore(snap Snapshot) error {
	var firstErr error
	for _, original := range snap.OriginalPaths {
		src := filepath.Join(snap.Dir, "files", original)
		if !fsops.PathExists(src) {
			continue
		}
		if err := fsops.RemoveAny(original); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("removing %s: %w", original, err)
			continue
		}
		if err := fsops.CopyTree(src, original); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("restoring %s: %w", original, err)
		}
	}
	return firstErr
}

// Delete removes a snapshot's entire directory.
func (s *Store) Delete(snap Snapshot) error {
	return fsops.RemoveAny(snap.Dir)
}

// List returns every snapshot directory currently in the store for
// plugin, sorted oldest first. If plugin is "", every plugin's snapshots
// are returned.
func (s *Store) List(plugin string) ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var snaps []Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snap, err := s.Load(filepath.Join(s.dataDir, e.Name()))
		if err != nil {
			continue
		}
		if plugin != "" && snap.Plugin != plugin {
			continue
		}
		snaps = append(snaps, snap)
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })
	return snaps, nil
}

// CleanupOldSnapshots drops snapshots older than maxAgeDays, then applies a
// per-plugin cap of maxPerPlugin (oldest evicted first), mirroring the
// teacher's evictOldBackups: age cutoff first, then count-based eviction.
func (s *Store) CleanupOldSnapshots(maxAgeDays int, maxPerPlugin int) error {
	all, err := s.List("")
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	byPlugin := make(map[string][]Snapshot)
	for _, snap := range all {
		if maxAgeDays > 0 && snap.CreatedAt.Before(cutoff) {
			_ = s.Delete(snap)
			continue
		}
		byPlugin[snap.Plugin] = append(byPlugin[snap.Plugin], snap)
	}

	if maxPerPlugin <= 0 {
		return nil
	}
	for _, snaps := range byPlugin {
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })
		for len(snaps) > maxPerPlugin {
			_ = s.Delete(snaps[0])
			snaps = snaps[1:]
		}
	}
	return nil
}
