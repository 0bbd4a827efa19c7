package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Point is one run's rollback point: every snapshot taken for that run,
// keyed by the directory the Store wrote it to. A run opens exactly one
// point; each plugin about to EXECUTE appends its snapshot before running.
type Point struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Snapshots []string  `json:"snapshot_dirs"`
}

// persistedState is the on-disk shape of rollback_state.json: every
// not-yet-marked-successful rollback point, keyed by run_id.
type persistedState struct {
	Points map[string]Point `json:"points"`
}

// Manager owns the run-scoped rollback points and their persistence to
// disk, so a crashed process can still be rolled back on the next
// invocation of `updatectl rollback`.
type Manager struct {
	mu       sync.Mutex
	store    *Store
	path     string
	points   map[string]Point
}

// NewManager creates a rollback Manager backed by store and persisted at
// statePath (config.Config.RollbackStatePath()).
func NewManager(store *Store, statePath string) (*Manager, error) {
	m := &Manager{store: store, path: statePath, points: make(map[string]Point)}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parsing rollback state: %w", err)
	}
	if state.Points != nil {
		m.points = state.Points
	}
	return nil
}

// save persists the current point table atomically (write-temp-then-rename,
// the same pattern as the teacher's heartbeat writer).
func (m *Manager) save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(persistedState{Points: m.points}, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// OpenPoint starts a new rollback point for runID.
func (m *Manager) OpenPoint(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[runID] = Point{RunID: runID, CreatedAt: time.Now().UTC()}
	return m.save()
}

// AppendSnapshot records that snap now belongs to runID's rollback point.
func (m *Manager) AppendSnapshot(runID string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.points[runID]
	if !ok {
		p = Point{RunID: runID, CreatedAt: time.Now().UTC()}
	}
	p.Snapshots = append(p.Snapshots, snap.Dir)
	m.points[runID] = p
	return m.save()
}

// MarkSuccess deletes every snapshot in runID's point and removes the
// point itself, per spec.md §4.9: a successful run needs no rollback data.
func (m *Manager) MarkSuccess(runID string) error {
	m.mu.Lock()
	p, ok := m.points[runID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.points, runID)
	if err := m.save(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	for _, dir := range p.Snapshots {
		snap, err := m.store.Load(dir)
		if err != nil {
			continue
		}
		_ = m.store.Delete(snap)
	}
	return nil
}

// Result is the per-snapshot outcome of a rollback restoration.
type Result struct {
	SnapshotDir string `json:"snapshot_dir"`
	Plugin      string `json:"plugin"`
	Error       string `json:"error,omitempty"`
}

// Rollback restores every snapshot in runID's point, best-effort: one
// snapshot's failure does not stop the others. The aggregate outcome is
// COMPLETED if every snapshot restored, FAILED if none did, PARTIAL
// otherwise.
func (m *Manager) Rollback(runID string) (RestoreOutcome, []Result, error) {
	m.mu.Lock()
	p, ok := m.points[runID]
	m.mu.Unlock()
	if !ok {
		return "", nil, fmt.Errorf("no rollback point for run %q", runID)
	}

	var results []Result
	succeeded := 0
	for _, dir := range p.Snapshots {
		snap, err := m.store.Load(dir)
		if err != nil {
			results = append(results, Result{SnapshotDir: dir, Error: err.Error()})
			continue
		}
		if err := m.store.Restore(snap); err != nil {
			results = append(results, Result{SnapshotDir: dir, Plugin: snap.Plugin, Error: err.Error()})
			continue
		}
		results = append(results, Result{SnapshotDir: dir, Plugin: snap.Plugin})
		succeeded++
	}

	outcome := RestorePartial
	switch {
	case len(results) == 0 || succeeded == len(results):
		outcome = RestoreCompleted
	case succeeded == 0:
		outcome = RestoreFailed
	}
	return outcome, results, nil
}

// Cleanup drops rollback points (and their snapshots) older than
// maxAgeDays.
func (m *Manager) Cleanup(maxAgeDays int) error {
	m.mu.Lock()
	cutoff := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	var toDrop []string
	for runID, p := range m.points {
		if p.CreatedAt.Before(cutoff) {
			toDrop = append(toDrop, runID)
		}
	}
	dropped := make([]Point, 0, len(toDrop))
	for _, runID := range toDrop {
		dropped = append(dropped, m.points[runID])
		delete(m.points, runID)
	}
	err := m.save()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	for _, p := range dropped {
		for _, dir := range p.Snapshots {
			snap, loadErr := m.store.Load(dir)
			if loadErr != nil {
				continue
			}
			_ = m.store.Delete(snap)
		}
	}
	return nil
}

// Points returns every currently open run_id with a rollback point.
func (m *Manager) Points() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.points))
	for id := range m.points {
		ids = append(ids, id)
	}
	return ids
}
