// Package pluginproc is the Plugin Protocol Adapter: it spawns a plugin
// subprocess, parses its streaming events, and exposes a uniform event
// stream regardless of which plugin is running.
package pluginproc

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTimeout bounds a plugin invocation when its descriptor omits one.
const DefaultTimeout = 5 * time.Minute

// Descriptor is the immutable, run-scoped description of one plugin:
// everything the scheduler, mutex manager, and adapter need to know before
// ever starting the process.
type Descriptor struct {
	Name         string        `yaml:"-"`
	Path         string        `yaml:"-"`
	Mutexes      []string      `yaml:"mutexes"`
	DependsOn    []string      `yaml:"depends_on"`
	RequiresSudo bool          `yaml:"requires_sudo"`
	TimeoutSecs  int           `yaml:"timeout_seconds"`

	// MultiPhase declares that this plugin implements the CHECK/DOWNLOAD/
	// EXECUTE sub-operations instead of the single legacy "update" command,
	// so the Orchestrator drives it through the Phase Controller (see
	// internal/phase and Orchestrator.EnableMultiPhase).
	MultiPhase bool `yaml:"multi_phase"`
}

// Timeout returns the descriptor's configured timeout, or DefaultTimeout.
func (d Descriptor) Timeout() time.Duration {
	if d.TimeoutSecs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(d.TimeoutSecs) * time.Second
}

// DiscoverDescriptors scans dir for executable files and pairs each with an
// optional "<name>.yaml" sidecar describing its mutexes, dependencies,
// sudo requirement, and timeout. A plugin with no sidecar gets the zero
// descriptor (no mutexes, no dependencies, default timeout).
func DiscoverDescriptors(dir string) ([]Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []Descriptor
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) == ".yaml" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Mode()&0111 == 0 {
			continue // not executable
		}

		desc := Descriptor{Name: name, Path: filepath.Join(dir, name)}
		sidecar := filepath.Join(dir, name+".yaml")
		if data, err := os.ReadFile(sidecar); err == nil {
			if err := yaml.Unmarshal(data, &desc); err != nil {
				return nil, err
			}
			desc.Name = name
			desc.Path = filepath.Join(dir, name)
		}
		out = append(out, desc)
	}
	return out, nil
}
