package pluginproc

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeExecutable(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
		t.Fatalf("writing fake plugin %s: %v", path, err)
	}
}

func TestDiscoverDescriptorsSkipsNonExecutableAndYAML(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, filepath.Join(dir, "apt"))
	if err := os.WriteFile(filepath.Join(dir, "apt.yaml"), []byte("mutexes: [pkgmgr:apt]\n"), 0644); err != nil {
		t.Fatalf("writing sidecar: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a plugin"), 0644); err != nil {
		t.Fatalf("writing README: %v", err)
	}

	descs, err := DiscoverDescriptors(dir)
	if err != nil {
		t.Fatalf("DiscoverDescriptors failed: %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("expected exactly 1 discovered plugin, got %d: %+v", len(descs), descs)
	}
	if descs[0].Name != "apt" {
		t.Fatalf("expected plugin name 'apt', got %q", descs[0].Name)
	}
	if len(descs[0].Mutexes) != 1 || descs[0].Mutexes[0] != "pkgmgr:apt" {
		t.Fatalf("expected sidecar mutexes to be applied, got %v", descs[0].Mutexes)
	}
}

func TestDiscoverDescriptorsDefaultsWithoutSidecar(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, filepath.Join(dir, "brew"))

	descs, err := DiscoverDescriptors(dir)
	if err != nil {
		t.Fatalf("DiscoverDescriptors failed: %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(descs))
	}
	if descs[0].Timeout() != DefaultTimeout {
		t.Fatalf("expected default timeout, got %s", descs[0].Timeout())
	}
	if descs[0].RequiresSudo {
		t.Fatal("expected RequiresSudo to default false")
	}
}

func TestDescriptorTimeoutOverride(t *testing.T) {
	d := Descriptor{TimeoutSecs: 30}
	if d.Timeout() != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %s", d.Timeout())
	}
}

func TestDiscoverDescriptorsRejectsMalformedSidecar(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, filepath.Join(dir, "apt"))
	if err := os.WriteFile(filepath.Join(dir, "apt.yaml"), []byte(": not: valid: yaml:"), 0644); err != nil {
		t.Fatalf("writing sidecar: %v", err)
	}
	if _, err := DiscoverDescriptors(dir); err == nil {
		t.Fatal("expected malformed sidecar YAML to be reported as an error")
	}
}
