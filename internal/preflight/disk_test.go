package preflight

import "testing"

func TestDiskGuardDisabledWithZeroThresholds(t *testing.T) {
	g := NewDiskGuard(0, 0)
	if !g.Disabled() {
		t.Fatal("expected a zero-threshold guard to be disabled")
	}
	if err := g.Check("/"); err != nil {
		t.Fatalf("expected a disabled guard to never reject a path, got %v", err)
	}
}

func TestDiskGuardRejectsWhenMinFreeMiBUnreachable(t *testing.T) {
	// No real disk has this much free space, so the guard must reject.
	g := NewDiskGuard(1<<40, 0)
	if err := g.Check("/"); err == nil {
		t.Fatal("expected the guard to reject an unreachable MinFreeMiB threshold")
	}
}

func TestDiskGuardRejectsWhenMinFreePercentUnreachable(t *testing.T) {
	g := NewDiskGuard(0, 100.0)
	if err := g.Check("/"); err == nil {
		t.Fatal("expected the guard to reject a 100% free threshold on any real disk")
	}
}

func TestDiskGuardAllowsTrivialThresholds(t *testing.T) {
	g := NewDiskGuard(1, 0.01)
	if err := g.Check("/"); err != nil {
		t.Fatalf("expected trivially small thresholds to pass, got %v", err)
	}
}

func TestInspectReturnsPositiveTotals(t *testing.T) {
	h, err := Inspect("/")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if h.TotalBytes == 0 {
		t.Fatal("expected a nonzero total byte count for the root filesystem")
	}
	if h.Path != "/" {
		t.Fatalf("expected Path echoed back, got %q", h.Path)
	}
}
