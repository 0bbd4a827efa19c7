package scheduler

import (
	"testing"

	"pgregory.net/rapid"
)

// genSpecs draws a random plugin set with dependencies restricted to
// earlier-declared plugins, and prefixes every name with a letter that
// follows declaration order so earlier-declared also means earlier-named.
// Dependency edges and BuildDAG's min->max mutex edges then both point
// forward, which guarantees the generated graph is acyclic by construction
// so TestWaveCorrectness can assert properties of a known-good DAG rather
// than fighting BuildDAG's own cycle rejection.
func genSpecs(t *rapid.T) []PluginSpec {
	n := rapid.IntRange(1, 12).Draw(t, "n")
	names := make([]string, n)
	for i := range names {
		names[i] = string(rune('a'+i)) + rapid.StringMatching(`[a-z]{3,8}`).Draw(t, "name")
	}

	mutexPool := []string{"pkgmgr:apt", "runtime:docker", "system:kernel"}

	specs := make([]PluginSpec, n)
	for i, name := range names {
		var deps []string
		if i > 0 {
			depCount := rapid.IntRange(0, i).Draw(t, "depCount")
			for d := 0; d < depCount; d++ {
				idx := rapid.IntRange(0, i-1).Draw(t, "depIdx")
				deps = append(deps, names[idx])
			}
		}
		var mutexes []string
		if rapid.Bool().Draw(t, "hasMutex") {
			mutexes = []string{rapid.SampledFrom(mutexPool).Draw(t, "mutex")}
		}
		specs[i] = PluginSpec{Name: name, DependsOn: deps, Mutexes: mutexes}
	}
	return specs
}

// TestAcyclicity: any spec set with dependencies only on earlier-declared
// plugins builds a DAG with no cycle, matching Acyclicity from the
// scheduler's testable properties.
func TestAcyclicity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		specs := genSpecs(rt)
		s := New()
		dag, err := s.BuildDAG(specs)
		if err != nil {
			rt.Fatalf("BuildDAG unexpectedly failed on an acyclic spec set: %v", err)
		}
		if dag.HasCycle() {
			rt.Fatal("DAG reports a cycle despite acyclic input")
		}
	})
}

// TestWaveScheduleDeterminism: building the same spec set twice produces
// identical waves.
func TestWaveScheduleDeterminism(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		specs := genSpecs(rt)
		s := New()

		dag1, err := s.BuildDAG(specs)
		if err != nil {
			rt.Fatalf("BuildDAG failed: %v", err)
		}
		waves1, err := s.ExecutionWaves(dag1)
		if err != nil {
			rt.Fatalf("ExecutionWaves failed: %v", err)
		}

		dag2, err := s.BuildDAG(specs)
		if err != nil {
			rt.Fatalf("BuildDAG failed on rebuild: %v", err)
		}
		waves2, err := s.ExecutionWaves(dag2)
		if err != nil {
			rt.Fatalf("ExecutionWaves failed on rebuild: %v", err)
		}

		if len(waves1) != len(waves2) {
			rt.Fatalf("wave count differs across runs: %d vs %d", len(waves1), len(waves2))
		}
		for i := range waves1 {
			if len(waves1[i]) != len(waves2[i]) {
				rt.Fatalf("wave %d length differs: %v vs %v", i, waves1[i], waves2[i])
			}
			for j := range waves1[i] {
				if waves1[i][j] != waves2[i][j] {
					rt.Fatalf("wave %d element %d differs: %s vs %s", i, j, waves1[i][j], waves2[i][j])
				}
			}
		}
	})
}

// TestWaveCorrectness: every plugin in wave k has all its DAG predecessors
// in strictly earlier waves, and every plugin appears in exactly one wave.
func TestWaveCorrectness(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		specs := genSpecs(rt)
		s := New()
		dag, err := s.BuildDAG(specs)
		if err != nil {
			rt.Fatalf("BuildDAG failed: %v", err)
		}
		waves, err := s.ExecutionWaves(dag)
		if err != nil {
			rt.Fatalf("ExecutionWaves failed: %v", err)
		}

		waveOf := make(map[string]int)
		seen := 0
		for idx, wave := range waves {
			for _, name := range wave {
				waveOf[name] = idx
				seen++
			}
		}
		if seen != len(dag.Nodes) {
			rt.Fatalf("expected every one of %d nodes to appear exactly once across waves, got %d placements", len(dag.Nodes), seen)
		}

		for name, idx := range waveOf {
			for _, pred := range dag.Predecessors(name) {
				predIdx, ok := waveOf[pred]
				if !ok {
					rt.Fatalf("predecessor %s of %s missing from any wave", pred, name)
				}
				if predIdx >= idx {
					rt.Fatalf("predecessor %s (wave %d) does not precede %s (wave %d)", pred, predIdx, name, idx)
				}
			}
		}
	})
}
