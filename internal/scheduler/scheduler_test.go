package scheduler

import (
	"testing"
)

func TestBuildDAGDependencyEdges(t *testing.T) {
	s := New()
	specs := []PluginSpec{
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"b"}},
	}

	dag, err := s.BuildDAG(specs)
	if err != nil {
		t.Fatalf("BuildDAG failed: %v", err)
	}

	order, err := s.ExecutionOrder(dag)
	if err != nil {
		t.Fatalf("ExecutionOrder failed: %v", err)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expected [a b c], got %v", order)
	}
}

func TestBuildDAGMutexConflictOrdering(t *testing.T) {
	s := New()
	specs := []PluginSpec{
		{Name: "zeta", Mutexes: []string{"pkgmgr:apt"}},
		{Name: "alpha", Mutexes: []string{"pkgmgr:apt"}},
	}

	dag, err := s.BuildDAG(specs)
	if err != nil {
		t.Fatalf("BuildDAG failed: %v", err)
	}

	// BuildDAG inserts an edge min(name)->max(name) lexicographically for a
	// shared mutex, independent of input order.
	if !dag.edges["alpha"]["zeta"] {
		t.Fatalf("expected edge alpha -> zeta from shared mutex, got edges %v", dag.edges)
	}
}

func TestBuildDAGDetectsCycle(t *testing.T) {
	s := New()
	specs := []PluginSpec{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}

	if _, err := s.BuildDAG(specs); err == nil {
		t.Fatal("expected cycle error, got nil")
	}
}

func TestBuildDAGIgnoresUnknownDependency(t *testing.T) {
	s := New()
	specs := []PluginSpec{
		{Name: "a", DependsOn: []string{"ghost"}},
	}

	dag, err := s.BuildDAG(specs)
	if err != nil {
		t.Fatalf("BuildDAG failed: %v", err)
	}
	if len(dag.Predecessors("a")) != 0 {
		t.Fatalf("expected no predecessors for a, got %v", dag.Predecessors("a"))
	}
}

func TestExecutionWavesIndependentPlugins(t *testing.T) {
	s := New()
	specs := []PluginSpec{
		{Name: "a"},
		{Name: "b"},
		{Name: "c"},
	}

	dag, err := s.BuildDAG(specs)
	if err != nil {
		t.Fatalf("BuildDAG failed: %v", err)
	}
	waves, err := s.ExecutionWaves(dag)
	if err != nil {
		t.Fatalf("ExecutionWaves failed: %v", err)
	}
	if len(waves) != 1 || len(waves[0]) != 3 {
		t.Fatalf("expected one wave of three independent plugins, got %v", waves)
	}
}

func TestExecutionWavesChain(t *testing.T) {
	s := New()
	specs := []PluginSpec{
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"b"}},
	}

	dag, err := s.BuildDAG(specs)
	if err != nil {
		t.Fatalf("BuildDAG failed: %v", err)
	}
	waves, err := s.ExecutionWaves(dag)
	if err != nil {
		t.Fatalf("ExecutionWaves failed: %v", err)
	}
	if len(waves) != 3 {
		t.Fatalf("expected 3 waves for a linear chain, got %d: %v", len(waves), waves)
	}
	for i, wave := range waves {
		if len(wave) != 1 {
			t.Fatalf("wave %d: expected single plugin, got %v", i, wave)
		}
	}
}

func TestCanRunParallelRespectsMutex(t *testing.T) {
	s := New()
	specs := []PluginSpec{
		{Name: "a", Mutexes: []string{"runtime:docker"}},
		{Name: "b", Mutexes: []string{"runtime:docker"}},
		{Name: "c"},
	}
	dag, err := s.BuildDAG(specs)
	if err != nil {
		t.Fatalf("BuildDAG failed: %v", err)
	}
	if s.CanRunParallel("a", "b", dag) {
		t.Fatal("expected a and b to not be parallelizable: they share a mutex")
	}
	if !s.CanRunParallel("a", "c", dag) {
		t.Fatal("expected a and c to be parallelizable: no shared mutex or dependency")
	}
}
