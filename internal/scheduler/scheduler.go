package scheduler

import "sort"

// PluginSpec is the scheduling-relevant subset of a plugin descriptor.
type PluginSpec struct {
	Name       string
	Mutexes    []string
	DependsOn  []string
}

// Scheduler builds execution DAGs and waves from plugin specs.
type Scheduler struct{}

// New creates a Scheduler. It holds no state; every method is pure given
// its arguments, matching the original's stateless scheduler.
func New() *Scheduler { return &Scheduler{} }

// BuildDAG inserts one node per spec, a dependency edge for every declared
// DependsOn entry, and a mutex-conflict edge min(A,B) -> max(A,B) for every
// unordered pair of plugins with overlapping mutex sets. It validates
// acyclicity before returning.
func (s *Scheduler) BuildDAG(specs []PluginSpec) (*DAG, error) {
	dag := NewDAG()

	for _, p := range specs {
		dag.AddNode(Node{Name: p.Name, Mutexes: append([]string{}, p.Mutexes...)})
	}

	for _, p := range specs {
		for _, dep := range p.DependsOn {
			if _, ok := dag.Nodes[dep]; !ok {
				continue
			}
			_ = dag.AddEdge(dep, p.Name)
		}
	}

	names := make([]string, 0, len(specs))
	mutexOf := make(map[string]map[string]bool, len(specs))
	for _, p := range specs {
		names = append(names, p.Name)
		set := make(map[string]bool, len(p.Mutexes))
		for _, m := range p.Mutexes {
			set[m] = true
		}
		mutexOf[p.Name] = set
	}
	sort.Strings(names)

	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := names[i], names[j]
			if sharesMutex(mutexOf[a], mutexOf[b]) {
				lo, hi := a, b
				if hi < lo {
					lo, hi = hi, lo
				}
				_ = dag.AddEdge(lo, hi)
			}
		}
	}

	if _, err := dag.FindCycle(); err != nil {
		return nil, err
	}

	return dag, nil
}

func sharesMutex(a, b map[string]bool) bool {
	for m := range a {
		if b[m] {
			return true
		}
	}
	return false
}

// ExecutionWaves returns the wave partition of dag.
func (s *Scheduler) ExecutionWaves(dag *DAG) ([][]string, error) {
	return dag.Waves()
}

// ExecutionOrder returns a flat topological order of dag.
func (s *Scheduler) ExecutionOrder(dag *DAG) ([]string, error) {
	return dag.TopologicalSort()
}

// CanRunParallel reports whether a and b may run concurrently under dag.
func (s *Scheduler) CanRunParallel(a, b string, dag *DAG) bool {
	return dag.CanRunParallel(a, b)
}
