package cube

import (
	"sync"

	"github.com/xinlaoda/mallob-go/internal/solver"
)

// Manager is the root's cube generator manager: it owns the cube tree and
// the job's global result, which is set exactly once by
// whichever generator or worker first reaches a definitive outcome ("the
// first definitive result wins; subsequent contradictory reports are
// impossible by soundness of the solver and cube algebra").
type Manager struct {
	mu     sync.Mutex
	tree   *Tree
	result solver.Result
	model  []int32
	done   bool
}

// NewManager creates a Manager seeded with the empty root cube.
func NewManager() *Manager {
	return &Manager{
		tree:   NewTree(Cube{}),
		result: solver.ResultUnknown,
	}
}

// RequestCube hands out one pending cube to a generator or worker, or
// ok=false if the tree currently has nothing to offer.
func (m *Manager) RequestCube() (Cube, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil, false
	}
	return m.tree.Pop()
}

// IsKnownFailed reports whether cube is subsumed by a cube already marked
// failed, in which case a worker assigned it should skip straight to
// reporting it failed rather than solving it.
func (m *Manager) IsKnownFailed(cube Cube) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.IsKnownFailed(cube)
}

// SubmitExpansion records that parent was split on splitLit, enqueueing
// both children for future assignment.
func (m *Manager) SubmitExpansion(parent Cube, splitLit int32) (left, right Cube) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.PushChildren(parent, splitLit)
}

// SubmitFailed marks each cube in cubes as failed. If any of them is the
// empty cube, this declares global UNSAT: an unsatisfiable empty assumption
// set means every cube in the tree is unsatisfiable.
func (m *Manager) SubmitFailed(cubes []Cube) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cubes {
		m.tree.MarkFailed(c)
		if len(c) == 0 {
			m.setResultLocked(solver.ResultUNSAT, nil)
		}
	}
	if !m.done && m.tree.Exhausted() {
		m.setResultLocked(solver.ResultUNSAT, nil)
	}
}

// SetSAT declares global SAT with the given witness model. The first caller
// wins; later calls are no-ops.
func (m *Manager) SetSAT(model []int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setResultLocked(solver.ResultSAT, model)
}

func (m *Manager) setResultLocked(r solver.Result, model []int32) {
	if m.done {
		return
	}
	m.result = r
	m.model = model
	m.done = true
}

// Result returns the global result and, for SAT, its witness model.
// ResultUnknown means the search has not yet concluded.
func (m *Manager) Result() (solver.Result, []int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result, m.model
}

// Done reports whether a definitive result has been reached.
func (m *Manager) Done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// FailedCubes snapshots the cubes known failed so far, for the root to
// propagate to workers.
func (m *Manager) FailedCubes() []Cube {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.FailedCubes()
}
