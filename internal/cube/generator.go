package cube

import (
	"github.com/xinlaoda/mallob-go/internal/solver"
	"github.com/xinlaoda/mallob-go/internal/term"
)

// RunGeneratorStep performs one generator-thread iteration at the root:
// request a cube, assume it in the cube-checker; if the checker refutes
// it, report the cube failed; otherwise assume it in the main solver and
// look ahead for a split literal, either emitting a child expansion or
// solving the cube directly to a definitive result.
//
// It returns false once the manager has no more cubes to offer (ok=false
// from RequestCube) or a definitive global result has already been set,
// signalling the caller to stop looping.
func RunGeneratorStep(mgr *Manager, checker, main solver.Adapter, t *term.Terminator) bool {
	if mgr.Done() {
		return false
	}
	cube, ok := mgr.RequestCube()
	if !ok {
		return false
	}

	checker.Assume(cube)
	switch checker.Solve(t) {
	case solver.ResultUNSAT:
		if core := checker.Failed(); len(core) > 0 {
			mgr.SubmitFailed([]Cube{cube})
			return true
		}
		// Empty core: the checker could not refute the path at all; fall
		// through and let the main solver attempt it directly below.
	case solver.ResultUnknown:
		// Interrupted mid-check; the cube is not re-enqueued (the manager
		// already popped it) and nothing retries it.
		return true
	}

	main.Assume(cube)
	splitLit := main.Lookahead(t)
	if splitLit == 0 {
		switch main.Solve(t) {
		case solver.ResultSAT:
			mgr.SetSAT(main.Model())
		case solver.ResultUNSAT:
			failed := main.Failed()
			if len(failed) == 0 {
				mgr.SubmitFailed([]Cube{{}})
			} else {
				mgr.SubmitFailed([]Cube{cube})
			}
		case solver.ResultUnknown:
			// interrupted; the cube is dropped, same as above.
		}
		return true
	}

	mgr.SubmitExpansion(cube, splitLit)
	return true
}
