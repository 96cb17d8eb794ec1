// Package cube implements the cube-and-conquer coordination protocol: a
// root-side cube tree and generator loop, and a per-worker state machine.
// The manager holds a work queue that workers pull from; worker state
// names and transition order follow
// original_source/src/app/sat/cube/cube_worker.cpp, reworked from
// condition-variable waits into an explicit Tick()-driven state machine
// matching the daemon's single cooperative main loop.
package cube

// Cube is an assumption path: an ordered list of signed literals assumed
// together. Child cubes extend their parent's literal list by exactly one
// split literal.
type Cube []int32

func (c Cube) clone() Cube {
	out := make(Cube, len(c))
	copy(out, c)
	return out
}

// extend returns a new cube equal to c with lit appended.
func (c Cube) extend(lit int32) Cube {
	out := make(Cube, len(c), len(c)+1)
	copy(out, c)
	return append(out, lit)
}

// includesFailed reports whether cube is an extension of (or equal to) a
// known failed cube, in which case it must be skipped rather than
// re-solved as a path already known unsatisfiable.
func includesFailed(cube Cube, failed []Cube) bool {
	for _, f := range failed {
		if len(f) == 0 {
			return true // the empty cube failing means everything fails (global UNSAT)
		}
		if len(cube) < len(f) {
			continue
		}
		match := true
		for i := range f {
			if cube[i] != f[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Tree is the root's DAG of active cubes plus the accumulated failed-cube
// set. It is a flat pending queue rather than an explicit graph: a cube's
// ancestry is implicit in its literal prefix, which is all includesFailed
// and the generator loop need.
type Tree struct {
	pending []Cube
	failed  []Cube

	// outstanding counts cubes that have been popped but not yet resolved
	// (via PushChildren or MarkFailed). A cube in flight to a generator or
	// remote worker is neither pending nor failed, so Exhausted must treat
	// it as still-open work.
	outstanding int
}

// NewTree seeds the tree with a single root cube (commonly the empty cube,
// i.e. no assumptions).
func NewTree(root Cube) *Tree {
	return &Tree{pending: []Cube{root.clone()}}
}

// Pop removes and returns one pending cube for a generator or worker to
// expand, or ok=false if none remain.
func (t *Tree) Pop() (Cube, bool) {
	if len(t.pending) == 0 {
		return nil, false
	}
	c := t.pending[len(t.pending)-1]
	t.pending = t.pending[:len(t.pending)-1]
	t.outstanding++
	return c, true
}

// PushChildren enqueues both children produced by expanding parent on
// splitLit.
func (t *Tree) PushChildren(parent Cube, splitLit int32) (left, right Cube) {
	left = parent.extend(-splitLit)
	right = parent.extend(splitLit)
	t.pending = append(t.pending, left, right)
	t.resolveOutstanding()
	return left, right
}

// MarkFailed records cube as failed and prunes any pending cubes that are
// now subsumed by it.
func (t *Tree) MarkFailed(cube Cube) {
	t.failed = append(t.failed, cube.clone())
	t.resolveOutstanding()
	if len(cube) == 0 {
		t.pending = nil
		return
	}
	kept := t.pending[:0]
	for _, p := range t.pending {
		if !includesFailed(p, []Cube{cube}) {
			kept = append(kept, p)
		}
	}
	t.pending = kept
}

// IsKnownFailed reports whether cube is subsumed by any cube already marked
// failed.
func (t *Tree) IsKnownFailed(cube Cube) bool {
	return includesFailed(cube, t.failed)
}

// EmptyCubeFailed reports whether the empty cube (no assumptions) has been
// marked failed, which means global UNSAT: no cubes remain after all
// expansions fail.
func (t *Tree) EmptyCubeFailed() bool {
	for _, f := range t.failed {
		if len(f) == 0 {
			return true
		}
	}
	return false
}

// resolveOutstanding accounts for one previously popped cube reaching a
// terminal or split resolution. It never goes negative: a cube resolved
// without having gone through Pop (the empty root cube, marked failed
// directly) must not underflow the counter.
func (t *Tree) resolveOutstanding() {
	if t.outstanding > 0 {
		t.outstanding--
	}
}

// Exhausted reports whether there is no pending work and nothing still in
// flight to a generator or worker, i.e. every cube the tree ever produced
// has either been split into children or marked failed.
func (t *Tree) Exhausted() bool {
	return len(t.pending) == 0 && t.outstanding == 0
}

// FailedCubes returns a snapshot of all cubes marked failed so far, for
// propagation to workers.
func (t *Tree) FailedCubes() []Cube {
	out := make([]Cube, len(t.failed))
	for i, f := range t.failed {
		out[i] = f.clone()
	}
	return out
}
