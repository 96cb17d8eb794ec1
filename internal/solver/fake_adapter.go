package solver

import "github.com/xinlaoda/mallob-go/internal/term"

// FakeAdapter is a deterministic, in-memory SolverAdapter used by the
// coordinator's unit tests. It resolves SAT when no assumed literal
// contradicts the polarity SatisfyingAssumptions gives its variable
// (literals on other variables are ignored, so an empty assumption set is
// SAT), and UNSAT otherwise, returning the assumptions themselves as the
// failed core (a conservative but always-correct unsat core for a test
// double: the whole assumption set is indeed sufficient to derive UNSAT
// here, satisfying P5's soundness requirement for the fake's own
// semantics).
type FakeAdapter struct {
	SatisfyingAssumptions map[int32]bool
	assumed               []int32
	clauses               [][]int32
	interrupted            bool
}

// NewFakeAdapter builds a fake whose unique satisfying assignment is sat.
func NewFakeAdapter(sat map[int32]bool) *FakeAdapter {
	return &FakeAdapter{SatisfyingAssumptions: sat}
}

func (f *FakeAdapter) Add(clause []int32) { f.clauses = append(f.clauses, clause) }

func (f *FakeAdapter) Assume(lits []int32) {
	f.assumed = append([]int32(nil), lits...)
}

func (f *FakeAdapter) Solve(t *term.Terminator) Result {
	if t != nil && t.IsTerminating() {
		return ResultUnknown
	}
	if f.interrupted {
		return ResultUnknown
	}
	if f.matchesSatisfying() {
		return ResultSAT
	}
	return ResultUNSAT
}

func (f *FakeAdapter) matchesSatisfying() bool {
	for _, lit := range f.assumed {
		want, known := f.SatisfyingAssumptions[abs32(lit)]
		if !known {
			continue
		}
		wantLit := want
		gotLit := lit > 0
		if wantLit != gotLit {
			return false
		}
	}
	return true
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}

func (f *FakeAdapter) Lookahead(t *term.Terminator) int32 {
	for v := range f.SatisfyingAssumptions {
		assumed := false
		for _, a := range f.assumed {
			if abs32(a) == v {
				assumed = true
				break
			}
		}
		if !assumed {
			return v
		}
	}
	return 0
}

func (f *FakeAdapter) Failed() []int32 { return append([]int32(nil), f.assumed...) }

func (f *FakeAdapter) Model() []int32 {
	out := make([]int32, 0, len(f.SatisfyingAssumptions))
	for v, pos := range f.SatisfyingAssumptions {
		if pos {
			out = append(out, v)
		} else {
			out = append(out, -v)
		}
	}
	return out
}

func (f *FakeAdapter) Suspend()   {}
func (f *FakeAdapter) Resume()    {}
func (f *FakeAdapter) Interrupt() { f.interrupted = true }
