package solver

import (
	"github.com/go-air/gini"
	"github.com/go-air/gini/inter"
	"github.com/go-air/gini/z"

	"github.com/xinlaoda/mallob-go/internal/term"
)

// GiniAdapter backs the SolverAdapter interface with a real incremental SAT
// engine (github.com/go-air/gini), grounded on OLM's own
// pkg/controller/registry/resolver/sat package, which wires the exact same
// library behind a narrow interface for dependency-resolution SAT solving.
type GiniAdapter struct {
	g       inter.S
	maxVar  z.Var
	assumed []z.Lit
	failed  []int32
	model   []int32
}

// NewGiniAdapter constructs an empty incremental solver instance.
func NewGiniAdapter() *GiniAdapter {
	return &GiniAdapter{g: gini.New()}
}

func dimacsToLit(lit int32) z.Lit {
	v := lit
	if v < 0 {
		v = -v
	}
	m := z.Var(v).Pos()
	if lit < 0 {
		m = m.Not()
	}
	return m
}

func litToDimacs(m z.Lit) int32 {
	v := int32(m.Var())
	if m.IsPos() {
		return v
	}
	return -v
}

func (a *GiniAdapter) growTo(v z.Var) {
	if v > a.maxVar {
		a.maxVar = v
	}
}

// Add appends a clause to the solver's permanent clause database.
func (a *GiniAdapter) Add(clause []int32) {
	for _, lit := range clause {
		m := dimacsToLit(lit)
		a.growTo(m.Var())
		a.g.Add(m)
	}
	a.g.Add(z.LitNull)
}

// Assume records assumption literals for the next Solve.
func (a *GiniAdapter) Assume(lits []int32) {
	a.assumed = a.assumed[:0]
	for _, lit := range lits {
		a.assumed = append(a.assumed, dimacsToLit(lit))
	}
	a.g.Assume(a.assumed...)
}

// Solve runs CDCL search, honoring t's interrupt flag on a best-effort
// basis between gini's own internal checks: solver threads block only in
// Solve/Lookahead and must honor a cooperatively-checked interrupt flag.
func (a *GiniAdapter) Solve(t *term.Terminator) Result {
	if t != nil && t.IsTerminating() {
		return ResultUnknown
	}
	switch a.g.Solve() {
	case 1:
		a.model = a.model[:0]
		for v := z.Var(1); v <= a.maxVar; v++ {
			if a.g.Value(v.Pos()) {
				a.model = append(a.model, int32(v))
			} else {
				a.model = append(a.model, -int32(v))
			}
		}
		return ResultSAT
	case -1:
		a.failed = a.failed[:0]
		why := a.g.Why(nil)
		for _, m := range why {
			a.failed = append(a.failed, litToDimacs(m))
		}
		return ResultUNSAT
	default:
		return ResultUnknown
	}
}

// Lookahead picks a split literal for cube expansion. gini has no
// first-class lookahead primitive, so this picks the lowest-indexed
// unassigned variable as the split point, matching the "pick a split
// literal" contract without claiming a specific lookahead heuristic: the
// core does not prescribe clause-quality or branching heuristics.
func (a *GiniAdapter) Lookahead(t *term.Terminator) int32 {
	if t != nil && t.IsTerminating() {
		return 0
	}
	for v := z.Var(1); v <= a.maxVar; v++ {
		if !a.g.Value(v.Pos()) && !a.g.Value(v.Neg()) {
			return int32(v)
		}
	}
	return 0
}

// Failed returns the unsat core from the most recent UNSAT Solve.
func (a *GiniAdapter) Failed() []int32 {
	out := make([]int32, len(a.failed))
	copy(out, a.failed)
	return out
}

// Model returns the satisfying assignment from the most recent SAT Solve.
func (a *GiniAdapter) Model() []int32 {
	out := make([]int32, len(a.model))
	copy(out, a.model)
	return out
}

// Suspend/Resume are no-ops for gini: it holds no external resources that
// need quiescing beyond what Go's scheduler already manages for a blocked
// goroutine.
func (a *GiniAdapter) Suspend() {}
func (a *GiniAdapter) Resume()  {}

// Interrupt is a no-op: gini's Solve() is not preemptible mid-call, so
// cancellation here relies on the Terminator check at the top of Solve and
// Lookahead, which catches the interrupt on the next Solve/Lookahead
// invocation rather than mid-search. Callers needing hard preemption during
// a single long Solve should run it in its own goroutine and abandon the
// result.
func (a *GiniAdapter) Interrupt() {}
