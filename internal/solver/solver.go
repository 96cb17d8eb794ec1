// Package solver defines the narrow SolverAdapter interface the platform
// core uses to drive an underlying CDCL engine, plus a gini-backed
// implementation and an in-memory fake for tests.
package solver

import "github.com/xinlaoda/mallob-go/internal/term"

// Result is the outcome of a Solve or Lookahead call.
type Result int

const (
	ResultUnknown Result = iota
	ResultSAT
	ResultUNSAT
)

func (r Result) String() string {
	switch r {
	case ResultSAT:
		return "SAT"
	case ResultUNSAT:
		return "UNSAT"
	default:
		return "UNKNOWN"
	}
}

// Adapter is the capability set a concrete solver backend implements:
// inheritance of solver backends is replaced with a tagged-variant
// interface and runtime selection by capability.
type Adapter interface {
	// Add appends a clause (a slice of DIMACS-style signed literals) to the
	// solver's permanent clause database.
	Add(clause []int32)

	// Assume sets temporary assumption literals for the next Solve call.
	Assume(lits []int32)

	// Solve runs CDCL search under the current assumptions, honoring t's
	// interrupt flag, and returns within a bounded grace period of t firing.
	Solve(t *term.Terminator) Result

	// Lookahead returns a split literal for cube expansion, or 0 if no
	// further splitting is useful (the caller should Solve directly).
	Lookahead(t *term.Terminator) int32

	// Failed returns the minimal unsat core of the most recent Solve call
	// that returned ResultUNSAT, as a subset of the assumption literals.
	Failed() []int32

	// Model returns a satisfying assignment after a ResultSAT Solve.
	Model() []int32

	// Suspend and Resume quiesce and reawaken the underlying engine without
	// discarding its clause database, mirroring the SUSPENDED/ACTIVE
	// transitions of the job that owns this solver.
	Suspend()
	Resume()

	// Interrupt requests that any in-progress Solve/Lookahead return
	// ResultUnknown promptly.
	Interrupt()
}
