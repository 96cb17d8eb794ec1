// Package term provides the process-wide interrupt/terminator flag consulted
// by solver threads, generator threads, and the main scheduler loop between
// blocking calls.
package term

import "sync/atomic"

// Terminator is a cooperatively-checked interrupt flag. Each job's state
// machine owns one, shared by that job's solver adapters, cube worker, and
// generator threads; interrupting a job flips only that job's Terminator.
type Terminator struct {
	flag   atomic.Bool
	parent *Terminator
}

// New returns a fresh, non-terminating Terminator, optionally chained to a
// parent so that the parent terminating also terminates the child.
func New(parent *Terminator) *Terminator {
	return &Terminator{parent: parent}
}

// Terminate flips the flag. Idempotent.
func (t *Terminator) Terminate() {
	t.flag.Store(true)
}

// IsTerminating reports whether this Terminator or any ancestor has been
// flipped. Safe to call from any goroutine without additional locking.
func (t *Terminator) IsTerminating() bool {
	if t.flag.Load() {
		return true
	}
	if t.parent != nil {
		return t.parent.IsTerminating()
	}
	return false
}

// Reset clears the local flag. Does not affect the parent.
func (t *Terminator) Reset() {
	t.flag.Store(false)
}
