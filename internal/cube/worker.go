package cube

import (
	"sync"

	"github.com/xinlaoda/mallob-go/internal/solver"
	"github.com/xinlaoda/mallob-go/internal/term"
)

// WorkerState enumerates a cube worker's local state:
// IDLING → WAITING → REQUESTING → WORKING → FAILED → RETURNING → WAITING.
type WorkerState int

const (
	WorkerIdling WorkerState = iota
	WorkerWaiting
	WorkerRequesting
	WorkerWorking
	WorkerFailed
	WorkerReturning
	WorkerSolved
)

var workerStateNames = map[WorkerState]string{
	WorkerIdling:     "IDLING",
	WorkerWaiting:    "WAITING",
	WorkerRequesting: "REQUESTING",
	WorkerWorking:    "WORKING",
	WorkerFailed:     "FAILED",
	WorkerReturning:  "RETURNING",
	WorkerSolved:     "SOLVED",
}

func (s WorkerState) String() string {
	if n, ok := workerStateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// SendRequestCubesFunc asks the root for cubes. Called on a scheduler tick
// while the worker is WAITING.
type SendRequestCubesFunc func() error

// SendFailedCubesFunc reports this worker's accumulated failed cubes to the
// root. Called on a scheduler tick while the worker is FAILED.
type SendFailedCubesFunc func(failed []Cube) error

// Worker drives one cube-solving worker thread's state machine. It has no
// goroutine of its own: Tick and the Receive* methods are called by the owning
// job's main loop and message router respectively, matching the single
// cooperative scheduler thread per process.
type Worker struct {
	mu sync.Mutex

	solver solver.Adapter
	term   *term.Terminator

	state       WorkerState
	localCubes  []Cube
	failedCubes []Cube

	sendRequest SendRequestCubesFunc
	sendFailed  SendFailedCubesFunc

	onSolved func(result solver.Result, model []int32)
}

// NewWorker creates a Worker in IDLING state.
func NewWorker(s solver.Adapter, t *term.Terminator, sendRequest SendRequestCubesFunc, sendFailed SendFailedCubesFunc, onSolved func(solver.Result, []int32)) *Worker {
	return &Worker{
		solver:      s,
		term:        t,
		state:       WorkerIdling,
		sendRequest: sendRequest,
		sendFailed:  sendFailed,
		onSolved:    onSolved,
	}
}

func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Activate transitions an IDLING worker into WAITING, the entry point into
// the request/work/return cycle.
func (w *Worker) Activate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == WorkerIdling {
		w.state = WorkerWaiting
	}
}

// Tick performs the per-state action appropriate on a scheduler tick: in
// WAITING it issues a cube request; in FAILED it reports accumulated
// failures. Other states are no-ops here (WORKING progresses via RunWork,
// which the caller invokes separately on the same tick).
func (w *Worker) Tick() error {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()

	switch state {
	case WorkerWaiting:
		if err := w.sendRequest(); err != nil {
			return err
		}
		w.mu.Lock()
		if w.state == WorkerWaiting {
			w.state = WorkerRequesting
		}
		w.mu.Unlock()
	case WorkerFailed:
		w.mu.Lock()
		failed := w.failedCubes
		w.mu.Unlock()
		if err := w.sendFailed(failed); err != nil {
			return err
		}
		w.mu.Lock()
		if w.state == WorkerFailed {
			w.state = WorkerReturning
		}
		w.mu.Unlock()
	}
	return nil
}

// ReceiveCubes handles MSG_SEND_CUBES: adopt the assigned cubes and
// transition to WORKING.
func (w *Worker) ReceiveCubes(cubes []Cube) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WorkerRequesting {
		return
	}
	w.localCubes = cubes
	w.state = WorkerWorking
}

// ReceiveFailedAck handles MSG_RECEIVED_FAILED_CUBES: clear the worker's
// failed-cube accumulator and return to WAITING.
func (w *Worker) ReceiveFailedAck() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WorkerReturning {
		return
	}
	w.failedCubes = nil
	w.state = WorkerWaiting
}

// RunWork executes the WORKING state to completion: solve each local cube
// in turn, skipping any already known failed, until one yields a
// definitive result or all are exhausted. isKnownFailed lets the caller
// consult the root's latest failed-cube set.
func (w *Worker) RunWork(isKnownFailed func(Cube) bool) solver.Result {
	w.mu.Lock()
	if w.state != WorkerWorking {
		w.mu.Unlock()
		return solver.ResultUnknown
	}
	cubes := w.localCubes
	w.mu.Unlock()

	for _, c := range cubes {
		if isKnownFailed(c) {
			continue
		}
		w.solver.Assume(c)
		switch w.solver.Solve(w.term) {
		case solver.ResultSAT:
			w.mu.Lock()
			w.state = WorkerSolved
			w.mu.Unlock()
			if w.onSolved != nil {
				w.onSolved(solver.ResultSAT, w.solver.Model())
			}
			return solver.ResultSAT
		case solver.ResultUnknown:
			// Interrupted; exit without a state change so the caller can
			// retry or tear down cleanly.
			return solver.ResultUnknown
		case solver.ResultUNSAT:
			failed := w.solver.Failed()
			if len(failed) == 0 {
				w.mu.Lock()
				w.state = WorkerSolved
				w.mu.Unlock()
				if w.onSolved != nil {
					w.onSolved(solver.ResultUNSAT, nil)
				}
				return solver.ResultUNSAT
			}
			w.mu.Lock()
			w.failedCubes = append(w.failedCubes, Cube(failed).clone())
			w.mu.Unlock()
		}
	}

	w.mu.Lock()
	if w.state == WorkerWorking {
		w.state = WorkerFailed
	}
	w.mu.Unlock()
	return solver.ResultUnknown
}
