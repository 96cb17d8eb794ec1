// Package jobsm implements the per-process job lifecycle state machine:
// commit/start/suspend/resume/interrupt/restart/terminate.
//
// Grounded on original_source/src/app/job.cpp's assertState-then-mutate
// method bodies, translated to Go, and on a state-constant-table idiom
// (a State type paired with a StateNames map for log output).
package jobsm

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/xinlaoda/mallob-go/internal/jobdesc"
	"github.com/xinlaoda/mallob-go/internal/term"
	"github.com/xinlaoda/mallob-go/internal/transport"
)

// State is one of the job lifecycle states.
type State int

const (
	StateInactive State = iota
	StateCommitted
	StateActive
	StateSuspended
	StateStandby
	StatePast
)

// StateNames maps each State to its log-friendly name.
var StateNames = map[State]string{
	StateInactive:  "INACTIVE",
	StateCommitted: "COMMITTED",
	StateActive:    "ACTIVE",
	StateSuspended: "SUSPENDED",
	StateStandby:   "STANDBY",
	StatePast:      "PAST",
}

func (s State) String() string { return StateNames[s] }

// JoinRequest is a pending commitment ticket: a tree slot offered to this
// process before the job actually starts on it.
type JoinRequest struct {
	RequestedIndex int
	RootRank       transport.Rank
	RequestingRank transport.Rank
}

// Application is the dispatch table a StateMachine drives through its
// lifecycle transitions. A concrete implementation (SAT, DUMMY) is
// injected at construction time.
type Application interface {
	Initialize(desc *jobdesc.JobDescription, rev int, t *term.Terminator) error
	Start() error
	Suspend() error
	Resume() error
	Interrupt() error
	Restart(rev int) error
	Terminate() error
	Communicate(source transport.Rank, msg transport.Message) error
}

// StateMachine tracks one job's local role and lifecycle in one process.
type StateMachine struct {
	mu sync.Mutex

	id    int
	index int // level-order tree index once committed

	state State

	commitment *JoinRequest

	threadsPerJob       int
	sizeLimitPerProcess int

	volume int

	timeOfActivation     float64
	timeOfLastLimitCheck float64
	timeOfAbort          float64

	abortBeforeInitialization bool

	terminator *term.Terminator

	desc *jobdesc.JobDescription
	appl Application

	log *logrus.Entry
}

// New creates an INACTIVE state machine for desc, hosted with baseThreads
// solver threads, using appl for the application-specific hooks.
func New(desc *jobdesc.JobDescription, baseThreads, sizeLimitPerProcess int, appl Application, log *logrus.Entry) *StateMachine {
	return &StateMachine{
		id:                  desc.ID(),
		state:               StateInactive,
		threadsPerJob:       baseThreads,
		sizeLimitPerProcess: sizeLimitPerProcess,
		desc:                desc,
		appl:                appl,
		log:                 log.WithField("job", fmt.Sprintf("#%d", desc.ID())),
	}
}

func (sm *StateMachine) ID() int { return sm.id }

func (sm *StateMachine) State() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

func (sm *StateMachine) Volume() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.volume
}

// String names the job the way original_source/src/app/job.cpp does:
// "#<id>" before a tree index is known, "#<id>:<index>" after.
func (sm *StateMachine) String() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.stringLocked()
}

func (sm *StateMachine) stringLocked() string {
	if sm.commitment == nil && sm.state == StateInactive {
		return fmt.Sprintf("#%d", sm.id)
	}
	return fmt.Sprintf("#%d:%d", sm.id, sm.index)
}

func (sm *StateMachine) assertState(want State) {
	if sm.state != want {
		panic(fmt.Sprintf("jobsm: job %d: expected state %s, got %s (programmer error)", sm.id, want, sm.state))
	}
}

// Commit stores a pending join ticket without changing state (INACTIVE
// stays INACTIVE, just with a commitment set). At most one commitment per
// job per process.
func (sm *StateMachine) Commit(req JoinRequest) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state == StateActive || sm.state == StatePast {
		panic(fmt.Sprintf("jobsm: job %d: cannot commit in state %s", sm.id, sm.state))
	}
	sm.commitment = &req
	sm.index = req.RequestedIndex
	sm.log.WithFields(logrus.Fields{"index": req.RequestedIndex}).Debug("commit")
}

// Uncommit reverts a pending commitment, e.g. after a join-accept times out.
func (sm *StateMachine) Uncommit() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state == StateActive {
		panic(fmt.Sprintf("jobsm: job %d: cannot uncommit while ACTIVE", sm.id))
	}
	sm.commitment = nil
}

// Start deserializes rev's payload and transitions INACTIVE(committed) ->
// ACTIVE, applying the sizeLimitPerProcess thread-count reduction.
func (sm *StateMachine) Start(rev int, now float64) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.assertState(StateInactive)

	if sm.abortBeforeInitialization {
		sm.log.Debug("abortBeforeInitialization observed, skipping start")
		return nil
	}

	sm.terminator = term.New(nil)
	if err := sm.appl.Initialize(sm.desc, rev, sm.terminator); err != nil {
		return fmt.Errorf("jobsm: job %d: initialize: %w", sm.id, err)
	}

	if sm.timeOfActivation <= 0 {
		sm.timeOfActivation = now
	}
	sm.timeOfLastLimitCheck = now
	sm.volume = 1

	p, ok := sm.desc.Revision(rev)
	if ok && sm.sizeLimitPerProcess > 0 && p.LiteralCount > 0 {
		if sm.threadsPerJob*p.LiteralCount > sm.sizeLimitPerProcess {
			optimal := sm.sizeLimitPerProcess / p.LiteralCount
			if optimal < 1 {
				optimal = 1
			}
			sm.log.WithFields(logrus.Fields{
				"old_threads": sm.threadsPerJob,
				"new_threads": optimal,
			}).Info("literal threshold exceeded - cut down threads")
			sm.threadsPerJob = optimal
		}
	}

	sm.state = StateActive
	if err := sm.appl.Start(); err != nil {
		return fmt.Errorf("jobsm: job %d: start: %w", sm.id, err)
	}
	return nil
}

// Suspend quiesces workers and zeroes volume: ACTIVE -> SUSPENDED.
func (sm *StateMachine) Suspend() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.assertState(StateActive)
	sm.state = StateSuspended
	sm.volume = 0
	sm.log.Debug("suspended")
	return sm.appl.Suspend()
}

// Resume reawakens workers: SUSPENDED -> ACTIVE.
func (sm *StateMachine) Resume() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.assertState(StateSuspended)
	sm.state = StateActive
	sm.log.Debug("resumed")
	return sm.appl.Resume()
}

// Interrupt performs the cancellation sequence: flip the Terminator, call
// the application's interrupt hook, then transition to STANDBY. It does not
// detach tree children or clear a result; the state machine holds neither.
func (sm *StateMachine) Interrupt() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state != StateActive && sm.state != StateSuspended {
		if sm.state == StateInactive {
			// An uninitialized job with a pending abort: Start will see
			// abortBeforeInitialization and skip straight through.
			sm.abortBeforeInitialization = true
			return nil
		}
		panic(fmt.Sprintf("jobsm: job %d: cannot interrupt in state %s", sm.id, sm.state))
	}
	if sm.terminator != nil {
		sm.terminator.Terminate()
	}
	if err := sm.appl.Interrupt(); err != nil {
		return fmt.Errorf("jobsm: job %d: interrupt: %w", sm.id, err)
	}
	sm.state = StateStandby
	sm.log.Debug("interrupted -> standby")
	return nil
}

// Restart applies a new revision and resumes from STANDBY: STANDBY -> ACTIVE.
func (sm *StateMachine) Restart(rev int, now float64) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.assertState(StateStandby)
	sm.terminator = term.New(nil)
	if err := sm.appl.Initialize(sm.desc, rev, sm.terminator); err != nil {
		return fmt.Errorf("jobsm: job %d: restart initialize: %w", sm.id, err)
	}
	sm.timeOfActivation = now
	sm.state = StateActive
	sm.log.Debug("restarted")
	return sm.appl.Restart(rev)
}

// Terminate transitions to the terminal PAST state from any non-PAST
// state. No transition leaves PAST.
func (sm *StateMachine) Terminate(now float64) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state == StatePast {
		return nil
	}
	if sm.terminator != nil {
		sm.terminator.Terminate()
	}
	wasActive := sm.state == StateActive || sm.state == StateSuspended
	sm.state = StatePast
	sm.volume = 0
	sm.timeOfAbort = now
	sm.log.Debug("terminated -> past")
	if wasActive {
		return sm.appl.Terminate()
	}
	return nil
}

// Communicate delivers a job-scoped message to the application, but only
// while ACTIVE.
func (sm *StateMachine) Communicate(source transport.Rank, msg transport.Message) error {
	sm.mu.Lock()
	active := sm.state == StateActive
	sm.mu.Unlock()
	if !active {
		return nil
	}
	return sm.appl.Communicate(source, msg)
}

// ThreadsPerJob returns the (possibly reduced) thread count.
func (sm *StateMachine) ThreadsPerJob() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.threadsPerJob
}

// CheckLimits evaluates wallclock/cpu limits and terminates the job if
// expired. Callers should invoke this at least once per second. Returns
// true if the job was terminated as a result.
func (sm *StateMachine) CheckLimits(now, cpuElapsed float64) (bool, error) {
	wall, cpu, _ := sm.desc.Limits()
	activation := sm.timeOfActivationLocked()
	if wall > 0 && activation > 0 && now-activation > wall {
		return true, sm.Terminate(now)
	}
	if cpu > 0 && cpuElapsed > cpu {
		return true, sm.Terminate(now)
	}
	return false, nil
}

func (sm *StateMachine) timeOfActivationLocked() float64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.timeOfActivation
}
