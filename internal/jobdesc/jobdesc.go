// Package jobdesc implements the canonical in-memory representation of a
// submitted job (JobDescription) and the process-wide Registry that mints
// ids and stores revisions.
//
// Follows a struct-with-mutex plus a manager-with-map shape, sync.RWMutex
// throughout, and original_source/src/app/job.cpp for the
// priority/max-demand/literal-count fields JobDescription must carry.
package jobdesc

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Application enumerates the supported job applications: dynamic dispatch
// over job applications is modeled as a variant (Application) plus a
// dispatch table keyed on it.
type Application int

const (
	AppSAT Application = iota
	AppDummy
)

func (a Application) String() string {
	switch a {
	case AppSAT:
		return "SAT"
	case AppDummy:
		return "DUMMY"
	default:
		return "UNKNOWN"
	}
}

// ParseApplication parses the JSON "application" field, defaulting to SAT.
func ParseApplication(s string) (Application, error) {
	switch s {
	case "", "SAT":
		return AppSAT, nil
	case "DUMMY":
		return AppDummy, nil
	default:
		return AppSAT, fmt.Errorf("jobdesc: unknown application %q", s)
	}
}

// JobDescription is the canonical representation of a submitted job. Its
// identity fields are fixed at New; the Adapter mutates it afterwards only
// through SetLimits, AddDependency, AddRevision and MarkTerminated.
type JobDescription struct {
	mu sync.RWMutex

	id          int
	user        string
	name        string
	arrivalTime float64
	priority    float64
	application Application

	wallclockLimit float64
	cpuLimit       float64
	maxDemand      int

	incremental  bool
	dependencies map[int]struct{}

	// payloads[rev] is the opaque byte blob for revision rev. Index 0..len-1
	// must be contiguous; AddRevision enforces that.
	payloads []Payload

	// terminated is set once a `done:true` terminator revision arrives for an
	// incremental job.
	terminated bool
}

// Payload is one revision's opaque byte blob plus its precomputed literal
// count, used by the state machine's sizeLimitPerProcess check.
// original_source/src/app/job.cpp calls this getNumFormulaLiterals().
type Payload struct {
	Bytes         []byte
	LiteralCount  int
	SolutionHint  []int32 // optional, used by DUMMY application tests
}

// New creates a sealed JobDescription for its first revision. id must come
// from Registry.MintOrGet.
func New(id int, user, name string, priority, arrival float64, app Application, incremental bool) *JobDescription {
	return &JobDescription{
		id:           id,
		user:         user,
		name:         name,
		arrivalTime:  arrival,
		priority:     priority,
		application:  app,
		incremental:  incremental,
		dependencies: make(map[int]struct{}),
	}
}

func (j *JobDescription) ID() int { return j.id }

func (j *JobDescription) Key() string { return j.user + "." + j.name }

func (j *JobDescription) Priority() float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.priority
}

func (j *JobDescription) ArrivalTime() float64 { return j.arrivalTime }

func (j *JobDescription) Application() Application { return j.application }

func (j *JobDescription) Incremental() bool { return j.incremental }

func (j *JobDescription) SetLimits(wallclock, cpu float64, maxDemand int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.wallclockLimit = wallclock
	j.cpuLimit = cpu
	j.maxDemand = maxDemand
}

func (j *JobDescription) Limits() (wallclock, cpu float64, maxDemand int) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.wallclockLimit, j.cpuLimit, j.maxDemand
}

func (j *JobDescription) AddDependency(depID int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.dependencies[depID] = struct{}{}
}

func (j *JobDescription) Dependencies() []int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]int, 0, len(j.dependencies))
	for d := range j.dependencies {
		out = append(out, d)
	}
	return out
}

// AddRevision appends payload as the next revision. rev must equal the
// current revision count: adding revision r+1 requires revision r already
// present.
func (j *JobDescription) AddRevision(rev int, p Payload) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if rev != len(j.payloads) {
		return fmt.Errorf("jobdesc: job %d revision %d out of order (have %d revisions)", j.id, rev, len(j.payloads))
	}
	j.payloads = append(j.payloads, p)
	return nil
}

// Revision returns the payload for revision rev and whether it exists.
func (j *JobDescription) Revision(rev int) (Payload, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if rev < 0 || rev >= len(j.payloads) {
		return Payload{}, false
	}
	return j.payloads[rev], true
}

// LatestRevision returns the highest revision index present, or -1 if none.
func (j *JobDescription) LatestRevision() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.payloads) - 1
}

// MarkTerminated flags the job as done (a `done:true` terminator arrived).
func (j *JobDescription) MarkTerminated() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.terminated = true
}

func (j *JobDescription) Terminated() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.terminated
}

// JitteredPriority scales the priority by an unconditional factor in
// [0.99, 1.0) drawn from the given source, so callers can make it
// deterministic (see DESIGN.md's note on priority jitter determinism).
func (j *JobDescription) JitteredPriority(src *rand.Rand) float64 {
	factor := 0.99 + 0.01*src.Float64()
	return j.Priority() * factor
}
