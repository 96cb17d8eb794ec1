package jobdesc

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Registry indexes every JobDescription known to this process by dense
// integer id and by "user.name" key, and mints fresh ids. Grounded on
// internal/job/manager.go's Manager (map + mutex + NextJobID counter).
type Registry struct {
	mu sync.RWMutex

	byID  map[int]*JobDescription
	byKey map[string]int

	nextID int

	jitterSrc *rand.Rand
}

// NewRegistry creates an empty Registry. expectedJobs sizes the internal
// maps, mirroring the -J CLI flag's expected-job-count hint.
func NewRegistry(expectedJobs int) *Registry {
	if expectedJobs < 1 {
		expectedJobs = 1
	}
	return &Registry{
		byID:      make(map[int]*JobDescription, expectedJobs),
		byKey:     make(map[string]int, expectedJobs),
		jitterSrc: rand.New(rand.NewPCG(1, 2)),
	}
}

// WithJitterSeed makes JitteredPriority deterministic, for reproducible
// tests.
func (r *Registry) WithJitterSeed(seed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jitterSrc = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// JitterSource returns the Registry's jitter RNG for callers computing
// JitteredPriority.
func (r *Registry) JitterSource() *rand.Rand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jitterSrc
}

// Lookup resolves "user.name" to an existing JobDescription, if any.
func (r *Registry) Lookup(key string) (*JobDescription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, false
	}
	return r.byID[id], true
}

// Get resolves an id to its JobDescription.
func (r *Registry) Get(id int) (*JobDescription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.byID[id]
	return j, ok
}

// MintOrGet returns the JobDescription for key, creating one with a freshly
// minted id if it does not already exist, reusing a previously
// forward-declared id for the same key if one was reserved. The returned
// bool is true if a new description was created.
func (r *Registry) MintOrGet(key string, create func(id int) *JobDescription) (*JobDescription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[key]; ok {
		if j, ok := r.byID[id]; ok {
			return j, false
		}
		// Forward-declared: the id was reserved by a dependent job before
		// this one's own file arrived. Reuse the reserved id rather than
		// minting a new one.
		j := create(id)
		r.byID[id] = j
		return j, true
	}
	id := r.nextID
	r.nextID++
	j := create(id)
	r.byID[id] = j
	r.byKey[key] = id
	return j, true
}

// ForwardDeclare resolves a dependency named by string to an id, minting one
// if the dependency has not been seen yet: every dependency named by string
// becomes a forward-declared id.
func (r *Registry) ForwardDeclare(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[key]; ok {
		return id
	}
	id := r.nextID
	r.nextID++
	r.byKey[key] = id
	// No JobDescription yet; byID intentionally left unset until the real
	// job file for this key arrives and calls MintOrGet with the same key,
	// at which point the pre-reserved id must be reused.
	return id
}

// Remove deletes id and its key mapping (used when a job's result directory
// cleanup is signalled). It removes incremental jobs too: it does not check
// Incremental(), so callers that keep incremental jobs check it first.
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byKey, j.Key())
}

// Runnable returns every registered job whose dependencies are all present
// in the registry. Dependencies gate participation in balancing, not
// existence in the registry.
func (r *Registry) Runnable() []*JobDescription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*JobDescription, 0, len(r.byID))
	for _, j := range r.byID {
		ready := true
		for _, dep := range j.Dependencies() {
			if _, ok := r.byID[dep]; !ok {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, j)
		}
	}
	return out
}

// All returns every registered job regardless of dependency state.
func (r *Registry) All() []*JobDescription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*JobDescription, 0, len(r.byID))
	for _, j := range r.byID {
		out = append(out, j)
	}
	return out
}

func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("Registry{jobs=%d, nextID=%d}", len(r.byID), r.nextID)
}
