// Package adapter implements the job-file adapter: it watches the
// filesystem job-submission API, validates and ingests new job files,
// mints or reuses job ids via an internal/jobdesc.Registry, and writes
// results back out. Grounded on
// original_source/src/data/job_file_adapter.cpp's handleNewJob /
// handleJobDone / handleJobResultDeleted, rewritten around an
// fsnotify.Watcher in place of the original's own FileWatcher, and on the
// teacher's path+".new" then os.Rename atomic-write idiom
// (internal/server/server.go saveJob/saveQueue).
package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xinlaoda/mallob-go/internal/jobdesc"
	"github.com/xinlaoda/mallob-go/internal/solver"
	"github.com/xinlaoda/mallob-go/internal/term"
)

// Result codes for the "resultcode" field of a done/ file.
const (
	ResultCodeUnknown = 0
	ResultCodeSAT     = 10
	ResultCodeUNSAT   = 20
)

func resultCodeString(code int) string {
	switch code {
	case ResultCodeSAT:
		return "SAT"
	case ResultCodeUNSAT:
		return "UNSAT"
	default:
		return "UNKNOWN"
	}
}

// JobResult is what a completed job reports back to the adapter, mirroring
// the done/ file's "result" block.
type JobResult struct {
	ID           int
	Revision     int
	ResultCode   int
	Solution     []int32
	ResponseTime float64
}

// JobMetadata is delivered to the adapter's new-job callback once a job
// file has been fully validated and assigned an id.
type JobMetadata struct {
	Job          *jobdesc.JobDescription
	File         string
	Dependencies []int
	Revision     int
}

type jobFileJSON struct {
	User           string   `json:"user"`
	Name           string   `json:"name"`
	File           string   `json:"file"`
	Priority       *float64 `json:"priority,omitempty"`
	Arrival        *float64 `json:"arrival,omitempty"`
	WallclockLimit string   `json:"wallclock-limit,omitempty"`
	CPULimit       string   `json:"cpu-limit,omitempty"`
	MaxDemand      *int     `json:"max-demand,omitempty"`
	Application    string   `json:"application,omitempty"`
	Incremental    *bool    `json:"incremental,omitempty"`
	Done           *bool    `json:"done,omitempty"`
	Precursor      string   `json:"precursor,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
	Result         *resultJSON `json:"result,omitempty"`
}

type resultJSON struct {
	ResultCode   int     `json:"resultcode"`
	ResultString string  `json:"resultstring"`
	Revision     int     `json:"revision"`
	Solution     []int32 `json:"solution"`
	ResponseTime float64 `json:"responsetime"`
}

type userFileJSON struct {
	ID       string  `json:"id"`
	Priority float64 `json:"priority"`
}

type idRev struct {
	id  int
	rev int
}

// Adapter watches an API directory tree (new/, introduced/, pending/,
// done/, plus a sibling users/) and turns JSON job files into
// jobdesc.JobDescription instances routed through a Registry.
type Adapter struct {
	mu sync.Mutex

	basePath string
	reg      *jobdesc.Registry
	onNewJob func(JobMetadata)
	log      *logrus.Entry
	term     *term.Terminator

	nameToIDRev map[string]idRev
	arrival     map[idRev]float64
	incremental map[int]bool
}

// New creates an Adapter rooted at basePath (expected to contain new/,
// introduced/, pending/, done/, and a sibling users/ directory).
func New(basePath string, reg *jobdesc.Registry, onNewJob func(JobMetadata), log *logrus.Entry, t *term.Terminator) *Adapter {
	return &Adapter{
		basePath:    basePath,
		reg:         reg,
		onNewJob:    onNewJob,
		log:         log,
		term:        t,
		nameToIDRev: make(map[string]idRev),
		arrival:     make(map[idRev]float64),
		incremental: make(map[int]bool),
	}
}

func (a *Adapter) dir(name string) string { return filepath.Join(a.basePath, name) }

func (a *Adapter) usersPath(user string) string {
	return filepath.Join(a.basePath, "..", "users", user+".json")
}

func (a *Adapter) jobFilePath(dir, fileName string) string {
	return filepath.Join(a.dir(dir), fileName)
}

// writeAtomic writes data to path via path+".new" then os.Rename, matching
// the job-file API's save-file idiom.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".new"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("adapter: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("adapter: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// HandleNewFile implements handleNewJob: reads eventFileName out of new/,
// validates it, resolves the submitting user's priority,
// handles precursor/incremental bookkeeping, mirrors the file to
// introduced/ and pending/, then mints or reuses the job's id and invokes
// the new-job callback.
func (a *Adapter) HandleNewFile(eventFileName string) error {
	if a.term != nil && a.term.IsTerminating() {
		return nil
	}

	eventPath := a.jobFilePath("new", eventFileName)
	raw, err := os.ReadFile(eventPath)
	if os.IsNotExist(err) {
		if a.log != nil {
			a.log.Debugf("job file %s gone before it could be read", eventPath)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("adapter: read %s: %w", eventPath, err)
	}

	var jf jobFileJSON
	if err := json.Unmarshal(raw, &jf); err != nil {
		if a.log != nil {
			a.log.WithError(err).Warnf("parse error on %s", eventPath)
		}
		return nil
	}
	if jf.User == "" || jf.Name == "" {
		if a.log != nil {
			a.log.Warn("job file missing essential field(s), ignoring")
		}
		return nil
	}
	jobName := jf.User + "." + jf.Name + ".json"

	userRaw, err := os.ReadFile(a.usersPath(jf.User))
	if err != nil {
		if a.log != nil {
			a.log.WithError(err).Warnf("unknown user or invalid user definition for %q", jf.User)
		}
		return nil
	}
	var uf userFileJSON
	if err := json.Unmarshal(userRaw, &uf); err != nil || uf.ID != jf.User {
		if a.log != nil {
			a.log.Warnf("user file for %q missing fields or inconsistent id, ignoring job", jf.User)
		}
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	incremental := jf.Incremental != nil && *jf.Incremental
	arrival := nowSeconds()
	if jf.Arrival != nil {
		arrival = *jf.Arrival
	}

	var id, rev int
	isNewJob := false

	if incremental && jf.Precursor != "" {
		precursorName := jf.Precursor + ".json"
		prev, ok := a.nameToIDRev[precursorName]
		if !ok {
			if a.log != nil {
				a.log.Warnf("unknown precursor job %q", precursorName)
			}
			return nil
		}
		id = prev.id
		rev = prev.rev + 1

		if jf.Done != nil && *jf.Done {
			delete(a.nameToIDRev, precursorName)
			for r := 0; r <= rev; r++ {
				delete(a.arrival, idRev{id, r})
			}
			delete(a.incremental, id)
			if a.onNewJob != nil {
				terminator := jobdesc.New(id, jf.User, jf.Name, 0, arrival, jobdesc.AppSAT, incremental)
				terminator.MarkTerminated()
				a.onNewJob(JobMetadata{Job: terminator, Revision: rev, Dependencies: nil})
			}
			os.Remove(eventPath)
			return nil
		}

		a.nameToIDRev[jobName] = idRev{id, rev}
		a.arrival[idRev{id, rev}] = arrival
	} else {
		if _, ok := a.nameToIDRev[jobName]; ok {
			if a.log != nil {
				a.log.Warn("modification of a job file I already parsed; ignoring")
			}
			return nil
		}
		isNewJob = true
		id = -1 // resolved below via MintOrGet
		rev = 0
	}

	pendingPath := a.jobFilePath("pending", eventFileName)
	introducedPath := a.jobFilePath("introduced", eventFileName)
	if err := writeAtomic(pendingPath, raw); err != nil {
		return err
	}
	if err := writeAtomic(introducedPath, raw); err != nil {
		return err
	}
	os.Remove(eventPath)

	priority := uf.Priority
	if jf.Priority != nil {
		priority *= *jf.Priority
	} else {
		priority *= 1.0
	}

	app, err := jobdesc.ParseApplication(jf.Application)
	if err != nil {
		if a.log != nil {
			a.log.WithError(err).Warn("unknown application, defaulting to SAT")
		}
		app = jobdesc.AppSAT
	}

	var job *jobdesc.JobDescription
	if isNewJob {
		created, _ := a.reg.MintOrGet(jobName, func(newID int) *jobdesc.JobDescription {
			return jobdesc.New(newID, jf.User, jf.Name, priority, arrival, app, incremental)
		})
		job = created
		id = job.ID()
		a.nameToIDRev[jobName] = idRev{id, rev}
		a.arrival[idRev{id, rev}] = arrival
	} else {
		var ok bool
		job, ok = a.reg.Get(id)
		if !ok {
			return fmt.Errorf("adapter: revision for unknown job id %d", id)
		}
	}
	a.incremental[id] = incremental

	var wallclock, cpu float64
	var maxDemand int
	if jf.WallclockLimit != "" {
		d, err := ParseDuration(jf.WallclockLimit)
		if err != nil {
			return fmt.Errorf("adapter: wallclock-limit: %w", err)
		}
		wallclock = d
	}
	if jf.CPULimit != "" {
		d, err := ParseDuration(jf.CPULimit)
		if err != nil {
			return fmt.Errorf("adapter: cpu-limit: %w", err)
		}
		cpu = d
	}
	if jf.MaxDemand != nil {
		maxDemand = *jf.MaxDemand
	}
	job.SetLimits(wallclock, cpu, maxDemand)

	var depIDs []int
	for _, depName := range jf.Dependencies {
		key := depName + ".json"
		if existing, ok := a.nameToIDRev[key]; ok {
			depIDs = append(depIDs, existing.id)
			continue
		}
		depID := a.reg.ForwardDeclare(key)
		a.nameToIDRev[key] = idRev{depID, 0}
		depIDs = append(depIDs, depID)
	}
	for _, d := range depIDs {
		job.AddDependency(d)
	}

	var literalCount int
	if jf.File != "" && jf.File != "NONE" {
		if n, err := solver.CountDIMACSLiterals(jf.File); err == nil {
			literalCount = n
		} else if a.log != nil {
			a.log.WithError(err).WithField("file", jf.File).Warn("could not count formula literals")
		}
	}

	if err := job.AddRevision(rev, jobdesc.Payload{Bytes: []byte(jf.File), LiteralCount: literalCount}); err != nil {
		return fmt.Errorf("adapter: %w", err)
	}

	if a.onNewJob != nil {
		// The callback can re-enter the adapter (a job that resolves while
		// starting calls HandleJobDone), so it runs without a.mu held.
		a.mu.Unlock()
		a.onNewJob(JobMetadata{Job: job, File: jf.File, Dependencies: depIDs, Revision: rev})
		a.mu.Lock()
	}
	return nil
}

// HandleJobDone implements handleJobDone: packs result into the pending job
// file's JSON and moves it to done/.
func (a *Adapter) HandleJobDone(result JobResult) error {
	if a.term != nil && a.term.IsTerminating() {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	fileName := a.fileNameForLocked(result.ID)
	if fileName == "" {
		return fmt.Errorf("adapter: job done for unknown id %d", result.ID)
	}
	pendingPath := a.jobFilePath("pending", fileName)
	raw, err := os.ReadFile(pendingPath)
	if os.IsNotExist(err) {
		if a.log != nil {
			a.log.Warnf("pending job file %s gone", pendingPath)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("adapter: read %s: %w", pendingPath, err)
	}

	var jf jobFileJSON
	if err := json.Unmarshal(raw, &jf); err != nil {
		if a.log != nil {
			a.log.WithError(err).Warnf("parse error on %s", pendingPath)
		}
		return nil
	}

	responseTime := result.ResponseTime
	if responseTime == 0 {
		if t0, ok := a.arrival[idRev{result.ID, result.Revision}]; ok {
			responseTime = nowSeconds() - t0
		}
	}

	jf.Result = &resultJSON{
		ResultCode:   result.ResultCode,
		ResultString: resultCodeString(result.ResultCode),
		Revision:     result.Revision,
		Solution:     result.Solution,
		ResponseTime: responseTime,
	}

	out, err := json.MarshalIndent(jf, "", "    ")
	if err != nil {
		return fmt.Errorf("adapter: marshal done result: %w", err)
	}
	donePath := a.jobFilePath("done", fileName)
	if err := writeAtomic(donePath, out); err != nil {
		return err
	}
	os.Remove(pendingPath)
	return nil
}

// HandleResultDeleted implements handleJobResultDeleted: when a result file
// is removed from done/, forget the job unless it is incremental (an
// incremental job's next revision may still arrive).
func (a *Adapter) HandleResultDeleted(jobName string) error {
	if a.term != nil && a.term.IsTerminating() {
		return nil
	}

	jobName = strings.TrimRight(jobName, "\x00")

	a.mu.Lock()
	defer a.mu.Unlock()

	ir, ok := a.nameToIDRev[jobName]
	if !ok {
		if a.log != nil {
			a.log.Warnf("cannot clean up job %q: not known", jobName)
		}
		return nil
	}
	if a.incremental[ir.id] {
		return nil // do not clean up an incremental job's bookkeeping
	}
	delete(a.nameToIDRev, jobName)
	delete(a.arrival, ir)
	a.reg.Remove(ir.id)
	return nil
}

// fileNameForLocked reconstructs a job's "user.name.json" file name from its
// id. Must be called with a.mu held.
func (a *Adapter) fileNameForLocked(id int) string {
	for name, ir := range a.nameToIDRev {
		if ir.id == id {
			return name
		}
	}
	return ""
}

// nowSeconds is the clock the adapter uses for arrival timestamps and
// response-time computation. A package variable so tests can substitute a
// deterministic clock.
var nowSeconds = func() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ParseDuration parses the job-file duration strings: bare numbers are
// seconds; suffixed forms accept ms, s, min, h.
func ParseDuration(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("adapter: empty duration")
	}
	units := []struct {
		suffix string
		factor float64
	}{
		{"ms", 0.001},
		{"min", 60},
		{"h", 3600},
		{"s", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			numPart := strings.TrimSuffix(s, u.suffix)
			v, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("adapter: bad duration %q: %w", s, err)
			}
			return v * u.factor, nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("adapter: bad duration %q: %w", s, err)
	}
	return v, nil
}
