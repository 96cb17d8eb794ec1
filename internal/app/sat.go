package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/xinlaoda/mallob-go/internal/clausebuf"
	"github.com/xinlaoda/mallob-go/internal/cube"
	"github.com/xinlaoda/mallob-go/internal/jobdesc"
	"github.com/xinlaoda/mallob-go/internal/solver"
	"github.com/xinlaoda/mallob-go/internal/term"
	"github.com/xinlaoda/mallob-go/internal/transport"
)

// SATApplication is the jobsm.Application for a SAT job: the root process
// runs a cube.Manager and a generator pool, every process including the
// root runs a cube.Worker, and all processes exchange learned clauses
// through a clausebuf.Buffer.
type SATApplication struct {
	jobID  int
	isRoot bool

	self   transport.Rank
	root   transport.Rank
	parent transport.Rank
	t      transport.Transport

	newChecker AdapterFactory
	newMain    AdapterFactory

	mgr    *cube.Manager // non-nil only at the root
	worker *cube.Worker
	buf    *clausebuf.Buffer

	threadsPerJob int
	term          *term.Terminator

	cancelGenerators context.CancelFunc

	onResult func(id, rev int, result solver.Result, model []int32)

	log *logrus.Entry
}

// AdapterFactory constructs a fresh solver.Adapter; re-exported here so
// callers assembling a SATApplication don't need to import internal/cube
// just for the type.
type AdapterFactory = cube.AdapterFactory

// NewSATApplication builds a SATApplication. self is this process's rank;
// root is the job's root rank (self, if this process hosts the root).
// onResult is invoked with the job's definitive outcome; it can be invoked
// more than once for the same job (by the worker, the generator loop, and the
// root's failed-cube handling).
func NewSATApplication(jobID int, self, root transport.Rank, t transport.Transport, threadsPerJob int, newChecker, newMain AdapterFactory, onResult func(id, rev int, result solver.Result, model []int32), log *logrus.Entry) *SATApplication {
	if log != nil {
		log = log.WithField("component", "sat-app")
	}
	return &SATApplication{
		jobID:         jobID,
		isRoot:        self == root,
		self:          self,
		root:          root,
		parent:        root,
		t:             t,
		newChecker:    newChecker,
		newMain:       newMain,
		threadsPerJob: threadsPerJob,
		buf:           clausebuf.New(64),
		onResult:      onResult,
		log:           log,
	}
}

func (a *SATApplication) Initialize(desc *jobdesc.JobDescription, rev int, t *term.Terminator) error {
	a.term = t
	if a.isRoot {
		a.mgr = cube.NewManager()
	}

	sendRequest := func() error {
		return a.t.Send(a.root, transport.Message{JobID: a.jobID, Tag: transport.TagCubeRequest, Source: a.self})
	}
	sendFailed := func(failed []cube.Cube) error {
		plain := make([][]int32, len(failed))
		for i, c := range failed {
			plain[i] = c
		}
		return a.t.Send(a.root, transport.Message{JobID: a.jobID, Tag: transport.TagFailedCubesSend, Source: a.self, Payload: encodeCubes(plain)})
	}
	onSolved := func(result solver.Result, model []int32) {
		// A worker's own definitive solve (SAT, or UNSAT with an empty core)
		// is the job's result, on the root and on every other process alike.
		a.recordResult(rev, result, model)
	}

	workerChecker := a.newChecker()
	a.worker = cube.NewWorker(workerChecker, t, sendRequest, sendFailed, onSolved)
	a.worker.Activate()
	return nil
}

func (a *SATApplication) Start() error {
	if a.isRoot && a.mgr != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancelGenerators = cancel
		go func() {
			err := cube.RunGenerators(ctx, a.mgr, a.newChecker, a.newMain, a.term, a.threadsPerJob)
			if err != nil && a.log != nil {
				a.log.WithError(err).Debug("generator pool stopped")
			}
			if res, model := a.mgr.Result(); res != solver.ResultUnknown {
				a.recordResult(0, res, model)
			}
		}()
	}
	return nil
}

func (a *SATApplication) Suspend() error {
	return nil
}

func (a *SATApplication) Resume() error {
	return nil
}

func (a *SATApplication) Interrupt() error {
	if a.cancelGenerators != nil {
		a.cancelGenerators()
	}
	return nil
}

func (a *SATApplication) Restart(rev int) error {
	return nil
}

func (a *SATApplication) Terminate() error {
	if a.cancelGenerators != nil {
		a.cancelGenerators()
	}
	return nil
}

// Communicate handles the job-scoped message tags relevant to cube
// coordination and clause exchange.
func (a *SATApplication) Communicate(source transport.Rank, msg transport.Message) error {
	switch msg.Tag {
	case transport.TagCubeRequest:
		if !a.isRoot || a.mgr == nil {
			return nil
		}
		c, ok := a.mgr.RequestCube()
		if !ok {
			return nil
		}
		return a.t.Send(source, transport.Message{JobID: a.jobID, Tag: transport.TagCubeSend, Source: a.self, Payload: encodeCube(c)})

	case transport.TagCubeSend:
		a.worker.ReceiveCubes([]cube.Cube{decodeCube(msg.Payload)})
		return nil

	case transport.TagFailedCubesSend:
		if !a.isRoot || a.mgr == nil {
			return nil
		}
		plain := decodeCubes(msg.Payload)
		cubes := make([]cube.Cube, len(plain))
		for i, p := range plain {
			cubes[i] = p
		}
		a.mgr.SubmitFailed(cubes)
		if res, model := a.mgr.Result(); res != solver.ResultUnknown {
			a.recordResult(0, res, model)
		}
		return a.t.Send(source, transport.Message{JobID: a.jobID, Tag: transport.TagFailedCubesAck, Source: a.self})

	case transport.TagFailedCubesAck:
		a.worker.ReceiveFailedAck()
		return nil

	case transport.TagClauseExchange:
		r := clausebuf.SetIncomingBuffer(decodeCube(msg.Payload))
		for {
			vip, ok := r.ReadVIP()
			if !ok {
				break
			}
			a.buf.AddVIPClause(append([]int32(nil), vip...))
		}
		for {
			_, count, ok := r.ReadRun()
			if !ok {
				break
			}
			for i := 0; i < count; i++ {
				cl, ok := r.NextInRun()
				if !ok {
					break
				}
				a.buf.AddClause(append([]int32(nil), cl...))
			}
		}
		return nil

	default:
		return fmt.Errorf("app: unhandled tag %v", msg.Tag)
	}
}

func (a *SATApplication) recordResult(rev int, result solver.Result, model []int32) {
	if a.onResult != nil {
		a.onResult(a.jobID, rev, result, model)
	}
}

// Tick drives the worker's per-state action and its WORKING-state solve
// loop; it is called from the owning process's main scheduler loop once
// per tick.
func (a *SATApplication) Tick() error {
	if err := a.worker.Tick(); err != nil {
		return err
	}
	if a.worker.State() == cube.WorkerWorking {
		knownFailed := func(c cube.Cube) bool {
			if a.mgr != nil {
				return a.mgr.IsKnownFailed(c)
			}
			return false
		}
		a.worker.RunWork(knownFailed)
	}
	return nil
}

// ClauseBuffer exposes this job's clause exchange buffer so the owning
// process can periodically call GiveSelection and broadcast it to tree
// neighbors.
func (a *SATApplication) ClauseBuffer() *clausebuf.Buffer { return a.buf }
