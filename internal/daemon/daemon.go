// Package daemon wires every module (registry, adapter, state machines,
// tree/balancer, cube coordinator, clause buffer, router, transport) into
// a single cooperative scheduler loop: a daemon struct holding every
// subsystem, driven by a ticker-based main loop.
package daemon

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xinlaoda/mallob-go/internal/adapter"
	"github.com/xinlaoda/mallob-go/internal/app"
	"github.com/xinlaoda/mallob-go/internal/clausebuf"
	"github.com/xinlaoda/mallob-go/internal/config"
	"github.com/xinlaoda/mallob-go/internal/demand"
	"github.com/xinlaoda/mallob-go/internal/jobdesc"
	"github.com/xinlaoda/mallob-go/internal/jobsm"
	"github.com/xinlaoda/mallob-go/internal/metrics"
	"github.com/xinlaoda/mallob-go/internal/router"
	"github.com/xinlaoda/mallob-go/internal/solver"
	"github.com/xinlaoda/mallob-go/internal/term"
	"github.com/xinlaoda/mallob-go/internal/tree"
	"github.com/xinlaoda/mallob-go/internal/transport"
)

// clauseSelectionWords bounds how many int32 words a clause broadcast tick
// drains from a job's buffer, matching the buffer's own bucket capacity
// order of magnitude.
const clauseSelectionWords = 4096

// tickerApplication is implemented by SATApplication (not DummyApplication,
// which resolves at Start and needs no further ticks) to expose the hooks
// the daemon's main loop drives.
type tickerApplication interface {
	Tick() error
	ClauseBuffer() *clausebuf.Buffer
}

type jobEntry struct {
	sm          *jobsm.StateMachine
	node        *tree.Node
	grower      *tree.Grower
	appl        jobsm.Application
	activation  float64
	temperature *demand.Temperature
}

// treeRoutedTarget is the router.Target a job actually registers: tree
// growth/shrink traffic (TagJoinRequest/Accept/Reject/TagVolumeUpdate) is
// handled by the job's Grower, everything else falls through to its state
// machine and, from there, its Application.
type treeRoutedTarget struct {
	grower *tree.Grower
	sm     *jobsm.StateMachine
}

func (r *treeRoutedTarget) Communicate(source transport.Rank, msg transport.Message) error {
	if ok, err := r.grower.Communicate(source, msg); ok {
		return err
	}
	return r.sm.Communicate(source, msg)
}

func (r *treeRoutedTarget) State() jobsm.State { return r.sm.State() }

// Daemon owns every per-process subsystem and drives the main scheduler
// loop: one main scheduler goroutine per process.
type Daemon struct {
	cfg *config.Config
	log *logrus.Entry

	reg       *jobdesc.Registry
	adapter   *adapter.Adapter
	router    *router.Router
	transport transport.Transport
	self      transport.Rank

	term *term.Terminator

	// shmName is this process's shared-memory segment name prefix, unique
	// per process instance so no two daemons racing on the same
	// SharedMemoryPrefix collide, and logged at startup so an operator can
	// confirm no segment with this name survives shutdown.
	shmName string

	mu   sync.Mutex
	jobs map[int]*jobEntry
}

// New wires every subsystem for a single-process deployment: this process
// hosts the root (and only) rank of every job's tree (the rootRank/
// parentRank model degenerates to a single rank here; a multi-process
// deployment would run one Daemon per rank over a real network Transport
// implementing the same interface).
func New(cfg *config.Config, log *logrus.Entry) *Daemon {
	reg := jobdesc.NewRegistry(cfg.ExpectedJobs)
	fleet := transport.NewFleet(1)
	self := fleet[0]

	d := &Daemon{
		cfg:       cfg,
		log:       log.WithField("component", "daemon"),
		reg:       reg,
		router:    router.New(log.WithField("component", "router")),
		transport: self,
		self:      self.Self(),
		term:      term.New(nil),
		shmName:   cfg.SharedMemoryPrefix + "." + uuid.NewString(),
		jobs:      make(map[int]*jobEntry, cfg.ExpectedJobs),
	}
	d.adapter = adapter.New(cfg.APIRoot, reg, d.onNewJob, log.WithField("component", "adapter"), d.term)
	return d
}

// SharedMemoryName is this process instance's unique shared-memory segment
// name.
func (d *Daemon) SharedMemoryName() string { return d.shmName }

// Run starts the file watcher, the metrics endpoint and the main scheduler
// loop, blocking until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.WithField("shm", d.shmName).Info("daemon starting")

	g := make(chan error, 2)
	go func() { g <- adapter.Watch(ctx, d.adapter, d.log) }()
	go func() { g <- metrics.Serve(ctx, d.cfg.MetricsAddr) }()

	limitTicker := time.NewTicker(d.cfg.LimitCheckPeriod)
	defer limitTicker.Stop()
	balancePeriod := d.cfg.BalancingPeriod * time.Duration(d.cfg.BalancingCadenceFactor)
	if balancePeriod <= 0 {
		balancePeriod = time.Second
	}
	balanceTicker := time.NewTicker(balancePeriod)
	defer balanceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.term.Terminate()
			d.terminateAll()
			return nil
		case err := <-g:
			if err != nil && err != context.Canceled {
				d.log.WithError(err).Warn("background task exited")
			}
		case now := <-limitTicker.C:
			d.tick(floatSeconds(now))
		case <-balanceTicker.C:
			d.balance()
		}
	}
}

func floatSeconds(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }
func nowSeconds() float64              { return floatSeconds(time.Now()) }

// onNewJob is the Adapter's callback for a newly minted or revised job. In
// this single-process deployment, every job commits at tree index 0 and
// starts immediately: there is no peer process to bid for volume against.
//
// The state-machine transitions below run outside d.mu: Start/Restart can
// synchronously call back into onResult (DUMMY resolves immediately), which
// itself needs d.mu, so the lock must be released before entering them.
func (d *Daemon) onNewJob(m adapter.JobMetadata) {
	now := nowSeconds()
	id := m.Job.ID()

	if m.Job.Terminated() {
		d.mu.Lock()
		e, ok := d.jobs[id]
		if ok {
			delete(d.jobs, id)
		}
		d.mu.Unlock()
		if ok {
			_ = e.sm.Terminate(now)
			d.router.Unregister(id)
		}
		return
	}

	d.mu.Lock()
	e, existing := d.jobs[id]
	d.mu.Unlock()

	if existing {
		// Incremental revision arriving for an already-active job restarts
		// it on the new revision (STANDBY -> ACTIVE), after interrupting
		// whatever revision is currently running.
		if e.sm.State() == jobsm.StateActive || e.sm.State() == jobsm.StateSuspended {
			_ = e.sm.Interrupt()
		}
		if err := e.sm.Restart(m.Revision, now); err != nil {
			d.log.WithError(err).WithField("job", id).Warn("restart failed")
		}
		e.temperature = demand.NewTemperature(0)
		return
	}

	appl := d.buildApplication(m)
	sm := jobsm.New(m.Job, d.cfg.ThreadsPerProcess, d.cfg.SizeLimitPerProcess, appl, d.log)
	node := tree.NewNode(id)
	node.RootRank = d.self
	node.ParentRank = transport.Unset

	grower := tree.NewGrower(node, d.transport, d.log)
	grower.SetIdleRankSource(d.pickIdleRank)

	d.router.Register(id, &treeRoutedTarget{grower: grower, sm: sm})
	d.mu.Lock()
	d.jobs[id] = &jobEntry{sm: sm, node: node, grower: grower, appl: appl, activation: now, temperature: demand.NewTemperature(0)}
	d.mu.Unlock()

	sm.Commit(jobsm.JoinRequest{RequestedIndex: 0, RootRank: d.self, RequestingRank: d.self})
	if err := sm.Start(m.Revision, now); err != nil {
		d.log.WithError(err).WithField("job", id).Error("start failed")
	}
}

// buildApplication resolves a job's Application enum to a concrete
// jobsm.Application: DUMMY reports its solution hint immediately, SAT
// wires a cube.Manager/Worker pair over this job's transport.
func (d *Daemon) buildApplication(m adapter.JobMetadata) jobsm.Application {
	if m.Job.Application() == jobdesc.AppDummy {
		return app.NewDummyApplication(m.Job.ID(), d.onResult)
	}

	path := m.File
	factory := func() solver.Adapter {
		sa := solver.NewGiniAdapter()
		if path != "" && path != "NONE" {
			if clauses, err := solver.LoadDIMACS(path); err == nil {
				for _, c := range clauses {
					sa.Add(c)
				}
			} else {
				// Wrapped with a stack trace: this runs inside a generator
				// goroutine spawned from SATApplication.Start, several hops
				// removed from onNewJob's call site, so the plain %w chain
				// loses the originating frame by the time it reaches the log.
				wrapped := errors.Wrapf(err, "daemon: load CNF for job %d", m.Job.ID())
				d.log.WithError(wrapped).WithField("file", path).Warn("failed to load CNF")
			}
		}
		return sa
	}

	return app.NewSATApplication(m.Job.ID(), d.self, d.self, d.transport, d.cfg.ThreadsPerProcess,
		factory, factory, d.onResult, d.log)
}

// onResult records a job's definitive outcome: write the result file,
// terminate the state machine, and drop the job's bookkeeping.
//
// DummyApplication.Start reports its result synchronously, from inside the
// state machine's own Start call (which still holds that job's internal
// lock) — so Terminate is dispatched on its own goroutine rather than
// called inline here, which would otherwise try to re-enter that lock on
// the same call stack.
func (d *Daemon) onResult(id, rev int, result solver.Result, model []int32) {
	code := adapter.ResultCodeUnknown
	switch result {
	case solver.ResultSAT:
		code = adapter.ResultCodeSAT
	case solver.ResultUNSAT:
		code = adapter.ResultCodeUNSAT
	}

	if err := d.adapter.HandleJobDone(adapter.JobResult{ID: id, Revision: rev, ResultCode: code, Solution: model}); err != nil {
		d.log.WithError(err).WithField("job", id).Warn("failed to write job result")
	}

	d.mu.Lock()
	e, ok := d.jobs[id]
	if ok {
		delete(d.jobs, id)
	}
	d.mu.Unlock()

	if !ok {
		return
	}
	d.router.Unregister(id)
	go func() {
		_ = e.sm.Terminate(nowSeconds())
	}()
}

// tick runs one main-loop iteration: drain the transport, check limits,
// and advance every active SAT application's worker/generator state.
func (d *Daemon) tick(now float64) {
	d.router.Pump(d.transport)

	for _, e := range d.snapshot() {
		if e.sm.State() != jobsm.StateActive {
			continue
		}

		cpuElapsed := now - e.activation
		terminated, err := e.sm.CheckLimits(now, cpuElapsed)
		if err != nil {
			d.log.WithError(err).WithField("job", e.sm.ID()).Warn("limit check failed")
		}
		if terminated {
			d.mu.Lock()
			delete(d.jobs, e.sm.ID())
			d.mu.Unlock()
			d.router.Unregister(e.sm.ID())
			continue
		}

		ta, ok := e.appl.(tickerApplication)
		if !ok {
			continue
		}
		if err := ta.Tick(); err != nil {
			d.log.WithError(err).WithField("job", e.sm.ID()).Warn("tick failed")
		}
		metrics.JobVolume.WithLabelValues(strconv.Itoa(e.sm.ID())).Set(float64(e.sm.Volume()))
		d.exchangeClauses(e, ta)
	}
}

// exchangeClauses drains a job's clause buffer and loops the selection
// back through its own Communicate handler, exercising the TagClauseExchange
// path even though this single-process deployment has no tree peer to
// broadcast to.
func (d *Daemon) exchangeClauses(e *jobEntry, ta tickerApplication) {
	buf := ta.ClauseBuffer()
	out := make([]int32, clauseSelectionWords)
	used, count := buf.GiveSelection(out, len(out))
	if count == 0 {
		return
	}
	metrics.ClauseBufferBytes.WithLabelValues(strconv.Itoa(e.sm.ID())).Set(float64(used))
	msg := transport.Message{
		JobID:   e.sm.ID(),
		Tag:     transport.TagClauseExchange,
		Source:  d.self,
		Payload: app.EncodeInt32s(out[:used]),
	}
	if err := d.transport.Send(d.self, msg); err != nil {
		d.log.WithError(err).WithField("job", e.sm.ID()).Warn("clause exchange send failed")
	}
}

// balance runs one fair-share round and, ahead of it, one preemption pass:
// when the jobs' aggregate demand would saturate the process pool, the
// coldest active jobs (lowest demand.Temperature, i.e. oldest
// relative to their own activation) are suspended until what remains
// fits, freeing capacity for hotter jobs before ComputeVolumes ever sees
// them. A job suspended in one round is eligible to resume in a later one
// once its demand fits again.
func (d *Daemon) balance() {
	var preempted map[int]bool

	b := tree.Balancer{
		TotalProcesses: d.cfg.ThreadsPerProcess,
		Gather: func(ctx context.Context) ([]tree.JobDemand, error) {
			d.mu.Lock()
			defer d.mu.Unlock()

			type candidate struct {
				tree.JobDemand
				temperature float64
			}
			now := nowSeconds()
			// Jobs with a dependency missing from the registry sit out the round.
			runnable := make(map[int]bool)
			for _, j := range d.reg.Runnable() {
				runnable[j.ID()] = true
			}
			cands := make([]candidate, 0, len(d.jobs))
			for id, e := range d.jobs {
				if e.sm.State() != jobsm.StateActive || !runnable[id] {
					continue
				}
				desc, ok := d.reg.Get(id)
				if !ok {
					continue
				}
				_, _, maxDemand := desc.Limits()
				dem := demand.Compute(demand.Inputs{
					Now:              now,
					TimeOfActivation: e.activation,
					CommSize:         d.cfg.ThreadsPerProcess,
					MaxDemand:        maxDemand,
					Active:           true,
					PreviousVolume:   e.node.Volume,
				})
				t := e.temperature.At(now - e.activation)
				metrics.JobTemperature.WithLabelValues(strconv.Itoa(id)).Set(t)
				cands = append(cands, candidate{
					JobDemand: tree.JobDemand{
						JobID: id, Priority: desc.JitteredPriority(d.reg.JitterSource()), Demand: dem,
						MaxDemand: maxDemand, ArrivalTime: desc.ArrivalTime(),
					},
					temperature: t,
				})
			}

			total := 0
			for _, c := range cands {
				total += c.Demand
			}
			preempted = make(map[int]bool)
			if total > d.cfg.ThreadsPerProcess {
				sort.Slice(cands, func(a, b int) bool { return cands[a].temperature < cands[b].temperature })
				for total > d.cfg.ThreadsPerProcess && len(cands) > 0 {
					coldest := cands[0]
					cands = cands[1:]
					preempted[coldest.JobID] = true
					total -= coldest.Demand
				}
			}

			out := make([]tree.JobDemand, len(cands))
			for i, c := range cands {
				out[i] = c.JobDemand
			}
			return out, nil
		},
		Broadcast: func(ctx context.Context, volumes map[int]int) error {
			d.mu.Lock()
			defer d.mu.Unlock()

			for id := range preempted {
				e, ok := d.jobs[id]
				if !ok {
					continue
				}
				if err := e.sm.Suspend(); err != nil {
					d.log.WithError(err).WithField("job", id).Warn("preemption failed")
					continue
				}
				e.node.Volume = 0
				metrics.JobVolume.WithLabelValues(strconv.Itoa(id)).Set(0)
				if err := e.grower.Reconcile(0); err != nil {
					d.log.WithError(err).WithField("job", id).Warn("tree reconcile failed")
				}
			}

			for id, v := range volumes {
				e, ok := d.jobs[id]
				if !ok {
					continue
				}
				if e.sm.State() == jobsm.StateSuspended {
					if err := e.sm.Resume(); err != nil {
						d.log.WithError(err).WithField("job", id).Warn("resume after preemption failed")
						continue
					}
				}
				e.node.Volume = v
				metrics.JobVolume.WithLabelValues(strconv.Itoa(id)).Set(float64(v))
				if err := e.grower.Reconcile(v); err != nil {
					d.log.WithError(err).WithField("job", id).Warn("tree reconcile failed")
				}
			}
			return nil
		},
	}
	if _, err := b.Round(context.Background()); err != nil {
		d.log.WithError(err).Warn("balancing round failed")
	}
}

// pickIdleRank supplies Grower with a rank willing to host a new tree
// node. This daemon always runs a single-rank transport.NewFleet(1), so
// there is never an idle peer to grow into; a real multi-process fleet
// would consult a rank-pool or directory service here instead.
func (d *Daemon) pickIdleRank() (transport.Rank, bool) {
	return transport.Unset, false
}

func (d *Daemon) snapshot() []*jobEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*jobEntry, 0, len(d.jobs))
	for _, e := range d.jobs {
		out = append(out, e)
	}
	return out
}

func (d *Daemon) terminateAll() {
	now := nowSeconds()
	d.mu.Lock()
	entries := make([]*jobEntry, 0, len(d.jobs))
	for _, e := range d.jobs {
		entries = append(entries, e)
	}
	d.jobs = make(map[int]*jobEntry)
	d.mu.Unlock()

	for _, e := range entries {
		if err := e.sm.Terminate(now); err != nil {
			d.log.WithError(err).WithField("job", e.sm.ID()).Warn("terminate on shutdown failed")
		}
		d.router.Unregister(e.sm.ID())
	}
}

// JobCount reports how many jobs are currently tracked, for tests and
// -checkjsonresults diagnostics.
func (d *Daemon) JobCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}
