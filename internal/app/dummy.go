package app

import (
	"github.com/xinlaoda/mallob-go/internal/jobdesc"
	"github.com/xinlaoda/mallob-go/internal/solver"
	"github.com/xinlaoda/mallob-go/internal/term"
	"github.com/xinlaoda/mallob-go/internal/transport"
)

// DummyApplication is the DUMMY application: it performs no real solving,
// immediately reporting the revision's SolutionHint (or an empty SAT
// result if none is set). Used by integration tests exercising the
// scheduler/tree/balancer machinery without a real SAT workload.
type DummyApplication struct {
	jobID    int
	desc     *jobdesc.JobDescription
	rev      int
	onResult func(id, rev int, result solver.Result, model []int32)
}

// NewDummyApplication builds a DummyApplication for jobID.
func NewDummyApplication(jobID int, onResult func(id, rev int, result solver.Result, model []int32)) *DummyApplication {
	return &DummyApplication{jobID: jobID, onResult: onResult}
}

func (d *DummyApplication) Initialize(desc *jobdesc.JobDescription, rev int, t *term.Terminator) error {
	d.desc = desc
	d.rev = rev
	return nil
}

func (d *DummyApplication) Start() error {
	var model []int32
	if p, ok := d.desc.Revision(d.rev); ok {
		model = p.SolutionHint
	}
	if d.onResult != nil {
		d.onResult(d.jobID, d.rev, solver.ResultSAT, model)
	}
	return nil
}

func (d *DummyApplication) Suspend() error        { return nil }
func (d *DummyApplication) Resume() error         { return nil }
func (d *DummyApplication) Interrupt() error      { return nil }
func (d *DummyApplication) Restart(rev int) error { d.rev = rev; return nil }
func (d *DummyApplication) Terminate() error      { return nil }
func (d *DummyApplication) Communicate(source transport.Rank, msg transport.Message) error {
	return nil
}
