package jobsm

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xinlaoda/mallob-go/internal/jobdesc"
	"github.com/xinlaoda/mallob-go/internal/term"
	"github.com/xinlaoda/mallob-go/internal/transport"
)

type noopApp struct {
	interruptCalls int
	startCalls     int
}

func (n *noopApp) Initialize(*jobdesc.JobDescription, int, *term.Terminator) error { return nil }
func (n *noopApp) Start() error                                                   { n.startCalls++; return nil }
func (n *noopApp) Suspend() error                                                  { return nil }
func (n *noopApp) Resume() error                                                   { return nil }
func (n *noopApp) Interrupt() error                                                { n.interruptCalls++; return nil }
func (n *noopApp) Restart(int) error                                               { return nil }
func (n *noopApp) Terminate() error                                                { return nil }
func (n *noopApp) Communicate(transport.Rank, transport.Message) error             { return nil }

func newTestSM(t *testing.T) (*StateMachine, *noopApp) {
	t.Helper()
	desc := jobdesc.New(1, "alice", "job1", 1.0, 0, jobdesc.AppSAT, false)
	require.NoError(t, desc.AddRevision(0, jobdesc.Payload{Bytes: []byte("p(cnf) cnf 2 1\n1 2 0"), LiteralCount: 2}))
	app := &noopApp{}
	log := logrus.New()
	log.SetOutput(nil)
	return New(desc, 4, 0, app, logrus.NewEntry(log)), app
}

func TestStateMachine_FullLifecycle(t *testing.T) {
	sm, app := newTestSM(t)
	assert.Equal(t, StateInactive, sm.State())

	sm.Commit(JoinRequest{RequestedIndex: 0, RootRank: transport.Unset, RequestingRank: transport.Unset})
	require.NoError(t, sm.Start(0, 100.0))
	assert.Equal(t, StateActive, sm.State())
	assert.Equal(t, 1, sm.Volume())
	assert.Equal(t, 1, app.startCalls)

	require.NoError(t, sm.Suspend())
	assert.Equal(t, StateSuspended, sm.State())
	assert.Equal(t, 0, sm.Volume())

	require.NoError(t, sm.Resume())
	assert.Equal(t, StateActive, sm.State())

	require.NoError(t, sm.Interrupt())
	assert.Equal(t, StateStandby, sm.State())
	assert.Equal(t, 1, app.interruptCalls)

	require.NoError(t, sm.Restart(0, 200.0))
	assert.Equal(t, StateActive, sm.State())

	require.NoError(t, sm.Terminate(300.0))
	assert.Equal(t, StatePast, sm.State())

	// No transition leaves PAST; Terminate is idempotent.
	require.NoError(t, sm.Terminate(301.0))
	assert.Equal(t, StatePast, sm.State())
}

func TestStateMachine_MisorderedTransitionPanics(t *testing.T) {
	sm, _ := newTestSM(t)
	assert.Panics(t, func() { _ = sm.Suspend() }, "Suspend from INACTIVE is a programmer error")
}

func TestStateMachine_SizeLimitReducesThreads(t *testing.T) {
	desc := jobdesc.New(2, "alice", "job2", 1.0, 0, jobdesc.AppSAT, false)
	require.NoError(t, desc.AddRevision(0, jobdesc.Payload{LiteralCount: 100}))
	app := &noopApp{}
	log := logrus.New()
	sm := New(desc, 8, 350, app, logrus.NewEntry(log)) // 8*100=800 > 350 -> reduce to 3
	sm.Commit(JoinRequest{RequestedIndex: 0})
	require.NoError(t, sm.Start(0, 1.0))
	assert.Equal(t, 3, sm.ThreadsPerJob())
}

func TestStateMachine_AbortBeforeInitialization(t *testing.T) {
	sm, app := newTestSM(t)
	require.NoError(t, sm.Interrupt()) // interrupt while INACTIVE
	require.NoError(t, sm.Start(0, 1.0))
	assert.Equal(t, StateInactive, sm.State(), "start must be skipped when abortBeforeInitialization was set")
	assert.Equal(t, 0, app.startCalls)
}
