package cube

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xinlaoda/mallob-go/internal/solver"
	"github.com/xinlaoda/mallob-go/internal/term"
)

func TestTree_PopPushChildren(t *testing.T) {
	tr := NewTree(Cube{})
	root, ok := tr.Pop()
	require.True(t, ok)
	assert.Empty(t, root)

	left, right := tr.PushChildren(root, 5)
	assert.Equal(t, Cube{-5}, left)
	assert.Equal(t, Cube{5}, right)

	_, ok = tr.Pop()
	require.True(t, ok)
	_, ok = tr.Pop()
	require.True(t, ok)
	_, ok = tr.Pop()
	assert.False(t, ok)
}

func TestTree_MarkFailedPrunesSubsumedPending(t *testing.T) {
	tr := NewTree(Cube{})
	root, _ := tr.Pop()
	tr.PushChildren(root, 5)

	tr.MarkFailed(Cube{-5})
	assert.True(t, tr.IsKnownFailed(Cube{-5, 7}))
	assert.False(t, tr.IsKnownFailed(Cube{5}))

	c, ok := tr.Pop()
	require.True(t, ok)
	assert.Equal(t, Cube{5}, c)
	_, ok = tr.Pop()
	assert.False(t, ok, "the -5 child should have been pruned as subsumed")
}

func TestTree_EmptyCubeFailedMeansExhausted(t *testing.T) {
	tr := NewTree(Cube{})
	root, _ := tr.Pop()
	tr.PushChildren(root, 1)
	tr.MarkFailed(Cube{})
	assert.True(t, tr.EmptyCubeFailed())
	assert.True(t, tr.Exhausted())
}

func TestManager_SubmitFailedEmptyCubeDeclaresUNSAT(t *testing.T) {
	m := NewManager()
	m.SubmitFailed([]Cube{{}})
	res, _ := m.Result()
	assert.Equal(t, solver.ResultUNSAT, res)
	assert.True(t, m.Done())
}

func TestManager_SetSATWins(t *testing.T) {
	m := NewManager()
	m.SetSAT([]int32{1, -2})
	res, model := m.Result()
	assert.Equal(t, solver.ResultSAT, res)
	assert.Equal(t, []int32{1, -2}, model)

	// A later contradictory report must not override the first result.
	m.SubmitFailed([]Cube{{}})
	res2, _ := m.Result()
	assert.Equal(t, solver.ResultSAT, res2)
}

func TestManager_ExhaustionDeclaresUNSAT(t *testing.T) {
	m := NewManager()
	root, ok := m.RequestCube()
	require.True(t, ok)
	m.SubmitFailed([]Cube{root})
	res, _ := m.Result()
	assert.Equal(t, solver.ResultUNSAT, res)
}

func TestManager_OutstandingSiblingBlocksExhaustion(t *testing.T) {
	m := NewManager()
	root, ok := m.RequestCube()
	require.True(t, ok)
	left, right := m.SubmitExpansion(root, 5)

	c1, ok := m.RequestCube()
	require.True(t, ok)
	c2, ok := m.RequestCube()
	require.True(t, ok)
	assert.ElementsMatch(t, []Cube{left, right}, []Cube{c1, c2})

	// Both children are now popped (outstanding) and pending is empty; a
	// naive pending-only exhaustion check would wrongly declare UNSAT here
	// as soon as the first of the two fails.
	m.SubmitFailed([]Cube{c1})
	res, _ := m.Result()
	assert.Equal(t, solver.ResultUnknown, res, "sibling cube c2 is still outstanding, exhaustion must not be declared")

	m.SubmitFailed([]Cube{c2})
	res, _ = m.Result()
	assert.Equal(t, solver.ResultUNSAT, res, "both children failed and none remain outstanding")
}

func TestWorker_RequestWorkReturnCycle(t *testing.T) {
	var requested, returned bool
	var returnedFailed []Cube

	tm := term.New(nil)
	fake := solver.NewFakeAdapter(map[int32]bool{1: true})
	w := NewWorker(fake, tm,
		func() error { requested = true; return nil },
		func(failed []Cube) error { returned = true; returnedFailed = failed; return nil },
		nil,
	)

	w.Activate()
	assert.Equal(t, WorkerWaiting, w.State())

	require.NoError(t, w.Tick())
	assert.True(t, requested)
	assert.Equal(t, WorkerRequesting, w.State())

	w.ReceiveCubes([]Cube{{-1}})
	assert.Equal(t, WorkerWorking, w.State())

	res := w.RunWork(func(Cube) bool { return false })
	assert.Equal(t, solver.ResultUnknown, res)
	assert.Equal(t, WorkerFailed, w.State())

	require.NoError(t, w.Tick())
	assert.True(t, returned)
	assert.Len(t, returnedFailed, 1)
	assert.Equal(t, WorkerReturning, w.State())

	w.ReceiveFailedAck()
	assert.Equal(t, WorkerWaiting, w.State())
}

func TestWorker_SATCubeSolves(t *testing.T) {
	tm := term.New(nil)
	fake := solver.NewFakeAdapter(map[int32]bool{1: true})
	var gotResult solver.Result
	w := NewWorker(fake, tm,
		func() error { return nil },
		func([]Cube) error { return nil },
		func(r solver.Result, model []int32) { gotResult = r },
	)
	w.Activate()
	_ = w.Tick()
	w.ReceiveCubes([]Cube{{1}})

	res := w.RunWork(func(Cube) bool { return false })
	assert.Equal(t, solver.ResultSAT, res)
	assert.Equal(t, WorkerSolved, w.State())
	assert.Equal(t, solver.ResultSAT, gotResult)
}

func TestWorker_SkipsKnownFailedCube(t *testing.T) {
	tm := term.New(nil)
	fake := solver.NewFakeAdapter(map[int32]bool{1: true})
	w := NewWorker(fake, tm, func() error { return nil }, func([]Cube) error { return nil }, nil)
	w.Activate()
	_ = w.Tick()
	w.ReceiveCubes([]Cube{{-1}})

	res := w.RunWork(func(c Cube) bool { return true })
	assert.Equal(t, solver.ResultUnknown, res)
	assert.Equal(t, WorkerFailed, w.State())
	assert.Empty(t, fake.Failed(), "a skipped cube should never reach solve")
}

// fakeCubeSolver is a minimal deterministic Adapter used only to exercise
// RunGeneratorStep's branching without FakeAdapter's vacuous-match behavior
// on the empty cube.
type fakeCubeSolver struct {
	assumed    []int32
	lastFailed []int32
	lookahead  func(assumed []int32) int32
	solveFn    func(assumed []int32) (solver.Result, []int32)
}

func (f *fakeCubeSolver) Add([]int32)            {}
func (f *fakeCubeSolver) Assume(lits []int32)     { f.assumed = append([]int32(nil), lits...) }
func (f *fakeCubeSolver) Suspend()                {}
func (f *fakeCubeSolver) Resume()                 {}
func (f *fakeCubeSolver) Interrupt()              {}
func (f *fakeCubeSolver) Model() []int32          { return nil }
func (f *fakeCubeSolver) Failed() []int32         { return f.lastFailed }

var _ solver.Adapter = (*fakeCubeSolver)(nil)

func (f *fakeCubeSolver) Lookahead(t *term.Terminator) int32 {
	return f.lookahead(f.assumed)
}

func (f *fakeCubeSolver) Solve(t *term.Terminator) solver.Result {
	res, failed := f.solveFn(f.assumed)
	f.lastFailed = failed
	return res
}

func TestRunGeneratorStep_SplitsOnLookahead(t *testing.T) {
	mgr := NewManager()
	tm := term.New(nil)

	checker := &fakeCubeSolver{
		solveFn: func(assumed []int32) (solver.Result, []int32) { return solver.ResultSAT, nil },
	}
	splitCalls := 0
	main := &fakeCubeSolver{
		lookahead: func(assumed []int32) int32 {
			splitCalls++
			if splitCalls == 1 {
				return 3
			}
			return 0
		},
		solveFn: func(assumed []int32) (solver.Result, []int32) { return solver.ResultSAT, nil },
	}

	more := RunGeneratorStep(mgr, checker, main, tm)
	require.True(t, more)

	// The root cube should have been split into two children now pending.
	c1, ok := mgr.RequestCube()
	require.True(t, ok)
	c2, ok := mgr.RequestCube()
	require.True(t, ok)
	assert.ElementsMatch(t, []Cube{{-3}, {3}}, []Cube{c1, c2})
}

func TestRunGeneratorStep_CheckerRefutesReportsFailed(t *testing.T) {
	mgr := NewManager()
	tm := term.New(nil)

	checker := &fakeCubeSolver{
		solveFn: func(assumed []int32) (solver.Result, []int32) { return solver.ResultUNSAT, []int32{1} },
	}
	main := &fakeCubeSolver{}

	more := RunGeneratorStep(mgr, checker, main, tm)
	require.True(t, more)
	assert.True(t, mgr.IsKnownFailed(Cube{}))
}

func TestRunGeneratorStep_NoMoreCubesStops(t *testing.T) {
	mgr := NewManager()
	tm := term.New(nil)
	_, _ = mgr.RequestCube() // drain the root cube
	checker := &fakeCubeSolver{solveFn: func([]int32) (solver.Result, []int32) { return solver.ResultSAT, nil }}
	main := &fakeCubeSolver{lookahead: func([]int32) int32 { return 0 }, solveFn: func([]int32) (solver.Result, []int32) { return solver.ResultSAT, nil }}

	more := RunGeneratorStep(mgr, checker, main, tm)
	assert.False(t, more)
}

func TestRunGenerators_ConvergesToSAT(t *testing.T) {
	mgr := NewManager()
	tm := term.New(nil)

	newChecker := func() solver.Adapter {
		return &fakeCubeSolver{solveFn: func([]int32) (solver.Result, []int32) { return solver.ResultSAT, nil }}
	}
	newMain := func() solver.Adapter {
		return &fakeCubeSolver{
			lookahead: func([]int32) int32 { return 0 },
			solveFn:   func([]int32) (solver.Result, []int32) { return solver.ResultSAT, nil },
		}
	}

	err := RunGenerators(context.Background(), mgr, newChecker, newMain, tm, 3)
	require.NoError(t, err)

	res, _ := mgr.Result()
	assert.Equal(t, solver.ResultSAT, res)
}
