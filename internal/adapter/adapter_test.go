package adapter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xinlaoda/mallob-go/internal/jobdesc"
)

func newTestAdapter(t *testing.T) (*Adapter, *jobdesc.Registry, string, []JobMetadata) {
	t.Helper()
	base := t.TempDir()
	for _, sub := range []string{"new", "introduced", "pending", "done"} {
		require.NoError(t, os.MkdirAll(filepath.Join(base, sub), 0750))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(base, "..", "users"), 0750))

	writeUser(t, base, "alice", 2.0)

	var received []JobMetadata
	reg := jobdesc.NewRegistry(4)
	a := New(base, reg, func(m JobMetadata) {
		received = append(received, m)
	}, nil, nil)
	return a, reg, base, received
}

func writeUser(t *testing.T, base, user string, priority float64) {
	t.Helper()
	u := userFileJSON{ID: user, Priority: priority}
	raw, err := json.Marshal(u)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(base, "..", "users", user+".json"), raw, 0640))
}

func writeNewJobFile(t *testing.T, base, fileName string, jf jobFileJSON) {
	t.Helper()
	raw, err := json.Marshal(jf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(base, "new", fileName), raw, 0640))
}

func TestAdapter_HandleNewFile_MintsJobAndMirrorsFile(t *testing.T) {
	a, reg, base, _ := newTestAdapter(t)
	var got []JobMetadata
	a.onNewJob = func(m JobMetadata) { got = append(got, m) }

	prio := 1.5
	writeNewJobFile(t, base, "alice.job1.json", jobFileJSON{
		User: "alice", Name: "job1", File: "formula.cnf", Priority: &prio,
	})

	require.NoError(t, a.HandleNewFile("alice.job1.json"))

	require.Len(t, got, 1)
	job := got[0].Job
	assert.InDelta(t, 3.0, job.Priority(), 1e-9)

	_, err := os.Stat(filepath.Join(base, "new", "alice.job1.json"))
	assert.True(t, os.IsNotExist(err), "original new/ file should be removed")
	_, err = os.Stat(filepath.Join(base, "introduced", "alice.job1.json"))
	assert.NoError(t, err, "file should be mirrored to introduced/")
	_, err = os.Stat(filepath.Join(base, "pending", "alice.job1.json"))
	assert.NoError(t, err, "file should be mirrored to pending/")

	resolved, ok := reg.Get(job.ID())
	require.True(t, ok)
	assert.Same(t, job, resolved)
}

func TestAdapter_HandleNewFile_CountsFormulaLiterals(t *testing.T) {
	a, _, base, _ := newTestAdapter(t)
	var got []JobMetadata
	a.onNewJob = func(m JobMetadata) { got = append(got, m) }

	cnf := filepath.Join(base, "formula.cnf")
	require.NoError(t, os.WriteFile(cnf, []byte("p cnf 3 2\n1 -2 0\n2 3 -1 0\n"), 0640))

	writeNewJobFile(t, base, "alice.job3.json", jobFileJSON{
		User: "alice", Name: "job3", File: cnf, Application: "SAT",
	})
	require.NoError(t, a.HandleNewFile("alice.job3.json"))

	require.Len(t, got, 1)
	payload, ok := got[0].Job.Revision(0)
	require.True(t, ok)
	assert.Equal(t, 5, payload.LiteralCount)
}

func TestAdapter_HandleNewFile_UnknownUserDropped(t *testing.T) {
	a, _, base, _ := newTestAdapter(t)
	var called bool
	a.onNewJob = func(m JobMetadata) { called = true }

	writeNewJobFile(t, base, "bob.job1.json", jobFileJSON{User: "bob", Name: "job1", File: "x.cnf"})
	require.NoError(t, a.HandleNewFile("bob.job1.json"))
	assert.False(t, called)
}

func TestAdapter_HandleNewFile_UnknownPrecursorDropped(t *testing.T) {
	a, _, base, _ := newTestAdapter(t)
	var called bool
	a.onNewJob = func(m JobMetadata) { called = true }

	incr := true
	writeNewJobFile(t, base, "alice.job2.json", jobFileJSON{
		User: "alice", Name: "job2", File: "x.cnf", Incremental: &incr, Precursor: "alice.ghost",
	})
	require.NoError(t, a.HandleNewFile("alice.job2.json"))
	assert.False(t, called)
}

func TestAdapter_IncrementalRevisionReusesID(t *testing.T) {
	a, _, base, _ := newTestAdapter(t)
	var got []JobMetadata
	a.onNewJob = func(m JobMetadata) { got = append(got, m) }

	incr := true
	writeNewJobFile(t, base, "alice.incr.json", jobFileJSON{
		User: "alice", Name: "incr", File: "r0.cnf", Incremental: &incr,
	})
	require.NoError(t, a.HandleNewFile("alice.incr.json"))
	require.Len(t, got, 1)
	firstID := got[0].Job.ID()

	writeNewJobFile(t, base, "alice.incr.json", jobFileJSON{
		User: "alice", Name: "incr", File: "r1.cnf", Incremental: &incr, Precursor: "alice.incr",
	})
	require.NoError(t, a.HandleNewFile("alice.incr.json"))
	require.Len(t, got, 2)
	assert.Equal(t, firstID, got[1].Job.ID())
	assert.Equal(t, 1, got[1].Revision)
}

func TestAdapter_HandleJobDone_WritesResultAndMovesFile(t *testing.T) {
	a, _, base, _ := newTestAdapter(t)
	var got []JobMetadata
	a.onNewJob = func(m JobMetadata) { got = append(got, m) }

	writeNewJobFile(t, base, "alice.job1.json", jobFileJSON{User: "alice", Name: "job1", File: "x.cnf"})
	require.NoError(t, a.HandleNewFile("alice.job1.json"))
	require.Len(t, got, 1)
	id := got[0].Job.ID()

	require.NoError(t, a.HandleJobDone(JobResult{ID: id, Revision: 0, ResultCode: ResultCodeSAT, Solution: []int32{1, -2}}))

	donePath := filepath.Join(base, "done", "alice.job1.json")
	raw, err := os.ReadFile(donePath)
	require.NoError(t, err)

	var jf jobFileJSON
	require.NoError(t, json.Unmarshal(raw, &jf))
	require.NotNil(t, jf.Result)
	assert.Equal(t, "SAT", jf.Result.ResultString)
	assert.Equal(t, []int32{1, -2}, jf.Result.Solution)

	_, err = os.Stat(filepath.Join(base, "pending", "alice.job1.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestAdapter_HandleResultDeleted_CleansUpNonIncrementalJob(t *testing.T) {
	a, reg, base, _ := newTestAdapter(t)
	var got []JobMetadata
	a.onNewJob = func(m JobMetadata) { got = append(got, m) }

	writeNewJobFile(t, base, "alice.job1.json", jobFileJSON{User: "alice", Name: "job1", File: "x.cnf"})
	require.NoError(t, a.HandleNewFile("alice.job1.json"))
	require.Len(t, got, 1)
	id := got[0].Job.ID()

	require.NoError(t, a.HandleResultDeleted("alice.job1.json"))

	_, ok := reg.Get(id)
	assert.False(t, ok, "job should be removed from the registry once its result is cleaned up")
}

func TestAdapter_HandleResultDeleted_SkipsIncrementalJob(t *testing.T) {
	a, reg, base, _ := newTestAdapter(t)
	var got []JobMetadata
	a.onNewJob = func(m JobMetadata) { got = append(got, m) }

	incr := true
	writeNewJobFile(t, base, "alice.incr.json", jobFileJSON{User: "alice", Name: "incr", File: "r0.cnf", Incremental: &incr})
	require.NoError(t, a.HandleNewFile("alice.incr.json"))
	require.Len(t, got, 1)
	id := got[0].Job.ID()

	require.NoError(t, a.HandleResultDeleted("alice.incr.json"))

	_, ok := reg.Get(id)
	assert.True(t, ok, "an incremental job's bookkeeping must survive a result-file deletion")
}

func TestParseDuration(t *testing.T) {
	cases := map[string]float64{
		"5":    5,
		"5s":   5,
		"500ms": 0.5,
		"2min": 120,
		"1h":   3600,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-9, in)
	}

	_, err := ParseDuration("bogus")
	assert.Error(t, err)
}
