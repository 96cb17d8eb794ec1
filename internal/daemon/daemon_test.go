package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xinlaoda/mallob-go/internal/config"
	"github.com/xinlaoda/mallob-go/internal/jobsm"
)

func testDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "api")
	for _, sub := range []string{"new", "introduced", "pending", "done"} {
		require.NoError(t, os.MkdirAll(filepath.Join(base, sub), 0750))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(base, "..", "users"), 0750))

	u, err := json.Marshal(map[string]any{"id": "alice", "priority": 1.0})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(base, "..", "users", "alice.json"), u, 0640))

	cfg := config.Default()
	cfg.APIRoot = base
	cfg.ThreadsPerProcess = 2

	log := logrus.New()
	log.SetOutput(testWriter{t})
	d := New(cfg, logrus.NewEntry(log))
	return d, base
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) { return len(p), nil }

func writeJobFile(t *testing.T, base, fileName string, fields map[string]any) {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(base, "new", fileName), raw, 0640))
}

func TestDaemon_DummyJobResolvesImmediately(t *testing.T) {
	d, base := testDaemon(t)

	writeJobFile(t, base, "alice.dummy1.json", map[string]any{
		"user": "alice", "name": "dummy1", "file": "NONE", "application": "DUMMY",
	})
	require.NoError(t, d.adapter.HandleNewFile("alice.dummy1.json"))

	assert.Eventually(t, func() bool { return d.JobCount() == 0 }, time.Second, time.Millisecond)

	donePath := filepath.Join(base, "done", "alice.dummy1.json")
	raw, err := os.ReadFile(donePath)
	require.NoError(t, err)

	var jf struct {
		Result *struct {
			ResultString string `json:"resultstring"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &jf))
	require.NotNil(t, jf.Result)
	assert.Equal(t, "SAT", jf.Result.ResultString)
}

func TestDaemon_SATJobRegistersAndIsDrivenByTick(t *testing.T) {
	d, base := testDaemon(t)

	cnf := filepath.Join(base, "..", "r0.cnf")
	require.NoError(t, os.WriteFile(cnf, []byte("p cnf 2 2\n1 2 0\n-1 -2 0\n"), 0640))

	writeJobFile(t, base, "alice.sat1.json", map[string]any{
		"user": "alice", "name": "sat1", "file": cnf, "application": "SAT",
	})
	require.NoError(t, d.adapter.HandleNewFile("alice.sat1.json"))
	require.Equal(t, 1, d.JobCount())

	// Run a handful of ticks: the SAT job's worker/generator pair should
	// eventually report a result and the job should be dropped from
	// bookkeeping, exercising the same path a real main loop iteration
	// would (router pump, limit check, Tick, clause exchange).
	assert.Eventually(t, func() bool {
		d.tick(nowSeconds())
		return d.JobCount() == 0
	}, 2*time.Second, time.Millisecond)
}

func TestDaemon_BalanceWithNoJobsIsNoop(t *testing.T) {
	d, _ := testDaemon(t)
	d.balance()
	assert.Equal(t, 0, d.JobCount())
}

func TestDaemon_BalancePreemptsColdestJobUnderSaturation(t *testing.T) {
	d, base := testDaemon(t)

	cnf := filepath.Join(base, "..", "r0.cnf")
	require.NoError(t, os.WriteFile(cnf, []byte("p cnf 2 2\n1 2 0\n-1 -2 0\n"), 0640))

	// ThreadsPerProcess is 2 and every active job's uncapped demand equals
	// it (GrowthPeriod 0 -> demand = CommSize), so two simultaneously
	// active jobs saturate the pool and one must be preempted.
	writeJobFile(t, base, "alice.older.json", map[string]any{
		"user": "alice", "name": "older", "file": cnf, "application": "SAT",
	})
	require.NoError(t, d.adapter.HandleNewFile("alice.older.json"))

	writeJobFile(t, base, "alice.younger.json", map[string]any{
		"user": "alice", "name": "younger", "file": cnf, "application": "SAT",
	})
	require.NoError(t, d.adapter.HandleNewFile("alice.younger.json"))
	require.Equal(t, 2, d.JobCount())

	d.balance()

	var suspended, active int
	for _, e := range d.snapshot() {
		switch e.sm.State() {
		case jobsm.StateSuspended:
			suspended++
			assert.Equal(t, 0, e.node.Volume)
		case jobsm.StateActive:
			active++
		}
	}
	assert.Equal(t, 1, suspended, "the older (colder) job should have been preempted")
	assert.Equal(t, 1, active, "the younger (hotter) job should keep running")
}

func TestDaemon_TickWithNoJobsIsNoop(t *testing.T) {
	d, _ := testDaemon(t)
	d.tick(nowSeconds())
	assert.Equal(t, 0, d.JobCount())
}

func TestDaemon_TerminatedIncrementalJobIsDropped(t *testing.T) {
	d, base := testDaemon(t)

	incr := true
	writeJobFile(t, base, "alice.incr1.json", map[string]any{
		"user": "alice", "name": "incr1", "file": "NONE", "application": "DUMMY", "incremental": incr,
	})
	// DUMMY resolves immediately on the first revision, so the entry is
	// already gone by the time HandleNewFile returns.
	require.NoError(t, d.adapter.HandleNewFile("alice.incr1.json"))
	assert.Eventually(t, func() bool { return d.JobCount() == 0 }, time.Second, time.Millisecond)

	done := true
	writeJobFile(t, base, "alice.incr1.json", map[string]any{
		"user": "alice", "name": "incr1", "file": "NONE", "incremental": incr,
		"precursor": "alice.incr1", "done": done,
	})
	require.NoError(t, d.adapter.HandleNewFile("alice.incr1.json"))
	assert.Equal(t, 0, d.JobCount())
}
