package crash_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/pmemtrace/crash"
	"github.com/INLOpen/pmemtrace/internal/testutil"
	"github.com/INLOpen/pmemtrace/region"
	"github.com/INLOpen/pmemtrace/stats"
)

type simFixture struct {
	sim     *crash.Simulator
	runner  *testutil.FakeRunner
	stats   *stats.Verification
	dir     string
	backing string
}

func newSimFixture(t *testing.T, results ...crash.Result) *simFixture {
	t.Helper()
	dir := t.TempDir()

	regions := region.NewTable(nil)
	backing := filepath.Join(dir, "data.bin")
	r, err := regions.Register(backing, 0x10000, 4096)
	require.NoError(t, err)
	_, err = r.File.WriteAt([]byte{0xab}, 0)
	require.NoError(t, err)

	verifyStats, err := stats.New(stats.Options{})
	require.NoError(t, err)

	runner := &testutil.FakeRunner{Results: results}
	sim := crash.New(crash.Options{
		VerifierPath: "/bin/true",
		ArtifactDir:  dir,
		Probability:  100,
		Enabled:      true,
		Regions:      regions,
		Stats:        verifyStats,
		Runner:       runner,
		Snapshot: func(w io.Writer) error {
			_, err := io.WriteString(w, "dump contents\n")
			return err
		},
	})
	return &simFixture{sim: sim, runner: runner, stats: verifyStats, dir: dir, backing: backing}
}

func TestSimulatePassLeavesNoArtifacts(t *testing.T) {
	f := newSimFixture(t, crash.Result{Outcome: crash.OutcomePass})

	f.sim.Simulate()

	require.Len(t, f.runner.Requests, 1)
	assert.Equal(t, []string{f.backing}, f.runner.Requests[0].Files)
	assert.Equal(t, uint64(1), f.stats.Count())
	assert.Zero(t, f.stats.Failures())

	_, err := os.Stat(crash.DumpPath(f.dir, 1))
	assert.True(t, os.IsNotExist(err))
	assert.NoFileExists(t, f.backing+".1.bad")
}

func TestSimulateFailurePreservesEvidence(t *testing.T) {
	f := newSimFixture(t, crash.Result{Outcome: crash.OutcomeFailure, ExitCode: crash.VerificationFailureCode})

	f.sim.Simulate()

	assert.Equal(t, uint64(1), f.stats.Count())
	assert.Equal(t, uint64(1), f.stats.Failures())
	assert.Zero(t, f.stats.Unexpected())

	// The dump survives and the backing file is copied byte for byte.
	dump, err := os.ReadFile(crash.DumpPath(f.dir, 1))
	require.NoError(t, err)
	assert.Equal(t, "dump contents\n", string(dump))

	copied, err := os.ReadFile(f.backing + ".1.bad")
	require.NoError(t, err)
	require.Len(t, copied, 4096)
	assert.Equal(t, byte(0xab), copied[0])
}

func TestSimulateCoreDumpSuffix(t *testing.T) {
	f := newSimFixture(t, crash.Result{Outcome: crash.OutcomeCoreDump})
	f.sim.Simulate()

	assert.Equal(t, uint64(1), f.stats.Failures())
	assert.FileExists(t, f.backing+".1.bad.coredump")
}

func TestSimulateWeirdCountsUnexpected(t *testing.T) {
	f := newSimFixture(t, crash.Result{Outcome: crash.OutcomeWeird})
	f.sim.Simulate()

	assert.Equal(t, uint64(1), f.stats.Failures())
	assert.Equal(t, uint64(1), f.stats.Unexpected())
	assert.FileExists(t, f.backing+".1.bad.weird")
}

func TestSimulateNumbersAttempts(t *testing.T) {
	f := newSimFixture(t,
		crash.Result{Outcome: crash.OutcomeFailure, ExitCode: 1},
		crash.Result{Outcome: crash.OutcomeFailure, ExitCode: 1},
	)
	f.sim.Simulate()
	f.sim.Simulate()

	assert.FileExists(t, f.backing+".1.bad")
	assert.FileExists(t, f.backing+".2.bad")
	assert.FileExists(t, crash.DumpPath(f.dir, 2))
}

func TestMaybeRespectsEnableToggle(t *testing.T) {
	f := newSimFixture(t, crash.Result{Outcome: crash.OutcomePass})

	f.sim.Disable()
	f.sim.Maybe()
	assert.Empty(t, f.runner.Requests)

	f.sim.Enable()
	f.sim.Maybe()
	assert.Len(t, f.runner.Requests, 1)
}

func TestMaybeRespectsProbability(t *testing.T) {
	f := newSimFixture(t, crash.Result{Outcome: crash.OutcomePass})

	rolls := []int{99, 0}
	i := 0
	sim := crash.New(crash.Options{
		VerifierPath: "/bin/true",
		ArtifactDir:  f.dir,
		Probability:  50,
		Enabled:      true,
		Regions:      regionsOf(t, f),
		Stats:        f.stats,
		Runner:       f.runner,
		Snapshot:     func(io.Writer) error { return nil },
		RandIntn: func(n int) int {
			require.Equal(t, 100, n)
			roll := rolls[i]
			i++
			return roll
		},
	})

	sim.Maybe()
	assert.Empty(t, f.runner.Requests)
	sim.Maybe()
	assert.Len(t, f.runner.Requests, 1)
}

func TestMaybeNeedsRegions(t *testing.T) {
	verifyStats, err := stats.New(stats.Options{})
	require.NoError(t, err)
	runner := &testutil.FakeRunner{}

	sim := crash.New(crash.Options{
		VerifierPath: "/bin/true",
		Probability:  100,
		Enabled:      true,
		Regions:      region.NewTable(nil),
		Stats:        verifyStats,
		Runner:       runner,
		Snapshot:     func(io.Writer) error { return nil },
	})
	sim.Maybe()
	assert.Empty(t, runner.Requests)
}

func regionsOf(t *testing.T, f *simFixture) *region.Table {
	t.Helper()
	regions := region.NewTable(nil)
	_, err := regions.Register(filepath.Join(f.dir, "other.bin"), 0x40000, 4096)
	require.NoError(t, err)
	return regions
}
