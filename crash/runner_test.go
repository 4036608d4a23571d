package crash_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/pmemtrace/crash"
	"github.com/INLOpen/pmemtrace/internal/testutil"
)

func runVerifier(t *testing.T, dir, verifier string, files ...string) crash.Result {
	t.Helper()
	return crash.ExecRunner{}.Run(crash.RunRequest{
		VerifierPath: verifier,
		Files:        files,
		StdoutPath:   filepath.Join(dir, "out"),
		StderrPath:   filepath.Join(dir, "err"),
	})
}

func TestRunPassingVerifier(t *testing.T) {
	dir := t.TempDir()
	verifier := testutil.WriteVerifierScript(t, dir, "verify.sh", `echo "count=$1 files=$2 $3"`)

	res := runVerifier(t, dir, verifier, "a.bin", "b.bin")
	assert.Equal(t, crash.OutcomePass, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)

	// The verifier argv starts with the file count; stdout is captured.
	out, err := os.ReadFile(filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, "count=2 files=a.bin b.bin\n", string(out))
}

func TestRunFailingVerifier(t *testing.T) {
	dir := t.TempDir()
	verifier := testutil.FailingVerifier(t, dir)

	res := runVerifier(t, dir, verifier, "a.bin")
	assert.Equal(t, crash.OutcomeFailure, res.Outcome)
	assert.Equal(t, crash.VerificationFailureCode, res.ExitCode)
}

func TestRunSignaledVerifier(t *testing.T) {
	dir := t.TempDir()
	verifier := testutil.CrashingVerifier(t, dir)

	res := runVerifier(t, dir, verifier, "a.bin")
	assert.Equal(t, crash.OutcomeCoreDump, res.Outcome)
}

func TestRunMissingVerifier(t *testing.T) {
	dir := t.TempDir()
	res := runVerifier(t, dir, filepath.Join(dir, "no-such-verifier"), "a.bin")
	assert.Equal(t, crash.OutcomeWeird, res.Outcome)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "pass", crash.OutcomePass.String())
	assert.Equal(t, "failure", crash.OutcomeFailure.String())
	assert.Equal(t, "coredump", crash.OutcomeCoreDump.String())
	assert.Equal(t, "weird", crash.OutcomeWeird.String())
}

func TestArtifactPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("art", "bad-verification-3.dump"), crash.DumpPath("art", 3))
	assert.Equal(t, filepath.Join("art", "bad-verification-3.stdout"), crash.StdoutPath("art", 3))
	assert.Equal(t, filepath.Join("art", "bad-verification-3.stderr"), crash.StderrPath("art", 3))
}
