// Package testutil holds helpers shared by the package test suites:
// shell-script verifiers, a canned stack provider and a fake verifier
// runner for exercising the crash protocol without child processes.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/INLOpen/pmemtrace/core"
	"github.com/INLOpen/pmemtrace/crash"
)

// WriteVerifierScript writes an executable shell script into dir and returns
// its path. The body runs with the verifier argv: $1 is the file count and
// $2.. the backing-file names.
func WriteVerifierScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script verifiers need a POSIX shell")
	}
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

// PassingVerifier returns a verifier that accepts every state.
func PassingVerifier(t *testing.T, dir string) string {
	return WriteVerifierScript(t, dir, "verify-pass.sh", "exit 0")
}

// FailingVerifier returns a verifier that rejects every state with the
// reserved verification-failure exit code.
func FailingVerifier(t *testing.T, dir string) string {
	return WriteVerifierScript(t, dir, "verify-fail.sh", fmt.Sprintf("exit %d", crash.VerificationFailureCode))
}

// CrashingVerifier returns a verifier that dies on a signal.
func CrashingVerifier(t *testing.T, dir string) string {
	return WriteVerifierScript(t, dir, "verify-crash.sh", "kill -SEGV $$")
}

// StackProvider hands out a fixed sequence of stack identities and formats
// them recognizably. It satisfies callstack.Provider.
type StackProvider struct {
	Next core.StackID
}

// Capture returns the configured identity.
func (p *StackProvider) Capture(_ int) core.StackID {
	return p.Next
}

// Format renders the identity as a single pseudo-frame.
func (p *StackProvider) Format(id core.StackID) string {
	return fmt.Sprintf("   at stack#%d (test)\n", id)
}

// FakeRunner records every verification request and returns canned results,
// one per call; the last result repeats once the list is exhausted.
type FakeRunner struct {
	Requests []crash.RunRequest
	Results  []crash.Result
}

// Run implements crash.Runner.
func (f *FakeRunner) Run(req crash.RunRequest) crash.Result {
	f.Requests = append(f.Requests, req)
	i := len(f.Requests) - 1
	if i >= len(f.Results) {
		if len(f.Results) == 0 {
			return crash.Result{Outcome: crash.OutcomePass}
		}
		i = len(f.Results) - 1
	}
	return f.Results[i]
}
